package api

import (
	"errors"
	"net/http"

	"github.com/liliang-cn/vecdb/pkg/core"
	"github.com/liliang-cn/vecdb/pkg/index"
)

// libraryBody is the create/update body for libraries.
type libraryBody struct {
	Name      *string        `json:"name"`
	IndexType string         `json:"index_type"`
	Metadata  map[string]any `json:"metadata"`
}

// documentBody is the create/update body for documents.
type documentBody struct {
	Title    *string           `json:"title"`
	Metadata map[string]any    `json:"metadata"`
	Chunks   []core.ChunkInput `json:"chunks"`
}

// chunkBody is the create/update body for chunks.
type chunkBody struct {
	Text      *string        `json:"text"`
	Embedding []float32      `json:"embedding"`
	Metadata  map[string]any `json:"metadata"`
}

// queryBody is the POST /query body.
type queryBody struct {
	LibraryID      *string   `json:"library_id"`
	QueryText      string    `json:"query_text"`
	Vector         []float32 `json:"vector"`
	K              int       `json:"k"`
	DistanceMetric string    `json:"distance_metric"`
}

func (s *Server) handleCreateLibrary(w http.ResponseWriter, r *http.Request) {
	var body libraryBody
	if err := decode(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	if body.Name == nil {
		s.badRequest(w, errors.New("name is required"))
		return
	}
	lib, err := s.store.CreateLibrary(r.Context(), core.LibraryInput{
		Name: *body.Name, IndexType: body.IndexType, Metadata: body.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, lib)
}

func (s *Server) handleListLibraries(w http.ResponseWriter, r *http.Request) {
	libs, err := s.store.ListLibraries(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, libs)
}

func (s *Server) handleGetLibrary(w http.ResponseWriter, r *http.Request) {
	lib, err := s.store.GetLibrary(r.Context(), r.PathValue("library"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lib)
}

func (s *Server) handleUpdateLibrary(w http.ResponseWriter, r *http.Request) {
	var body libraryBody
	if err := decode(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	if body.Name == nil {
		s.badRequest(w, errors.New("name is required"))
		return
	}
	lib, err := s.store.UpdateLibrary(r.Context(), r.PathValue("library"), core.LibraryInput{
		Name: *body.Name, IndexType: body.IndexType, Metadata: body.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lib)
}

func (s *Server) handleDeleteLibrary(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteLibrary(r.Context(), r.PathValue("library")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail{Detail: "Library deleted"})
}

func (s *Server) handleLibraryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.LibraryStats(r.Context(), r.PathValue("library"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	var body documentBody
	if err := decode(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	if body.Title == nil {
		s.badRequest(w, errors.New("title is required"))
		return
	}
	doc, err := s.store.CreateDocument(r.Context(), r.PathValue("library"), core.DocumentInput{
		Title: *body.Title, Metadata: body.Metadata, Chunks: body.Chunks,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.store.ListDocuments(r.Context(), r.PathValue("library"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), r.PathValue("library"), r.PathValue("document"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleUpdateDocument(w http.ResponseWriter, r *http.Request) {
	var body documentBody
	if err := decode(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	if body.Title == nil {
		s.badRequest(w, errors.New("title is required"))
		return
	}
	doc, err := s.store.UpdateDocument(r.Context(), r.PathValue("library"), r.PathValue("document"), core.DocumentInput{
		Title: *body.Title, Metadata: body.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteDocument(r.Context(), r.PathValue("library"), r.PathValue("document")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail{Detail: "Document deleted"})
}

func (s *Server) handleAddChunk(w http.ResponseWriter, r *http.Request) {
	var body chunkBody
	if err := decode(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	if body.Text == nil {
		s.badRequest(w, errors.New("text is required"))
		return
	}
	c, err := s.store.AddChunk(r.Context(), r.PathValue("library"), r.PathValue("document"), core.ChunkInput{
		Text: *body.Text, Embedding: body.Embedding, Metadata: body.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleListChunks(w http.ResponseWriter, r *http.Request) {
	chunks, err := s.store.ListChunks(r.Context(), r.PathValue("library"), r.PathValue("document"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chunks)
}

func (s *Server) handleGetChunk(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetChunk(r.Context(), r.PathValue("library"), r.PathValue("document"), r.PathValue("chunk"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleUpdateChunk(w http.ResponseWriter, r *http.Request) {
	var body chunkBody
	if err := decode(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	if body.Text == nil {
		s.badRequest(w, errors.New("text is required"))
		return
	}
	c, err := s.store.UpdateChunk(r.Context(), r.PathValue("library"), r.PathValue("document"), r.PathValue("chunk"), core.ChunkInput{
		Text: *body.Text, Embedding: body.Embedding, Metadata: body.Metadata,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) handleDeleteChunk(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteChunk(r.Context(), r.PathValue("library"), r.PathValue("document"), r.PathValue("chunk")); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail{Detail: "Chunk deleted"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := decode(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	if body.LibraryID == nil {
		s.badRequest(w, errors.New("library_id is required"))
		return
	}
	if body.QueryText == "" && len(body.Vector) == 0 {
		s.badRequest(w, errors.New("query_text is required"))
		return
	}
	results, err := s.store.Query(r.Context(), core.QueryRequest{
		LibraryID: *body.LibraryID,
		Text:      body.QueryText,
		Vector:    body.Vector,
		K:         body.K,
		Metric:    index.Metric(body.DistanceMetric),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
