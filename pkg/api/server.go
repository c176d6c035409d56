// Package api exposes a core.Store over HTTP with JSON bodies. Routes follow
// the library / document / chunk hierarchy plus POST /query.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/liliang-cn/vecdb/pkg/core"
	"github.com/liliang-cn/vecdb/pkg/index"
)

// Store is the subset of *core.Store served by the API.
type Store interface {
	CreateLibrary(ctx context.Context, in core.LibraryInput) (*core.Library, error)
	GetLibrary(ctx context.Context, id string) (*core.Library, error)
	ListLibraries(ctx context.Context) ([]core.Library, error)
	UpdateLibrary(ctx context.Context, id string, in core.LibraryInput) (*core.Library, error)
	DeleteLibrary(ctx context.Context, id string) error
	LibraryStats(ctx context.Context, id string) (*core.LibraryStats, error)

	CreateDocument(ctx context.Context, libraryID string, in core.DocumentInput) (*core.Document, error)
	GetDocument(ctx context.Context, libraryID, documentID string) (*core.Document, error)
	ListDocuments(ctx context.Context, libraryID string) ([]core.Document, error)
	UpdateDocument(ctx context.Context, libraryID, documentID string, in core.DocumentInput) (*core.Document, error)
	DeleteDocument(ctx context.Context, libraryID, documentID string) error

	AddChunk(ctx context.Context, libraryID, documentID string, in core.ChunkInput) (*core.Chunk, error)
	GetChunk(ctx context.Context, libraryID, documentID, chunkID string) (*core.Chunk, error)
	ListChunks(ctx context.Context, libraryID, documentID string) ([]core.Chunk, error)
	UpdateChunk(ctx context.Context, libraryID, documentID, chunkID string, in core.ChunkInput) (*core.Chunk, error)
	DeleteChunk(ctx context.Context, libraryID, documentID, chunkID string) error

	Query(ctx context.Context, req core.QueryRequest) ([]core.QueryResult, error)
}

var _ Store = (*core.Store)(nil)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 8 << 20

// Server routes HTTP requests to a Store.
type Server struct {
	store  Store
	logger core.Logger
	mux    *http.ServeMux
}

// NewServer returns a Server. A nil logger discards logs.
func NewServer(store Store, logger core.Logger) *Server {
	if logger == nil {
		logger = core.NopLogger()
	}
	s := &Server{store: store, logger: logger, mux: http.NewServeMux()}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	s.handle("POST /libraries", s.handleCreateLibrary)
	s.handle("GET /libraries", s.handleListLibraries)
	s.handle("GET /libraries/{library}", s.handleGetLibrary)
	s.handle("PUT /libraries/{library}", s.handleUpdateLibrary)
	s.handle("DELETE /libraries/{library}", s.handleDeleteLibrary)
	s.handle("GET /libraries/{library}/stats", s.handleLibraryStats)

	s.handle("POST /libraries/{library}/documents", s.handleCreateDocument)
	s.handle("GET /libraries/{library}/documents", s.handleListDocuments)
	s.handle("GET /libraries/{library}/documents/{document}", s.handleGetDocument)
	s.handle("PUT /libraries/{library}/documents/{document}", s.handleUpdateDocument)
	s.handle("DELETE /libraries/{library}/documents/{document}", s.handleDeleteDocument)

	s.handle("POST /libraries/{library}/documents/{document}/chunks", s.handleAddChunk)
	s.handle("GET /libraries/{library}/documents/{document}/chunks", s.handleListChunks)
	s.handle("GET /libraries/{library}/documents/{document}/chunks/{chunk}", s.handleGetChunk)
	s.handle("PUT /libraries/{library}/documents/{document}/chunks/{chunk}", s.handleUpdateChunk)
	s.handle("DELETE /libraries/{library}/documents/{document}/chunks/{chunk}", s.handleDeleteChunk)

	s.handle("POST /query", s.handleQuery)
}

// handle registers pattern both with and without a trailing slash.
func (s *Server) handle(pattern string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, h)
	s.mux.HandleFunc(pattern+"/{$}", h)
}

// ServeHTTP implements http.Handler with request logging.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "took", time.Since(start))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// detail is the error and acknowledgement body.
type detail struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StatusFor maps store errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrDimensionMismatch),
		errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, core.ErrUnsupportedAlgorithm),
		errors.Is(err, index.ErrInvalidK),
		errors.Is(err, index.ErrUnknownMetric):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrProviderFailure):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	if status == http.StatusBadGateway {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, detail{Detail: err.Error()})
}

// decode reads a JSON body into v. An empty body is an error.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return errors.New("request body is required")
	}
	return err
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, detail{Detail: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
