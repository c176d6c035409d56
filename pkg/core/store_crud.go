package core

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// addChunksLocked stores one chunk per input under doc and indexes it.
// vecs[i] is the embedding for inputs[i].
func (l *library) addChunksLocked(doc *Document, inputs []ChunkInput, vecs [][]float32) error {
	if len(inputs) == 0 {
		return nil
	}
	ts := now()
	for i, in := range inputs {
		c := Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Text:       in.Text,
			Embedding:  vecs[i],
			Metadata:   cloneMetadata(in.Metadata),
			CreatedAt:  ts,
		}
		l.chunks.Put(c)
		doc.ChunkIDs = append(doc.ChunkIDs, c.ID)
		if err := l.indexer.AddChunk(&c); err != nil {
			return err
		}
	}
	doc.UpdatedAt = ts
	l.updatedAt = ts
	l.syncDimension()
	return nil
}

// AddChunk embeds and stores one chunk under a document.
func (s *Store) AddChunk(ctx context.Context, libraryID, documentID string, in ChunkInput) (*Chunk, error) {
	chunks, err := s.addChunks(ctx, "add_chunk", libraryID, documentID, []ChunkInput{in})
	if err != nil {
		return nil, err
	}
	return &chunks[0], nil
}

// AddChunks stores a batch of chunks under a document. Texts are embedded
// concurrently, then every chunk is applied in one critical section: either
// all are stored or none are.
func (s *Store) AddChunks(ctx context.Context, libraryID, documentID string, inputs []ChunkInput) ([]Chunk, error) {
	if len(inputs) == 0 {
		return nil, wrapError("add_chunks", invalidInput("no chunks given"))
	}
	return s.addChunks(ctx, "add_chunks", libraryID, documentID, inputs)
}

func (s *Store) addChunks(ctx context.Context, op, libraryID, documentID string, inputs []ChunkInput) ([]Chunk, error) {
	if err := s.requireLibrary(libraryID); err != nil {
		return nil, wrapError(op, err)
	}
	vecs, err := s.resolveEmbeddings(ctx, inputs)
	if err != nil {
		return nil, wrapError(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.libraryLocked(libraryID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	doc, err := l.document(documentID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if err := l.acceptDimension(vecs...); err != nil {
		return nil, wrapError(op, err)
	}

	first := len(doc.ChunkIDs)
	err = s.mutateLocked(ctx, op, l, func() error {
		return l.addChunksLocked(doc, inputs, vecs)
	})
	if err != nil {
		return nil, wrapError(op, err)
	}

	out := make([]Chunk, 0, len(inputs))
	for _, id := range doc.ChunkIDs[first:] {
		c, _ := l.chunks.Get(id)
		out = append(out, cloneChunk(c))
	}
	s.logger.Debug("chunks added", "library", l.id, "document", doc.ID, "count", len(out))
	return out, nil
}

// GetChunk returns a chunk that belongs to the given document.
func (s *Store) GetChunk(ctx context.Context, libraryID, documentID, chunkID string) (*Chunk, error) {
	const op = "get_chunk"

	s.mu.Lock()
	defer s.mu.Unlock()

	_, c, err := s.chunkLocked(libraryID, documentID, chunkID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	out := cloneChunk(c)
	return &out, nil
}

// ListChunks returns the chunks of a document in insertion order.
func (s *Store) ListChunks(ctx context.Context, libraryID, documentID string) ([]Chunk, error) {
	const op = "list_chunks"

	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.libraryLocked(libraryID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	doc, err := l.document(documentID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	out := make([]Chunk, 0, len(doc.ChunkIDs))
	for _, id := range doc.ChunkIDs {
		if c, ok := l.chunks.Get(id); ok {
			out = append(out, cloneChunk(c))
		}
	}
	return out, nil
}

// UpdateChunk replaces a chunk's text, embedding and metadata under the same
// id and rebuilds the library index. The text is re-embedded unless an
// embedding is supplied.
func (s *Store) UpdateChunk(ctx context.Context, libraryID, documentID, chunkID string, in ChunkInput) (*Chunk, error) {
	const op = "update_chunk"
	if strings.TrimSpace(in.Text) == "" {
		return nil, wrapError(op, invalidInput("chunk text is required"))
	}
	if err := s.requireLibrary(libraryID); err != nil {
		return nil, wrapError(op, err)
	}
	vecs, err := s.resolveEmbeddings(ctx, []ChunkInput{in})
	if err != nil {
		return nil, wrapError(op, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, old, err := s.chunkLocked(libraryID, documentID, chunkID)
	if err != nil {
		return nil, wrapError(op, err)
	}
	// The chunk being replaced no longer constrains the dimension when it is
	// the only one in the library.
	dim := l.dimension
	if l.chunks.Len() == 1 {
		dim = 0
	}
	if err := checkVectors(dim, vecs[0]); err != nil {
		return nil, wrapError(op, err)
	}

	updated := Chunk{
		ID:         old.ID,
		DocumentID: old.DocumentID,
		Text:       in.Text,
		Embedding:  vecs[0],
		Metadata:   cloneMetadata(in.Metadata),
		CreatedAt:  old.CreatedAt,
	}
	err = s.mutateLocked(ctx, op, l, func() error {
		l.chunks.Put(updated)
		l.dimension = len(updated.Embedding)
		ts := now()
		l.docs[documentID].UpdatedAt = ts
		l.updatedAt = ts
		return l.indexer.RebuildIndex(l.chunks)
	})
	if err != nil {
		return nil, wrapError(op, err)
	}

	out := cloneChunk(updated)
	return &out, nil
}

// DeleteChunk removes a chunk from its document and rebuilds the library
// index.
func (s *Store) DeleteChunk(ctx context.Context, libraryID, documentID, chunkID string) error {
	const op = "delete_chunk"

	s.mu.Lock()
	defer s.mu.Unlock()

	l, _, err := s.chunkLocked(libraryID, documentID, chunkID)
	if err != nil {
		return wrapError(op, err)
	}

	err = s.mutateLocked(ctx, op, l, func() error {
		doc := l.docs[documentID]
		if i := slices.Index(doc.ChunkIDs, chunkID); i >= 0 {
			doc.ChunkIDs = slices.Delete(doc.ChunkIDs, i, i+1)
		}
		l.chunks.Delete(chunkID)
		l.syncDimension()
		ts := now()
		doc.UpdatedAt = ts
		l.updatedAt = ts
		return l.indexer.RebuildIndex(l.chunks)
	})
	if err != nil {
		return wrapError(op, err)
	}

	s.logger.Debug("chunk deleted", "library", l.id, "document", documentID, "chunk", chunkID)
	return nil
}

// chunkLocked resolves a chunk that is listed by the given document.
func (s *Store) chunkLocked(libraryID, documentID, chunkID string) (*library, Chunk, error) {
	l, err := s.libraryLocked(libraryID)
	if err != nil {
		return nil, Chunk{}, err
	}
	doc, err := l.document(documentID)
	if err != nil {
		return nil, Chunk{}, err
	}
	if !slices.Contains(doc.ChunkIDs, chunkID) {
		return nil, Chunk{}, notFound("chunk", chunkID)
	}
	c, ok := l.chunks.Get(chunkID)
	if !ok {
		return nil, Chunk{}, notFound("chunk", chunkID)
	}
	return l, c, nil
}

func cloneChunk(c Chunk) Chunk {
	c.Embedding = cloneVector(c.Embedding)
	c.Metadata = cloneMetadata(c.Metadata)
	return c
}
