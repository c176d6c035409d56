package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/liliang-cn/vecdb/pkg/index"
)

// Query embeds req.Text, unless req.Vector is set, and returns the K nearest
// chunks of the library ranked ascending by distance under req.Metric.
func (s *Store) Query(ctx context.Context, req QueryRequest) ([]QueryResult, error) {
	const op = "query"
	if req.LibraryID == "" {
		return nil, wrapError(op, invalidInput("library_id is required"))
	}
	k, metric, err := queryParams(req.K, req.Metric)
	if err != nil {
		return nil, wrapError(op, err)
	}
	if err := s.requireLibrary(req.LibraryID); err != nil {
		return nil, wrapError(op, err)
	}

	vec := req.Vector
	if len(vec) == 0 {
		if strings.TrimSpace(req.Text) == "" {
			return nil, wrapError(op, invalidInput("query_text or vector is required"))
		}
		vec, err = s.embedText(ctx, req.Text)
		if err != nil {
			return nil, wrapError(op, err)
		}
	}

	results, err := s.search(req.LibraryID, vec, k, metric)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return results, nil
}

// SearchVector runs a k-nearest-neighbour search with a caller-supplied
// vector. k of 0 selects DefaultK.
func (s *Store) SearchVector(ctx context.Context, libraryID string, vector []float32, k int, metric index.Metric) ([]QueryResult, error) {
	const op = "search_vector"
	if len(vector) == 0 {
		return nil, wrapError(op, invalidInput("query vector is empty"))
	}
	k, metric, err := queryParams(k, metric)
	if err != nil {
		return nil, wrapError(op, err)
	}
	results, err := s.search(libraryID, vector, k, metric)
	if err != nil {
		return nil, wrapError(op, err)
	}
	return results, nil
}

func queryParams(k int, metric index.Metric) (int, index.Metric, error) {
	if k == 0 {
		k = DefaultK
	}
	if k < 0 {
		return 0, "", invalidInput("k must be at least 1, got %d", k)
	}
	m, err := index.ParseMetric(string(metric))
	if err != nil {
		return 0, "", fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	return k, m, nil
}

func (s *Store) search(libraryID string, vector []float32, k int, metric index.Metric) ([]QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := s.libraryLocked(libraryID)
	if err != nil {
		return nil, err
	}
	if l.dimension > 0 && len(vector) != l.dimension {
		return nil, &index.DimensionError{Expected: l.dimension, Actual: len(vector)}
	}

	hits, err := l.indexer.SearchChunks(vector, k, metric)
	if err != nil {
		return nil, err
	}

	out := make([]QueryResult, 0, len(hits))
	for _, h := range hits {
		c, ok := l.chunks.Get(h.ID)
		if !ok {
			s.logger.Warn("index returned unknown chunk", "library", l.id, "chunk", h.ID)
			continue
		}
		out = append(out, QueryResult{
			ChunkID:    c.ID,
			DocumentID: c.DocumentID,
			Score:      h.Distance,
			Text:       c.Text,
			Metadata:   cloneMetadata(c.Metadata),
		})
	}
	return out, nil
}
