package core

import (
	"fmt"

	"github.com/liliang-cn/vecdb/pkg/index"
)

// Indexer binds one index variant to a library and translates chunks into
// index entries. It holds no lock of its own; the store serializes access.
type Indexer struct {
	idx index.Index
}

// NewIndexer wraps idx.
func NewIndexer(idx index.Index) *Indexer {
	return &Indexer{idx: idx}
}

// NewIndexerFor builds the index selected by t and wraps it.
func NewIndexerFor(t index.Type, opts index.Options) (*Indexer, error) {
	idx, err := index.New(t, opts)
	if err != nil {
		return nil, err
	}
	return NewIndexer(idx), nil
}

// AddChunk indexes c under its id.
func (x *Indexer) AddChunk(c *Chunk) error {
	if c == nil {
		return fmt.Errorf("%w: nil chunk", ErrInvalidInput)
	}
	return x.idx.AddVector(c.ID, c.Embedding)
}

// RemoveChunk drops id from the index.
func (x *Indexer) RemoveChunk(id string) error {
	return x.idx.RemoveVector(id)
}

// RebuildIndex clears the index and re-adds every chunk of m in order.
func (x *Indexer) RebuildIndex(m *ChunkMap) error {
	return x.idx.Rebuild(m.Entries())
}

// SearchChunks returns the k nearest chunk ids to query under metric.
func (x *Indexer) SearchChunks(query []float32, k int, metric index.Metric) ([]index.Result, error) {
	return x.idx.Search(query, k, metric)
}

// Type returns the wrapped variant.
func (x *Indexer) Type() index.Type { return x.idx.Type() }

// Len returns the number of indexed chunks.
func (x *Indexer) Len() int { return x.idx.Len() }

// IDs returns the indexed chunk ids.
func (x *Indexer) IDs() []string { return x.idx.IDs() }

// Stats returns variant-specific statistics.
func (x *Indexer) Stats() map[string]interface{} { return x.idx.Stats() }
