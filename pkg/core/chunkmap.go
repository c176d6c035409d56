package core

import "github.com/liliang-cn/vecdb/pkg/index"

// ChunkMap is an insertion-ordered map of chunk id to chunk. Replacing an
// existing id keeps its position, so replaying Entries always feeds an index
// the same sequence.
type ChunkMap struct {
	items map[string]Chunk
	order []string
}

// NewChunkMap returns an empty map.
func NewChunkMap() *ChunkMap {
	return &ChunkMap{items: make(map[string]Chunk)}
}

// Put inserts or replaces c.
func (m *ChunkMap) Put(c Chunk) {
	if _, ok := m.items[c.ID]; !ok {
		m.order = append(m.order, c.ID)
	}
	m.items[c.ID] = c
}

// Get returns the chunk stored under id.
func (m *ChunkMap) Get(id string) (Chunk, bool) {
	c, ok := m.items[id]
	return c, ok
}

// Delete removes id and reports whether it was present.
func (m *ChunkMap) Delete(id string) bool {
	if _, ok := m.items[id]; !ok {
		return false
	}
	delete(m.items, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return true
}

// Len returns the number of chunks.
func (m *ChunkMap) Len() int {
	return len(m.order)
}

// IDs returns the chunk ids in insertion order.
func (m *ChunkMap) IDs() []string {
	out := make([]string, len(m.order))
	copy(out, m.order)
	return out
}

// Chunks returns the chunks in insertion order.
func (m *ChunkMap) Chunks() []Chunk {
	out := make([]Chunk, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.items[id])
	}
	return out
}

// Entries returns (id, embedding) pairs in insertion order.
func (m *ChunkMap) Entries() []index.Entry {
	out := make([]index.Entry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, index.Entry{ID: id, Vector: m.items[id].Embedding})
	}
	return out
}

// Clone returns a copy that shares chunk values but not structure.
func (m *ChunkMap) Clone() *ChunkMap {
	c := &ChunkMap{
		items: make(map[string]Chunk, len(m.items)),
		order: make([]string, len(m.order)),
	}
	copy(c.order, m.order)
	for k, v := range m.items {
		c.items[k] = v
	}
	return c
}
