package index

import (
	"sync"
)

// FlatIndex is an exhaustive index: every search scores every stored vector.
// O(n) per query and O(n*d) space. It is the correctness reference for the
// other variants. Vectors of different lengths are accepted on insert; a
// search then fails on the first kernel mismatch.
type FlatIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32
}

var _ Index = (*FlatIndex)(nil)

// NewFlatIndex creates an empty brute-force index
func NewFlatIndex() *FlatIndex {
	return &FlatIndex{
		vectors: make(map[string][]float32),
	}
}

// AddVector stores a copy of vector under id, overwriting any previous value
func (f *FlatIndex) AddVector(id string, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.vectors[id] = cloneVector(vector)
	return nil
}

// RemoveVector deletes id if present
func (f *FlatIndex) RemoveVector(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.vectors, id)
	return nil
}

// Rebuild replaces the contents with entries
func (f *FlatIndex) Rebuild(entries []Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.vectors = make(map[string][]float32, len(entries))
	for _, e := range entries {
		f.vectors[e.ID] = cloneVector(e.Vector)
	}
	return nil
}

// Search performs exact brute-force search
func (f *FlatIndex) Search(query []float32, k int, metric Metric) ([]Result, error) {
	if k < 1 {
		return nil, ErrInvalidK
	}
	dist, err := metric.Func()
	if err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.vectors) == 0 {
		return []Result{}, nil
	}

	results := make([]Result, 0, len(f.vectors))
	for id, vector := range f.vectors {
		d, err := dist(query, vector)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{ID: id, Distance: d})
	}

	sortResults(results)
	return truncate(results, k), nil
}

// Len returns the number of vectors in the index
func (f *FlatIndex) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// IDs returns the stored ids
func (f *FlatIndex) IDs() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	ids := make([]string, 0, len(f.vectors))
	for id := range f.vectors {
		ids = append(ids, id)
	}
	return ids
}

// GetVector returns a copy of the vector for the given ID
func (f *FlatIndex) GetVector(id string) ([]float32, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if vector, exists := f.vectors[id]; exists {
		return cloneVector(vector), true
	}
	return nil, false
}

// Type reports TypeFlat
func (f *FlatIndex) Type() Type { return TypeFlat }

// Stats returns statistics about the index
func (f *FlatIndex) Stats() map[string]interface{} {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return map[string]interface{}{
		"type": string(TypeFlat),
		"size": len(f.vectors),
	}
}
