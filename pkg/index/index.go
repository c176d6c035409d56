// Package index provides the in-memory vector indexes behind a library:
// an exhaustive Flat scan, a binary space-partitioning Tree and a coarse
// ClusterPartition probe. Indexes only hold chunk ids and embeddings; chunk
// text and metadata live with the caller.
package index

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrDimensionMismatch is matched by every *DimensionError.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrInvalidK is returned when a search asks for fewer than one result.
	ErrInvalidK = errors.New("k must be at least 1")

	// ErrUnsupportedType is returned by New for an unknown index selector.
	ErrUnsupportedType = errors.New("unsupported index type")

	// ErrUnknownMetric is returned for an unknown distance metric selector.
	ErrUnknownMetric = errors.New("unknown distance metric")
)

// DimensionError reports two vectors of different lengths meeting in a
// kernel, or an insert that disagrees with an established dimensionality.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is makes errors.Is(err, ErrDimensionMismatch) hold.
func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// Entry is one (chunk id, embedding) pair fed to Rebuild.
type Entry struct {
	ID     string
	Vector []float32
}

// Result is one search hit.
type Result struct {
	ID       string  `json:"id"`
	Distance float64 `json:"distance"`
}

// Index is the capability set shared by every variant.
type Index interface {
	// AddVector inserts or overwrites the vector stored for id.
	AddVector(id string, vector []float32) error

	// RemoveVector deletes the vector for id. Removing an absent id is a no-op.
	RemoveVector(id string) error

	// Rebuild discards all state and re-inserts entries in slice order.
	Rebuild(entries []Entry) error

	// Search returns up to k hits sorted ascending by the metric's score.
	Search(query []float32, k int, metric Metric) ([]Result, error)

	// Len returns the number of stored vectors.
	Len() int

	// IDs returns the stored chunk ids in no particular order.
	IDs() []string

	// Type reports the variant.
	Type() Type

	// Stats returns variant-specific statistics.
	Stats() map[string]interface{}
}

// sortResults orders hits ascending by distance, then by id so equal
// distances come back in a stable order across calls.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}
		return results[i].ID < results[j].ID
	})
}

// truncate returns the first k results.
func truncate(results []Result, k int) []Result {
	if len(results) > k {
		return results[:k]
	}
	return results
}

// cloneVector stores a private copy so callers can reuse their slices.
func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
