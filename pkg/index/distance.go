package index

import (
	"fmt"
	"math"
	"strings"
)

// DistanceFunc computes a scalar score between two vectors of equal length.
// Lower scores rank first.
type DistanceFunc func(a, b []float32) (float64, error)

// Metric selects the distance kernel applied during one search call.
type Metric string

const (
	// MetricEuclidean ranks by L2 distance, closest first.
	MetricEuclidean Metric = "euclidean"

	// MetricCosine ranks by raw cosine similarity in ascending order, like every
	// other metric. Because cosine is a similarity, the least similar vectors
	// come first under this convention. Use MetricCosineDistance to get the
	// most similar vectors first.
	MetricCosine Metric = "cosine"

	// MetricCosineDistance ranks by 1 - cosine similarity, most similar first.
	MetricCosineDistance Metric = "cosine_distance"
)

// ParseMetric resolves a metric selector. The empty string selects Euclidean.
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case "", MetricEuclidean:
		return MetricEuclidean, nil
	case MetricCosine:
		return MetricCosine, nil
	case MetricCosineDistance:
		return MetricCosineDistance, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// Func returns the kernel for the metric.
func (m Metric) Func() (DistanceFunc, error) {
	switch m {
	case "", MetricEuclidean:
		return Euclidean, nil
	case MetricCosine:
		return Cosine, nil
	case MetricCosineDistance:
		return CosineDistance, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, string(m))
	}
}

// String returns the selector name.
func (m Metric) String() string {
	if m == "" {
		return string(MetricEuclidean)
	}
	return string(m)
}

// Euclidean returns the L2 norm of a-b.
func Euclidean(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionError{Expected: len(a), Actual: len(b)}
	}

	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum), nil
}

// Cosine returns dot(a,b) / (|a|*|b|), or 0 when either norm is zero.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionError{Expected: len(a), Actual: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// CosineDistance returns 1 - Cosine(a, b).
func CosineDistance(a, b []float32) (float64, error) {
	sim, err := Cosine(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - sim, nil
}
