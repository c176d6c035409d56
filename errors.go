package vecdb

import "github.com/liliang-cn/vecdb/pkg/core"

// Common errors, re-exported so callers of the root package can match them
// with errors.Is without importing pkg/core.
var (
	// ErrNotFound is returned when a library, document or chunk is missing
	ErrNotFound = core.ErrNotFound

	// ErrDimensionMismatch is returned when a vector disagrees with its library
	ErrDimensionMismatch = core.ErrDimensionMismatch

	// ErrProviderFailure is returned when the embedding provider fails
	ErrProviderFailure = core.ErrProviderFailure

	// ErrUnsupportedAlgorithm is returned for an unknown index selector
	ErrUnsupportedAlgorithm = core.ErrUnsupportedAlgorithm

	// ErrInvalidInput is returned for malformed requests
	ErrInvalidInput = core.ErrInvalidInput

	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = core.ErrStoreClosed
)
