package core

import (
	"errors"
	"fmt"

	"github.com/liliang-cn/vecdb/pkg/index"
)

// Common errors
var (
	// ErrNotFound is returned when a library, document or chunk does not exist
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch is returned when an embedding does not match the
	// library dimension. It is the same value as index.ErrDimensionMismatch.
	ErrDimensionMismatch = index.ErrDimensionMismatch

	// ErrProviderFailure is returned when the embedding provider fails.
	// Callers may retry.
	ErrProviderFailure = errors.New("embedding provider failure")

	// ErrUnsupportedAlgorithm is returned for an unknown index selector
	ErrUnsupportedAlgorithm = index.ErrUnsupportedType

	// ErrInvalidInput is returned when a request is malformed
	ErrInvalidInput = errors.New("invalid input")

	// ErrStoreClosed is returned when trying to use a closed store
	ErrStoreClosed = errors.New("store is closed")
)

// StoreError wraps errors with operation context
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("vecdb: %v", e.Err)
	}
	return fmt.Sprintf("vecdb: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) && se.Op == op {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
