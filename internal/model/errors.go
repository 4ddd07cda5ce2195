// internal/model/errors.go

package model

import "errors"

// Error kinds surfaced by the construction and retrieval engines. Callers
// match them with errors.Is; all wrapping adds operation context via fmt's %w.
var (
	// ErrNotFound means a lookup by id matched nothing.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument means a caller-supplied parameter violated a stated
	// constraint. Rejected before any external call is made.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrProviderUnavailable means the embedding service could not be reached.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrProviderError means the embedding service responded with a malformed
	// or empty result.
	ErrProviderError = errors.New("embedding provider error")

	// ErrStoreUnavailable means the graph store is unreachable or rejected an
	// operation. Aborts the current batch; earlier committed writes remain.
	ErrStoreUnavailable = errors.New("graph store unavailable")
)
