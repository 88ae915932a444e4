package query

import "errors"

// Sentinel errors for query operations.
var (
	// ErrMissingTransport is returned when no transport is supplied.
	ErrMissingTransport = errors.New("query: transport is required")

	// ErrMissingRequest is returned when no request cell or descriptor is
	// supplied.
	ErrMissingRequest = errors.New("query: request is required")

	// ErrMissingMutation is returned when no mutation func is supplied.
	ErrMissingMutation = errors.New("query: mutation func is required")

	// ErrNoCache is returned by Prefetch when the resource has no cache to
	// populate.
	ErrNoCache = errors.New("query: no cache configured")

	// ErrPrefetchSkipped is returned when a prefetch is gated off by the
	// network monitor or an open breaker.
	ErrPrefetchSkipped = errors.New("query: prefetch skipped")

	// ErrDestroyed is returned by operations on a destroyed orchestrator.
	ErrDestroyed = errors.New("query: orchestrator is destroyed")
)
