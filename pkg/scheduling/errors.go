package scheduling

import "errors"

var (
	// ErrNoBackendsAvailable indicates no enabled, non-reserved, running
	// backend exists at all.
	ErrNoBackendsAvailable = errors.New("no backends available")
	// ErrNoMatchingBackend indicates backends exist but none satisfy the
	// request's filter.
	ErrNoMatchingBackend = errors.New("no backend matches request filter")
	// ErrAllBackendsFailedModel indicates every candidate backend has
	// already failed to load the requested model.
	ErrAllBackendsFailedModel = errors.New("all candidate backends failed to load model")
	// ErrTimeout indicates a request timed out: either its own wait elapsed
	// (GetNextBackend returns a *TimeoutError wrapping it), or the
	// registry-wide stagnation deadline elapsed with the open request set
	// making no progress.
	ErrTimeout = errors.New("request timed out")
	// ErrShuttingDown indicates GetNextBackend was called while the
	// scheduler is shutting down.
	ErrShuttingDown = errors.New("scheduler is shutting down")
)
