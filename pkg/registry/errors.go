package registry

import "errors"

var (
	// ErrBackendNotFound indicates that a record lookup by id failed.
	ErrBackendNotFound = errors.New("backend not found")
	// ErrShuttingDown indicates that the registry is in the process of
	// shutting down and refuses new operations.
	ErrShuttingDown = errors.New("registry is shutting down")
	// ErrUnknownType indicates that a persisted record referenced a backend
	// type id that is not registered.
	ErrUnknownType = errors.New("unknown backend type")
)
