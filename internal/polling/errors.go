package polling

import "errors"

var (
	// ErrNilFetch is returned when a descriptor has no fetch function.
	ErrNilFetch = errors.New("polling: nil fetch function")
	// ErrInvalidInterval is returned when the polling interval is not positive.
	ErrInvalidInterval = errors.New("polling: invalid interval")
	// ErrNilRegistry is returned when a source is started without a registry.
	ErrNilRegistry = errors.New("polling: nil registry")
	// ErrStopped is returned by Refetch after the source has been stopped.
	ErrStopped = errors.New("polling: source stopped")
	// ErrTypeMismatch is returned when a coalesced result cannot be used by the waiter.
	ErrTypeMismatch = errors.New("polling: shared result type mismatch")
)
