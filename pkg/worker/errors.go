package worker

import "errors"

// Errors returned by Pool. Submit reports ErrQueueFull instead of blocking
// the caller, so callers decide whether a dropped item deserves a warning.
var (
	ErrPoolNotStarted     = errors.New("worker: pool not started")
	ErrPoolStopped        = errors.New("worker: pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker: pool already started")
	ErrQueueFull          = errors.New("worker: queue full")
	ErrNilProcessor       = errors.New("worker: nil processor")
	ErrStopTimeout        = errors.New("worker: stop timed out with items in flight")
	// ErrPanic wraps the value recovered from a panicking processor.
	ErrPanic = errors.New("worker: processor panicked")
)
