package dispatch

import "errors"

// Standard errors returned by the pool.
var (
	// ErrAlreadyRunning indicates Start was called on a running pool.
	ErrAlreadyRunning = errors.New("pool already running")

	// ErrNotRunning indicates the pool has not been started or was stopped.
	ErrNotRunning = errors.New("pool not running")

	// ErrQueueFull indicates the job queue is at capacity.
	ErrQueueFull = errors.New("job queue full")
)
