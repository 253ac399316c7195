// Package dispatch provides the bounded worker pool the plugin catalog uses
// for blocking work: spawning volt processes, debug-adapter round trips, and
// volt installation steps. The catalog's own loop must never block, so
// anything that touches a process or the filesystem runs here and reports
// back through the catalog's queue.
package dispatch

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Pool executes submitted jobs on a fixed set of worker goroutines.
// The queue is bounded; Submit never blocks the caller.
type Pool struct {
	queueSize   int
	workerCount int
	logger      *slog.Logger

	mu      sync.Mutex // protects queue creation/destruction
	queue   chan job
	running atomic.Bool
	wg      sync.WaitGroup

	submitted atomic.Uint64
	completed atomic.Uint64
	panicked  atomic.Uint64
	dropped   atomic.Uint64
}

// job is one unit of background work. The name is only used for logging.
type job struct {
	name string
	fn   func()
}

// Option configures a Pool.
type Option func(*Pool)

// WithQueueSize sets the job queue capacity.
func WithQueueSize(size int) Option {
	return func(p *Pool) {
		if size > 0 {
			p.queueSize = size
		}
	}
}

// WithWorkers sets the number of worker goroutines.
func WithWorkers(count int) Option {
	return func(p *Pool) {
		if count > 0 {
			p.workerCount = count
		}
	}
}

// WithLogger sets the logger used for panic reports.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPool creates a pool with the given options. The pool is inert until
// Start is called.
func NewPool(opts ...Option) *Pool {
	p := &Pool{
		queueSize:   1024,
		workerCount: 8,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running.Load() {
		return ErrAlreadyRunning
	}

	p.queue = make(chan job, p.queueSize)
	p.running.Store(true)

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return nil
}

// Stop drains the queue and waits for workers to finish, or until the
// context is cancelled. Jobs already queued still run.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running.Load() {
		p.mu.Unlock()
		return ErrNotRunning
	}

	p.running.Store(false)
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit queues fn for execution. The name identifies the job in logs.
// Returns ErrQueueFull when the queue is at capacity and ErrNotRunning when
// the pool is stopped; it never blocks.
func (p *Pool) Submit(name string, fn func()) error {
	if !p.running.Load() {
		return ErrNotRunning
	}

	select {
	case p.queue <- job{name: name, fn: fn}:
		p.submitted.Add(1)
		return nil
	default:
		p.dropped.Add(1)
		return ErrQueueFull
	}
}

// worker runs queued jobs until the queue is closed.
func (p *Pool) worker() {
	defer p.wg.Done()

	for j := range p.queue {
		p.run(j)
	}
}

// run executes one job with panic recovery. A panicking job must not take
// down the worker; the remaining queue still has to drain.
func (p *Pool) run(j job) {
	defer func() {
		if r := recover(); r != nil {
			p.panicked.Add(1)
			p.logger.Error("background job panicked",
				"job", j.name,
				"panic", r,
				"stack", string(debug.Stack()))
			return
		}
		p.completed.Add(1)
	}()

	j.fn()
}

// QueueDepth returns the number of jobs waiting in the queue, or 0 when the
// pool is not running.
func (p *Pool) QueueDepth() int {
	if !p.running.Load() {
		return 0
	}
	return len(p.queue)
}

// IsRunning reports whether the pool has been started and not yet stopped.
func (p *Pool) IsRunning() bool {
	return p.running.Load()
}

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	// Submitted is the total number of jobs accepted by Submit.
	Submitted uint64

	// Completed is the number of jobs that ran to completion.
	Completed uint64

	// Panicked is the number of jobs that panicked.
	Panicked uint64

	// Dropped is the number of jobs rejected because the queue was full.
	Dropped uint64

	// QueueDepth is the current number of waiting jobs.
	QueueDepth int
}

// Stats returns the current counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted:  p.submitted.Load(),
		Completed:  p.completed.Load(),
		Panicked:   p.panicked.Load(),
		Dropped:    p.dropped.Load(),
		QueueDepth: p.QueueDepth(),
	}
}
