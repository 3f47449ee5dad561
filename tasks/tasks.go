// Package tasks serializes work onto one designated goroutine.
//
// Anything touching shared rendering or UI state must go through a Runner
// rather than being executed on a computer's own thread. Computer threads
// also use it to defer their own release until after the thread has fully
// unwound.
package tasks

import (
	"context"
	"sync"
)

// Runner drains submitted tasks on whichever goroutine calls Run. Submit is
// safe from any goroutine and never blocks the producer.
type Runner struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	closed  bool
}

func NewRunner() *Runner {
	return &Runner{wake: make(chan struct{}, 1)}
}

// Submit queues fn for execution on the running thread. Submissions after
// Close are dropped.
func (r *Runner) Submit(fn func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.pending = append(r.pending, fn)
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) take() []func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	batch := r.pending
	r.pending = nil
	return batch
}

// Run executes tasks until ctx is cancelled, then drains what remains.
func (r *Runner) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for _, fn := range r.take() {
				fn()
			}
			r.mu.Lock()
			r.closed = true
			r.mu.Unlock()
			return
		case <-r.wake:
			for _, fn := range r.take() {
				fn()
			}
		}
	}
}

// Drain runs every currently-queued task on the calling goroutine. Intended
// for tests and for single-shot shutdown paths.
func (r *Runner) Drain() {
	for _, fn := range r.take() {
		fn()
	}
}
