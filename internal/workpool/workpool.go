// Package workpool bounds the number of blocking hash/copy operations that
// run at once, so request goroutines never saturate the disk or CPU with
// unbounded concurrent merges.
package workpool

import (
	"context"
)

// Pool is a counting semaphore over goroutines.
//
// Thread safety:
// All methods are safe for concurrent use.
type Pool struct {
	slots chan struct{}
}

// New creates a Pool allowing at most maxConcurrent simultaneous tasks.
// maxConcurrent = 0 means a single slot (fully serialized).
func New(maxConcurrent int) *Pool {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Pool{slots: make(chan struct{}, maxConcurrent)}
}

// Do runs fn once a slot is available, releasing the slot when fn returns.
// It blocks the calling goroutine; callers that want fire-and-forget wrap
// Do in their own goroutine.
//
// Returns the context error if ctx is cancelled before a slot frees up,
// otherwise fn's error.
func (p *Pool) Do(ctx context.Context, fn func() error) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.slots }()

	return fn()
}

// Go runs fn on a new goroutine once a slot is available. Errors are
// delivered to onErr, which may be nil.
func (p *Pool) Go(ctx context.Context, fn func() error, onErr func(error)) {
	go func() {
		if err := p.Do(ctx, fn); err != nil && onErr != nil {
			onErr(err)
		}
	}()
}
