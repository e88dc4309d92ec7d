package bridge

import (
	"context"
	"sync"
)

// Future is a single-use response slot. The first Resolve wins; later calls
// are ignored.
type Future struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	value    any
	err      error
}

// NewFuture returns an unresolved future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a future that is already complete.
func Resolved(value any, err error) *Future {
	f := NewFuture()
	f.Resolve(value, err)
	return f
}

// Go runs fn on a new goroutine and resolves the future with its result.
func Go(fn func() (any, error)) *Future {
	f := NewFuture()
	go func() {
		v, err := fn()
		f.Resolve(v, err)
	}()
	return f
}

// Resolve completes the future. It reports whether this call won.
func (f *Future) Resolve(value any, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolved {
		return false
	}
	f.resolved = true
	f.value = value
	f.err = err
	close(f.done)
	return true
}

// Poll returns the result without blocking. done is false while the future
// is unresolved.
func (f *Future) Poll() (done bool, value any, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resolved, f.value, f.err
}

// Done is closed once the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		_, v, err := f.Poll()
		return v, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
