package simsensor

import (
	"context"
	"sync"
)

// Future is a single-assignment completion handle for data that is still
// being produced by a backend. It is the completion signal the host-access
// stage waits on.
type Future struct {
	done chan struct{}
	once sync.Once
	buf  *Buffer
	err  error
}

// NewFuture returns an unresolved Future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a Future that is already complete.
func Resolved(buf *Buffer, err error) *Future {
	f := NewFuture()
	f.Resolve(buf, err)
	return f
}

// Resolve completes the Future. Only the first call has any effect; it
// reports whether this call was the one that resolved it.
func (f *Future) Resolve(buf *Buffer, err error) bool {
	resolved := false
	f.once.Do(func() {
		f.buf, f.err = buf, err
		close(f.done)
		resolved = true
	})
	return resolved
}

// Done is closed once the Future is resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the Future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (*Buffer, error) {
	select {
	case <-f.done:
		return f.buf, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Then returns a Future resolved with fn applied to this Future's result.
// fn runs on its own goroutine after resolution and is skipped when this
// Future failed; the failure propagates unchanged.
func (f *Future) Then(fn func(*Buffer) (*Buffer, error)) *Future {
	next := NewFuture()
	go func() {
		<-f.done
		if f.err != nil {
			next.Resolve(nil, f.err)
			return
		}
		next.Resolve(fn(f.buf))
	}()
	return next
}
