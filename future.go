package interceptz

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
)

// ErrPending is returned by Future.Result while the future is unsettled.
var ErrPending = errors.New("future has not settled")

// Settler is a deferred result that accepts settlement observers.
//
// The interceptor treats any non-nil method result implementing Settler as
// asynchronous. OnSettle must call fn exactly once, with a non-nil err when
// the result failed, and must call it immediately if already settled.
type Settler interface {
	OnSettle(fn func(value any, err error))
}

// Future is a value that settles exactly once, to a value or an error.
//
// Futures are safe for concurrent use. Observers registered with Then or
// OnSettle run on the goroutine that settles the future, or on the caller's
// goroutine when the future has already settled.
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	value     T
	err       error
	settled   bool
	observers []func(T, error)
}

// NewFuture creates an unsettled future.
func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future already settled with v.
func Resolved[T any](v T) *Future[T] {
	f := NewFuture[T]()
	f.Resolve(v)
	return f
}

// Rejected returns a future already settled with err.
func Rejected[T any](err error) *Future[T] {
	f := NewFuture[T]()
	f.Reject(err)
	return f
}

// Go runs fn on a new goroutine and returns a future settled with its
// result. A panic in fn rejects the future with a *PanicError.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := NewFuture[T]()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.Reject(&PanicError{Value: r, Stack: debug.Stack()})
			}
		}()
		v, err := fn()
		if err != nil {
			f.Reject(err)
			return
		}
		f.Resolve(v)
	}()
	return f
}

// Resolve settles the future with v. It reports whether this call settled
// the future; later settlements are ignored.
func (f *Future[T]) Resolve(v T) bool {
	return f.settle(v, nil)
}

// Reject settles the future with err. A nil err is ignored and Reject
// returns false: a rejection must carry a reason.
func (f *Future[T]) Reject(err error) bool {
	if err == nil {
		return false
	}
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(v T, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.value, f.err, f.settled = v, err, true
	observers := f.observers
	f.observers = nil
	close(f.done)
	f.mu.Unlock()

	for _, fn := range observers {
		fn(v, err)
	}
	return true
}

// Then registers fn to run once the future settles.
func (f *Future[T]) Then(fn func(T, error)) {
	f.mu.Lock()
	if !f.settled {
		f.observers = append(f.observers, fn)
		f.mu.Unlock()
		return
	}
	v, err := f.value, f.err
	f.mu.Unlock()
	fn(v, err)
}

// OnSettle implements Settler.
func (f *Future[T]) OnSettle(fn func(value any, err error)) {
	f.Then(func(v T, err error) {
		fn(v, err)
	})
}

// Done returns a channel closed once the future settles.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result returns the settled value and error, or ErrPending.
func (f *Future[T]) Result() (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.settled {
		var zero T
		return zero, ErrPending
	}
	return f.value, f.err
}

// Await blocks until the future settles or ctx is done. A done ctx stops
// the wait only; the underlying work carries on.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
