package executor

import (
	"context"
	"sync"
)

// Waitable is anything an executor can spin on until it completes.
type Waitable interface {
	Done() <-chan struct{}
}

// Future is a single-assignment result. The first Set wins.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Set completes the future and reports whether this call did so.
func (f *Future[T]) Set(value T, err error) bool {
	set := false
	f.once.Do(func() {
		f.value, f.err = value, err
		close(f.done)
		set = true
	})
	return set
}

func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether the future has completed.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Get blocks until the future completes or ctx is done.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
