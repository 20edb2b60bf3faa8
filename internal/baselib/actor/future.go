package actor

import (
	"context"
	"sync"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// promise is the channel backed implementation of both Promise and Future.
// The done channel is closed exactly once, after result has been written.
type promise[T any] struct {
	once   sync.Once
	done   chan struct{}
	result fn.Result[T]
}

// NewPromise returns an uncompleted promise.
func NewPromise[T any]() Promise[T] {
	return &promise[T]{
		done: make(chan struct{}),
	}
}

// Future returns the future view of the promise.
func (p *promise[T]) Future() Future[T] {
	return p
}

// Complete records the result if the promise has not been completed yet.
func (p *promise[T]) Complete(result fn.Result[T]) bool {
	completed := false
	p.once.Do(func() {
		p.result = result
		close(p.done)
		completed = true
	})

	return completed
}

// Await blocks until the promise is completed or ctx is done.
func (p *promise[T]) Await(ctx context.Context) fn.Result[T] {
	select {
	case <-p.done:
		return p.result

	case <-ctx.Done():
		return fn.Err[T](ctx.Err())
	}
}

// ThenApply chains a transformation onto the successful result.
func (p *promise[T]) ThenApply(ctx context.Context,
	f func(T) T) Future[T] {

	next := NewPromise[T]()
	go func() {
		result := p.Await(ctx)

		val, err := result.Unpack()
		if err != nil {
			next.Complete(fn.Err[T](err))
			return
		}

		next.Complete(fn.Ok(f(val)))
	}()

	return next.Future()
}

// OnComplete invokes f with the result once it is available.
func (p *promise[T]) OnComplete(ctx context.Context,
	f func(fn.Result[T])) {

	go func() {
		f(p.Await(ctx))
	}()
}

// CompletedFuture returns a future that already holds result.
func CompletedFuture[T any](result fn.Result[T]) Future[T] {
	p := NewPromise[T]()
	p.Complete(result)

	return p.Future()
}
