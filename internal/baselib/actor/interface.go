package actor

import (
	"context"
	"errors"
	"iter"

	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrActorTerminated indicates that an operation failed because the
	// target actor was stopped or is in the process of shutting down.
	ErrActorTerminated = errors.New("actor terminated")

	// ErrServiceKeyTypeMismatch is returned when a service key name is
	// registered again with a different message or response type.
	ErrServiceKeyTypeMismatch = errors.New("service key type mismatch")
)

// BaseMessage can be embedded by message types defined outside this package
// to satisfy the sealed Message interface.
type BaseMessage struct{}

// messageMarker seals the Message interface.
func (BaseMessage) messageMarker() {}

// Message is the sealed interface every actor message implements. Types
// outside the package satisfy it by embedding BaseMessage.
type Message interface {
	messageMarker()

	// MessageType returns a short name for the message, used in logs.
	MessageType() string
}

// Future is the read side of an asynchronous result.
type Future[T any] interface {
	// Await blocks until the result is available or the context is done.
	Await(ctx context.Context) fn.Result[T]

	// ThenApply returns a new future holding fn applied to the successful
	// result of this one. Errors pass through untouched.
	ThenApply(ctx context.Context, fn func(T) T) Future[T]

	// OnComplete runs fn once the result is ready, or with the context
	// error if ctx is done first. fn runs on its own goroutine.
	OnComplete(ctx context.Context, fn func(fn.Result[T]))
}

// Promise is the write side of a Future.
type Promise[T any] interface {
	// Future returns the future bound to this promise.
	Future() Future[T]

	// Complete sets the result. Only the first call wins; it reports
	// whether this call was the one that completed the promise.
	Complete(result fn.Result[T]) bool
}

// BaseActorRef is the untyped root of every actor reference.
type BaseActorRef interface {
	// ID returns the unique identifier of the referenced actor.
	ID() string
}

// TellOnlyRef can only deliver fire-and-forget messages.
type TellOnlyRef[M Message] interface {
	BaseActorRef

	// Tell enqueues msg without waiting for a reply. The message is
	// dropped if ctx is cancelled before the mailbox accepts it.
	Tell(ctx context.Context, msg M)
}

// ActorRef supports both tell and ask.
type ActorRef[M Message, R any] interface {
	TellOnlyRef[M]

	// Ask enqueues msg and returns a future for the reply.
	Ask(ctx context.Context, msg M) Future[R]
}

// ActorBehavior is the message handler of an actor. Receive is never called
// concurrently for the same actor.
type ActorBehavior[M Message, R any] interface {
	// Receive handles one message. For asks, ctx is cancelled when either
	// the actor stops or the caller's context is done.
	Receive(ctx context.Context, msg M) fn.Result[R]
}

// Stoppable may be implemented by a behavior that owns resources which must
// be released when its actor stops.
type Stoppable interface {
	// OnStop runs once after the processing loop exits. ctx carries the
	// cleanup deadline.
	OnStop(ctx context.Context) error
}

// Mailbox is the message queue of an actor.
//
// Send and TrySend may be called from any goroutine. Receive and Drain are
// only called by the owning actor's loop.
type Mailbox[M Message, R any] interface {
	// Send blocks until env is accepted or either context is done.
	Send(ctx context.Context, env envelope[M, R]) bool

	// TrySend enqueues env only if there is room right now.
	TrySend(env envelope[M, R]) bool

	// Receive yields envelopes until ctx is done or the mailbox closes.
	Receive(ctx context.Context) iter.Seq[envelope[M, R]]

	// Close rejects all further sends. It is idempotent.
	Close()

	// IsClosed reports whether Close was called.
	IsClosed() bool

	// Drain yields whatever is still buffered after Close.
	Drain() iter.Seq[envelope[M, R]]
}
