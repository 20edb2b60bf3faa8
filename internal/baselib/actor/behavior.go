package actor

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// FunctionBehavior adapts a plain function to the ActorBehavior interface.
type FunctionBehavior[M Message, R any] struct {
	fn func(ctx context.Context, msg M) fn.Result[R]
}

// NewFunctionBehavior wraps f as an actor behavior.
func NewFunctionBehavior[M Message, R any](
	f func(ctx context.Context, msg M) fn.Result[R],
) *FunctionBehavior[M, R] {

	return &FunctionBehavior[M, R]{fn: f}
}

// Receive calls the wrapped function.
//
// NOTE: This is part of the ActorBehavior interface.
func (b *FunctionBehavior[M, R]) Receive(ctx context.Context,
	msg M) fn.Result[R] {

	return b.fn(ctx, msg)
}

// A compile-time check that FunctionBehavior implements ActorBehavior.
var _ ActorBehavior[Message, any] = (*FunctionBehavior[Message, any])(nil)
