// Package actorutil holds small helpers shared by the actors of the daemon.
package actorutil

import (
	"context"
	"fmt"

	"github.com/roasbeef/draftsync/internal/baselib/actor"
)

// AskAwait sends msg to ref and blocks for the reply.
func AskAwait[M actor.Message, R any](ctx context.Context,
	ref actor.ActorRef[M, R], msg M) (R, error) {

	return ref.Ask(ctx, msg).Await(ctx).Unpack()
}

// AskAwaitTyped is AskAwait followed by a type assertion on the reply. It is
// meant for actors whose response type is a sealed union.
func AskAwaitTyped[M actor.Message, R any, T any](ctx context.Context,
	ref actor.ActorRef[M, R], msg M) (T, error) {

	var zero T

	resp, err := AskAwait(ctx, ref, msg)
	if err != nil {
		return zero, err
	}

	typed, ok := any(resp).(T)
	if !ok {
		return zero, fmt.Errorf("unexpected response type: got %T, "+
			"want %T", resp, zero)
	}

	return typed, nil
}
