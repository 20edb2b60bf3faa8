package actor

import (
	"context"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

// otherMsg has a different type than countMsg so it can collide on a key
// name.
type otherMsg struct {
	BaseMessage
}

func (otherMsg) MessageType() string { return "otherMsg" }

// TestServiceKeySpawnAndFind checks registration and lookup by key.
func TestServiceKeySpawnAndFind(t *testing.T) {
	t.Parallel()

	system := NewActorSystem()
	defer system.Shutdown(context.Background())

	key := NewServiceKey[countMsg, int]("counter")
	require.True(t, key.Find(system).IsNone())

	ref := key.Spawn(system, "counter-1", &counter{})

	found := key.Find(system)
	require.True(t, found.IsSome())
	require.Equal(t, ref.ID(), found.UnsafeFromSome().ID())

	// The same name with other types is rejected with a dead reference.
	other := NewServiceKey[otherMsg, int]("counter")
	dead := other.Spawn(system, "counter-2", NewFunctionBehavior(
		func(context.Context, otherMsg) fn.Result[int] {
			return fn.Ok(0)
		},
	))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := dead.Ask(ctx, otherMsg{}).Await(ctx).Unpack()
	require.ErrorIs(t, err, ErrActorTerminated)
}

// TestSystemShutdown checks that shutdown stops every actor and that spawns
// afterwards yield stopped references.
func TestSystemShutdown(t *testing.T) {
	t.Parallel()

	system := NewActorSystem()

	c := &counter{}
	ref := Spawn[countMsg, int](system, "c", c)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := ref.Ask(ctx, countMsg{delta: 1}).Await(ctx).Unpack()
	require.NoError(t, err)

	require.NoError(t, system.Shutdown(ctx))
	require.True(t, c.stopped.Load())

	late := Spawn[countMsg, int](system, "late", &counter{})
	_, err = late.Ask(ctx, countMsg{delta: 1}).Await(ctx).Unpack()
	require.ErrorIs(t, err, ErrActorTerminated)
}

// TestStopAndRemoveActor checks single actor removal.
func TestStopAndRemoveActor(t *testing.T) {
	t.Parallel()

	system := NewActorSystem()
	defer system.Shutdown(context.Background())

	key := NewServiceKey[countMsg, int]("removable")
	key.Spawn(system, "removable-1", &counter{})

	require.True(t, system.StopAndRemoveActor("removable-1"))
	require.False(t, system.StopAndRemoveActor("removable-1"))
	require.True(t, key.Find(system).IsNone())
}
