package notify

import (
	"context"
	"testing"
	"time"

	"github.com/roasbeef/draftsync/internal/actorutil"
	"github.com/roasbeef/draftsync/internal/baselib/actor"
	"github.com/stretchr/testify/require"
)

type event struct {
	seq  int
	done bool
}

func newTestHub(t *testing.T, bufSize int) (*Hub[string, event],
	Ref[string, event]) {

	t.Helper()

	hub := NewHub[string, event](Config[event]{
		BufferSize: bufSize,
		Retain:     true,
		IsFinal:    func(e event) bool { return e.done },
	})

	a := actor.NewActor(actor.ActorConfig[Request[string, event],
		Response[event]]{
		ID:          "test-hub",
		Behavior:    hub,
		MailboxSize: 32,
	})
	a.Start()
	t.Cleanup(a.Stop)

	return hub, a.Ref()
}

func publish(t *testing.T, ref Ref[string, event], key string,
	e event) PublishResponse[event] {

	t.Helper()

	resp, err := actorutil.AskAwaitTyped[Request[string, event],
		Response[event], PublishResponse[event]](
		context.Background(), ref,
		PublishMsg[string, event]{Key: key, Event: e},
	)
	require.NoError(t, err)

	return resp
}

func recv(t *testing.T, ch <-chan event) event {
	t.Helper()

	select {
	case e, ok := <-ch:
		require.True(t, ok, "channel closed")
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return event{}
	}
}

func requireClosed(t *testing.T, ch <-chan event) {
	t.Helper()

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}

// TestHubOrderedDelivery checks that subscribers see events in publish
// order and are closed after the final one.
func TestHubOrderedDelivery(t *testing.T) {
	ctx := context.Background()
	_, ref := newTestHub(t, 8)

	sub, err := Subscribe(ctx, ref, "a", nil)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		resp := publish(t, ref, "a", event{seq: i, done: i == 3})
		require.Equal(t, 1, resp.Delivered)
	}

	for i := 1; i <= 3; i++ {
		require.Equal(t, i, recv(t, sub.Events).seq)
	}
	requireClosed(t, sub.Events)
}

// TestHubSeedAndRetain checks the snapshot replayed to new subscribers.
func TestHubSeedAndRetain(t *testing.T) {
	ctx := context.Background()
	_, ref := newTestHub(t, 4)

	seed := event{seq: 7}
	sub, err := Subscribe(ctx, ref, "a", &seed)
	require.NoError(t, err)
	require.Equal(t, 7, recv(t, sub.Events).seq)

	publish(t, ref, "a", event{seq: 8})
	require.Equal(t, 8, recv(t, sub.Events).seq)

	// The retained event wins over a stale seed.
	late, err := Subscribe(ctx, ref, "a", &seed)
	require.NoError(t, err)
	require.Equal(t, 8, recv(t, late.Events).seq)
}

// TestHubSubscribeAfterFinal checks that a subscriber arriving after the
// final event gets it on a closed channel.
func TestHubSubscribeAfterFinal(t *testing.T) {
	ctx := context.Background()
	_, ref := newTestHub(t, 4)

	publish(t, ref, "a", event{seq: 1, done: true})

	sub, err := Subscribe(ctx, ref, "a", nil)
	require.NoError(t, err)
	require.True(t, recv(t, sub.Events).done)
	requireClosed(t, sub.Events)

	// Stale updates after the final event are dropped.
	publish(t, ref, "a", event{seq: 2})

	late, err := Subscribe(ctx, ref, "a", nil)
	require.NoError(t, err)
	require.Equal(t, 1, recv(t, late.Events).seq)
}

// TestHubFinalEvictsOnFullBuffer checks that a slow subscriber still gets
// the final event.
func TestHubFinalEvictsOnFullBuffer(t *testing.T) {
	ctx := context.Background()
	_, ref := newTestHub(t, 1)

	sub, err := Subscribe(ctx, ref, "a", nil)
	require.NoError(t, err)

	require.Equal(t, 1, publish(t, ref, "a", event{seq: 1}).Delivered)
	require.Equal(t, 1, publish(t, ref, "a", event{seq: 2}).Dropped)

	resp := publish(t, ref, "a", event{seq: 3, done: true})
	require.Equal(t, 1, resp.Delivered)

	require.Equal(t, 3, recv(t, sub.Events).seq)
	requireClosed(t, sub.Events)
}

// TestHubUnsubscribe checks that unsubscribing closes the channel and stops
// delivery.
func TestHubUnsubscribe(t *testing.T) {
	ctx := context.Background()
	hub, ref := newTestHub(t, 4)

	sub, err := Subscribe(ctx, ref, "a", nil)
	require.NoError(t, err)

	resp, err := actorutil.AskAwaitTyped[Request[string, event],
		Response[event], UnsubscribeResponse[event]](
		ctx, ref, UnsubscribeMsg[string, event]{Key: "a", ID: sub.id},
	)
	require.NoError(t, err)
	require.True(t, resp.Found)
	requireClosed(t, sub.Events)

	require.Zero(t, publish(t, ref, "a", event{seq: 1}).Delivered)
	require.Zero(t, hub.SubscriberCount("a"))
}

// TestHubForget checks that forgetting a key drops its retained event.
func TestHubForget(t *testing.T) {
	ctx := context.Background()
	_, ref := newTestHub(t, 4)

	publish(t, ref, "a", event{seq: 1})

	sub, err := Subscribe(ctx, ref, "a", nil)
	require.NoError(t, err)
	recv(t, sub.Events)

	_, err = actorutil.AskAwait(
		ctx, ref, Request[string, event](ForgetMsg[string, event]{Key: "a"}),
	)
	require.NoError(t, err)
	requireClosed(t, sub.Events)

	fresh, err := Subscribe(ctx, ref, "a", nil)
	require.NoError(t, err)

	select {
	case e := <-fresh.Events:
		t.Fatalf("unexpected replay: %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestHubKeysAreIsolated checks that events of one key never reach the
// subscribers of another.
func TestHubKeysAreIsolated(t *testing.T) {
	ctx := context.Background()
	_, ref := newTestHub(t, 4)

	a, err := Subscribe(ctx, ref, "a", nil)
	require.NoError(t, err)
	b, err := Subscribe(ctx, ref, "b", nil)
	require.NoError(t, err)

	publish(t, ref, "b", event{seq: 5})
	require.Equal(t, 5, recv(t, b.Events).seq)

	select {
	case e := <-a.Events:
		t.Fatalf("unexpected event on a: %+v", e)
	default:
	}
}
