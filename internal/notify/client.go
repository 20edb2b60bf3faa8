package notify

import (
	"context"
	"fmt"

	"github.com/roasbeef/draftsync/internal/actorutil"
	"github.com/roasbeef/draftsync/internal/baselib/actor"
)

// Ref is the reference type of a spawned Hub.
type Ref[K comparable, E any] = actor.ActorRef[Request[K, E], Response[E]]

// NewServiceKey returns a typed key under which a hub can be registered.
func NewServiceKey[K comparable, E any](
	name string) actor.ServiceKey[Request[K, E], Response[E]] {

	return actor.NewServiceKey[Request[K, E], Response[E]](name)
}

// Subscription is an open subscription to one key of a hub.
type Subscription[K comparable, E any] struct {
	hub Ref[K, E]
	key K
	id  uint64

	// Events delivers the events. See SubscribeResponse.Events.
	Events <-chan E
}

// Subscribe opens a subscription for key, replaying seed when the hub has
// no retained event for it.
func Subscribe[K comparable, E any](ctx context.Context, hub Ref[K, E],
	key K, seed *E) (*Subscription[K, E], error) {

	resp, err := actorutil.AskAwaitTyped[Request[K, E], Response[E],
		SubscribeResponse[E]](ctx, hub, SubscribeMsg[K, E]{
		Key:  key,
		Seed: seed,
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	return &Subscription[K, E]{
		hub:    hub,
		key:    key,
		id:     resp.ID,
		Events: resp.Events,
	}, nil
}

// Close ends the subscription. It is a no-op when the hub already closed
// the channel.
func (s *Subscription[K, E]) Close(ctx context.Context) {
	s.hub.Tell(ctx, UnsubscribeMsg[K, E]{Key: s.key, ID: s.id})
}

// Publish hands event to the hub without waiting for delivery.
func Publish[K comparable, E any](ctx context.Context, hub Ref[K, E], key K,
	event E) {

	hub.Tell(ctx, PublishMsg[K, E]{Key: key, Event: event})
}
