// Package notify implements an actor that fans events out to subscribers
// grouped by key.
package notify

import (
	"context"
	"errors"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/baselib/actor"
)

// ErrUnknownRequestType is returned for messages the hub does not handle.
var ErrUnknownRequestType = errors.New("unknown request type")

// DefaultBufferSize is the channel capacity of each subscriber.
const DefaultBufferSize = 16

// Config holds the parameters of a Hub.
type Config[E any] struct {
	// BufferSize is the channel capacity of each subscriber.
	BufferSize int

	// Retain keeps the last event of every key and replays it to new
	// subscribers.
	Retain bool

	// IsFinal marks events after which a key never changes again. Its
	// subscribers are closed once the final event is delivered, and
	// later subscribers get the retained event on an already closed
	// channel. Optional.
	IsFinal func(E) bool
}

type subscriber[E any] struct {
	id uint64
	ch chan E
}

// Hub is the actor behavior fanning events out per key. Delivery never
// blocks the actor: a full subscriber misses the event, except for final
// events which evict the oldest buffered event to make room.
type Hub[K comparable, E any] struct {
	cfg Config[E]

	subs   map[K][]subscriber[E]
	latest map[K]E
	nextID uint64
}

// NewHub creates a hub behavior.
func NewHub[K comparable, E any](cfg Config[E]) *Hub[K, E] {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}

	return &Hub[K, E]{
		cfg:    cfg,
		subs:   make(map[K][]subscriber[E]),
		latest: make(map[K]E),
	}
}

// Receive implements actor.ActorBehavior.
func (h *Hub[K, E]) Receive(_ context.Context,
	msg Request[K, E]) fn.Result[Response[E]] {

	switch m := msg.(type) {
	case SubscribeMsg[K, E]:
		return fn.Ok[Response[E]](h.handleSubscribe(m))

	case UnsubscribeMsg[K, E]:
		return fn.Ok[Response[E]](h.handleUnsubscribe(m))

	case PublishMsg[K, E]:
		return fn.Ok[Response[E]](h.handlePublish(m))

	case ForgetMsg[K, E]:
		h.closeKey(m.Key)
		delete(h.latest, m.Key)

		return fn.Ok[Response[E]](ForgetResponse[E]{})

	default:
		return fn.Err[Response[E]](ErrUnknownRequestType)
	}
}

// isFinal reports whether e ends its key. Without an IsFinal hook no
// event does.
func (h *Hub[K, E]) isFinal(e E) bool {
	return h.cfg.IsFinal != nil && h.cfg.IsFinal(e)
}

// handleSubscribe registers a subscriber and replays the retained event,
// or the seed when nothing is retained. A subscriber whose first event is
// final is closed right away and never registered.
func (h *Hub[K, E]) handleSubscribe(
	msg SubscribeMsg[K, E]) SubscribeResponse[E] {

	h.nextID++
	sub := subscriber[E]{
		id: h.nextID,
		ch: make(chan E, h.cfg.BufferSize),
	}

	snapshot, ok := h.latest[msg.Key]
	if !ok && msg.Seed != nil {
		snapshot, ok = *msg.Seed, true
	}

	if ok {
		sub.ch <- snapshot

		if h.isFinal(snapshot) {
			close(sub.ch)
			return SubscribeResponse[E]{ID: sub.id, Events: sub.ch}
		}
	}

	h.subs[msg.Key] = append(h.subs[msg.Key], sub)

	return SubscribeResponse[E]{ID: sub.id, Events: sub.ch}
}

// handleUnsubscribe closes and removes one subscriber.
func (h *Hub[K, E]) handleUnsubscribe(
	msg UnsubscribeMsg[K, E]) UnsubscribeResponse[E] {

	subs := h.subs[msg.Key]
	for i, s := range subs {
		if s.id != msg.ID {
			continue
		}

		close(s.ch)
		h.subs[msg.Key] = append(subs[:i], subs[i+1:]...)
		if len(h.subs[msg.Key]) == 0 {
			delete(h.subs, msg.Key)
		}

		return UnsubscribeResponse[E]{Found: true}
	}

	return UnsubscribeResponse[E]{}
}

// handlePublish fans an event out to the subscribers of its key.
func (h *Hub[K, E]) handlePublish(msg PublishMsg[K, E]) PublishResponse[E] {
	var resp PublishResponse[E]

	// A retained final event is sticky: late publishes for the key are
	// stale and dropped.
	if prev, ok := h.latest[msg.Key]; ok && h.isFinal(prev) {
		return resp
	}

	if h.cfg.Retain {
		h.latest[msg.Key] = msg.Event
	}

	final := h.isFinal(msg.Event)

	for _, s := range h.subs[msg.Key] {
		select {
		case s.ch <- msg.Event:
			resp.Delivered++
			continue
		default:
		}

		if !final {
			resp.Dropped++
			continue
		}

		// Make room for the final event. The hub is the only sender,
		// so the second send cannot block.
		select {
		case <-s.ch:
		default:
		}
		s.ch <- msg.Event
		resp.Delivered++
	}

	if final {
		h.closeKey(msg.Key)
	}

	return resp
}

// closeKey closes and removes every subscriber of key.
func (h *Hub[K, E]) closeKey(key K) {
	for _, s := range h.subs[key] {
		close(s.ch)
	}
	delete(h.subs, key)
}

// OnStop closes every remaining subscriber.
//
// NOTE: This implements the actor.Stoppable interface.
func (h *Hub[K, E]) OnStop(context.Context) error {
	for key := range h.subs {
		h.closeKey(key)
	}

	return nil
}

// SubscriberCount returns the number of open subscriptions of key. It reads
// actor state directly and is meant for tests after the actor is idle.
func (h *Hub[K, E]) SubscriberCount(key K) int {
	return len(h.subs[key])
}

var _ actor.ActorBehavior[Request[string, int], Response[int]] = (*Hub[string, int])(nil)
var _ actor.Stoppable = (*Hub[string, int])(nil)
