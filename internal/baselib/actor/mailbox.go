package actor

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"
)

// ChannelMailbox is a Mailbox backed by a buffered channel.
type ChannelMailbox[M Message, R any] struct {
	ch chan envelope[M, R]

	// closed is read without the lock on the fast paths.
	closed atomic.Bool

	// mu is held for reading by senders and for writing by Close, so a
	// send can never race with close(ch).
	mu sync.RWMutex

	closeOnce sync.Once

	actorCtx context.Context
}

// NewChannelMailbox creates a mailbox with the given buffer capacity, which
// is raised to one if smaller.
func NewChannelMailbox[M Message, R any](actorCtx context.Context,
	capacity int) *ChannelMailbox[M, R] {

	if capacity <= 0 {
		capacity = 1
	}

	return &ChannelMailbox[M, R]{
		ch:       make(chan envelope[M, R], capacity),
		actorCtx: actorCtx,
	}
}

// Send blocks until env is buffered, ctx is done, or the actor stops.
func (m *ChannelMailbox[M, R]) Send(ctx context.Context,
	env envelope[M, R]) bool {

	if ctx.Err() != nil || m.actorCtx.Err() != nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return false
	}

	select {
	case m.ch <- env:
		return true

	case <-ctx.Done():
		return false

	case <-m.actorCtx.Done():
		return false
	}
}

// TrySend buffers env only if there is room right now.
func (m *ChannelMailbox[M, R]) TrySend(env envelope[M, R]) bool {
	if m.actorCtx.Err() != nil {
		return false
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed.Load() {
		return false
	}

	select {
	case m.ch <- env:
		return true
	default:
		return false
	}
}

// Receive yields envelopes until ctx is done or the channel is closed. The
// context is checked before every receive so that shutdown is not raced by
// a ready channel.
func (m *ChannelMailbox[M, R]) Receive(
	ctx context.Context) iter.Seq[envelope[M, R]] {

	return func(yield func(envelope[M, R]) bool) {
		for ctx.Err() == nil {
			select {
			case env, ok := <-m.ch:
				if !ok || !yield(env) {
					return
				}

			case <-ctx.Done():
				return
			}
		}
	}
}

// Close marks the mailbox closed and closes the channel. Safe to call more
// than once.
func (m *ChannelMailbox[M, R]) Close() {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		log.DebugS(m.actorCtx, "Mailbox closing",
			"remaining_messages", len(m.ch))

		m.closed.Store(true)
		close(m.ch)
	})
}

// IsClosed reports whether Close has been called.
func (m *ChannelMailbox[M, R]) IsClosed() bool {
	return m.closed.Load()
}

// Drain yields the envelopes left in a closed mailbox. On an open mailbox
// it yields nothing.
func (m *ChannelMailbox[M, R]) Drain() iter.Seq[envelope[M, R]] {
	return func(yield func(envelope[M, R]) bool) {
		if !m.IsClosed() {
			return
		}

		for {
			select {
			case env, ok := <-m.ch:
				if !ok || !yield(env) {
					return
				}

			default:
				return
			}
		}
	}
}
