package actorutil

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/baselib/actor"
)

// member is one actor of a pool with its count of unfinished asks.
type member[M actor.Message, R any] struct {
	actor    *actor.Actor[M, R]
	inFlight atomic.Int64
}

// Pool spreads asks over a fixed set of actors built from the same factory.
// Each ask goes to the member with the fewest unfinished asks, ties broken
// round-robin, so a long running job never queues behind another while a
// member is idle.
type Pool[M actor.Message, R any] struct {
	id      string
	members []*member[M, R]

	next atomic.Uint64

	wg sync.WaitGroup
}

// PoolConfig holds the parameters for NewPool.
type PoolConfig[M actor.Message, R any] struct {
	// ID prefixes the IDs of the member actors.
	ID string

	// Size is the number of members. Values below one are raised to one.
	Size int

	// Factory builds the behavior of member idx.
	Factory func(idx int) actor.ActorBehavior[M, R]

	// MailboxSize is the mailbox capacity of each member. Defaults to 100.
	MailboxSize int

	// DLO receives undeliverable messages. Optional.
	DLO actor.ActorRef[actor.Message, any]
}

// NewPool creates and starts the members of a pool.
func NewPool[M actor.Message, R any](cfg PoolConfig[M, R]) *Pool[M, R] {
	if cfg.Size <= 0 {
		cfg.Size = 1
	}
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 100
	}

	p := &Pool[M, R]{
		id:      cfg.ID,
		members: make([]*member[M, R], cfg.Size),
	}

	for i := range cfg.Size {
		a := actor.NewActor(actor.ActorConfig[M, R]{
			ID:          fmt.Sprintf("%s-%d", cfg.ID, i),
			Behavior:    cfg.Factory(i),
			MailboxSize: cfg.MailboxSize,
			DLO:         cfg.DLO,
			Wg:          &p.wg,
		})
		a.Start()

		p.members[i] = &member[M, R]{actor: a}
	}

	return p
}

// ID returns the pool identifier.
func (p *Pool[M, R]) ID() string {
	return p.id
}

// Size returns the number of members.
func (p *Pool[M, R]) Size() int {
	return len(p.members)
}

// InFlight returns the number of asks that have not completed yet.
func (p *Pool[M, R]) InFlight() int {
	var total int64
	for _, m := range p.members {
		total += m.inFlight.Load()
	}

	return int(total)
}

// pick returns the least loaded member, scanning from a rotating start.
func (p *Pool[M, R]) pick() *member[M, R] {
	start := p.next.Add(1)

	var best *member[M, R]
	for i := range len(p.members) {
		idx := (start + uint64(i)) % uint64(len(p.members))
		m := p.members[idx]

		if best == nil || m.inFlight.Load() < best.inFlight.Load() {
			best = m
		}
	}

	return best
}

// Ask routes msg to the least loaded member.
func (p *Pool[M, R]) Ask(ctx context.Context, msg M) actor.Future[R] {
	m := p.pick()
	m.inFlight.Add(1)

	future := m.actor.Ref().Ask(ctx, msg)

	// The counter is released once the reply is in, whatever ctx does.
	future.OnComplete(context.Background(), func(_ fn.Result[R]) {
		m.inFlight.Add(-1)
	})

	return future
}

// Tell routes msg to the least loaded member.
func (p *Pool[M, R]) Tell(ctx context.Context, msg M) {
	p.pick().actor.Ref().Tell(ctx, msg)
}

// Stop stops every member and waits for their loops to exit.
func (p *Pool[M, R]) Stop() {
	for _, m := range p.members {
		m.actor.Stop()
	}

	p.wg.Wait()
}

// PoolRef exposes a Pool through the ActorRef interface.
type PoolRef[M actor.Message, R any] struct {
	pool *Pool[M, R]
}

// NewPoolRef wraps pool as an ActorRef.
func NewPoolRef[M actor.Message, R any](
	pool *Pool[M, R]) actor.ActorRef[M, R] {

	return &PoolRef[M, R]{pool: pool}
}

// ID returns the pool identifier.
func (pr *PoolRef[M, R]) ID() string {
	return pr.pool.ID()
}

// Tell forwards to the pool.
func (pr *PoolRef[M, R]) Tell(ctx context.Context, msg M) {
	pr.pool.Tell(ctx, msg)
}

// Ask forwards to the pool.
func (pr *PoolRef[M, R]) Ask(ctx context.Context, msg M) actor.Future[R] {
	return pr.pool.Ask(ctx, msg)
}

var _ actor.ActorRef[actor.Message, any] = (*PoolRef[actor.Message, any])(nil)
