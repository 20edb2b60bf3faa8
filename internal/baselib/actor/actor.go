package actor

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// defaultCleanupTimeout bounds Stoppable.OnStop when no timeout is given.
const defaultCleanupTimeout = 5 * time.Second

// mergeContexts returns a context that is cancelled as soon as either parent
// is done. It keeps the earlier of the two deadlines. The returned cancel
// func must always be called.
func mergeContexts(ctx1, ctx2 context.Context) (context.Context,
	context.CancelFunc) {

	deadline1, hasDeadline1 := ctx1.Deadline()
	deadline2, hasDeadline2 := ctx2.Deadline()

	baseCtx := ctx1
	if hasDeadline2 && (!hasDeadline1 || deadline2.Before(deadline1)) {
		baseCtx = ctx2
	}

	merged, cancel := context.WithCancel(baseCtx)
	go func() {
		select {
		case <-ctx1.Done():
			cancel()
		case <-ctx2.Done():
			cancel()
		case <-merged.Done():
		}
	}()

	return merged, cancel
}

// ActorConfig holds the parameters for NewActor.
type ActorConfig[M Message, R any] struct {
	// ID is the unique identifier of the actor.
	ID string

	// Behavior handles the actor's messages.
	Behavior ActorBehavior[M, R]

	// DLO receives messages still queued when the actor stops. Optional.
	DLO ActorRef[Message, any]

	// MailboxSize is the buffer size of the mailbox. Values below one are
	// raised to one.
	MailboxSize int

	// Wg, if set, is incremented when the actor starts and decremented
	// when its loop exits.
	Wg *sync.WaitGroup

	// CleanupTimeout overrides the OnStop deadline.
	CleanupTimeout fn.Option[time.Duration]
}

// envelope carries a message through the mailbox. A nil promise marks a
// tell.
type envelope[M Message, R any] struct {
	message   M
	promise   Promise[R]
	callerCtx context.Context
}

// Actor processes the messages in its mailbox one at a time on a dedicated
// goroutine.
type Actor[M Message, R any] struct {
	id       string
	behavior ActorBehavior[M, R]
	mailbox  Mailbox[M, R]

	ctx    context.Context
	cancel context.CancelFunc

	dlo            ActorRef[Message, any]
	wg             *sync.WaitGroup
	cleanupTimeout time.Duration

	startOnce sync.Once
	stopOnce  sync.Once

	ref ActorRef[M, R]
}

// NewActor creates an actor. Start must be called before it processes
// anything.
func NewActor[M Message, R any](cfg ActorConfig[M, R]) *Actor[M, R] {
	ctx, cancel := context.WithCancel(context.Background())

	mailboxSize := cfg.MailboxSize
	if mailboxSize <= 0 {
		mailboxSize = 1
	}

	a := &Actor[M, R]{
		id:             cfg.ID,
		behavior:       cfg.Behavior,
		mailbox:        NewChannelMailbox[M, R](ctx, mailboxSize),
		ctx:            ctx,
		cancel:         cancel,
		dlo:            cfg.DLO,
		wg:             cfg.Wg,
		cleanupTimeout: cfg.CleanupTimeout.UnwrapOr(defaultCleanupTimeout),
	}
	a.ref = &actorRefImpl[M, R]{actor: a}

	return a
}

// Start launches the processing goroutine. Extra calls are no-ops.
func (a *Actor[M, R]) Start() {
	a.startOnce.Do(func() {
		log.DebugS(a.ctx, "Starting actor", "actor_id", a.id)

		if a.wg != nil {
			a.wg.Add(1)
		}
		go a.process()
	})
}

// process is the actor's main loop.
func (a *Actor[M, R]) process() {
	if a.wg != nil {
		defer a.wg.Done()
	}

	for env := range a.mailbox.Receive(a.ctx) {
		a.handle(env)
	}

	a.mailbox.Close()

	// Anything still buffered goes to the DLO, and pending asks fail.
	drained := 0
	for env := range a.mailbox.Drain() {
		drained++

		if a.dlo != nil {
			a.dlo.Tell(context.Background(), env.message)
		}
		if env.promise != nil {
			env.promise.Complete(fn.Err[R](ErrActorTerminated))
		}
	}

	if stoppable, ok := a.behavior.(Stoppable); ok {
		cleanupCtx, cancel := context.WithTimeout(
			context.Background(), a.cleanupTimeout,
		)
		defer cancel()

		if err := stoppable.OnStop(cleanupCtx); err != nil {
			log.WarnS(a.ctx, "Actor cleanup failed", err,
				"actor_id", a.id)
		}
	}

	log.DebugS(a.ctx, "Actor terminated", "actor_id", a.id,
		"drained_messages", drained)
}

// handle runs the behavior for a single envelope. Asks see a context merged
// with the caller's; tells only see the actor's own context so that a
// caller going away does not abort work it already handed off.
func (a *Actor[M, R]) handle(env envelope[M, R]) {
	processCtx, cancel := a.ctx, context.CancelFunc(func() {})
	if env.promise != nil {
		processCtx, cancel = mergeContexts(a.ctx, env.callerCtx)
	}
	defer cancel()

	log.TraceS(processCtx, "Actor processing message",
		"actor_id", a.id,
		"msg_type", env.message.MessageType(),
		"is_ask", env.promise != nil)

	result := a.behavior.Receive(processCtx, env.message)

	if env.promise != nil {
		env.promise.Complete(result)
	}
}

// Stop cancels the actor's context. The loop then drains and exits.
func (a *Actor[M, R]) Stop() {
	a.stopOnce.Do(a.cancel)
}

// Ref returns the actor's reference.
func (a *Actor[M, R]) Ref() ActorRef[M, R] {
	return a.ref
}

// TellRef returns a tell-only view of the actor's reference.
func (a *Actor[M, R]) TellRef() TellOnlyRef[M] {
	return a.ref
}

// actorRefImpl is the reference handed out by Actor.Ref.
type actorRefImpl[M Message, R any] struct {
	actor *Actor[M, R]
}

// ID returns the actor ID.
func (r *actorRefImpl[M, R]) ID() string {
	return r.actor.id
}

// Tell enqueues msg. If the actor is gone (rather than the caller having
// given up) the message is routed to the DLO.
func (r *actorRefImpl[M, R]) Tell(ctx context.Context, msg M) {
	env := envelope[M, R]{message: msg, callerCtx: ctx}
	if r.actor.mailbox.Send(ctx, env) {
		return
	}

	if ctx.Err() == nil || r.actor.ctx.Err() != nil {
		log.DebugS(ctx, "Tell failed, routing to DLO",
			"actor_id", r.actor.id,
			"msg_type", msg.MessageType())

		if r.actor.dlo != nil {
			r.actor.dlo.Tell(context.Background(), msg)
		}
	}
}

// Ask enqueues msg and returns a future for the behavior's result.
func (r *actorRefImpl[M, R]) Ask(ctx context.Context, msg M) Future[R] {
	p := NewPromise[R]()

	if r.actor.ctx.Err() != nil {
		p.Complete(fn.Err[R](ErrActorTerminated))
		return p.Future()
	}

	env := envelope[M, R]{message: msg, promise: p, callerCtx: ctx}
	if r.actor.mailbox.Send(ctx, env) {
		return p.Future()
	}

	// Actor termination wins over caller cancellation when both apply.
	switch {
	case r.actor.ctx.Err() != nil:
		p.Complete(fn.Err[R](ErrActorTerminated))

	case ctx.Err() != nil:
		p.Complete(fn.Err[R](ctx.Err()))

	default:
		p.Complete(fn.Err[R](ErrActorTerminated))
	}

	return p.Future()
}
