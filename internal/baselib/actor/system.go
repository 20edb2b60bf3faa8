package actor

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// SystemConfig holds the parameters of an ActorSystem.
type SystemConfig struct {
	// MailboxCapacity is the mailbox size given to every spawned actor.
	MailboxCapacity int
}

// DefaultConfig returns the default system configuration.
func DefaultConfig() SystemConfig {
	return SystemConfig{
		MailboxCapacity: 100,
	}
}

// RegisterOption tweaks a single actor registration.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	cleanupTimeout fn.Option[time.Duration]
	mailboxSize    fn.Option[int]
}

// WithCleanupTimeout overrides the OnStop deadline of the actor.
func WithCleanupTimeout(d time.Duration) RegisterOption {
	return func(cfg *registerConfig) {
		cfg.cleanupTimeout = fn.Some(d)
	}
}

// WithMailboxSize overrides the system wide mailbox capacity for one actor.
func WithMailboxSize(size int) RegisterOption {
	return func(cfg *registerConfig) {
		cfg.mailboxSize = fn.Some(size)
	}
}

// stopper is anything the system can stop on shutdown.
type stopper interface {
	Stop()
}

// ActorSystem owns a set of actors, a dead letter office and a registry of
// typed service keys. Shutdown stops every actor and waits for their loops
// to exit.
type ActorSystem struct {
	config SystemConfig

	mu       sync.RWMutex
	actors   map[string]stopper
	services map[string]serviceEntry

	deadLetters ActorRef[Message, any]

	ctx    context.Context
	cancel context.CancelFunc

	actorWg sync.WaitGroup
}

// serviceEntry records the reference registered under a key along with the
// key's type signature.
type serviceEntry struct {
	ref     BaseActorRef
	typeSig string
}

// NewActorSystem creates a system with the default configuration.
func NewActorSystem() *ActorSystem {
	return NewActorSystemWithConfig(DefaultConfig())
}

// NewActorSystemWithConfig creates a system with the given configuration.
func NewActorSystemWithConfig(config SystemConfig) *ActorSystem {
	ctx, cancel := context.WithCancel(context.Background())

	system := &ActorSystem{
		config:   config,
		actors:   make(map[string]stopper),
		services: make(map[string]serviceEntry),
		ctx:      ctx,
		cancel:   cancel,
	}

	dlo := NewActor(ActorConfig[Message, any]{
		ID: "dead-letters",
		Behavior: NewFunctionBehavior(
			func(ctx context.Context, msg Message) fn.Result[any] {
				log.DebugS(ctx, "Dead letter received",
					"msg_type", msg.MessageType())

				return fn.Err[any](fmt.Errorf("message "+
					"undeliverable: %s", msg.MessageType()))
			},
		),
		MailboxSize: config.MailboxCapacity,
		Wg:          &system.actorWg,
	})
	dlo.Start()

	system.deadLetters = dlo.Ref()
	system.actors[dlo.id] = dlo

	return system
}

// DeadLetters returns the dead letter office of the system.
func (as *ActorSystem) DeadLetters() ActorRef[Message, any] {
	return as.deadLetters
}

// Spawn creates, starts and tracks an actor with the given ID. If the system
// is already shutting down, the returned reference points at a stopped actor
// so that every ask fails with ErrActorTerminated.
func Spawn[M Message, R any](as *ActorSystem, id string,
	behavior ActorBehavior[M, R], opts ...RegisterOption) ActorRef[M, R] {

	if as.ctx.Err() != nil {
		return stoppedRef[M, R](id)
	}

	var regCfg registerConfig
	for _, opt := range opts {
		opt(&regCfg)
	}

	a := NewActor(ActorConfig[M, R]{
		ID:             id,
		Behavior:       behavior,
		DLO:            as.deadLetters,
		MailboxSize:    regCfg.mailboxSize.UnwrapOr(as.config.MailboxCapacity),
		Wg:             &as.actorWg,
		CleanupTimeout: regCfg.cleanupTimeout,
	})
	a.Start()

	as.mu.Lock()
	as.actors[id] = a
	as.mu.Unlock()

	log.DebugS(as.ctx, "Actor spawned", "actor_id", id)

	return a.Ref()
}

// stoppedRef returns a reference to an actor that was never started and is
// already stopped.
func stoppedRef[M Message, R any](id string) ActorRef[M, R] {
	a := NewActor(ActorConfig[M, R]{ID: id})
	a.Stop()

	return a.Ref()
}

// StopAndRemoveActor stops the actor with the given ID and forgets it. It
// reports whether such an actor existed.
func (as *ActorSystem) StopAndRemoveActor(id string) bool {
	as.mu.Lock()
	defer as.mu.Unlock()

	a, ok := as.actors[id]
	if !ok {
		return false
	}

	a.Stop()
	delete(as.actors, id)

	for name, entry := range as.services {
		if entry.ref.ID() == id {
			delete(as.services, name)
		}
	}

	return true
}

// Shutdown stops all actors and waits for them to exit or for ctx to expire.
func (as *ActorSystem) Shutdown(ctx context.Context) error {
	// Cancel first so that no new actor can be spawned after the snapshot
	// below and then be missed by the wait.
	as.cancel()

	as.mu.Lock()
	toStop := make([]stopper, 0, len(as.actors))
	for _, a := range as.actors {
		toStop = append(toStop, a)
	}
	as.actors = make(map[string]stopper)
	as.services = make(map[string]serviceEntry)
	as.mu.Unlock()

	log.InfoS(ctx, "Actor system shutting down", "num_actors", len(toStop))

	for _, a := range toStop {
		a.Stop()
	}

	done := make(chan struct{})
	go func() {
		as.actorWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.InfoS(ctx, "Actor system shutdown complete")
		return nil

	case <-ctx.Done():
		log.ErrorS(ctx, "Actor system shutdown incomplete", ctx.Err())
		return ctx.Err()
	}
}

// ServiceKey is a typed name under which one actor can be found.
type ServiceKey[M Message, R any] struct {
	name string
}

// NewServiceKey returns a key with the given name.
func NewServiceKey[M Message, R any](name string) ServiceKey[M, R] {
	return ServiceKey[M, R]{name: name}
}

// Name returns the key name.
func (sk ServiceKey[M, R]) Name() string {
	return sk.name
}

// typeSig renders the message and response types of the key.
func (sk ServiceKey[M, R]) typeSig() string {
	return reflect.TypeOf((*M)(nil)).Elem().String() + "->" +
		reflect.TypeOf((*R)(nil)).Elem().String()
}

// Spawn starts an actor for the key and registers it. Registering a second
// actor under the same name replaces the first registration; registering
// under a name already bound to different types fails, and the returned
// reference is stopped.
func (sk ServiceKey[M, R]) Spawn(as *ActorSystem, id string,
	behavior ActorBehavior[M, R], opts ...RegisterOption) ActorRef[M, R] {

	sig := sk.typeSig()

	as.mu.RLock()
	existing, ok := as.services[sk.name]
	as.mu.RUnlock()

	if ok && existing.typeSig != sig {
		log.WarnS(as.ctx, "Service key registered with other types",
			ErrServiceKeyTypeMismatch, "key", sk.name,
			"have", existing.typeSig, "want", sig)

		return stoppedRef[M, R](id)
	}

	ref := Spawn(as, id, behavior, opts...)

	as.mu.Lock()
	if as.ctx.Err() == nil {
		as.services[sk.name] = serviceEntry{ref: ref, typeSig: sig}
	}
	as.mu.Unlock()

	return ref
}

// Find returns the actor registered under the key, if any.
func (sk ServiceKey[M, R]) Find(as *ActorSystem) fn.Option[ActorRef[M, R]] {
	as.mu.RLock()
	defer as.mu.RUnlock()

	entry, ok := as.services[sk.name]
	if !ok {
		return fn.None[ActorRef[M, R]]()
	}

	ref, ok := entry.ref.(ActorRef[M, R])
	if !ok {
		return fn.None[ActorRef[M, R]]()
	}

	return fn.Some(ref)
}
