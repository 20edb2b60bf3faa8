// Package work runs durable deferred work. Items are persisted before they
// are scheduled, survive restarts, wait for their constraints, are retried
// with backoff and can be observed until they finish.
package work

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/roasbeef/draftsync/internal/actorutil"
	"github.com/roasbeef/draftsync/internal/baselib/actor"
	"github.com/roasbeef/draftsync/internal/notify"
	"github.com/roasbeef/draftsync/internal/store"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// DefaultPollInterval is how often the dispatcher looks for due items
	// when nothing wakes it.
	DefaultPollInterval = time.Second

	// DefaultMaxBackoff caps retry delays.
	DefaultMaxBackoff = time.Hour

	// DefaultBatchSize is the number of due items loaded per dispatch.
	DefaultBatchSize = 64

	// pruneInterval is how often finished items are pruned when
	// Config.PruneAfter is set.
	pruneInterval = time.Hour

	observerHubID = "work-observer-hub"
)

// errNotDispatchable aborts a start whose item left the waiting states.
var errNotDispatchable = errors.New("work item not dispatchable")

// Config holds the collaborators and tunables of a Manager.
type Config struct {
	// Store persists the items. Required.
	Store store.WorkStore

	// Network gates items requiring the network. Defaults to always
	// online.
	Network NetworkMonitor

	// ActorSystem hosts the observer hub. A private system is created
	// when nil.
	ActorSystem *actor.ActorSystem

	// Executors is the number of items run concurrently. Defaults to 1.
	Executors int

	// StartsPerSecond and StartBurst throttle item starts. A rate of
	// zero disables throttling.
	StartsPerSecond float64
	StartBurst      int

	PollInterval time.Duration
	MaxBackoff   time.Duration
	BatchSize    int

	// PruneAfter deletes finished items this long after they finished.
	// Zero keeps them forever.
	PruneAfter time.Duration

	// Registerer receives the metrics. Nil skips registration.
	Registerer prometheus.Registerer

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Manager schedules, runs and tracks work items.
type Manager struct {
	cfg Config

	store   store.WorkStore
	network NetworkMonitor
	clock   func() time.Time
	limiter *rate.Limiter
	metrics *metrics

	// slots holds one unit per executor. An item is only marked running
	// once it owns a slot.
	slots *semaphore.Weighted

	as        *actor.ActorSystem
	ownSystem bool
	hub       notify.Ref[string, Info]
	pool      *actorutil.Pool[runMsg, runResult]

	wake chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// transMu serializes state transitions so that observers see them
	// in the order they were stored.
	transMu sync.Mutex

	mu      sync.Mutex
	workers map[string]Worker
	running map[string]context.CancelFunc
	started bool
	stopped bool

	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewManager creates a stopped manager. Workers are registered before
// Start.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("work store is required")
	}
	if cfg.Network == nil {
		cfg.Network = NewStaticMonitor(true)
	}
	if cfg.Executors <= 0 {
		cfg.Executors = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	limit := rate.Inf
	if cfg.StartsPerSecond > 0 {
		limit = rate.Limit(cfg.StartsPerSecond)
	}
	burst := cfg.StartBurst
	if burst <= 0 {
		burst = 1
	}

	as := cfg.ActorSystem
	ownSystem := as == nil
	if ownSystem {
		as = actor.NewActorSystem()
	}

	hub := notify.NewHub[string, Info](notify.Config[Info]{
		Retain:  true,
		IsFinal: Info.Done,
	})

	hubRef := actor.Spawn[notify.Request[string, Info],
		notify.Response[Info]](as, observerHubID, hub)

	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		cfg:       cfg,
		store:     cfg.Store,
		network:   cfg.Network,
		clock:     cfg.Clock,
		limiter:   rate.NewLimiter(limit, burst),
		metrics:   newMetrics(cfg.Registerer),
		slots:     semaphore.NewWeighted(int64(cfg.Executors)),
		as:        as,
		ownSystem: ownSystem,
		hub:       hubRef,
		wake:      make(chan struct{}, 1),
		ctx:       ctx,
		cancel:    cancel,
		workers:   make(map[string]Worker),
		running:   make(map[string]context.CancelFunc),
	}, nil
}

// RegisterWorker binds a worker to a kind.
func (m *Manager) RegisterWorker(kind string, w Worker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.started:
		return ErrManagerStarted

	case m.workers[kind] != nil:
		return fmt.Errorf("%w: %s", ErrWorkerExists, kind)
	}

	m.workers[kind] = w

	return nil
}

// Start recovers items left running by a previous process and starts the
// dispatcher.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch {
	case m.stopped:
		m.mu.Unlock()
		return ErrManagerStopped

	case m.started:
		m.mu.Unlock()
		return ErrManagerStarted
	}
	m.started = true
	m.mu.Unlock()

	reset, err := m.store.ResetRunningWorkItems(ctx, m.clock())
	if err != nil {
		return fmt.Errorf("recover running work: %w", err)
	}
	if reset > 0 {
		log.InfoS(ctx, "Rescheduled interrupted work", "count", reset)
	}

	m.pool = actorutil.NewPool(actorutil.PoolConfig[runMsg, runResult]{
		ID:   "work-executor",
		Size: m.cfg.Executors,
		Factory: func(idx int) actor.ActorBehavior[runMsg, runResult] {
			return &executor{idx: idx}
		},
		DLO: m.as.DeadLetters(),
	})

	m.wg.Add(1)
	go m.dispatchLoop()

	log.InfoS(ctx, "Work manager started", "executors", m.cfg.Executors)

	return nil
}

// Stop cancels running items and waits for the dispatcher and executors.
// Items that were running stay running in the store and are rescheduled by
// the next Start.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		m.mu.Unlock()

		m.cancel()

		if m.pool != nil {
			m.pool.Stop()
		}
		m.wg.Wait()

		m.as.StopAndRemoveActor(observerHubID)
		if m.ownSystem {
			_ = m.as.Shutdown(context.Background())
		}

		log.InfoS(context.Background(), "Work manager stopped")
	})
}

// isStopped reports whether Stop was called.
func (m *Manager) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.stopped
}

// Enqueue persists a new item and wakes the dispatcher.
func (m *Manager) Enqueue(ctx context.Context, req Request) (*Handle, error) {
	if m.isStopped() {
		return nil, ErrManagerStopped
	}

	m.mu.Lock()
	_, known := m.workers[req.Kind]
	m.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorker, req.Kind)
	}

	input, err := json.Marshal(req.Input)
	if err != nil {
		return nil, fmt.Errorf("encode input: %w", err)
	}

	backoff := req.Backoff
	if backoff.InitialDelay <= 0 {
		backoff.InitialDelay = DefaultBackoff.InitialDelay
	}
	if backoff.MaxAttempts <= 0 {
		backoff.MaxAttempts = DefaultBackoff.MaxAttempts
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate work id: %w", err)
	}

	now := m.clock()
	item := store.WorkItem{
		ID:              id.String(),
		Kind:            req.Kind,
		Input:           input,
		RequiresNetwork: req.Constraints.RequiresNetwork,
		State:           Enqueued,
		MaxAttempts:     backoff.MaxAttempts,
		InitialBackoff:  backoff.InitialDelay,
		CreatedAt:       now,
		UpdatedAt:       now,
		NextRunAt:       now,
	}

	m.transMu.Lock()
	err = m.store.InsertWorkItem(ctx, item)
	if err == nil {
		m.publish(item)
	}
	m.transMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("insert work item: %w", err)
	}

	m.metrics.enqueued.WithLabelValues(item.Kind).Inc()

	log.DebugS(ctx, "Work enqueued", "id", item.ID, "kind", item.Kind,
		"requires_network", item.RequiresNetwork)

	m.wakeUp()

	return m.Handle(item.ID), nil
}

// Handle returns the handle of an existing item. The ID is not checked.
func (m *Manager) Handle(id string) *Handle {
	return &Handle{id: id, mgr: m}
}

// Get returns the current snapshot of an item.
func (m *Manager) Get(ctx context.Context, id string) (Info, error) {
	item, err := m.getItem(ctx, id)
	if err != nil {
		return Info{}, err
	}

	return infoFromItem(item), nil
}

// List returns item snapshots, newest first.
func (m *Manager) List(ctx context.Context, filter Filter) ([]Info, error) {
	items, err := m.store.ListWorkItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list work items: %w", err)
	}

	infos := make([]Info, 0, len(items))
	for _, item := range items {
		infos = append(infos, infoFromItem(item))
	}

	return infos, nil
}

// Counts returns the number of items per state.
func (m *Manager) Counts(ctx context.Context) (map[State]int, error) {
	return m.store.CountWorkItems(ctx)
}

// Cancel finishes an item as cancelled. A running item has its context
// cancelled and its late outcome is discarded. Cancelling a finished item
// returns its snapshot with ErrWorkFinished.
func (m *Manager) Cancel(ctx context.Context, id string) (Info, error) {
	item, err := m.update(ctx, id, func(item *store.WorkItem) error {
		item.State = Cancelled
		item.UpdatedAt = m.clock()

		return nil
	})
	if err != nil {
		return infoFromItem(item), err
	}

	m.mu.Lock()
	cancelRun := m.running[id]
	m.mu.Unlock()
	if cancelRun != nil {
		cancelRun()
	}

	log.InfoS(ctx, "Work cancelled", "id", id, "kind", item.Kind)

	return infoFromItem(item), nil
}

// Prune deletes items that finished more than olderThan ago.
func (m *Manager) Prune(ctx context.Context,
	olderThan time.Duration) (int, error) {

	cutoff := m.clock().Add(-olderThan)

	n, err := m.store.PruneWorkItems(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune work items: %w", err)
	}

	if n > 0 {
		log.InfoS(ctx, "Pruned finished work", "count", n)
	}

	return n, nil
}

// Subscribe streams the snapshots of an item: the current one first, then
// each transition. The channel is closed after the terminal snapshot, when
// ctx is done or when the manager stops. Intermediate snapshots may be
// skipped for a slow reader, the terminal one never is.
func (m *Manager) Subscribe(ctx context.Context,
	id string) (<-chan Info, error) {

	item, err := m.getItem(ctx, id)
	if err != nil {
		return nil, err
	}
	seed := infoFromItem(item)

	sub, err := notify.Subscribe(ctx, m.hub, id, &seed)
	if err != nil {
		return nil, err
	}

	// The hub forgets an item once it finishes, so an item finishing
	// between the read above and the subscription would leave the
	// subscriber waiting on a stale seed.
	if !seed.Done() {
		if err := m.replayFinal(ctx, id); err != nil {
			sub.Close(context.Background())
			return nil, err
		}
	}

	context.AfterFunc(ctx, func() {
		sub.Close(context.Background())
	})

	return sub.Events, nil
}

// Await blocks until the item finishes and returns its terminal snapshot.
func (m *Manager) Await(ctx context.Context, id string) (Info, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := m.Subscribe(ctx, id)
	if err != nil {
		return Info{}, err
	}

	var last Info
	for {
		select {
		case info, ok := <-events:
			if !ok {
				if ctx.Err() != nil {
					return last, ctx.Err()
				}

				return last, ErrManagerStopped
			}

			last = info
			if info.Done() {
				return info, nil
			}

		case <-ctx.Done():
			return last, ctx.Err()
		}
	}
}

// replayFinal publishes the snapshot of an item again if it has finished.
// Subscribers still waiting on the item get its terminal snapshot.
func (m *Manager) replayFinal(ctx context.Context, id string) error {
	m.transMu.Lock()
	defer m.transMu.Unlock()

	item, err := m.getItem(ctx, id)
	if err != nil {
		return err
	}

	if item.State.IsTerminal() {
		m.publish(item)
		m.forget(item.ID)
	}

	return nil
}

// getItem loads an item, mapping a missing one to ErrWorkNotFound.
func (m *Manager) getItem(ctx context.Context, id string) (store.WorkItem,
	error) {

	item, err := m.store.GetWorkItem(ctx, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.WorkItem{}, fmt.Errorf("%w: %s", ErrWorkNotFound, id)

	case err != nil:
		return store.WorkItem{}, fmt.Errorf("get work item: %w", err)
	}

	return item, nil
}

// update applies mutate to the stored item, persists it and publishes the
// new snapshot. Finished items are never modified: for those the stored
// item is returned with ErrWorkFinished.
func (m *Manager) update(ctx context.Context, id string,
	mutate func(*store.WorkItem) error) (store.WorkItem, error) {

	m.transMu.Lock()
	defer m.transMu.Unlock()

	item, err := m.getItem(ctx, id)
	if err != nil {
		return item, err
	}
	if item.State.IsTerminal() {
		return item, ErrWorkFinished
	}

	if err := mutate(&item); err != nil {
		return item, err
	}

	err = m.store.UpdateWorkItem(ctx, item)
	switch {
	case errors.Is(err, store.ErrWorkItemFinished):
		return item, ErrWorkFinished

	case errors.Is(err, store.ErrNotFound):
		return item, fmt.Errorf("%w: %s", ErrWorkNotFound, id)

	case err != nil:
		return item, fmt.Errorf("update work item: %w", err)
	}

	m.publish(item)

	if item.State.IsTerminal() {
		// Subscribers are closed by the terminal snapshot and later
		// ones are seeded from the store.
		m.forget(item.ID)

		m.metrics.finished.WithLabelValues(
			item.Kind, string(item.State),
		).Inc()
	}

	return item, nil
}

// publish hands the snapshot of item to the observer hub. Callers hold
// transMu so that snapshots reach the hub in the order they were stored.
func (m *Manager) publish(item store.WorkItem) {
	notify.Publish(m.ctx, m.hub, item.ID, infoFromItem(item))
}

// forget drops the snapshot the hub retains for a finished item.
func (m *Manager) forget(id string) {
	m.hub.Tell(m.ctx, notify.ForgetMsg[string, Info]{Key: id})
}

// wakeUp makes the dispatcher run another pass without waiting for the
// next tick.
func (m *Manager) wakeUp() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop runs a dispatch pass on every wake up, tick or network
// change until the manager stops.
func (m *Manager) dispatchLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	var pruneTick <-chan time.Time
	if m.cfg.PruneAfter > 0 {
		pruneTicker := time.NewTicker(pruneInterval)
		defer pruneTicker.Stop()

		pruneTick = pruneTicker.C
	}

	for {
		m.dispatch(m.ctx)

		select {
		case <-m.wake:
		case <-ticker.C:
		case <-m.network.Changed():
			log.DebugS(m.ctx, "Network state changed",
				"online", m.network.Online())

		case <-pruneTick:
			_, err := m.Prune(m.ctx, m.cfg.PruneAfter)
			if err != nil && m.ctx.Err() == nil {
				log.WarnS(m.ctx, "Prune failed", err)
			}

		case <-m.ctx.Done():
			return
		}
	}
}

// dispatch starts due items while executor slots are free and parks the
// network bound ones as blocked while offline. Items beyond the free slots
// stay enqueued until a run finishes.
func (m *Manager) dispatch(ctx context.Context) {
	online := m.network.Online()

	items, err := m.store.ListDueWorkItems(
		ctx, m.clock(), online, m.cfg.BatchSize,
	)
	if err != nil {
		if ctx.Err() == nil {
			log.ErrorS(ctx, "Loading due work failed", err)
		}
		return
	}

	var progressed bool
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}

		if item.RequiresNetwork && !online {
			if item.State != Blocked {
				m.setWaiting(ctx, item.ID, Blocked)
				progressed = true
			}
			continue
		}

		if item.State == Blocked {
			m.setWaiting(ctx, item.ID, Enqueued)
			progressed = true
		}

		if !m.slots.TryAcquire(1) {
			continue
		}

		if err := m.limiter.Wait(ctx); err != nil {
			m.slots.Release(1)
			return
		}

		if !m.start(ctx, item) {
			m.slots.Release(1)
		}
		progressed = true
	}

	// A full batch means more items may be due right now. Without
	// progress the next pass would load the same batch, so it waits for
	// a finished run or the next tick instead.
	if progressed && len(items) == m.cfg.BatchSize {
		m.wakeUp()
	}
}

// setWaiting moves a waiting item between Enqueued and Blocked.
func (m *Manager) setWaiting(ctx context.Context, id string, state State) {
	_, err := m.update(ctx, id, func(item *store.WorkItem) error {
		if item.State != Enqueued && item.State != Blocked {
			return errNotDispatchable
		}

		item.State = state
		item.UpdatedAt = m.clock()

		return nil
	})
	if err != nil {
		log.DebugS(ctx, "Work state not changed", "id", id,
			"state", string(state), "reason", err.Error())
		return
	}

	log.DebugS(ctx, "Work waiting", "id", id, "state", string(state))
}

// start marks the item running and hands it to the executor pool. It
// reports whether a run was launched. The caller's executor slot is then
// released by finish.
func (m *Manager) start(ctx context.Context, item store.WorkItem) bool {
	m.mu.Lock()
	worker := m.workers[item.Kind]
	m.mu.Unlock()

	if worker == nil {
		_, err := m.update(ctx, item.ID, func(it *store.WorkItem) error {
			it.State = Failed
			it.LastError = fmt.Sprintf("%v: %s", ErrUnknownWorker,
				it.Kind)
			it.UpdatedAt = m.clock()

			return nil
		})
		log.WarnS(ctx, "No worker for work kind", err, "id", item.ID,
			"kind", item.Kind)

		return false
	}

	// The cancel func is registered before the item is marked running so
	// that a concurrent Cancel always finds it.
	runCtx, cancelRun := context.WithCancel(m.ctx)
	m.mu.Lock()
	m.running[item.ID] = cancelRun
	m.mu.Unlock()

	started, err := m.update(ctx, item.ID, func(it *store.WorkItem) error {
		if it.State != Enqueued && it.State != Blocked {
			return errNotDispatchable
		}

		it.State = Running
		it.Attempts++
		it.UpdatedAt = m.clock()

		return nil
	})
	if err != nil {
		m.clearRunning(item.ID)
		log.DebugS(ctx, "Work not started", "id", item.ID,
			"reason", err.Error())

		return false
	}

	m.metrics.started.WithLabelValues(started.Kind).Inc()
	m.metrics.running.Inc()

	log.DebugS(ctx, "Work started", "id", started.ID, "kind", started.Kind,
		"attempt", started.Attempts)

	m.wg.Add(1)
	future := m.pool.Ask(runCtx, runMsg{item: started, worker: worker})
	future.OnComplete(context.Background(), func(r fn.Result[runResult]) {
		defer m.wg.Done()

		m.finish(started, r)
	})

	return true
}

// clearRunning forgets the cancel func of a run and cancels its context.
func (m *Manager) clearRunning(id string) {
	m.mu.Lock()
	cancelRun := m.running[id]
	delete(m.running, id)
	m.mu.Unlock()

	if cancelRun != nil {
		cancelRun()
	}
}

// finish records the outcome of a run and frees its executor slot.
func (m *Manager) finish(started store.WorkItem, res fn.Result[runResult]) {
	defer func() {
		m.slots.Release(1)
		m.wakeUp()
	}()

	m.clearRunning(started.ID)
	m.metrics.running.Dec()

	result, err := res.Unpack()
	outcome := result.outcome
	if err != nil {
		outcome = Retry(err)
	} else {
		m.metrics.duration.WithLabelValues(
			started.Kind, outcome.String(),
		).Observe(result.duration.Seconds())
	}

	ctx := m.ctx
	if ctx.Err() != nil {
		log.DebugS(context.Background(), "Leaving interrupted work "+
			"for recovery", "id", started.ID)
		return
	}

	var retryIn time.Duration
	item, err := m.update(ctx, started.ID, func(it *store.WorkItem) error {
		if it.State != Running {
			return errNotDispatchable
		}

		now := m.clock()
		it.UpdatedAt = now

		switch outcome.kind {
		case OutcomeSuccess, OutcomeFailure:
			it.State = Succeeded
			if outcome.kind == OutcomeFailure {
				it.State = Failed
			}
			if outcome.err != nil {
				it.LastError = outcome.err.Error()
			}

			output, err := encodeOutput(outcome.output)
			if err != nil {
				it.State = Failed
				it.LastError = err.Error()
			}
			it.Output = output

		case OutcomeRetry:
			if outcome.err != nil {
				it.LastError = outcome.err.Error()
			}

			if it.Attempts >= it.MaxAttempts {
				it.State = Failed
				break
			}

			policy := BackoffPolicy{InitialDelay: it.InitialBackoff}
			retryIn = policy.Delay(it.Attempts, m.cfg.MaxBackoff)

			it.State = Enqueued
			it.NextRunAt = now.Add(retryIn)
		}

		return nil
	})
	switch {
	case errors.Is(err, ErrWorkFinished):
		log.DebugS(ctx, "Discarding outcome of finished work",
			"id", started.ID, "state", string(item.State))
		return

	case err != nil:
		log.ErrorS(ctx, "Recording work outcome failed", err,
			"id", started.ID)
		return
	}

	if item.State == Enqueued {
		log.InfoS(ctx, "Work scheduled for retry", "id", item.ID,
			"attempt", item.Attempts, "retry_in", retryIn,
			"last_error", item.LastError)

		time.AfterFunc(retryIn, m.wakeUp)

		return
	}

	log.InfoS(ctx, "Work finished", "id", item.ID, "kind", item.Kind,
		"state", string(item.State), "attempts", item.Attempts)
}

// encodeOutput serializes the output of a finished run. A nil output is
// stored as no output.
func encodeOutput(output any) ([]byte, error) {
	if output == nil {
		return nil, nil
	}

	data, err := json.Marshal(output)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}

	return data, nil
}
