package work

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/roasbeef/draftsync/internal/notify"
	"github.com/roasbeef/draftsync/internal/store"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

const testTimeout = 5 * time.Second

type echoInput struct {
	Value string `json:"value"`
}

func newTestManager(t *testing.T, s store.WorkStore,
	network NetworkMonitor) *Manager {

	t.Helper()

	m, err := NewManager(Config{
		Store:        s,
		Network:      network,
		Executors:    2,
		PollInterval: 10 * time.Millisecond,
		Registerer:   prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	return m
}

func echoWorker() Worker {
	return WorkerFunc(func(_ context.Context,
		input json.RawMessage) Outcome {

		var in echoInput
		if err := json.Unmarshal(input, &in); err != nil {
			return Failure(nil)
		}

		return Success(in)
	})
}

// collectStates reads snapshots until the channel closes.
func collectStates(t *testing.T, events <-chan Info) []State {
	t.Helper()

	var states []State
	timeout := time.After(testTimeout)
	for {
		select {
		case info, ok := <-events:
			if !ok {
				return states
			}
			states = append(states, info.State)

		case <-timeout:
			t.Fatalf("timed out, states so far: %v", states)
		}
	}
}

func awaitInfo(t *testing.T, h *Handle) Info {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	info, err := h.Await(ctx)
	require.NoError(t, err)

	return info
}

// TestWorkRunsToSuccess checks the happy path and the order of the
// snapshots seen by a subscriber.
func TestWorkRunsToSuccess(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMockStore(), nil)
	require.NoError(t, m.RegisterWorker("echo", echoWorker()))

	h, err := m.Enqueue(ctx, Request{
		Kind:  "echo",
		Input: echoInput{Value: "hi"},
	})
	require.NoError(t, err)

	events, err := h.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))

	require.Equal(t, []State{Enqueued, Running, Succeeded},
		collectStates(t, events))

	info, err := h.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, Succeeded, info.State)
	require.Equal(t, 1, info.Attempts)

	var out echoInput
	require.NoError(t, info.DecodeOutput(&out))
	require.Equal(t, "hi", out.Value)

	require.Equal(t, 1.0, testutil.ToFloat64(
		m.metrics.finished.WithLabelValues("echo", "succeeded"),
	))
	require.Equal(t, 0.0, testutil.ToFloat64(m.metrics.running))
}

// TestWorkBlockedUntilOnline checks that network bound work waits while
// offline and runs once the network returns.
func TestWorkBlockedUntilOnline(t *testing.T) {
	ctx := context.Background()
	network := NewStaticMonitor(false)
	m := newTestManager(t, store.NewMockStore(), network)

	var runs atomic.Int32
	require.NoError(t, m.RegisterWorker("net", WorkerFunc(
		func(context.Context, json.RawMessage) Outcome {
			runs.Add(1)
			return Success(nil)
		},
	)))

	h, err := m.Enqueue(ctx, Request{
		Kind:        "net",
		Constraints: Constraints{RequiresNetwork: true},
	})
	require.NoError(t, err)

	events, err := h.Subscribe(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Start(ctx))

	require.Eventually(t, func() bool {
		info, err := h.Info(ctx)
		return err == nil && info.State == Blocked
	}, testTimeout, 10*time.Millisecond)

	// Several dispatch rounds pass without a run.
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, runs.Load())

	network.SetOnline(true)

	require.Equal(t,
		[]State{Enqueued, Blocked, Enqueued, Running, Succeeded},
		collectStates(t, events),
	)
	require.EqualValues(t, 1, runs.Load())
}

// TestWorkRetryBackoff checks that Retry outcomes are rescheduled until
// the worker succeeds.
func TestWorkRetryBackoff(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMockStore(), nil)

	var runs atomic.Int32
	require.NoError(t, m.RegisterWorker("flaky", WorkerFunc(
		func(context.Context, json.RawMessage) Outcome {
			if runs.Add(1) < 3 {
				return Retry(errors.New("try again"))
			}
			return Success(nil)
		},
	)))
	require.NoError(t, m.Start(ctx))

	h, err := m.Enqueue(ctx, Request{
		Kind: "flaky",
		Backoff: BackoffPolicy{
			InitialDelay: 10 * time.Millisecond,
			MaxAttempts:  5,
		},
	})
	require.NoError(t, err)

	info := awaitInfo(t, h)
	require.Equal(t, Succeeded, info.State)
	require.Equal(t, 3, info.Attempts)
	require.Equal(t, "try again", info.LastError)
}

// TestWorkRetryExhausted checks that retries stop at MaxAttempts.
func TestWorkRetryExhausted(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMockStore(), nil)

	require.NoError(t, m.RegisterWorker("broken", WorkerFunc(
		func(context.Context, json.RawMessage) Outcome {
			return Retry(errors.New("still broken"))
		},
	)))
	require.NoError(t, m.Start(ctx))

	h, err := m.Enqueue(ctx, Request{
		Kind: "broken",
		Backoff: BackoffPolicy{
			InitialDelay: time.Millisecond,
			MaxAttempts:  2,
		},
	})
	require.NoError(t, err)

	info := awaitInfo(t, h)
	require.Equal(t, Failed, info.State)
	require.Equal(t, 2, info.Attempts)
	require.Equal(t, "still broken", info.LastError)
}

// TestWorkPanicFails checks that a panicking worker fails its item.
func TestWorkPanicFails(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMockStore(), nil)

	require.NoError(t, m.RegisterWorker("panic", WorkerFunc(
		func(context.Context, json.RawMessage) Outcome {
			panic("boom")
		},
	)))
	require.NoError(t, m.Start(ctx))

	h, err := m.Enqueue(ctx, Request{Kind: "panic"})
	require.NoError(t, err)

	info := awaitInfo(t, h)
	require.Equal(t, Failed, info.State)
	require.Contains(t, info.LastError, "boom")
}

// TestWorkCancelEnqueued checks cancelling an item that never ran.
func TestWorkCancelEnqueued(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMockStore(), NewStaticMonitor(false))
	require.NoError(t, m.RegisterWorker("echo", echoWorker()))
	require.NoError(t, m.Start(ctx))

	h, err := m.Enqueue(ctx, Request{
		Kind:        "echo",
		Constraints: Constraints{RequiresNetwork: true},
	})
	require.NoError(t, err)

	info, err := h.Cancel(ctx)
	require.NoError(t, err)
	require.Equal(t, Cancelled, info.State)
	require.Zero(t, info.Attempts)

	_, err = h.Cancel(ctx)
	require.ErrorIs(t, err, ErrWorkFinished)

	require.Equal(t, Cancelled, awaitInfo(t, h).State)
}

// TestWorkCancelRunning checks that cancelling a running item cancels the
// worker and discards its outcome.
func TestWorkCancelRunning(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMockStore(), nil)

	started := make(chan struct{})
	stopped := make(chan struct{})
	require.NoError(t, m.RegisterWorker("slow", WorkerFunc(
		func(ctx context.Context, _ json.RawMessage) Outcome {
			close(started)
			<-ctx.Done()
			close(stopped)

			return Success("too late")
		},
	)))
	require.NoError(t, m.Start(ctx))

	h, err := m.Enqueue(ctx, Request{Kind: "slow"})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(testTimeout):
		t.Fatal("worker not started")
	}

	_, err = h.Cancel(ctx)
	require.NoError(t, err)

	select {
	case <-stopped:
	case <-time.After(testTimeout):
		t.Fatal("worker context not cancelled")
	}

	info := awaitInfo(t, h)
	require.Equal(t, Cancelled, info.State)
	require.Empty(t, info.Output)

	// The discarded outcome never overwrites the record.
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(m.metrics.running) == 0
	}, testTimeout, 10*time.Millisecond)

	info, err = h.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, Cancelled, info.State)
}

// TestWorkRecoversRunning checks that items left running by a previous
// process run again after a restart.
func TestWorkRecoversRunning(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()

	now := time.Now()
	require.NoError(t, s.InsertWorkItem(ctx, store.WorkItem{
		ID:             "interrupted",
		Kind:           "echo",
		Input:          []byte(`{"value":"again"}`),
		State:          Running,
		Attempts:       1,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		CreatedAt:      now,
		UpdatedAt:      now,
		NextRunAt:      now,
	}))

	m := newTestManager(t, s, nil)
	require.NoError(t, m.RegisterWorker("echo", echoWorker()))
	require.NoError(t, m.Start(ctx))

	info := awaitInfo(t, m.Handle("interrupted"))
	require.Equal(t, Succeeded, info.State)
	require.Equal(t, 2, info.Attempts)
}

// TestWorkStopLeavesRunning checks that stopping the manager leaves the
// running item for the next start.
func TestWorkStopLeavesRunning(t *testing.T) {
	ctx := context.Background()
	s := store.NewMockStore()
	m := newTestManager(t, s, nil)

	started := make(chan struct{})
	require.NoError(t, m.RegisterWorker("slow", WorkerFunc(
		func(ctx context.Context, _ json.RawMessage) Outcome {
			close(started)
			<-ctx.Done()

			return Retry(ctx.Err())
		},
	)))
	require.NoError(t, m.Start(ctx))

	h, err := m.Enqueue(ctx, Request{Kind: "slow"})
	require.NoError(t, err)
	<-started

	done := h.Done()
	m.Stop()

	item, err := s.GetWorkItem(ctx, h.ID())
	require.NoError(t, err)
	require.Equal(t, Running, item.State)

	_, err = done.Await(ctx).Unpack()
	require.Error(t, err)

	_, err = m.Enqueue(ctx, Request{Kind: "slow"})
	require.ErrorIs(t, err, ErrManagerStopped)
}

// TestWorkDoneFuture checks that Done completes with the terminal snapshot.
func TestWorkDoneFuture(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	m := newTestManager(t, store.NewMockStore(), nil)
	require.NoError(t, m.RegisterWorker("echo", echoWorker()))
	require.NoError(t, m.Start(ctx))

	h, err := m.Enqueue(ctx, Request{Kind: "echo"})
	require.NoError(t, err)

	info, err := h.Done().Await(ctx).Unpack()
	require.NoError(t, err)
	require.Equal(t, Succeeded, info.State)
	require.Equal(t, h.ID(), info.ID)
}

// TestManagerErrors checks the sentinel errors of the manager.
func TestManagerErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMockStore(), nil)

	require.NoError(t, m.RegisterWorker("echo", echoWorker()))
	require.ErrorIs(t, m.RegisterWorker("echo", echoWorker()),
		ErrWorkerExists)

	_, err := m.Enqueue(ctx, Request{Kind: "nope"})
	require.ErrorIs(t, err, ErrUnknownWorker)

	_, err = m.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrWorkNotFound)

	_, err = m.Cancel(ctx, "missing")
	require.ErrorIs(t, err, ErrWorkNotFound)

	_, err = m.Enqueue(ctx, Request{Kind: "echo", Input: func() {}})
	require.Error(t, err)

	require.NoError(t, m.Start(ctx))
	require.ErrorIs(t, m.Start(ctx), ErrManagerStarted)
	require.ErrorIs(t, m.RegisterWorker("late", echoWorker()),
		ErrManagerStarted)
}

// TestWorkListAndPrune checks listing with filters and pruning.
func TestWorkListAndPrune(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMockStore(), NewStaticMonitor(false))
	require.NoError(t, m.RegisterWorker("echo", echoWorker()))
	require.NoError(t, m.Start(ctx))

	offline, err := m.Enqueue(ctx, Request{
		Kind:        "echo",
		Constraints: Constraints{RequiresNetwork: true},
	})
	require.NoError(t, err)

	done, err := m.Enqueue(ctx, Request{Kind: "echo"})
	require.NoError(t, err)
	require.Equal(t, Succeeded, awaitInfo(t, done).State)

	all, err := m.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)

	succeeded, err := m.List(ctx, Filter{State: fn.Some(Succeeded)})
	require.NoError(t, err)
	require.Len(t, succeeded, 1)
	require.Equal(t, done.ID(), succeeded[0].ID)

	n, err := m.Prune(ctx, -time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = m.Get(ctx, done.ID())
	require.ErrorIs(t, err, ErrWorkNotFound)

	_, err = m.Get(ctx, offline.ID())
	require.NoError(t, err)
}

// countingStore counts the due item queries of the dispatcher.
type countingStore struct {
	store.WorkStore

	dueCalls atomic.Int32
}

func (c *countingStore) ListDueWorkItems(ctx context.Context, now time.Time,
	online bool, limit int) ([]store.WorkItem, error) {

	c.dueCalls.Add(1)

	return c.WorkStore.ListDueWorkItems(ctx, now, online, limit)
}

// TestOfflineBatchDoesNotStarveLocalWork checks that a full batch of
// blocked network items neither keeps the dispatcher busy nor hides the
// local items queued behind it.
func TestOfflineBatchDoesNotStarveLocalWork(t *testing.T) {
	ctx := context.Background()
	s := &countingStore{WorkStore: store.NewMockStore()}

	m, err := NewManager(Config{
		Store:        s,
		Network:      NewStaticMonitor(false),
		BatchSize:    4,
		PollInterval: 100 * time.Millisecond,
		Registerer:   prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	require.NoError(t, m.RegisterWorker("echo", echoWorker()))

	var network []*Handle
	for range 4 {
		h, err := m.Enqueue(ctx, Request{
			Kind:        "echo",
			Constraints: Constraints{RequiresNetwork: true},
		})
		require.NoError(t, err)
		network = append(network, h)
	}

	local, err := m.Enqueue(ctx, Request{
		Kind:  "echo",
		Input: echoInput{Value: "local"},
	})
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	require.Equal(t, Succeeded, awaitInfo(t, local).State)

	for _, h := range network {
		info, err := h.Info(ctx)
		require.NoError(t, err)
		require.Equal(t, Blocked, info.State)
	}

	// Only ticks run passes now: about five in half a second.
	before := s.dueCalls.Load()
	time.Sleep(500 * time.Millisecond)
	require.LessOrEqual(t, s.dueCalls.Load()-before, int32(10))
}

// TestRunsLimitedToExecutors checks that only as many items are running as
// there are executors, the others staying enqueued without an attempt.
func TestRunsLimitedToExecutors(t *testing.T) {
	ctx := context.Background()

	m, err := NewManager(Config{
		Store:        store.NewMockStore(),
		Executors:    1,
		PollInterval: 10 * time.Millisecond,
		Registerer:   prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(m.Stop)

	release := make(chan struct{})
	require.NoError(t, m.RegisterWorker("slow", WorkerFunc(
		func(ctx context.Context, _ json.RawMessage) Outcome {
			select {
			case <-release:
				return Success(nil)

			case <-ctx.Done():
				return Retry(ctx.Err())
			}
		},
	)))

	var handles []*Handle
	for range 3 {
		h, err := m.Enqueue(ctx, Request{Kind: "slow"})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	require.NoError(t, m.Start(ctx))

	want := map[State]int{Running: 1, Enqueued: 2}
	require.Eventually(t, func() bool {
		counts, err := m.Counts(ctx)
		return err == nil && cmp.Equal(want, counts)
	}, testTimeout, 10*time.Millisecond)

	// Several dispatch passes later nothing else has started.
	time.Sleep(50 * time.Millisecond)
	counts, err := m.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, want, counts)
	require.Equal(t, 1.0, testutil.ToFloat64(m.metrics.running))

	close(release)
	for _, h := range handles {
		info := awaitInfo(t, h)
		require.Equal(t, Succeeded, info.State)
		require.Equal(t, 1, info.Attempts)
	}
}

// hubRetains reports whether the observer hub still holds a snapshot of
// the item. The hub replays a retained snapshot before it answers a
// subscribe, so an empty channel means nothing is retained.
func hubRetains(m *Manager, id string) bool {
	ctx := context.Background()

	sub, err := notify.Subscribe(ctx, m.hub, id, nil)
	if err != nil {
		return true
	}
	defer sub.Close(ctx)

	select {
	case <-sub.Events:
		return true
	default:
		return false
	}
}

// TestFinishedWorkNotRetained checks that the observer hub drops finished
// items while late subscribers still get their terminal snapshot.
func TestFinishedWorkNotRetained(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMockStore(), nil)
	require.NoError(t, m.RegisterWorker("echo", echoWorker()))
	require.NoError(t, m.Start(ctx))

	var ids []string
	for range 20 {
		h, err := m.Enqueue(ctx, Request{Kind: "echo"})
		require.NoError(t, err)
		require.Equal(t, Succeeded, awaitInfo(t, h).State)
		ids = append(ids, h.ID())
	}

	for _, id := range ids {
		require.Eventually(t, func() bool {
			return !hubRetains(m, id)
		}, testTimeout, 10*time.Millisecond)
	}

	events, err := m.Subscribe(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, []State{Succeeded}, collectStates(t, events))
}

// TestSubscribeStaleSeed checks that a subscriber seeded before its item
// finished still gets the terminal snapshot after the hub forgot it.
func TestSubscribeStaleSeed(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMockStore(), nil)
	require.NoError(t, m.RegisterWorker("echo", echoWorker()))
	require.NoError(t, m.Start(ctx))

	h, err := m.Enqueue(ctx, Request{Kind: "echo"})
	require.NoError(t, err)
	require.Equal(t, Succeeded, awaitInfo(t, h).State)
	require.Eventually(t, func() bool {
		return !hubRetains(m, h.ID())
	}, testTimeout, 10*time.Millisecond)

	stale := Info{ID: h.ID(), Kind: "echo", State: Running}
	sub, err := notify.Subscribe(ctx, m.hub, h.ID(), &stale)
	require.NoError(t, err)
	defer sub.Close(ctx)

	require.NoError(t, m.replayFinal(ctx, h.ID()))
	require.Equal(t, []State{Running, Succeeded},
		collectStates(t, sub.Events))
}

// TestEnqueueDistinctIDs checks that every enqueue creates a new item,
// even for identical requests.
func TestEnqueueDistinctIDs(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, store.NewMockStore(), nil)
	require.NoError(t, m.RegisterWorker("echo", echoWorker()))

	seen := make(map[string]struct{})
	rapid.Check(t, func(rt *rapid.T) {
		value := rapid.String().Draw(rt, "value")
		n := rapid.IntRange(1, 5).Draw(rt, "n")

		for range n {
			h, err := m.Enqueue(ctx, Request{
				Kind:  "echo",
				Input: echoInput{Value: value},
			})
			require.NoError(rt, err)

			_, dup := seen[h.ID()]
			require.False(rt, dup, "duplicate id %s", h.ID())
			seen[h.ID()] = struct{}{}
		}
	})
}

func TestBackoffDelay(t *testing.T) {
	policy := BackoffPolicy{InitialDelay: time.Second}

	tests := []struct {
		attempts int
		limit    time.Duration
		want     time.Duration
	}{
		{attempts: 1, want: time.Second},
		{attempts: 2, want: 2 * time.Second},
		{attempts: 4, want: 8 * time.Second},
		{attempts: 4, limit: 5 * time.Second, want: 5 * time.Second},
		{attempts: 1, limit: 500 * time.Millisecond,
			want: 500 * time.Millisecond},
		{attempts: 200, limit: time.Hour, want: time.Hour},
	}
	for _, tc := range tests {
		require.Equal(t, tc.want, policy.Delay(tc.attempts, tc.limit),
			"attempts=%d limit=%v", tc.attempts, tc.limit)
	}
}
