package work

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/baselib/actor"
	"github.com/roasbeef/draftsync/internal/store"
)

// runMsg asks an executor to run one item. The ask context is the item's
// own context, so cancelling the item cancels the run.
type runMsg struct {
	actor.BaseMessage

	item   store.WorkItem
	worker Worker
}

// MessageType implements actor.Message.
func (runMsg) MessageType() string { return "RunWork" }

// runResult is the reply of an executor.
type runResult struct {
	outcome  Outcome
	duration time.Duration
}

// executor is the behavior of one member of the executor pool.
type executor struct {
	idx int
}

// Receive runs the worker of the item. Panics are turned into failures.
func (e *executor) Receive(ctx context.Context, msg runMsg) fn.Result[runResult] {
	start := time.Now()
	outcome := runSafely(ctx, msg.worker, msg.item)

	log.DebugS(ctx, "Work run finished", "id", msg.item.ID,
		"kind", msg.item.Kind, "executor", e.idx,
		"outcome", outcome.String())

	return fn.Ok(runResult{
		outcome:  outcome,
		duration: time.Since(start),
	})
}

// runSafely runs the worker and turns a panic into a failure.
func runSafely(ctx context.Context, w Worker,
	item store.WorkItem) (outcome Outcome) {

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("worker panic: %v", r)
			log.ErrorS(ctx, "Worker panicked", err, "id", item.ID,
				"kind", item.Kind, "stack", string(debug.Stack()))

			outcome = Outcome{kind: OutcomeFailure, err: err}
		}
	}()

	return w.Run(ctx, item.Input)
}

var _ actor.ActorBehavior[runMsg, runResult] = (*executor)(nil)
