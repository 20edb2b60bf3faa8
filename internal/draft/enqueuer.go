package draft

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/store"
	"github.com/roasbeef/draftsync/internal/work"
)

// Scheduler accepts work requests.
type Scheduler interface {
	Enqueue(ctx context.Context, req work.Request) (*work.Handle, error)
}

// Enqueuer schedules draft submissions.
type Enqueuer struct {
	scheduler Scheduler
}

// NewEnqueuer creates an enqueuer.
func NewEnqueuer(scheduler Scheduler) *Enqueuer {
	return &Enqueuer{scheduler: scheduler}
}

// Enqueue schedules one submission of msg that waits for the network. Every
// call creates a new work item, also for the same message.
func (e *Enqueuer) Enqueue(ctx context.Context, msg store.Message,
	parentID fn.Option[string]) (*work.Handle, error) {

	return e.scheduler.Enqueue(ctx, work.Request{
		Kind: Kind,
		Input: Input{
			MessageDBID:     msg.DBID,
			MessageLocalID:  msg.MessageID,
			ParentMessageID: parentID.UnwrapOr(""),
		},
		Constraints: work.Constraints{RequiresNetwork: true},
	})
}
