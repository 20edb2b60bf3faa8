package work

import (
	"context"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/baselib/actor"
)

// Handle observes one work item.
type Handle struct {
	id  string
	mgr *Manager
}

// ID returns the work ID.
func (h *Handle) ID() string {
	return h.id
}

// Info returns the current snapshot.
func (h *Handle) Info(ctx context.Context) (Info, error) {
	return h.mgr.Get(ctx, h.id)
}

// Subscribe streams the snapshots of the item. See Manager.Subscribe.
func (h *Handle) Subscribe(ctx context.Context) (<-chan Info, error) {
	return h.mgr.Subscribe(ctx, h.id)
}

// Await blocks until the item finishes.
func (h *Handle) Await(ctx context.Context) (Info, error) {
	return h.mgr.Await(ctx, h.id)
}

// Cancel cancels the item. See Manager.Cancel.
func (h *Handle) Cancel(ctx context.Context) (Info, error) {
	return h.mgr.Cancel(ctx, h.id)
}

// Done returns a future completed with the terminal snapshot, or with an
// error once the manager stops first.
func (h *Handle) Done() actor.Future[Info] {
	promise := actor.NewPromise[Info]()

	go func() {
		info, err := h.mgr.Await(h.mgr.ctx, h.id)
		if err != nil {
			promise.Complete(fn.Err[Info](err))
			return
		}

		promise.Complete(fn.Ok(info))
	}()

	return promise.Future()
}
