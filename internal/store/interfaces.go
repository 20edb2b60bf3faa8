package store

import (
	"context"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// MessageStore persists messages.
type MessageStore interface {
	// SaveMessage inserts msg when its DBID is zero and updates it
	// otherwise. The stored message is returned.
	SaveMessage(ctx context.Context, msg Message) (Message, error)

	// FindMessageByDBID returns the message with the given local ID.
	FindMessageByDBID(ctx context.Context,
		dbID int64) (fn.Option[Message], error)

	// ListMessages returns messages, newest first.
	ListMessages(ctx context.Context, limit, offset int) ([]Message, error)
}

// AccountStore persists accounts, their addresses and the logged in user.
type AccountStore interface {
	// CreateAccount adds an account without addresses.
	CreateAccount(ctx context.Context, username string) (Account, error)

	// AddAddress appends addr to the account's address list.
	AddAddress(ctx context.Context, username string,
		addr Address) (Address, error)

	// GetAccount returns the account with its addresses.
	GetAccount(ctx context.Context,
		username string) (fn.Option[Account], error)

	// SessionUser returns the persisted logged in username.
	SessionUser(ctx context.Context) (fn.Option[string], error)

	// SetSessionUser persists the logged in username, or clears it.
	SetSessionUser(ctx context.Context, username fn.Option[string]) error
}

// WorkStore persists deferred work items.
type WorkStore interface {
	// InsertWorkItem stores a new item.
	InsertWorkItem(ctx context.Context, item WorkItem) error

	// GetWorkItem returns ErrNotFound for unknown IDs.
	GetWorkItem(ctx context.Context, id string) (WorkItem, error)

	// ListWorkItems returns items, newest first.
	ListWorkItems(ctx context.Context, filter WorkFilter) ([]WorkItem,
		error)

	// UpdateWorkItem writes the mutable fields of item. It returns
	// ErrWorkItemFinished if the stored item is terminal and ErrNotFound
	// if it does not exist.
	UpdateWorkItem(ctx context.Context, item WorkItem) error

	// ListDueWorkItems returns enqueued or blocked items whose next run
	// time is not after now, oldest first. While offline, blocked items
	// that require the network are left out.
	ListDueWorkItems(ctx context.Context, now time.Time, online bool,
		limit int) ([]WorkItem, error)

	// ResetRunningWorkItems moves items left running by a previous
	// process back to enqueued, due at now.
	ResetRunningWorkItems(ctx context.Context, now time.Time) (int, error)

	// PruneWorkItems deletes terminal items last updated before the
	// cutoff.
	PruneWorkItems(ctx context.Context, before time.Time) (int, error)

	// CountWorkItems returns the number of items per state.
	CountWorkItems(ctx context.Context) (map[WorkState]int, error)
}

// Store is the union of every store of the daemon.
type Store interface {
	MessageStore
	AccountStore
	WorkStore
}
