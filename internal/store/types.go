package store

import (
	"errors"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrNotFound is returned when a looked up row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a row with the same key exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrWorkItemFinished is returned when updating a work item that has
	// already reached a terminal state.
	ErrWorkItemFinished = errors.New("work item already finished")
)

// Message is a locally persisted mail message.
type Message struct {
	// DBID is the local numeric identifier. Zero means not yet stored.
	DBID int64

	// MessageID is the local or remote string identifier.
	MessageID string

	// AddressID names the sending address. Empty when not yet chosen.
	AddressID string

	// Subject is the plain text subject.
	Subject string

	// Body is the armored encrypted body. Empty when not yet written.
	Body string

	// ParentID references the message this one replies to or forwards.
	ParentID fn.Option[string]

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Address is one sending identity of an account.
type Address struct {
	ID          string
	DisplayName fn.Option[string]
	Email       string
}

// Account is a user with its addresses in insertion order.
type Account struct {
	Username  string
	Addresses []Address
	CreatedAt time.Time
}

// FindAddressByID returns the address with the given ID.
func (a Account) FindAddressByID(id string) fn.Option[Address] {
	for _, addr := range a.Addresses {
		if addr.ID == id {
			return fn.Some(addr)
		}
	}

	return fn.None[Address]()
}

// WorkState is the lifecycle state of a work item.
type WorkState string

const (
	WorkEnqueued  WorkState = "enqueued"
	WorkBlocked   WorkState = "blocked"
	WorkRunning   WorkState = "running"
	WorkSucceeded WorkState = "succeeded"
	WorkFailed    WorkState = "failed"
	WorkCancelled WorkState = "cancelled"
)

// IsTerminal reports whether no further transition can happen.
func (s WorkState) IsTerminal() bool {
	switch s {
	case WorkSucceeded, WorkFailed, WorkCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known state.
func (s WorkState) Valid() bool {
	switch s {
	case WorkEnqueued, WorkBlocked, WorkRunning, WorkSucceeded,
		WorkFailed, WorkCancelled:

		return true
	default:
		return false
	}
}

// WorkItem is the durable record of one scheduled task.
type WorkItem struct {
	ID              string
	Kind            string
	Input           []byte
	RequiresNetwork bool
	State           WorkState

	// Output is the JSON output reported by the worker, if any.
	Output []byte

	Attempts       int
	MaxAttempts    int
	InitialBackoff time.Duration
	LastError      string

	CreatedAt time.Time
	UpdatedAt time.Time
	NextRunAt time.Time
}

// WorkFilter narrows ListWorkItems. Zero values match everything.
type WorkFilter struct {
	State fn.Option[WorkState]
	Kind  string

	// Limit caps the result size. Zero means DefaultListLimit.
	Limit int
}

// DefaultListLimit is used by list calls that do not set a limit.
const DefaultListLimit = 100
