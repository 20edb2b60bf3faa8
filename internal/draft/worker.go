// Package draft turns stored messages into create-draft submissions run as
// deferred work.
package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/session"
	"github.com/roasbeef/draftsync/internal/store"
	"github.com/roasbeef/draftsync/internal/work"
)

// Kind is the work kind of draft submissions.
const Kind = "create_draft"

// missingDBID is the message ID used when the input carries none. It never
// matches a stored message.
const missingDBID int64 = -1

// Input is the work input of a draft submission.
type Input struct {
	// MessageDBID is the local numeric ID of the message.
	MessageDBID int64 `json:"messageDbId"`

	// MessageLocalID is informational only.
	MessageLocalID string `json:"messageLocalId"`

	// ParentMessageID is the message replied to or forwarded. Empty
	// means none.
	ParentMessageID string `json:"parentMessageId,omitempty"`
}

// UnmarshalJSON decodes an input, defaulting a missing message ID to one
// that matches nothing.
func (in *Input) UnmarshalJSON(data []byte) error {
	type plain Input

	decoded := plain{MessageDBID: missingDBID}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}

	*in = Input(decoded)

	return nil
}

// Output is the work output of a failed submission.
type Output struct {
	Error ErrorKind `json:"errorEnum,omitempty"`
}

// MessageFinder looks up stored messages.
type MessageFinder interface {
	FindMessageByDBID(ctx context.Context,
		dbID int64) (fn.Option[store.Message], error)
}

// IdentityResolver returns the logged in account.
type IdentityResolver interface {
	CurrentUser(ctx context.Context) (store.Account, error)
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithRequestObserver registers fn to be called with every request the
// worker builds.
func WithRequestObserver(fn func(*SubmissionRequest)) WorkerOption {
	return func(w *Worker) {
		w.observe = fn
	}
}

// Worker runs draft submissions.
type Worker struct {
	messages   MessageFinder
	identities IdentityResolver
	observe    func(*SubmissionRequest)
}

// NewWorker creates a draft submission worker.
func NewWorker(messages MessageFinder, identities IdentityResolver,
	opts ...WorkerOption) *Worker {

	w := &Worker{
		messages:   messages,
		identities: identities,
	}
	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Register binds the worker to Kind on mgr.
func Register(mgr *work.Manager, w *Worker) error {
	return mgr.RegisterWorker(Kind, w)
}

// Run implements work.Worker.
func (w *Worker) Run(ctx context.Context, raw json.RawMessage) work.Outcome {
	var in Input
	if err := json.Unmarshal(raw, &in); err != nil {
		log.ErrorS(ctx, "Malformed draft input", err)
		return work.Failure(nil)
	}

	msg, err := w.messages.FindMessageByDBID(ctx, in.MessageDBID)
	if err != nil {
		return work.Retry(fmt.Errorf("find message %d: %w",
			in.MessageDBID, err))
	}
	if msg.IsNone() {
		log.InfoS(ctx, "Draft message not found",
			"message_db_id", in.MessageDBID,
			"message_local_id", in.MessageLocalID)

		return work.Failure(Output{Error: MessageNotFound})
	}

	req, err := w.buildRequest(ctx, msg.UnsafeFromSome(), in.ParentMessageID)
	if w.observe != nil && req != nil {
		w.observe(req)
	}
	switch {
	case errors.Is(err, ErrIncompleteMessage):
		log.ErrorS(ctx, "Draft message cannot be submitted", err,
			"message_db_id", in.MessageDBID)

		return work.Failure(nil)

	case err != nil:
		return work.Retry(err)
	}

	// TODO(draft): issue the create-draft call with req and report
	// success with the remote message ID. Until then every submission
	// ends as a failure without a reason.
	log.DebugS(ctx, "Draft request built", "message_db_id", in.MessageDBID,
		"has_sender", req.Sender().IsSome(),
		"has_parent", req.ParentID().IsSome())

	return work.Failure(nil)
}

// buildRequest builds the request for msg. The sender and the self body
// are only set when the message address belongs to the logged in user.
// The request is returned even when an error is.
func (w *Worker) buildRequest(ctx context.Context, msg store.Message,
	parentID string) (*SubmissionRequest, error) {

	req := NewSubmissionRequest(msg)

	// An empty parent ID means the message has no parent.
	if parentID != "" {
		req.SetParentID(parentID)
	}

	if msg.AddressID == "" || msg.Body == "" {
		return req, fmt.Errorf("message %d: %w", msg.DBID,
			ErrIncompleteMessage)
	}

	account, err := w.identities.CurrentUser(ctx)
	switch {
	case errors.Is(err, session.ErrNotLoggedIn),
		errors.Is(err, session.ErrUnknownAccount):

		log.DebugS(ctx, "No identity for draft", "reason", err.Error())
		return req, nil

	case err != nil:
		return req, fmt.Errorf("resolve identity: %w", err)
	}

	account.FindAddressByID(msg.AddressID).WhenSome(
		func(addr store.Address) {
			req.SetSender(addr)
			req.AddBody(SelfBodyField, msg.Body)
		},
	)

	return req, nil
}

var _ work.Worker = (*Worker)(nil)
