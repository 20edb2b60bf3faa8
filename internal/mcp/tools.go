package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/roasbeef/draftsync/internal/draft"
	"github.com/roasbeef/draftsync/internal/store"
	"github.com/roasbeef/draftsync/internal/work"
)

// maxWait bounds how long enqueue_draft blocks for a result.
const maxWait = 5 * time.Minute

// SaveMessageArgs are the arguments for the save_message tool.
type SaveMessageArgs struct {
	// DBID selects the message to update. Zero creates a new message.
	DBID int64 `json:"db_id,omitempty" jsonschema:"Local database ID of an existing message to update"`

	// MessageID is the client-assigned identifier of the message.
	MessageID string `json:"message_id" jsonschema:"Client-assigned message identifier"`

	// AddressID is the sending address.
	AddressID string `json:"address_id,omitempty" jsonschema:"ID of the sending address"`

	Subject string `json:"subject,omitempty" jsonschema:"Message subject line"`

	// Body is the encrypted message body.
	Body string `json:"body,omitempty" jsonschema:"Encrypted message body"`

	ParentID string `json:"parent_id,omitempty" jsonschema:"Remote ID of the message this one replies to"`
}

// SaveMessageResult is the result of the save_message tool.
type SaveMessageResult struct {
	DBID      int64  `json:"db_id"`
	MessageID string `json:"message_id"`
}

// handleSaveMessage stores a local message.
func (s *Server) handleSaveMessage(ctx context.Context,
	req *mcp.CallToolRequest, args SaveMessageArgs) (*mcp.CallToolResult, SaveMessageResult, error) {

	if args.MessageID == "" {
		return nil, SaveMessageResult{}, errors.New("message_id is required")
	}

	msg := store.Message{
		DBID:      args.DBID,
		MessageID: args.MessageID,
		AddressID: args.AddressID,
		Subject:   args.Subject,
		Body:      args.Body,
		ParentID:  fn.None[string](),
	}
	if args.ParentID != "" {
		msg.ParentID = fn.Some(args.ParentID)
	}

	saved, err := s.cfg.Messages.SaveMessage(ctx, msg)
	if err != nil {
		return nil, SaveMessageResult{}, err
	}

	return nil, SaveMessageResult{
		DBID:      saved.DBID,
		MessageID: saved.MessageID,
	}, nil
}

// WorkResult is the tool view of a work item.
type WorkResult struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	State       string `json:"state"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
	UpdatedAt   string `json:"updated_at"`
	DraftStatus string `json:"draft_status,omitempty"`
	DraftReason string `json:"draft_reason,omitempty"`
}

// toWorkResult converts a work snapshot to its tool result form.
func toWorkResult(info work.Info) WorkResult {
	res := WorkResult{
		ID:        info.ID,
		Kind:      info.Kind,
		State:     string(info.State),
		Attempts:  info.Attempts,
		LastError: info.LastError,
		UpdatedAt: info.UpdatedAt.Format(time.RFC3339),
	}

	if info.Kind == draft.Kind {
		if result, err := draft.ResultFromInfo(info); err == nil {
			res.DraftStatus = result.Status.String()
			res.DraftReason = string(result.Reason.UnwrapOr(""))
		}
	}

	return res
}

// EnqueueDraftArgs are the arguments for the enqueue_draft tool.
type EnqueueDraftArgs struct {
	MessageDBID int64  `json:"message_db_id" jsonschema:"Local database ID of the message to submit"`
	ParentID    string `json:"parent_id,omitempty" jsonschema:"Remote ID of the parent message"`

	// WaitSeconds blocks until the submission finishes or the wait
	// elapses.
	WaitSeconds int `json:"wait_seconds,omitempty" jsonschema:"Seconds to wait for the result, 0 returns immediately"`
}

// handleEnqueueDraft schedules a draft upload and optionally waits for
// it to finish.
func (s *Server) handleEnqueueDraft(ctx context.Context,
	req *mcp.CallToolRequest, args EnqueueDraftArgs) (*mcp.CallToolResult, WorkResult, error) {

	msg, err := s.cfg.Messages.FindMessageByDBID(ctx, args.MessageDBID)
	if err != nil {
		return nil, WorkResult{}, err
	}
	if msg.IsNone() {
		return nil, WorkResult{}, fmt.Errorf("message %d: %w",
			args.MessageDBID, store.ErrNotFound)
	}

	parent := fn.None[string]()
	if args.ParentID != "" {
		parent = fn.Some(args.ParentID)
	}

	handle, err := s.cfg.Drafts.Enqueue(ctx, msg.UnsafeFromSome(), parent)
	if err != nil {
		return nil, WorkResult{}, err
	}

	if args.WaitSeconds <= 0 {
		info, err := handle.Info(ctx)
		if err != nil {
			return nil, WorkResult{}, err
		}

		return nil, toWorkResult(info), nil
	}

	wait := min(time.Duration(args.WaitSeconds)*time.Second, maxWait)
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	info, err := handle.Await(waitCtx)
	switch {
	// Still pending, report the latest snapshot.
	case errors.Is(err, context.DeadlineExceeded):
		info, err = handle.Info(ctx)
		if err != nil {
			return nil, WorkResult{}, err
		}

	case err != nil:
		return nil, WorkResult{}, err
	}

	return nil, toWorkResult(info), nil
}

// WorkIDArgs identify a single work item.
type WorkIDArgs struct {
	ID string `json:"id" jsonschema:"ID of the work item"`
}

// handleGetWork returns the snapshot of one work item.
func (s *Server) handleGetWork(ctx context.Context,
	req *mcp.CallToolRequest, args WorkIDArgs) (*mcp.CallToolResult, WorkResult, error) {

	info, err := s.cfg.Work.Get(ctx, args.ID)
	if err != nil {
		return nil, WorkResult{}, err
	}

	return nil, toWorkResult(info), nil
}

// handleCancelWork cancels a work item.
func (s *Server) handleCancelWork(ctx context.Context,
	req *mcp.CallToolRequest, args WorkIDArgs) (*mcp.CallToolResult, WorkResult, error) {

	info, err := s.cfg.Work.Cancel(ctx, args.ID)
	if err != nil {
		return nil, WorkResult{}, err
	}

	return nil, toWorkResult(info), nil
}

// ListWorkArgs are the arguments for the list_work tool.
type ListWorkArgs struct {
	State string `json:"state,omitempty" jsonschema:"Only return items in this state"`
	Kind  string `json:"kind,omitempty" jsonschema:"Only return items of this kind"`
	Limit int    `json:"limit,omitempty" jsonschema:"Maximum number of items to return,default=50"`
}

// ListWorkResult is the result of the list_work tool.
type ListWorkResult struct {
	Items []WorkResult `json:"items"`
}

// handleListWork lists work items.
func (s *Server) handleListWork(ctx context.Context,
	req *mcp.CallToolRequest, args ListWorkArgs) (*mcp.CallToolResult, ListWorkResult, error) {

	limit := args.Limit
	if limit <= 0 {
		limit = 50
	}

	filter := work.Filter{
		Kind:  args.Kind,
		Limit: limit,
	}
	if args.State != "" {
		state := work.State(args.State)
		if !state.Valid() {
			return nil, ListWorkResult{}, fmt.Errorf("unknown state %q",
				args.State)
		}
		filter.State = fn.Some(state)
	}

	infos, err := s.cfg.Work.List(ctx, filter)
	if err != nil {
		return nil, ListWorkResult{}, err
	}

	items := make([]WorkResult, 0, len(infos))
	for _, info := range infos {
		items = append(items, toWorkResult(info))
	}

	return nil, ListWorkResult{Items: items}, nil
}

// WhoAmIArgs are the arguments for the whoami tool.
type WhoAmIArgs struct{}

// WhoAmIResult is the result of the whoami tool.
type WhoAmIResult struct {
	LoggedIn bool   `json:"logged_in"`
	Username string `json:"username,omitempty"`
}

// handleWhoAmI reports the logged in user.
func (s *Server) handleWhoAmI(ctx context.Context,
	req *mcp.CallToolRequest, args WhoAmIArgs) (*mcp.CallToolResult, WhoAmIResult, error) {

	user := s.cfg.Sessions.CurrentUsername()

	return nil, WhoAmIResult{
		LoggedIn: user.IsSome(),
		Username: user.UnwrapOr(""),
	}, nil
}
