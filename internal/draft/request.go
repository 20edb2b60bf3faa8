package draft

import (
	"maps"

	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/roasbeef/draftsync/internal/store"
)

// SelfBodyField is the body field holding the sender's own armored copy.
const SelfBodyField = "self"

// Sender names the address a draft is sent from.
type Sender struct {
	// Name is the display name, empty when the address has none.
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// SubmissionRequest is the create-draft request built from a stored
// message. The sender can only come from a resolved address.
type SubmissionRequest struct {
	messageID string
	subject   string
	addressID string

	parentID fn.Option[string]
	sender   fn.Option[Sender]
	body     map[string]string
}

// NewSubmissionRequest builds a request from msg without sender or body.
func NewSubmissionRequest(msg store.Message) *SubmissionRequest {
	return &SubmissionRequest{
		messageID: msg.MessageID,
		subject:   msg.Subject,
		addressID: msg.AddressID,
		parentID:  fn.None[string](),
		sender:    fn.None[Sender](),
		body:      make(map[string]string),
	}
}

// SetParentID marks the draft as a reply to or forward of parentID.
func (r *SubmissionRequest) SetParentID(parentID string) {
	r.parentID = fn.Some(parentID)
}

// SetSender sets the sender from a resolved address.
func (r *SubmissionRequest) SetSender(addr store.Address) {
	r.sender = fn.Some(Sender{
		Name:  addr.DisplayName.UnwrapOr(""),
		Email: addr.Email,
	})
}

// AddBody sets a body field.
func (r *SubmissionRequest) AddBody(field, content string) {
	r.body[field] = content
}

// MessageID returns the local ID of the source message.
func (r *SubmissionRequest) MessageID() string {
	return r.messageID
}

// Subject returns the subject of the draft.
func (r *SubmissionRequest) Subject() string {
	return r.subject
}

// AddressID returns the address ID of the source message.
func (r *SubmissionRequest) AddressID() string {
	return r.addressID
}

// ParentID returns the parent message ID, if any.
func (r *SubmissionRequest) ParentID() fn.Option[string] {
	return r.parentID
}

// Sender returns the sender, if one was resolved.
func (r *SubmissionRequest) Sender() fn.Option[Sender] {
	return r.sender
}

// Body returns a copy of the body fields.
func (r *SubmissionRequest) Body() map[string]string {
	return maps.Clone(r.body)
}

// RequestView is a plain snapshot of a SubmissionRequest, used for logging
// and comparisons.
type RequestView struct {
	MessageID string            `json:"message_id"`
	Subject   string            `json:"subject"`
	AddressID string            `json:"address_id"`
	ParentID  string            `json:"parent_id,omitempty"`
	Sender    *Sender           `json:"sender,omitempty"`
	Body      map[string]string `json:"body,omitempty"`
}

// View returns a snapshot of the request.
func (r *SubmissionRequest) View() RequestView {
	view := RequestView{
		MessageID: r.messageID,
		Subject:   r.subject,
		AddressID: r.addressID,
		ParentID:  r.parentID.UnwrapOr(""),
	}
	r.sender.WhenSome(func(s Sender) {
		view.Sender = &s
	})
	if len(r.body) > 0 {
		view.Body = maps.Clone(r.body)
	}

	return view
}
