package notify

import "github.com/roasbeef/draftsync/internal/baselib/actor"

// Request is the union of the messages a Hub accepts.
type Request[K comparable, E any] interface {
	actor.Message
	isHubRequest()
}

// Response is the union of the replies of a Hub.
type Response[E any] interface {
	isHubResponse()
}

// The marker methods below seal the request and response unions.
func (SubscribeMsg[K, E]) isHubRequest()   {}
func (UnsubscribeMsg[K, E]) isHubRequest() {}
func (PublishMsg[K, E]) isHubRequest()     {}
func (ForgetMsg[K, E]) isHubRequest()      {}

func (SubscribeResponse[E]) isHubResponse()   {}
func (UnsubscribeResponse[E]) isHubResponse() {}
func (PublishResponse[E]) isHubResponse()     {}
func (ForgetResponse[E]) isHubResponse()      {}

// SubscribeMsg registers a new subscriber for Key.
type SubscribeMsg[K comparable, E any] struct {
	actor.BaseMessage

	Key K

	// Seed is replayed to the subscriber when the hub has not seen an
	// event for Key yet. Callers pass the persisted state so that a new
	// subscriber always starts from a snapshot.
	Seed *E
}

// MessageType implements actor.Message.
func (SubscribeMsg[K, E]) MessageType() string { return "SubscribeMsg" }

// SubscribeResponse carries the subscription channel.
type SubscribeResponse[E any] struct {
	// ID identifies the subscription for UnsubscribeMsg.
	ID uint64

	// Events delivers the events of the key. It is closed after a final
	// event, on unsubscribe and when the hub stops.
	Events <-chan E
}

// UnsubscribeMsg removes a subscriber and closes its channel.
type UnsubscribeMsg[K comparable, E any] struct {
	actor.BaseMessage

	Key K
	ID  uint64
}

// MessageType implements actor.Message.
func (UnsubscribeMsg[K, E]) MessageType() string { return "UnsubscribeMsg" }

// UnsubscribeResponse is the reply to UnsubscribeMsg.
type UnsubscribeResponse[E any] struct {
	// Found is false when the subscription was already gone.
	Found bool
}

// PublishMsg fans Event out to the subscribers of Key.
type PublishMsg[K comparable, E any] struct {
	actor.BaseMessage

	Key   K
	Event E
}

// MessageType implements actor.Message.
func (PublishMsg[K, E]) MessageType() string { return "PublishMsg" }

// PublishResponse is the reply to PublishMsg.
type PublishResponse[E any] struct {
	Delivered int

	// Dropped counts subscribers whose buffer was full. They miss this
	// event but still get later ones.
	Dropped int
}

// ForgetMsg drops the retained event of Key and closes its subscribers.
type ForgetMsg[K comparable, E any] struct {
	actor.BaseMessage

	Key K
}

// MessageType implements actor.Message.
func (ForgetMsg[K, E]) MessageType() string { return "ForgetMsg" }

// ForgetResponse is the reply to ForgetMsg.
type ForgetResponse[E any] struct{}
