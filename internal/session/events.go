package session

import (
	"time"

	"github.com/roasbeef/draftsync/internal/baselib/actor"
	"github.com/roasbeef/draftsync/internal/notify"
)

// EventKind is the kind of an authentication event.
type EventKind uint8

const (
	// LoggedIn is published after a user logged in.
	LoggedIn EventKind = iota + 1

	// LoggedOut is published after a user logged out, including when a
	// login replaces the previous user.
	LoggedOut
)

// String returns the wire name of the kind.
func (k EventKind) String() string {
	switch k {
	case LoggedIn:
		return "logged_in"
	case LoggedOut:
		return "logged_out"
	default:
		return "unknown"
	}
}

// MarshalText encodes the kind by name.
func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// AuthEvent is one change of the logged in user.
type AuthEvent struct {
	Kind     EventKind `json:"kind"`
	Username string    `json:"username"`
	At       time.Time `json:"at"`
}

// authTopic is the single hub key every auth event is published under.
const authTopic = "auth"

// HubRef is the reference type of the auth event hub.
type HubRef = notify.Ref[string, AuthEvent]

// HubServiceKey registers the auth event hub with the actor system.
var HubServiceKey = notify.NewServiceKey[string, AuthEvent]("session-auth-hub")

// SpawnHub starts the auth event hub and registers it under HubServiceKey.
// Events are not retained: subscribers only see changes made after they
// subscribed.
func SpawnHub(as *actor.ActorSystem) HubRef {
	hub := notify.NewHub[string, AuthEvent](notify.Config[AuthEvent]{})

	return HubServiceKey.Spawn(as, "session-auth-hub", hub)
}
