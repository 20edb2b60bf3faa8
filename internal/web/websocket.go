package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roasbeef/draftsync/internal/session"
)

// WebSocket message types.
const (
	WSMsgTypeConnected = "connected"
	WSMsgTypeWork      = "work"
	WSMsgTypeAuth      = "auth"
	WSMsgTypePong      = "pong"
	WSMsgTypeError     = "error"
)

// WSMessage is a message sent to websocket clients.
type WSMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// upgrader specifies parameters for upgrading an HTTP connection to
// WebSocket.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,

	// Only same origin browsers may connect. Clients without an Origin
	// header, such as the CLI, are allowed.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

// handleWorkStream handles GET /ws/work/{id}. It streams the snapshots of
// one work item and the auth events while the connection is open. The
// stream ends after the terminal snapshot, or on logout.
func (s *Server) handleWorkStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.cfg.Work.Get(r.Context(), id); err != nil {
		w.Header().Set("Content-Type", "application/json")
		writeErr(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewWSClient(conn)
	go client.writePump()
	go client.readPump()
	defer client.Close()

	// The connection outlives the request context once hijacked.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scope := s.cfg.Sessions.NewScope(func(_ context.Context,
		event session.AuthEvent) {

		client.Send(&WSMessage{Type: WSMsgTypeAuth, Payload: event})

		if event.Kind == session.LoggedOut {
			cancel()
		}
	})
	if err := scope.Visible(ctx); err != nil {
		client.Send(errorMessage(err))
		return
	}
	defer scope.Hidden()

	events, err := s.cfg.Work.Subscribe(ctx, id)
	if err != nil {
		client.Send(errorMessage(err))
		return
	}

	client.Send(&WSMessage{
		Type: WSMsgTypeConnected,
		Payload: map[string]any{
			"work_id": id,
			"time":    time.Now().UTC(),
		},
	})

	for {
		select {
		case info, ok := <-events:
			if !ok {
				return
			}

			client.Send(&WSMessage{
				Type:    WSMsgTypeWork,
				Payload: toWorkJSON(info),
			})
			if info.Done() {
				return
			}

		case <-client.Done():
			return

		case <-ctx.Done():
			return
		}
	}
}

// errorMessage wraps err in an error frame.
func errorMessage(err error) *WSMessage {
	return &WSMessage{
		Type: WSMsgTypeError,
		Payload: map[string]any{
			"message": err.Error(),
		},
	}
}
