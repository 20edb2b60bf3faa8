package web

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Size of the client send buffer.
	sendBufferSize = 64
)

// WSClient is a single websocket connection. Messages are written by one
// goroutine in the order they were sent.
type WSClient struct {
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan *WSMessage

	// done is closed once the peer went away.
	done     chan struct{}
	doneOnce sync.Once

	mu     sync.Mutex
	closed bool
}

// NewWSClient creates a client for conn.
func NewWSClient(conn *websocket.Conn) *WSClient {
	return &WSClient{
		conn: conn,
		send: make(chan *WSMessage, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Send queues a message. Messages are dropped once the buffer is full or
// the client is closed.
func (c *WSClient) Send(msg *WSMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- msg:
	default:
		log.Warnf("WebSocket send buffer full, dropping %s message",
			msg.Type)
	}
}

// Close flushes the queued messages, sends a close frame and closes the
// connection.
func (c *WSClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.send)
}

// Done is closed once the peer disconnected.
func (c *WSClient) Done() <-chan struct{} {
	return c.done
}

// readPump reads until the connection fails. Text messages are treated as
// pings.
func (c *WSClient) readPump() {
	defer c.doneOnce.Do(func() { close(c.done) })

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {

				log.Debugf("WebSocket read error: %v", err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			c.Send(&WSMessage{
				Type: WSMsgTypePong,
				Payload: map[string]any{
					"time": time.Now().UTC(),
				},
			})
		}
	}
}

// writePump writes queued messages and keepalive pings.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(
						websocket.CloseNormalClosure, "",
					),
				)
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				log.Errorf("WebSocket marshal error: %v", err)
				continue
			}

			err = c.conn.WriteMessage(websocket.TextMessage, data)
			if err != nil {
				log.Debugf("WebSocket write error: %v", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			if err != nil {
				return
			}
		}
	}
}
