package gateway

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second

	// outboundBuffer bounds the per-connection send queue. A client that
	// stops draining loses events rather than stalling the coordinator.
	outboundBuffer = 32
)

// envelope is the wire frame for every control message, inbound and
// outbound. Part of the client contract; keep stable.
type envelope struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

var errSendBufferFull = errors.New("gateway: send buffer full")

// conn wraps one websocket and satisfies presence.Conn. All writes go
// through the outbound channel so the write pump is the only goroutine
// touching the socket for writes.
type conn struct {
	userID string
	ws     *websocket.Conn

	out  chan envelope
	done chan struct{}
	once sync.Once
}

func newConn(userID string, ws *websocket.Conn) *conn {
	return &conn{
		userID: userID,
		ws:     ws,
		out:    make(chan envelope, outboundBuffer),
		done:   make(chan struct{}),
	}
}

// Send queues an outbound event. Never blocks the caller.
func (c *conn) Send(event string, payload any) error {
	data, _ := payload.(map[string]any)
	select {
	case c.out <- envelope{Event: event, Data: data}:
		return nil
	case <-c.done:
		return errors.New("gateway: connection closed")
	default:
		slog.Warn("dropping outbound event", "user_id", c.userID, "event", event)
		return errSendBufferFull
	}
}

// ForceClose terminates the connection with a close frame carrying reason.
// Used when a newer connection supersedes this one.
func (c *conn) ForceClose(reason string) {
	c.once.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.ws.Close()
	})
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// writePump drains the outbound queue and keeps the connection alive with
// pings. Runs in its own goroutine per connection.
func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case env := <-c.out:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
