package notify

import (
	"context"
	"log/slog"
	"time"

	"voicecall-platform/internal/presence"
)

// Outbound control event names. Part of the client contract; keep stable.
const (
	EventJoined           = "joined"
	EventIncoming         = "incoming"
	EventAccepted         = "accepted"
	EventDeclined         = "declined"
	EventCancelled        = "cancelled"
	EventTimedOut         = "timedOut"
	EventEnded            = "ended"
	EventPeerDisconnected = "peerDisconnected"
	EventRejected         = "rejected"
)

// Pusher is the alternate delivery channel for users without a live
// connection. Implemented by internal/push.
type Pusher interface {
	Notify(ctx context.Context, userID, event string, data map[string]string) error
}

// Dispatcher delivers outbound events best-effort: live connection first,
// push fallback for ring-critical events. Delivery failure is never a
// session-level error; the core must not stall or fail a transition because
// a client is unreachable.
type Dispatcher struct {
	Registry *presence.Registry
	Pusher   Pusher // optional
}

// pushWorthy lists events worth waking an offline device for.
var pushWorthy = map[string]bool{
	EventIncoming:  true,
	EventCancelled: true,
	EventTimedOut:  true,
}

// pushDeadline bounds one relay delivery attempt.
const pushDeadline = 5 * time.Second

// Notify sends event to userID. Fire-and-forget: live delivery is a
// non-blocking channel write, and the push fallback does its HTTP round trip
// on its own goroutine. Callers (the coordinator in particular, which
// notifies while holding its transition lock) are never stalled by a slow
// relay.
func (d *Dispatcher) Notify(userID, event string, payload map[string]any) {
	if conn, ok := d.Registry.ConnOf(userID); ok {
		if err := conn.Send(event, payload); err != nil {
			slog.Warn("live delivery failed", "user_id", userID, "event", event, "err", err)
		} else {
			return
		}
	}

	if d.Pusher == nil || !pushWorthy[event] {
		return
	}
	data := make(map[string]string, len(payload))
	for k, v := range payload {
		if s, ok := v.(string); ok {
			data[k] = s
		}
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushDeadline)
		defer cancel()
		if err := d.Pusher.Notify(ctx, userID, event, data); err != nil {
			slog.Warn("push delivery failed", "user_id", userID, "event", event, "err", err)
		}
	}()
}
