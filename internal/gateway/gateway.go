package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"voicecall-platform/internal/auth"
	"voicecall-platform/internal/notify"
	"voicecall-platform/internal/presence"
	"voicecall-platform/internal/session"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// TODO: restrict origins before exposing outside the API gateway
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway owns the websocket control channel: one authenticated connection
// per user, JSON envelopes in both directions. It translates inbound frames
// into coordinator operations and rejections back into outbound `rejected`
// events; it never makes call decisions itself.
type Gateway struct {
	Machine  *session.Machine
	Registry *presence.Registry
}

// Serve upgrades the request. Identity comes from the access-token
// middleware; an unauthenticated request never reaches the upgrade.
func (g *Gateway) Serve(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	role := presence.Role(c.Query("role"))
	if role != presence.RoleCaller && role != presence.RoleRecipient {
		role = presence.RoleUnknown
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "user_id", userID, "err", err)
		return
	}

	cn := newConn(userID, ws)
	go cn.writePump()

	g.Registry.Register(userID, cn, role)
	st := g.Machine.Join(c.Request.Context(), userID)
	_ = cn.Send(notify.EventJoined, map[string]any{"status": string(st)})

	slog.Info("client connected", "user_id", userID, "role", role)
	g.readLoop(cn)

	slog.Info("client disconnected", "user_id", userID)
	// A superseded socket's unregister is stale: the user is live on a newer
	// connection, and their call must not be torn down underneath it.
	if g.Registry.Unregister(userID, cn) {
		g.Machine.Disconnected(context.Background(), userID)
	}
	cn.close()
}

func (g *Gateway) readLoop(cn *conn) {
	cn.ws.SetReadLimit(4096)
	_ = cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	cn.ws.SetPongHandler(func(string) error {
		return cn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env envelope
		if err := cn.ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				slog.Warn("unexpected close", "user_id", cn.userID, "err", err)
			}
			return
		}
		g.dispatch(cn, env)
	}
}

// dispatch routes one inbound frame. Rejections are answered on the same
// connection; anything else the coordinator wants to say goes through the
// notifier.
func (g *Gateway) dispatch(cn *conn, env envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch env.Event {
	case "initiate":
		_, err = g.Machine.Initiate(ctx,
			cn.userID,
			str(env.Data, "recipient_id"),
			session.CallType(str(env.Data, "call_type")),
			str(env.Data, "call_id"),
		)
	case "accept":
		_, err = g.Machine.Accept(ctx, str(env.Data, "call_id"), cn.userID)
	case "decline":
		_, err = g.Machine.Decline(ctx, str(env.Data, "call_id"), cn.userID)
	case "cancel":
		_, err = g.Machine.Cancel(ctx, str(env.Data, "call_id"), cn.userID, str(env.Data, "reason"))
	case "end":
		secs, reported := intField(env.Data, "duration_seconds")
		_, err = g.Machine.End(ctx, str(env.Data, "call_id"), cn.userID, secs, reported)
	case "heartbeat":
		id := str(env.Data, "call_id")
		if id == "" {
			id = cn.userID
		}
		g.Machine.Heartbeat(ctx, id)
	default:
		err = &session.Rejection{Reason: session.ReasonInvalidRequest}
	}

	if err == nil {
		return
	}
	var rej *session.Rejection
	if errors.As(err, &rej) {
		_ = cn.Send(notify.EventRejected, map[string]any{
			"event":   env.Event,
			"call_id": str(env.Data, "call_id"),
			"reason":  rej.Reason,
		})
		return
	}
	slog.Error("dispatch failed", "user_id", cn.userID, "event", env.Event, "err", err)
}

func str(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

// intField reads a numeric field, reporting whether it was present.
// JSON numbers decode as float64.
func intField(data map[string]any, key string) (int, bool) {
	if data == nil {
		return 0, false
	}
	switch v := data[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
