package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voicecall-platform/internal/audit"
	"voicecall-platform/internal/auth"
	"voicecall-platform/internal/billing"
	"voicecall-platform/internal/config"
	"voicecall-platform/internal/mirror"
	"voicecall-platform/internal/presence"
	"voicecall-platform/internal/session"
	"voicecall-platform/internal/status"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

type allowLocker struct{}

func (allowLocker) Acquire(ctx context.Context, recipientID, holderID string) (bool, error) {
	return true, nil
}
func (allowLocker) Release(ctx context.Context, recipientID, holderID string) (bool, error) {
	return true, nil
}

type mapLedger struct{ balances map[string]int64 }

func (l mapLedger) Balance(ctx context.Context, userID string) (int64, error) {
	return l.balances[userID], nil
}
func (l mapLedger) Deduct(ctx context.Context, userID string, coins int64, callID string) (int64, error) {
	l.balances[userID] -= coins
	return coins, nil
}
func (l mapLedger) Credit(ctx context.Context, userID string, coins int64, ref string) error {
	l.balances[userID] += coins
	return nil
}

type flatRates struct{}

func (flatRates) RateFor(ctx context.Context, callType session.CallType, userID string) (int64, error) {
	return 200, nil
}

func newTestServer(t *testing.T, balances map[string]int64) (*httptest.Server, *presence.Registry, *session.Machine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := presence.NewRegistry()
	statuses := status.NewStore()
	writer := mirror.NewWriter(mirror.NewMemoryRepo())
	writer.Start()
	t.Cleanup(writer.Stop)

	machine := session.NewMachine(session.Deps{
		Store:    session.NewStore(),
		Statuses: statuses,
		Prefs:    status.NewMemoryPrefRepo(),
		Registry: registry,
		Lock:     allowLocker{},
		Billing:  billing.NewEngine(),
		Ledger:   mapLedger{balances: balances},
		Rates:    flatRates{},
		Notifier: &dropNotifier{},
		Auditor:  audit.NewService(audit.NewMemoryRepo()),
		Mirror:   writer,
		Config: config.CallConfig{
			RingTimeout:       30 * time.Second,
			MinBalanceSeconds: 60,
		},
	})

	g := &Gateway{Machine: machine, Registry: registry}

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		// Stand-in for the access-token middleware.
		ctx := auth.WithIdentity(c.Request.Context(), c.Query("user"), "member")
		c.Request = c.Request.WithContext(ctx)
		g.Serve(c)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, registry, machine
}

type dropNotifier struct{}

func (dropNotifier) Notify(userID, event string, payload map[string]any) {}

func dial(t *testing.T, srv *httptest.Server, user string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user=" + user
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) envelope {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env envelope
	if err := ws.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestServeSendsJoinedAndRegistersPresence(t *testing.T) {
	srv, registry, _ := newTestServer(t, map[string]int64{})
	ws := dial(t, srv, "u1")

	env := readEvent(t, ws)
	if env.Event != "joined" {
		t.Fatalf("expected joined, got %q", env.Event)
	}
	if env.Data["status"] != "available" {
		t.Fatalf("expected available status, got %v", env.Data)
	}

	deadline := time.Now().Add(time.Second)
	for !registry.IsOnline("u1") {
		if time.Now().After(deadline) {
			t.Fatalf("expected u1 registered online")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDispatchAnswersRejectionOnSameConnection(t *testing.T) {
	srv, _, _ := newTestServer(t, map[string]int64{"u1": 0})
	ws := dial(t, srv, "u1")
	readEvent(t, ws) // joined

	err := ws.WriteJSON(envelope{Event: "initiate", Data: map[string]any{
		"recipient_id": "u2",
		"call_type":    "audio",
		"call_id":      "c1",
	}})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readEvent(t, ws)
	if env.Event != "rejected" {
		t.Fatalf("expected rejected, got %q", env.Event)
	}
	if env.Data["reason"] != session.ReasonInsufficientBalance {
		t.Fatalf("expected insufficient_balance, got %v", env.Data)
	}
	if env.Data["event"] != "initiate" {
		t.Fatalf("rejection must echo the originating event, got %v", env.Data)
	}
}

func TestDispatchRejectsUnknownEvent(t *testing.T) {
	srv, _, _ := newTestServer(t, map[string]int64{})
	ws := dial(t, srv, "u1")
	readEvent(t, ws) // joined

	if err := ws.WriteJSON(envelope{Event: "teleport"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readEvent(t, ws)
	if env.Event != "rejected" || env.Data["reason"] != session.ReasonInvalidRequest {
		t.Fatalf("expected invalid_request rejection, got %+v", env)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// acceptCall drives u1 calling u2 through to accepted over live sockets.
func acceptCall(t *testing.T, srv *httptest.Server, machine *session.Machine) (caller, recipient *websocket.Conn) {
	t.Helper()
	caller = dial(t, srv, "u1")
	readEvent(t, caller) // joined
	recipient = dial(t, srv, "u2")
	readEvent(t, recipient) // joined

	err := caller.WriteJSON(envelope{Event: "initiate", Data: map[string]any{
		"recipient_id": "u2",
		"call_type":    "audio",
		"call_id":      "c1",
	}})
	if err != nil {
		t.Fatalf("write initiate: %v", err)
	}
	waitFor(t, func() bool {
		sess, ok := machine.CallStatus("c1")
		return ok && sess.Status == session.StatusRinging
	})

	if err := recipient.WriteJSON(envelope{Event: "accept", Data: map[string]any{"call_id": "c1"}}); err != nil {
		t.Fatalf("write accept: %v", err)
	}
	waitFor(t, func() bool {
		sess, _ := machine.CallStatus("c1")
		return sess.Status == session.StatusAccepted
	})
	return caller, recipient
}

func TestReconnectDoesNotTerminateLiveCall(t *testing.T) {
	srv, registry, machine := newTestServer(t, map[string]int64{"u1": 100000})
	_, recipient := acceptCall(t, srv, machine)

	// The recipient's client reconnects mid-call. The superseded socket is
	// force-closed and its handler runs its teardown.
	fresh := dial(t, srv, "u2")
	readEvent(t, fresh) // joined

	// Drain the old socket until the server's close frame lands, so the
	// superseded handler's teardown has started.
	recipient.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := recipient.ReadMessage(); err != nil {
			break
		}
	}

	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		sess, ok := machine.CallStatus("c1")
		if !ok {
			t.Fatalf("session disappeared")
		}
		if sess.Status.Terminal() {
			t.Fatalf("live call torn down by the superseded connection: status=%s end_reason=%s (online=%v)",
				sess.Status, sess.EndReason, registry.IsOnline("u2"))
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !registry.IsOnline("u2") {
		t.Fatalf("recipient must stay online on the fresh connection")
	}
}

func TestGenuineDisconnectEndsLiveCall(t *testing.T) {
	srv, _, machine := newTestServer(t, map[string]int64{"u1": 100000})
	_, recipient := acceptCall(t, srv, machine)

	recipient.Close()

	waitFor(t, func() bool {
		sess, _ := machine.CallStatus("c1")
		return sess.Status == session.StatusDisconnected
	})
	sess, _ := machine.CallStatus("c1")
	if sess.EndReason != session.ReasonConnectionLost {
		t.Fatalf("expected connection_lost, got %q", sess.EndReason)
	}
}

func TestIntFieldReadsJSONNumbers(t *testing.T) {
	if v, ok := intField(map[string]any{"duration_seconds": float64(40)}, "duration_seconds"); !ok || v != 40 {
		t.Fatalf("expected 40, got %d ok=%v", v, ok)
	}
	if _, ok := intField(map[string]any{}, "duration_seconds"); ok {
		t.Fatalf("missing field must report absent")
	}
	if _, ok := intField(nil, "duration_seconds"); ok {
		t.Fatalf("nil data must report absent")
	}
}
