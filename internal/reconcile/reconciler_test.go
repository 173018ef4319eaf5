package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"voicecall-platform/internal/billing"
	"voicecall-platform/internal/config"
	"voicecall-platform/internal/presence"
	"voicecall-platform/internal/session"
	"voicecall-platform/internal/status"
)

type fakeEnder struct {
	mu       sync.Mutex
	ended    map[string]session.EndReason
	cleanups int
}

func newFakeEnder() *fakeEnder { return &fakeEnder{ended: map[string]session.EndReason{}} }

func (f *fakeEnder) ForceEnd(callID string, reason session.EndReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended[callID] = reason
}

func (f *fakeEnder) CleanupTerminal(maxAge time.Duration, now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return 0
}

type connStub struct{}

func (connStub) Send(event string, payload any) error { return nil }
func (connStub) ForceClose(reason string)             {}

func testConfig() config.CallConfig {
	return config.CallConfig{
		RingTimeout:        30 * time.Second,
		StalenessThreshold: 60 * time.Second,
		ReconnectGrace:     30 * time.Second,
		SweepInterval:      10 * time.Second,
	}
}

func TestSweepForceEndsStaleCalls(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	engine := billing.NewEngineWithClock(func() time.Time { return now })
	engine.Start("c1", 200, []string{"a", "b"})
	engine.Start("c2", 200, []string{"c", "d"})

	now = base.Add(90 * time.Second)
	engine.Heartbeat("c2") // c2 stays fresh

	ender := newFakeEnder()
	r := New(presence.NewRegistry(), status.NewStore(), engine, ender, testConfig())
	r.clock = func() time.Time { return now }

	r.Sweep(context.Background())

	if reason, ok := ender.ended["c1"]; !ok || reason != session.ReasonHeartbeatTimeout {
		t.Fatalf("expected c1 force-ended for heartbeat timeout, got %+v", ender.ended)
	}
	if _, ok := ender.ended["c2"]; ok {
		t.Fatalf("fresh call must not be force-ended")
	}
	if ender.cleanups != 1 {
		t.Fatalf("expected terminal cleanup invoked")
	}
}

func TestSweepReapsExpiredOfflinePresence(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base

	// The registry stamps DisconnectedAt from the same clock the sweep
	// reads, so the grace comparison is deterministic.
	registry := presence.NewRegistryWithClock(func() time.Time { return now })
	registry.Register("gone", connStub{}, presence.RoleUnknown)
	registry.Unregister("gone", nil)
	registry.Register("fresh", connStub{}, presence.RoleUnknown)

	statuses := status.NewStore()
	statuses.Set("gone", status.Disconnected)
	statuses.Set("fresh", status.Available)

	now = base.Add(time.Hour)
	ender := newFakeEnder()
	r := New(registry, statuses, billing.NewEngine(), ender, testConfig())
	r.clock = func() time.Time { return now }

	r.Sweep(context.Background())

	if _, ok := registry.Lookup("gone"); ok {
		t.Fatalf("expected expired offline record removed")
	}
	if _, ok := statuses.Get("gone"); ok {
		t.Fatalf("expected status record removed with presence")
	}
	if !registry.IsOnline("fresh") {
		t.Fatalf("live user must be untouched")
	}
}

func TestSweepSkipsOfflineUserStillBoundToCall(t *testing.T) {
	registry := presence.NewRegistry()
	registry.Register("u1", connStub{}, presence.RoleUnknown)
	registry.Unregister("u1", nil)

	statuses := status.NewStore()
	statuses.SetCall("u1", status.Busy, "c1")

	ender := newFakeEnder()
	r := New(registry, statuses, billing.NewEngine(), ender, testConfig())
	r.clock = func() time.Time { return time.Now().Add(time.Hour) }

	r.Sweep(context.Background())

	if _, ok := statuses.Get("u1"); !ok {
		t.Fatalf("in-call status record must survive the grace sweep")
	}
	if _, ok := registry.Lookup("u1"); !ok {
		t.Fatalf("in-call presence record must survive the grace sweep")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.SweepInterval = time.Millisecond
	r := New(presence.NewRegistry(), status.NewStore(), billing.NewEngine(), newFakeEnder(), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}
