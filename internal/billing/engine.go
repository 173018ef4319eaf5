package billing

import (
	"log/slog"
	"sync"
	"time"
)

// Engine owns the per-call server-side clocks that are the sole source of
// truth for chargeable duration.
//
// Duration is derived from the monotonic clock (now - startTime) at every
// read instead of being accumulated by repeated interval ticks, so scheduler
// stalls cannot systematically undercount. The observable behavior is the
// same: a non-decreasing integer that grows by one per elapsed second.
//
// Contract:
// - Start is idempotent (first writer wins) so an explicit start and an
//   implicit accept-path start racing each other cannot double-create.
// - Stop is idempotent: the second call returns ok=false and a zero result,
//   never a second charge.
type Engine struct {
	mu     sync.Mutex
	timers map[string]*timer
	clock  func() time.Time
}

type timer struct {
	callID        string
	startTime     time.Time
	rateMilli     int64
	participants  []string
	lastHeartbeat time.Time
}

// Charge is the final billing outcome for one call.
type Charge struct {
	CallID          string
	DurationSeconds int
	RateMilli       int64
	Coins           int64
}

// Snapshot is a live, read-only view of a running timer.
type Snapshot struct {
	CallID          string
	DurationSeconds int
	RateMilli       int64
	Participants    []string
	LastHeartbeat   time.Time
}

func NewEngine() *Engine {
	return &Engine{timers: map[string]*timer{}, clock: time.Now}
}

// NewEngineWithClock is for deterministic tests.
func NewEngineWithClock(clock func() time.Time) *Engine {
	return &Engine{timers: map[string]*timer{}, clock: clock}
}

// Start creates the timer for callID. Returns false if one already exists.
func (e *Engine) Start(callID string, rateMilli int64, participants []string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.timers[callID]; exists {
		return false
	}
	now := e.clock()
	e.timers[callID] = &timer{
		callID:        callID,
		startTime:     now,
		rateMilli:     rateMilli,
		participants:  append([]string(nil), participants...),
		lastHeartbeat: now,
	}
	return true
}

// Heartbeat records a liveness signal from either participant. It only feeds
// the staleness sweep; it never affects duration.
func (e *Engine) Heartbeat(callID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.timers[callID]
	if !ok {
		return false
	}
	t.lastHeartbeat = e.clock()
	return true
}

// Stop deletes the timer and returns the final charge. The second stop for
// the same call returns ok=false with a zero Charge.
func (e *Engine) Stop(callID string) (Charge, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.timers[callID]
	if !ok {
		return Charge{}, false
	}
	delete(e.timers, callID)

	secs := e.elapsedSeconds(t)
	return Charge{
		CallID:          callID,
		DurationSeconds: secs,
		RateMilli:       t.rateMilli,
		Coins:           CoinsFor(secs, t.rateMilli),
	}, true
}

// Get returns a live snapshot without mutating the timer.
func (e *Engine) Get(callID string) (Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.timers[callID]
	if !ok {
		return Snapshot{}, false
	}
	return Snapshot{
		CallID:          callID,
		DurationSeconds: e.elapsedSeconds(t),
		RateMilli:       t.rateMilli,
		Participants:    append([]string(nil), t.participants...),
		LastHeartbeat:   t.lastHeartbeat,
	}, true
}

// Stale returns callIDs whose last heartbeat is older than threshold.
func (e *Engine) Stale(threshold time.Duration) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := e.clock()
	var out []string
	for id, t := range e.timers {
		if now.Sub(t.lastHeartbeat) > threshold {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) elapsedSeconds(t *timer) int {
	d := e.clock().Sub(t.startTime)
	if d < 0 {
		slog.Warn("timer start is in the future, clamping", "call_id", t.callID)
		return 0
	}
	return int(d / time.Second)
}

// CoinsFor computes the charge in whole coins: ceil(seconds * rate). Rates
// are milli-coins per second, so 37s at 200 (0.2 coins/s) charges 8. The
// platform never under-charges a partial coin.
func CoinsFor(durationSeconds int, rateMilli int64) int64 {
	if durationSeconds <= 0 || rateMilli <= 0 {
		return 0
	}
	total := int64(durationSeconds) * rateMilli
	return (total + 999) / 1000
}

// ReportTolerance is the allowed gap between server and client reported
// durations before the session is flagged for audit.
const ReportTolerance = 5 * time.Second

// SuspiciousReport compares the authoritative server duration against a
// client-reported one. The server value always wins for the charge; the flag
// is recorded for audit only.
func SuspiciousReport(serverSeconds, clientSeconds int) bool {
	diff := serverSeconds - clientSeconds
	if diff < 0 {
		diff = -diff
	}
	return diff > int(ReportTolerance/time.Second)
}
