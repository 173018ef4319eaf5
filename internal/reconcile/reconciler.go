package reconcile

import (
	"context"
	"log/slog"
	"time"

	"voicecall-platform/internal/config"
	"voicecall-platform/internal/presence"
	"voicecall-platform/internal/session"
	"voicecall-platform/internal/status"
)

// terminalRetention is how long a terminal session stays in the live store
// to absorb duplicate end attempts before the sweep drops it. History lives
// in the durable mirror.
const terminalRetention = 5 * time.Minute

// CallEnder is the slice of the session coordinator the reconciler drives.
type CallEnder interface {
	ForceEnd(callID string, reason session.EndReason)
	CleanupTerminal(maxAge time.Duration, now time.Time) int
}

// StaleSource reports calls whose participants stopped heartbeating.
// Implemented by the billing engine.
type StaleSource interface {
	Stale(threshold time.Duration) []string
}

// Reconciler is the periodic repair loop. It force-terminates calls with
// stale heartbeats and reaps presence and status records whose owners never
// came back within the reconnect grace period.
//
// In-call transport losses are handled immediately by the coordinator; the
// sweeps here are the backstop for signals that never arrived (process
// kills, network partitions, dropped close frames).
type Reconciler struct {
	registry *presence.Registry
	statuses *status.Store
	stale    StaleSource
	calls    CallEnder

	interval  time.Duration
	grace     time.Duration
	threshold time.Duration

	clock func() time.Time
}

func New(registry *presence.Registry, statuses *status.Store, stale StaleSource, calls CallEnder, cfg config.CallConfig) *Reconciler {
	return &Reconciler{
		registry:  registry,
		statuses:  statuses,
		stale:     stale,
		calls:     calls,
		interval:  cfg.SweepInterval,
		grace:     cfg.ReconnectGrace,
		threshold: cfg.StalenessThreshold,
		clock:     time.Now,
	}
}

// Run executes sweeps until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep performs one reconciliation pass.
func (r *Reconciler) Sweep(ctx context.Context) {
	for _, callID := range r.stale.Stale(r.threshold) {
		slog.Warn("force-terminating stale call", "call_id", callID, "threshold", r.threshold)
		r.calls.ForceEnd(callID, session.ReasonHeartbeatTimeout)
	}

	cutoff := r.clock().Add(-r.grace)
	for _, userID := range r.registry.OfflineSince(cutoff) {
		if _, inCall := r.statuses.CallOf(userID); inCall {
			// The staleness sweep owns in-call cleanup; removing the
			// status record here would orphan the session's bookkeeping.
			continue
		}
		slog.Info("reaping expired offline presence", "user_id", userID, "grace", r.grace)
		r.registry.Remove(userID)
		r.statuses.Remove(userID)
	}

	if removed := r.calls.CleanupTerminal(terminalRetention, r.clock()); removed > 0 {
		slog.Debug("dropped terminal sessions", "count", removed)
	}
}
