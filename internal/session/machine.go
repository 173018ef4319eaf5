package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"voicecall-platform/internal/billing"
	"voicecall-platform/internal/config"
	"voicecall-platform/internal/mirror"
	"voicecall-platform/internal/notify"
	"voicecall-platform/internal/presence"
	"voicecall-platform/internal/status"

	"github.com/google/uuid"
)

// Rejection is an expected, user-facing refusal of a call operation. It is
// reported back to the requester as a structured reason, never surfaced as
// a system fault.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return "call rejected: " + r.Reason }

func reject(reason string) *Rejection { return &Rejection{Reason: reason} }

// Rejection reasons. Part of the client contract; keep stable.
const (
	ReasonBusy                = "busy"
	ReasonRinging             = "ringing"
	ReasonUnavailable         = "unavailable"
	ReasonOfflineReject       = "offline"
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonNotFound            = "call_not_found"
	ReasonUnauthorized        = "unauthorized"
	ReasonAlreadyResolved     = "already_resolved"
	ReasonNotActive           = "not_active"
	ReasonInvalidRequest      = "invalid_request"
	ReasonDuplicateCall       = "duplicate_call"
)

// Locker is the recipient ring lock (internal/calllock).
type Locker interface {
	Acquire(ctx context.Context, recipientID, holderID string) (bool, error)
	Release(ctx context.Context, recipientID, holderID string) (bool, error)
}

// Ledger is the coin balance collaborator (internal/wallet behind an
// adapter). Deduct clamps to the available balance and returns the coins
// actually taken.
type Ledger interface {
	Balance(ctx context.Context, userID string) (int64, error)
	Deduct(ctx context.Context, userID string, coins int64, callID string) (int64, error)
	Credit(ctx context.Context, userID string, coins int64, ref string) error
}

// RateSource resolves the frozen per-second rate at session creation.
type RateSource interface {
	RateFor(ctx context.Context, callType CallType, userID string) (int64, error)
}

// Notifier delivers outbound events best-effort (internal/notify).
type Notifier interface {
	Notify(userID, event string, payload map[string]any)
}

// Pusher answers alternate reachability for offline recipients.
type Pusher interface {
	IsReachable(ctx context.Context, userID string) bool
}

// Auditor records fraud flags and forced terminations (internal/audit).
type Auditor interface {
	LogFraudFlag(ctx context.Context, callID, reporterUserID string, serverSeconds, clientSeconds int) error
	LogForcedTermination(ctx context.Context, callID, reason string) error
}

// MirrorWriter schedules best-effort durable writes (internal/mirror).
type MirrorWriter interface {
	Enqueue(rec mirror.CallRecord)
}

// ringTimer is a cancellable armed timeout.
type ringTimer interface {
	Stop() bool
}

// Machine orchestrates call-session transitions. A single mutex serializes
// every transition, so no two operations can interleave on the same callId
// or recipient; within one call, a transition's side effects are committed
// before the next transition is processed.
//
// Interactions with the ledger, mirror, audit log and push channel are
// issued asynchronously after the in-memory commit: a slow database never
// stalls other users' sessions.
type Machine struct {
	mu sync.Mutex

	store    *Store
	statuses *status.Store
	resolver *status.Resolver
	prefs    status.PrefRepo
	registry *presence.Registry

	lock     Locker
	billing  *billing.Engine
	ledger   Ledger
	rates    RateSource
	notifier Notifier
	pusher   Pusher // nil when no alternate channel is configured
	auditor  Auditor
	mirrors  MirrorWriter

	cfg config.CallConfig

	ringTimers map[string]ringTimer
	newTimer   func(d time.Duration, f func()) ringTimer

	wg sync.WaitGroup
}

// Deps bundles the machine's collaborators.
type Deps struct {
	Store    *Store
	Statuses *status.Store
	Prefs    status.PrefRepo
	Registry *presence.Registry
	Lock     Locker
	Billing  *billing.Engine
	Ledger   Ledger
	Rates    RateSource
	Notifier Notifier
	Pusher   Pusher
	Auditor  Auditor
	Mirror   MirrorWriter
	Config   config.CallConfig
}

func NewMachine(d Deps) *Machine {
	m := &Machine{
		store:    d.Store,
		statuses: d.Statuses,
		prefs:    d.Prefs,
		registry: d.Registry,
		lock:     d.Lock,
		billing:  d.Billing,
		ledger:   d.Ledger,
		rates:    d.Rates,
		notifier: d.Notifier,
		pusher:   d.Pusher,
		auditor:  d.Auditor,
		mirrors:  d.Mirror,
		cfg:      d.Config,
		resolver: &status.Resolver{
			Statuses: d.Statuses,
			Prefs:    d.Prefs,
			Presence: d.Registry,
		},
		ringTimers: map[string]ringTimer{},
	}
	m.newTimer = func(d time.Duration, f func()) ringTimer {
		return time.AfterFunc(d, f)
	}
	return m
}

// Wait blocks until all in-flight async side effects have drained. Used at
// shutdown and in tests.
func (m *Machine) Wait() { m.wg.Wait() }

func (m *Machine) async(f func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		f()
	}()
}

// Join resolves the user's status after a (re)connect. A fresh connect or a
// reconnect-within-grace returns the user to available unless they carry an
// explicit non-call state.
func (m *Machine) Join(ctx context.Context, userID string) status.Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.statuses.Get(userID)
	if !ok || rec.Status == status.Disconnected {
		m.statuses.Set(userID, status.Available)
		return status.Available
	}
	return rec.Status
}

// Initiate places a new call from callerID to recipientID.
//
// Guard order matters: the recipient's resolved availability is checked
// before the lock is taken, and the lock is taken before the recipient is
// moved to ringing. Lock-backend failure denies the call (fail closed).
func (m *Machine) Initiate(ctx context.Context, callerID, recipientID string, callType CallType, callID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if callerID == "" || recipientID == "" || callerID == recipientID || !callType.Valid() {
		return Session{}, reject(ReasonInvalidRequest)
	}

	// One live call per user, caller side included.
	if _, inCall := m.store.ActiveFor(callerID); inCall {
		return Session{}, reject(ReasonBusy)
	}

	res := m.resolver.Resolve(ctx, recipientID)
	if !res.Status.Callable() {
		return Session{}, reject(string(res.Status))
	}

	rate, err := m.rates.RateFor(ctx, callType, callerID)
	if err != nil || rate <= 0 {
		slog.Error("rate resolution failed", "call_type", callType, "err", err)
		return Session{}, reject(ReasonInvalidRequest)
	}

	bal, err := m.ledger.Balance(ctx, callerID)
	if err != nil {
		slog.Warn("balance lookup failed at initiate", "caller_id", callerID, "err", err)
		return Session{}, reject(ReasonInsufficientBalance)
	}
	if bal < billing.CoinsFor(m.cfg.MinBalanceSeconds, rate) {
		return Session{}, reject(ReasonInsufficientBalance)
	}

	acquired, err := m.lock.Acquire(ctx, recipientID, callerID)
	if err != nil {
		// Fail closed: correctness over availability.
		slog.Error("ring lock backend unavailable", "recipient_id", recipientID, "err", err)
		return Session{}, reject(ReasonUnavailable)
	}
	if !acquired {
		return Session{}, reject(ReasonBusy)
	}

	if callID == "" {
		callID = uuid.NewString()
	}

	pendingNotify := false
	if !res.Online {
		optedIn := m.optedIn(ctx, recipientID)
		reachable := m.pusher != nil && m.pusher.IsReachable(ctx, recipientID)
		if !optedIn || !reachable {
			// Record the attempt as a failed session so history explains
			// why the caller was turned away.
			if sess, err := m.store.Create(Session{
				CallID:      callID,
				CallerID:    callerID,
				RecipientID: recipientID,
				CallType:    callType,
				RoomRef:     "room:" + callID,
				RateMilli:   rate,
			}); err == nil {
				sess, _, _ = m.store.Transition(callID, StatusFailed, func(s *Session) {
					s.EndReason = ReasonOffline
				})
				m.scheduleMirror(sess)
			}
			m.releaseLock(recipientID, callerID)
			return Session{}, reject(ReasonOfflineReject)
		}
		pendingNotify = true
	}
	sess, err := m.store.Create(Session{
		CallID:      callID,
		CallerID:    callerID,
		RecipientID: recipientID,
		CallType:    callType,
		RoomRef:     "room:" + callID,
		RateMilli:   rate,
	})
	if err != nil {
		m.releaseLock(recipientID, callerID)
		return Session{}, reject(ReasonDuplicateCall)
	}

	ringState := StatusRinging
	window := m.cfg.RingTimeout
	if pendingNotify {
		// Push delivery is slower and unconfirmed; double the window.
		ringState = StatusPendingNotify
		window = 2 * m.cfg.RingTimeout
	}
	sess, _, _ = m.store.Transition(callID, ringState, nil)

	m.statuses.SetCall(recipientID, status.Ringing, callID)
	m.statuses.SetCall(callerID, status.Busy, callID)

	m.ringTimers[callID] = m.newTimer(window, func() { m.RingTimeout(callID) })

	m.notifier.Notify(recipientID, notify.EventIncoming, map[string]any{
		"call_id":   sess.CallID,
		"caller_id": sess.CallerID,
		"call_type": string(sess.CallType),
		"room_ref":  sess.RoomRef,
	})
	m.scheduleMirror(sess)

	return sess, nil
}

// Accept answers a ringing call.
func (m *Machine) Accept(ctx context.Context, callID, recipientID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.store.Get(callID)
	if !ok {
		return Session{}, reject(ReasonNotFound)
	}
	if sess.RecipientID != recipientID {
		return Session{}, reject(ReasonUnauthorized)
	}
	if !sess.Status.ringing() {
		// Covers a late accept racing a timeout/cancel: the no-regression
		// invariant already resolved the session.
		return Session{}, reject(ReasonAlreadyResolved)
	}

	sess, applied, err := m.store.Transition(callID, StatusAccepted, nil)
	if err != nil || !applied {
		return Session{}, reject(ReasonAlreadyResolved)
	}

	m.disarmRingTimer(callID)

	m.statuses.SetCall(sess.CallerID, status.Busy, callID)
	m.statuses.SetCall(sess.RecipientID, status.Busy, callID)

	// Idempotent: an implicit start from an earlier path is absorbed.
	m.billing.Start(callID, sess.RateMilli, sess.Participants())

	m.releaseLockAsync(sess.RecipientID, sess.CallerID)

	payload := map[string]any{"call_id": sess.CallID, "room_ref": sess.RoomRef}
	m.notifier.Notify(sess.CallerID, notify.EventAccepted, payload)
	m.notifier.Notify(sess.RecipientID, notify.EventAccepted, payload)
	m.scheduleMirror(sess)

	return sess, nil
}

// Decline refuses a ringing call. No billing timer exists pre-accept, so
// there is nothing to stop.
func (m *Machine) Decline(ctx context.Context, callID, recipientID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.store.Get(callID)
	if !ok {
		return Session{}, reject(ReasonNotFound)
	}
	if sess.RecipientID != recipientID {
		return Session{}, reject(ReasonUnauthorized)
	}
	if !sess.Status.ringing() {
		return Session{}, reject(ReasonAlreadyResolved)
	}

	sess, _, _ = m.store.Transition(callID, StatusDeclined, func(s *Session) {
		s.EndReason = ReasonDeclined
	})

	m.resolveRing(sess)
	m.notifier.Notify(sess.CallerID, notify.EventDeclined, map[string]any{
		"call_id": sess.CallID,
		"reason":  string(ReasonDeclined),
	})
	m.scheduleMirror(sess)

	return sess, nil
}

// Cancel is the caller-initiated pre-accept abort.
func (m *Machine) Cancel(ctx context.Context, callID, callerID, reason string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.store.Get(callID)
	if !ok {
		return Session{}, reject(ReasonNotFound)
	}
	if sess.CallerID != callerID {
		return Session{}, reject(ReasonUnauthorized)
	}
	if !sess.Status.ringing() {
		return Session{}, reject(ReasonAlreadyResolved)
	}

	if reason == "" {
		reason = string(ReasonCancelled)
	}
	sess, _, _ = m.store.Transition(callID, StatusCancelled, func(s *Session) {
		s.EndReason = EndReason(reason)
	})

	m.resolveRing(sess)

	// Both the cancellation-specific and the generic end signal, for
	// downstream compatibility.
	payload := map[string]any{"call_id": sess.CallID, "reason": reason}
	m.notifier.Notify(sess.RecipientID, notify.EventCancelled, payload)
	m.notifier.Notify(sess.RecipientID, notify.EventEnded, map[string]any{
		"call_id":          sess.CallID,
		"duration_seconds": 0,
		"coins_deducted":   int64(0),
	})
	m.scheduleMirror(sess)

	return sess, nil
}

// RingTimeout resolves a call nobody answered. Armed at initiate; a late
// firing after the session resolved is a no-op.
func (m *Machine) RingTimeout(callID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.store.Get(callID)
	if !ok || !sess.Status.ringing() {
		return
	}

	sess, _, _ = m.store.Transition(callID, StatusTimeout, func(s *Session) {
		s.EndReason = ReasonRingTimeout
	})

	m.resolveRing(sess)

	payload := map[string]any{"call_id": sess.CallID}
	m.notifier.Notify(sess.CallerID, notify.EventTimedOut, payload)
	m.notifier.Notify(sess.RecipientID, notify.EventTimedOut, payload)
	m.scheduleMirror(sess)
}

// End terminates an accepted/active call at a participant's request.
// clientSeconds is the optional client-reported duration used for the fraud
// comparison; pass hasReport=false when absent.
//
// Ending an already-terminal session is a no-op returning the stored final
// outcome, never a re-charge.
func (m *Machine) End(ctx context.Context, callID, userID string, clientSeconds int, hasReport bool) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.store.Get(callID)
	if !ok {
		return Session{}, reject(ReasonNotFound)
	}
	if !sess.HasParticipant(userID) {
		return Session{}, reject(ReasonUnauthorized)
	}
	if sess.Status.Terminal() {
		return sess, nil
	}
	if !sess.Status.billing() {
		return Session{}, reject(ReasonNotActive)
	}

	var report *int
	if hasReport {
		report = &clientSeconds
	}
	return m.finish(sess, StatusEnded, ReasonUserEnd, report), nil
}

// Disconnected handles a participant's transport loss. In-call disconnects
// terminate immediately (the reconnect grace period does not apply while
// currentCallId is set); the surviving peer gets a distinct signal on top
// of the standard end event.
func (m *Machine) Disconnected(ctx context.Context, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, inCall := m.store.ActiveFor(userID)
	if !inCall {
		if _, ok := m.statuses.Get(userID); ok {
			m.statuses.Set(userID, status.Disconnected)
		}
		return
	}

	switch {
	case sess.Status.billing():
		peer := sess.CallerID
		if userID == sess.CallerID {
			peer = sess.RecipientID
		}
		m.notifier.Notify(peer, notify.EventPeerDisconnected, map[string]any{"call_id": sess.CallID})
		m.finish(sess, StatusDisconnected, ReasonConnectionLost, nil)

	case sess.Status.ringing() && userID == sess.CallerID:
		// The caller vanished while ringing; fold into the cancel path.
		sess, _, _ = m.store.Transition(sess.CallID, StatusCancelled, func(s *Session) {
			s.EndReason = ReasonConnectionLost
		})
		m.resolveRing(sess)
		m.notifier.Notify(sess.RecipientID, notify.EventCancelled, map[string]any{
			"call_id": sess.CallID,
			"reason":  string(ReasonConnectionLost),
		})
		m.scheduleMirror(sess)

	case sess.Status.ringing():
		// The ringing recipient vanished; resolve as an immediate timeout.
		sess, _, _ = m.store.Transition(sess.CallID, StatusTimeout, func(s *Session) {
			s.EndReason = ReasonConnectionLost
		})
		m.resolveRing(sess)
		m.notifier.Notify(sess.CallerID, notify.EventTimedOut, map[string]any{"call_id": sess.CallID})
		m.scheduleMirror(sess)
	}
}

// ForceEnd terminates a call from the staleness sweep.
func (m *Machine) ForceEnd(callID string, reason EndReason) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.store.Get(callID)
	if !ok {
		// Timer without a session: tolerate and reap rather than crash.
		if charge, stopped := m.billing.Stop(callID); stopped {
			slog.Warn("reaped orphaned billing timer", "call_id", callID, "duration_seconds", charge.DurationSeconds)
		}
		return
	}
	if sess.Status.Terminal() || !sess.Status.billing() {
		return
	}
	m.finish(sess, StatusDisconnected, reason, nil)
}

// Heartbeat records a liveness signal scoped to a call or to a user's
// current call. The first heartbeat after accept marks the session active.
func (m *Machine) Heartbeat(ctx context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	callID := id
	if _, ok := m.store.Get(callID); !ok {
		mapped, ok := m.statuses.CallOf(id)
		if !ok {
			return false
		}
		callID = mapped
	}

	if !m.billing.Heartbeat(callID) {
		return false
	}
	m.store.Transition(callID, StatusActive, nil)
	return true
}

// CallStatus returns the live session state for the admin query surface.
func (m *Machine) CallStatus(callID string) (Session, bool) {
	return m.store.Get(callID)
}

// finish is the single termination path shared by End, Disconnected and
// ForceEnd. Callers hold m.mu and have verified the session is in a
// billing state.
func (m *Machine) finish(sess Session, terminal CallStatus, reason EndReason, clientSeconds *int) Session {
	charge, stopped := m.billing.Stop(sess.CallID)
	if !stopped {
		slog.Warn("billing timer already stopped", "call_id", sess.CallID)
	}

	fraud := clientSeconds != nil && billing.SuspiciousReport(charge.DurationSeconds, *clientSeconds)

	sess, _, _ = m.store.Transition(sess.CallID, terminal, func(s *Session) {
		s.EndReason = reason
		s.DurationSeconds = charge.DurationSeconds
		s.CoinsDeducted = charge.Coins
		s.FraudFlagged = fraud
	})

	m.statuses.ClearCall(sess.CallerID, sess.CallID)
	m.statuses.ClearCall(sess.RecipientID, sess.CallID)
	m.disarmRingTimer(sess.CallID)

	payload := map[string]any{
		"call_id":          sess.CallID,
		"duration_seconds": sess.DurationSeconds,
		"coins_deducted":   sess.CoinsDeducted,
		"reason":           string(reason),
	}
	m.notifier.Notify(sess.CallerID, notify.EventEnded, payload)
	m.notifier.Notify(sess.RecipientID, notify.EventEnded, payload)

	m.scheduleMirror(sess)
	m.settle(sess, reason, clientSeconds)
	return sess
}

// settle posts the money and audit side effects of a terminated session
// without blocking the transition path.
func (m *Machine) settle(sess Session, reason EndReason, clientSeconds *int) {
	coins := sess.CoinsDeducted
	fraud := sess.FraudFlagged
	reported := 0
	if clientSeconds != nil {
		reported = *clientSeconds
	}

	m.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if coins > 0 {
			deducted, err := m.ledger.Deduct(ctx, sess.CallerID, coins, sess.CallID)
			if err != nil {
				slog.Error("coin deduction failed", "call_id", sess.CallID, "caller_id", sess.CallerID, "err", err)
			} else if deducted < coins {
				slog.Warn("caller balance drained below charge", "call_id", sess.CallID, "charged", deducted, "billed", coins)
			}

			if share := m.shareFor(coins); share > 0 && err == nil {
				if cerr := m.ledger.Credit(ctx, sess.RecipientID, share, sess.CallID+":share"); cerr != nil {
					slog.Error("revenue share credit failed", "call_id", sess.CallID, "recipient_id", sess.RecipientID, "err", cerr)
				}
			}
		}

		if fraud {
			if err := m.auditor.LogFraudFlag(ctx, sess.CallID, sess.CallerID, sess.DurationSeconds, reported); err != nil {
				slog.Warn("fraud flag audit failed", "call_id", sess.CallID, "err", err)
			}
		}
		if reason == ReasonHeartbeatTimeout || reason == ReasonConnectionLost {
			if err := m.auditor.LogForcedTermination(ctx, sess.CallID, string(reason)); err != nil {
				slog.Warn("forced termination audit failed", "call_id", sess.CallID, "err", err)
			}
		}
	})
}

// shareFor computes the recipient's configured cut, rounded down.
func (m *Machine) shareFor(coins int64) int64 {
	if m.cfg.RevenueSharePercent <= 0 {
		return 0
	}
	return coins * int64(m.cfg.RevenueSharePercent) / 100
}

// resolveRing clears both participants, disarms the timer and releases the
// ring lock for a session resolved before accept.
func (m *Machine) resolveRing(sess Session) {
	m.disarmRingTimer(sess.CallID)
	m.statuses.ClearCall(sess.CallerID, sess.CallID)
	m.statuses.ClearCall(sess.RecipientID, sess.CallID)
	m.releaseLockAsync(sess.RecipientID, sess.CallerID)
}

func (m *Machine) disarmRingTimer(callID string) {
	if t, ok := m.ringTimers[callID]; ok {
		t.Stop()
		delete(m.ringTimers, callID)
	}
}

func (m *Machine) releaseLockAsync(recipientID, holderID string) {
	m.async(func() { m.releaseLock(recipientID, holderID) })
}

func (m *Machine) releaseLock(recipientID, holderID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if _, err := m.lock.Release(ctx, recipientID, holderID); err != nil {
		// The TTL backstop will reap it.
		slog.Warn("ring lock release failed", "recipient_id", recipientID, "err", err)
	}
}

// optedIn reads the durable preference, defaulting to opted-in when no row
// exists.
func (m *Machine) optedIn(ctx context.Context, userID string) bool {
	optedIn, found, err := m.prefs.Get(ctx, userID)
	if err != nil {
		slog.Warn("preference lookup failed", "user_id", userID, "err", err)
		return true
	}
	return !found || optedIn
}

func (m *Machine) scheduleMirror(sess Session) {
	m.mirrors.Enqueue(mirror.CallRecord{
		CallID:          sess.CallID,
		CallerID:        sess.CallerID,
		RecipientID:     sess.RecipientID,
		CallType:        string(sess.CallType),
		RoomRef:         sess.RoomRef,
		Status:          string(sess.Status),
		EndReason:       string(sess.EndReason),
		DurationSeconds: sess.DurationSeconds,
		CoinsDeducted:   sess.CoinsDeducted,
		FraudFlagged:    sess.FraudFlagged,
		CreatedAt:       sess.CreatedAt,
	})
}

// CleanupTerminal removes terminal sessions older than maxAge from the
// authoritative store. The mirror row is the durable history; the in-memory
// record only needs to survive long enough to absorb duplicate end attempts.
func (m *Machine) CleanupTerminal(maxAge time.Duration, now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, sess := range m.store.Terminal() {
		if sess.EndedAt.IsZero() || now.Sub(sess.EndedAt) < maxAge {
			continue
		}
		m.store.Remove(sess.CallID)
		removed++
	}
	return removed
}
