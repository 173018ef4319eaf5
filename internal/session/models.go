package session

import "time"

// CallType fixes the billing rate for the whole session.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the session state-machine state. Transitions are monotonic:
// a session never moves to a state ranked at or below its current one.
type CallStatus string

const (
	StatusInitiated CallStatus = "initiated"
	StatusRinging   CallStatus = "ringing"
	// StatusPendingNotify is the degraded ring state used when the recipient
	// has no live connection but is reachable through the push channel.
	// Delivery is unconfirmed, so it gets an extended (2x) ring window.
	StatusPendingNotify CallStatus = "pending_notify"
	StatusAccepted      CallStatus = "accepted"
	StatusActive        CallStatus = "active"
	StatusEnded         CallStatus = "ended"
	StatusDeclined      CallStatus = "declined"
	StatusCancelled     CallStatus = "cancelled"
	StatusTimeout       CallStatus = "timeout"
	StatusDisconnected  CallStatus = "disconnected"
	StatusFailed        CallStatus = "failed"
)

// statusRank orders states for the no-regression invariant. Terminal states
// share the highest rank so no terminal state can replace another.
var statusRank = map[CallStatus]int{
	StatusInitiated:     0,
	StatusRinging:       1,
	StatusPendingNotify: 1,
	StatusAccepted:      2,
	StatusActive:        3,
	StatusEnded:         4,
	StatusDeclined:      4,
	StatusCancelled:     4,
	StatusTimeout:       4,
	StatusDisconnected:  4,
	StatusFailed:        4,
}

// Terminal reports whether the status is final. Once terminal, no further
// field mutation is permitted except the already-scheduled mirror write.
func (s CallStatus) Terminal() bool {
	return statusRank[s] == 4
}

// ringing reports whether the session is waiting on the recipient.
func (s CallStatus) ringing() bool {
	return s == StatusRinging || s == StatusPendingNotify
}

// billing reports whether a billing timer should exist for this status.
func (s CallStatus) billing() bool {
	return s == StatusAccepted || s == StatusActive
}

// EndReason classifies how a session terminated.
type EndReason string

const (
	ReasonUserEnd          EndReason = "user_end"
	ReasonConnectionLost   EndReason = "connection_lost"
	ReasonHeartbeatTimeout EndReason = "heartbeat_timeout"
	ReasonRingTimeout      EndReason = "ring_timeout"
	ReasonDeclined         EndReason = "declined"
	ReasonCancelled        EndReason = "cancelled"
	ReasonOffline          EndReason = "offline"
)

// Session is the authoritative in-memory record of one call. The durable
// mirror is an eventually consistent projection; live decisions never read
// it.
//
// Invariant: RateMilli is fixed at creation from CallType and never
// recomputed mid-session.
type Session struct {
	CallID      string     `json:"call_id"`
	CallerID    string     `json:"caller_id"`
	RecipientID string     `json:"recipient_id"`
	CallType    CallType   `json:"call_type"`
	RoomRef     string     `json:"room_ref"`
	Status      CallStatus `json:"status"`

	// RateMilli is the coin rate in milli-coins per second.
	RateMilli int64 `json:"rate_milli"`

	CreatedAt  time.Time `json:"created_at"`
	AcceptedAt time.Time `json:"accepted_at,omitempty"`
	EndedAt    time.Time `json:"ended_at,omitempty"`

	EndReason EndReason `json:"end_reason,omitempty"`

	// Final billing outcome, set exactly once at termination.
	DurationSeconds int   `json:"duration_seconds"`
	CoinsDeducted   int64 `json:"coins_deducted"`

	// FraudFlagged marks a client/server duration mismatch beyond tolerance.
	// Audit metadata only; the server duration is always charged.
	FraudFlagged bool `json:"fraud_flagged,omitempty"`
}

// Participants returns both user ids.
func (s *Session) Participants() []string {
	return []string{s.CallerID, s.RecipientID}
}

// HasParticipant reports whether userID is on the call.
func (s *Session) HasParticipant(userID string) bool {
	return userID == s.CallerID || userID == s.RecipientID
}
