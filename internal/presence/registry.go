package presence

import (
	"log/slog"
	"sync"
	"time"
)

// Conn is a live, addressable transport connection. The registry never
// depends on the websocket adapter; the gateway implements this.
type Conn interface {
	// Send delivers an outbound event. Best-effort; errors are the
	// caller's concern.
	Send(event string, payload any) error
	// ForceClose closes the connection with a reason visible to the client.
	ForceClose(reason string)
}

// Role classifies a connected user.
type Role string

const (
	RoleCaller    Role = "caller"
	RoleRecipient Role = "recipient"
	RoleUnknown   Role = "unknown"
)

// Record tracks one user's transport presence.
type Record struct {
	UserID         string
	Conn           Conn
	Role           Role
	ConnectedAt    time.Time
	DisconnectedAt time.Time
	IsOnline       bool
}

// Registry tracks which users hold a live connection.
//
// Invariant: at most one live connection per user. A new connection for the
// same user forcibly invalidates the prior one (last writer wins), which
// prevents duplicate-session leaks when a client reconnects before the old
// socket is reaped.
type Registry struct {
	mu      sync.Mutex
	records map[string]*Record
	clock   func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{records: map[string]*Record{}, clock: time.Now}
}

// NewRegistryWithClock is for deterministic tests.
func NewRegistryWithClock(clock func() time.Time) *Registry {
	return &Registry{records: map[string]*Record{}, clock: clock}
}

// Register records a new live connection, force-closing any prior one.
func (r *Registry) Register(userID string, conn Conn, role Role) {
	r.mu.Lock()
	prev := r.records[userID]
	r.records[userID] = &Record{
		UserID:      userID,
		Conn:        conn,
		Role:        role,
		ConnectedAt: r.clock().UTC(),
		IsOnline:    true,
	}
	r.mu.Unlock()

	if prev != nil && prev.IsOnline && prev.Conn != nil && prev.Conn != conn {
		slog.Info("superseding previous connection", "user_id", userID)
		prev.Conn.ForceClose("superseded by a newer connection")
	}
}

// Unregister marks the user offline but retains the record so the
// reconciler can act on it after the grace period. Stale unregisters from a
// superseded connection are ignored and report false: the user is still
// online on the newer socket, so callers must not treat them as gone.
func (r *Registry) Unregister(userID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	if !ok {
		return false
	}
	if conn != nil && rec.Conn != conn {
		return false
	}
	rec.IsOnline = false
	rec.Conn = nil
	rec.DisconnectedAt = r.clock().UTC()
	return true
}

// Lookup returns a copy of the record, if any.
func (r *Registry) Lookup(userID string) (Record, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// IsOnline reports whether the user holds a live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	return ok && rec.IsOnline
}

// ConnOf returns the live connection handle, if any.
func (r *Registry) ConnOf(userID string) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[userID]
	if !ok || !rec.IsOnline || rec.Conn == nil {
		return nil, false
	}
	return rec.Conn, true
}

// Remove deletes the record entirely (reconciled or cleanly re-registered).
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, userID)
}

// OfflineSince returns users whose records have been offline since before
// the cutoff. Used by the reconciler's grace-period sweep.
func (r *Registry) OfflineSince(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for id, rec := range r.records {
		if !rec.IsOnline && !rec.DisconnectedAt.IsZero() && rec.DisconnectedAt.Before(cutoff) {
			out = append(out, id)
		}
	}
	return out
}
