package status

import (
	"context"
	"log/slog"
)

// Presence is the subset of the presence registry the resolver needs.
type Presence interface {
	IsOnline(userID string) bool
}

// Resolver answers "can this user currently receive a call" by combining,
// in order: explicit cached status, then the durable opt-in preference
// (defaulting to available when neither exists), gated on a live connection.
type Resolver struct {
	Statuses *Store
	Prefs    PrefRepo
	Presence Presence
}

// Resolution is the derived availability answer for one user.
type Resolution struct {
	Status Status
	Online bool
}

// Resolve never fails: preference-store errors are logged and degrade to the
// opted-in default rather than blocking a call decision on storage health.
func (r *Resolver) Resolve(ctx context.Context, userID string) Resolution {
	online := r.Presence.IsOnline(userID)

	if rec, ok := r.Statuses.Get(userID); ok {
		st := rec.Status
		if !online && st == Available {
			// Explicit status survives the connection; presence decides
			// reachability separately.
			return Resolution{Status: Available, Online: false}
		}
		return Resolution{Status: st, Online: online}
	}

	optedIn, found, err := r.Prefs.Get(ctx, userID)
	if err != nil {
		slog.Warn("preference lookup failed, defaulting to available", "user_id", userID, "err", err)
		return Resolution{Status: Available, Online: online}
	}
	if found && !optedIn {
		return Resolution{Status: Unavailable, Online: online}
	}
	return Resolution{Status: Available, Online: online}
}
