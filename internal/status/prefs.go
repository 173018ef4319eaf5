package status

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PrefRepo persists the durable call opt-in flag.
//
// This flag is explicit user intent and must not be conflated with transport
// presence: a user may be opted in while offline (app backgrounded), which is
// a different case from an explicit opt-out.
type PrefRepo interface {
	Get(ctx context.Context, userID string) (optedIn bool, found bool, err error)
	Set(ctx context.Context, userID string, optedIn bool) error
}

// PostgresPrefRepo stores preferences in the call_preferences table:
//
//	CREATE TABLE call_preferences (
//	  user_id    TEXT PRIMARY KEY,
//	  opted_in   BOOLEAN NOT NULL,
//	  updated_at TIMESTAMPTZ NOT NULL
//	)
type PostgresPrefRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresPrefRepo(db *sql.DB) *PostgresPrefRepo {
	return &PostgresPrefRepo{db: db, clock: time.Now}
}

func (r *PostgresPrefRepo) Get(ctx context.Context, userID string) (bool, bool, error) {
	const q = `SELECT opted_in FROM call_preferences WHERE user_id = $1`
	var optedIn bool
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(&optedIn); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, false, nil
		}
		return false, false, err
	}
	return optedIn, true, nil
}

func (r *PostgresPrefRepo) Set(ctx context.Context, userID string, optedIn bool) error {
	const q = `
INSERT INTO call_preferences (user_id, opted_in, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id)
DO UPDATE SET opted_in = EXCLUDED.opted_in, updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q, userID, optedIn, r.clock().UTC())
	return err
}

// MemoryPrefRepo is an in-memory PrefRepo for tests and early development.
type MemoryPrefRepo struct {
	Prefs map[string]bool
}

func NewMemoryPrefRepo() *MemoryPrefRepo { return &MemoryPrefRepo{Prefs: map[string]bool{}} }

func (r *MemoryPrefRepo) Get(ctx context.Context, userID string) (bool, bool, error) {
	v, ok := r.Prefs[userID]
	return v, ok, nil
}

func (r *MemoryPrefRepo) Set(ctx context.Context, userID string, optedIn bool) error {
	r.Prefs[userID] = optedIn
	return nil
}
