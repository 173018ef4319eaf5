package push

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"
)

// PostgresTokenRepo stores one token per user (latest device wins).
type PostgresTokenRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresTokenRepo(db *sql.DB) *PostgresTokenRepo {
	return &PostgresTokenRepo{db: db, clock: time.Now}
}

func (r *PostgresTokenRepo) Get(ctx context.Context, userID string) (string, bool, error) {
	const q = `SELECT token FROM push_tokens WHERE user_id = $1`
	var token string
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(&token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return token, true, nil
}

func (r *PostgresTokenRepo) Set(ctx context.Context, userID, token string) error {
	const q = `
INSERT INTO push_tokens (user_id, token, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (user_id)
DO UPDATE SET token = EXCLUDED.token, updated_at = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q, userID, token, r.clock().UTC())
	return err
}

func (r *PostgresTokenRepo) Delete(ctx context.Context, userID string) error {
	const q = `DELETE FROM push_tokens WHERE user_id = $1`
	_, err := r.db.ExecContext(ctx, q, userID)
	return err
}

// MemoryTokenRepo is an in-memory TokenRepo for tests and early development.
type MemoryTokenRepo struct {
	mu     sync.Mutex
	Tokens map[string]string
}

func NewMemoryTokenRepo() *MemoryTokenRepo { return &MemoryTokenRepo{Tokens: map[string]string{}} }

func (r *MemoryTokenRepo) Get(ctx context.Context, userID string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.Tokens[userID]
	return t, ok, nil
}

func (r *MemoryTokenRepo) Set(ctx context.Context, userID, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Tokens[userID] = token
	return nil
}

func (r *MemoryTokenRepo) Delete(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Tokens, userID)
	return nil
}
