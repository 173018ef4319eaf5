package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends audit events:
//
//	CREATE TABLE audit_events (
//	  id            TEXT PRIMARY KEY,
//	  type          TEXT NOT NULL,
//	  actor_user_id TEXT NOT NULL DEFAULT '',
//	  actor_role    TEXT NOT NULL DEFAULT '',
//	  call_id       TEXT NOT NULL DEFAULT '',
//	  user_id       TEXT NOT NULL DEFAULT '',
//	  message       TEXT NOT NULL DEFAULT '',
//	  metadata      JSONB,
//	  created_at    TIMESTAMPTZ NOT NULL
//	)
//
// INSERT-only; no update or delete path exists in code.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (id, type, actor_user_id, actor_role, call_id, user_id, message, metadata, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,'')::jsonb,$9)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.ActorUserID,
		e.ActorRole,
		e.CallID,
		e.UserID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
