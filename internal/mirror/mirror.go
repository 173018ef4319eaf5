package mirror

import (
	"context"
	"database/sql"
	"time"
)

// CallRecord is the durable projection of a call session: one row per
// call_id, append/update only, never deleted by the core. The in-memory
// session store is authoritative for all live decisions; this table exists
// for history and audit.
type CallRecord struct {
	CallID      string `json:"call_id" db:"call_id"`
	CallerID    string `json:"caller_id" db:"caller_id"`
	RecipientID string `json:"recipient_id" db:"recipient_id"`
	CallType    string `json:"call_type" db:"call_type"`
	RoomRef     string `json:"room_ref" db:"room_ref"`
	Status      string `json:"status" db:"status"`
	EndReason   string `json:"end_reason,omitempty" db:"end_reason"`

	DurationSeconds int   `json:"duration_seconds" db:"duration_seconds"`
	CoinsDeducted   int64 `json:"coins_deducted" db:"coins_deducted"`
	FraudFlagged    bool  `json:"fraud_flagged" db:"fraud_flagged"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Repo is the persistence contract for call records.
type Repo interface {
	Upsert(ctx context.Context, rec CallRecord) error
	Get(ctx context.Context, callID string) (CallRecord, bool, error)
	ListByUser(ctx context.Context, userID string, from, to time.Time) ([]CallRecord, error)
}

// PostgresRepo persists call records:
//
//	CREATE TABLE call_records (
//	  call_id          TEXT PRIMARY KEY,
//	  caller_id        TEXT NOT NULL,
//	  recipient_id     TEXT NOT NULL,
//	  call_type        TEXT NOT NULL,
//	  room_ref         TEXT NOT NULL,
//	  status           TEXT NOT NULL,
//	  end_reason       TEXT NOT NULL DEFAULT '',
//	  duration_seconds INT NOT NULL DEFAULT 0,
//	  coins_deducted   BIGINT NOT NULL DEFAULT 0,
//	  fraud_flagged    BOOLEAN NOT NULL DEFAULT FALSE,
//	  created_at       TIMESTAMPTZ NOT NULL,
//	  updated_at       TIMESTAMPTZ NOT NULL
//	)
type PostgresRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db, clock: time.Now}
}

func (r *PostgresRepo) Upsert(ctx context.Context, rec CallRecord) error {
	const q = `
INSERT INTO call_records (
  call_id, caller_id, recipient_id, call_type, room_ref, status, end_reason,
  duration_seconds, coins_deducted, fraud_flagged, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12
)
ON CONFLICT (call_id)
DO UPDATE SET status = EXCLUDED.status,
              end_reason = EXCLUDED.end_reason,
              duration_seconds = EXCLUDED.duration_seconds,
              coins_deducted = EXCLUDED.coins_deducted,
              fraud_flagged = EXCLUDED.fraud_flagged,
              updated_at = EXCLUDED.updated_at
`
	now := r.clock().UTC()
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := r.db.ExecContext(ctx, q,
		rec.CallID,
		rec.CallerID,
		rec.RecipientID,
		rec.CallType,
		rec.RoomRef,
		rec.Status,
		rec.EndReason,
		rec.DurationSeconds,
		rec.CoinsDeducted,
		rec.FraudFlagged,
		createdAt,
		now,
	)
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, callID string) (CallRecord, bool, error) {
	const q = `
SELECT call_id, caller_id, recipient_id, call_type, room_ref, status, end_reason,
       duration_seconds, coins_deducted, fraud_flagged, created_at, updated_at
FROM call_records
WHERE call_id = $1
`
	var rec CallRecord
	err := r.db.QueryRowContext(ctx, q, callID).Scan(
		&rec.CallID,
		&rec.CallerID,
		&rec.RecipientID,
		&rec.CallType,
		&rec.RoomRef,
		&rec.Status,
		&rec.EndReason,
		&rec.DurationSeconds,
		&rec.CoinsDeducted,
		&rec.FraudFlagged,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return CallRecord{}, false, nil
		}
		return CallRecord{}, false, err
	}
	return rec, true, nil
}

func (r *PostgresRepo) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]CallRecord, error) {
	const q = `
SELECT call_id, caller_id, recipient_id, call_type, room_ref, status, end_reason,
       duration_seconds, coins_deducted, fraud_flagged, created_at, updated_at
FROM call_records
WHERE (caller_id = $1 OR recipient_id = $1)
  AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC
`
	rows, err := r.db.QueryContext(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var rec CallRecord
		if err := rows.Scan(
			&rec.CallID,
			&rec.CallerID,
			&rec.RecipientID,
			&rec.CallType,
			&rec.RoomRef,
			&rec.Status,
			&rec.EndReason,
			&rec.DurationSeconds,
			&rec.CoinsDeducted,
			&rec.FraudFlagged,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
