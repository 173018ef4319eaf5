package reporting

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voicecall-platform/internal/mirror"
	"voicecall-platform/internal/wallet"
)

// PostgresRepo reads reporting rows from the immutable sources: the
// call_records mirror table and the coin_ledger.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) ListCalls(ctx context.Context, userID string, from, to time.Time) ([]mirror.CallRecord, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
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

	var out []mirror.CallRecord
	for rows.Next() {
		var rec mirror.CallRecord
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

func (r *PostgresRepo) ListCoinLedger(ctx context.Context, userID string, from, to time.Time) ([]wallet.CoinLedger, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	const q = `
SELECT id, user_id, type, coins, external_ref, idempotency_key, COALESCE(metadata::text, ''), created_at
FROM coin_ledger
WHERE user_id = $1
  AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC
`
	rows, err := r.db.QueryContext(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []wallet.CoinLedger
	for rows.Next() {
		var l wallet.CoinLedger
		if err := rows.Scan(
			&l.ID,
			&l.UserID,
			&l.Type,
			&l.Coins,
			&l.ExternalRef,
			&l.IdempotencyKey,
			&l.Metadata,
			&l.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}
