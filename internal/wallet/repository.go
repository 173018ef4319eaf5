package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// NOTE: This repository assumes the following tables exist:
// - coin_ledger (immutable append-only)
// - coin_balances (projection)
//
// It also assumes an idempotency constraint:
// UNIQUE (user_id, idempotency_key) on coin_ledger.

// ensureBalanceRow creates the zero-balance projection row if missing so it
// can subsequently be locked FOR UPDATE.
func ensureBalanceRow(ctx context.Context, tx *sql.Tx, userID string, now time.Time) error {
	const q = `
INSERT INTO coin_balances (user_id, coins, updated_at)
VALUES ($1, 0, $2)
ON CONFLICT (user_id) DO NOTHING
`
	_, err := tx.ExecContext(ctx, q, userID, now)
	return err
}

// getBalanceForUpdate locks the projection row to serialize concurrent money
// operations per user.
func getBalanceForUpdate(ctx context.Context, tx *sql.Tx, userID string) (Balance, error) {
	const q = `
SELECT user_id, coins, updated_at
FROM coin_balances
WHERE user_id = $1
FOR UPDATE
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.Coins, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func getBalance(ctx context.Context, db *sql.DB, userID string) (Balance, error) {
	const q = `
SELECT user_id, coins, updated_at
FROM coin_balances
WHERE user_id = $1
`
	var b Balance
	if err := db.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.Coins, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func getBalanceTx(ctx context.Context, tx *sql.Tx, userID string) (Balance, error) {
	const q = `
SELECT user_id, coins, updated_at
FROM coin_balances
WHERE user_id = $1
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&b.UserID, &b.Coins, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Balance{}, ErrNotFound
		}
		return Balance{}, err
	}
	return b, nil
}

func findLedgerByIdempotency(ctx context.Context, tx *sql.Tx, userID, key string) (CoinLedger, bool, error) {
	const q = `
SELECT id, user_id, type, coins, external_ref, idempotency_key, metadata, created_at
FROM coin_ledger
WHERE user_id = $1 AND idempotency_key = $2
LIMIT 1
`
	var e CoinLedger
	err := tx.QueryRowContext(ctx, q, userID, key).Scan(
		&e.ID,
		&e.UserID,
		&e.Type,
		&e.Coins,
		&e.ExternalRef,
		&e.IdempotencyKey,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CoinLedger{}, false, nil
		}
		return CoinLedger{}, false, err
	}
	return e, true, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, e CoinLedger) error {
	const q = `
INSERT INTO coin_ledger (
  id, user_id, type, coins, external_ref, idempotency_key, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8
)
`
	_, err := tx.ExecContext(ctx, q,
		e.ID,
		e.UserID,
		e.Type,
		e.Coins,
		e.ExternalRef,
		e.IdempotencyKey,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, userID string, delta int64, now time.Time) (Balance, error) {
	const q = `
UPDATE coin_balances
SET coins = coins + $2, updated_at = $3
WHERE user_id = $1
RETURNING user_id, coins, updated_at
`
	var b Balance
	if err := tx.QueryRowContext(ctx, q, userID, delta, now).Scan(&b.UserID, &b.Coins, &b.UpdatedAt); err != nil {
		return Balance{}, err
	}
	return b, nil
}
