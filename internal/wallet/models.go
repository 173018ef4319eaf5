package wallet

import "time"

// Balances are user-scoped and denominated in whole coins.
//
// Money invariants:
// - No balance update without a ledger entry.
// - Ledger is append-only (immutable).
// - All money operations execute in a DB transaction.

// Balance is the projection row for one user's coin balance.
type Balance struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Coins     int64     `json:"coins" db:"coins"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// CoinLedger is an immutable append-only entry. Each row represents coins
// credited to or debited from a user.
type CoinLedger struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	// Type categorizes the ledger entry. Keep stable.
	Type LedgerEntryType `json:"type" db:"type"`

	// Coins is the signed amount. Credits are positive, debits negative.
	Coins int64 `json:"coins" db:"coins"`

	// ExternalRef links the entry to its cause: call_id, purchase order id,
	// revenue-share source call, etc.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	// IdempotencyKey is required for safe retries of money-posting
	// operations. Call charges use the call_id, which makes a double charge
	// for one call impossible at the ledger level.
	IdempotencyKey string `json:"idempotency_key" db:"idempotency_key"`

	// Metadata is optional JSON for audit/debug (store as JSONB in Postgres).
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type LedgerEntryType string

const (
	LedgerEntryTypeCredit       LedgerEntryType = "credit"        // top-up, adjustment
	LedgerEntryTypeDebit        LedgerEntryType = "debit"         // call usage charge
	LedgerEntryTypeRevenueShare LedgerEntryType = "revenue_share" // recipient's share of a call charge
)
