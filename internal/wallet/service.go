package wallet

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"voicecall-platform/pkg/utils"

	"github.com/google/uuid"
)

// Service provides user coin-wallet operations.
//
// Money invariants:
// - No balance updates without a ledger entry
// - Ledger is append-only (immutable)
// - All money operations must be executed in a DB transaction
//
// Balance strategy:
// - Balance is stored in a projection table (coin_balances) updated
//   atomically alongside ledger inserts. The FOR UPDATE row lock serializes
//   concurrent deductions and balance reads for the same user.
type Service struct {
	db *sql.DB
	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

type CreditRequest struct {
	Coins          int64           `json:"coins"`
	Type           LedgerEntryType `json:"type,omitempty"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       string          `json:"metadata,omitempty"`
}

type DebitRequest struct {
	Coins          int64  `json:"coins"`
	ExternalRef    string `json:"external_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Metadata       string `json:"metadata,omitempty"`
}

var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidArgument   = errors.New("invalid argument")
)

// GetBalance returns the user's coin balance. A user with no wallet activity
// yet reads as ErrNotFound; callers treat that as zero.
func (s *Service) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, ErrInvalidArgument
	}
	return getBalance(ctx, s.db, userID)
}

// Credit adds coins to the user's balance (top-up, revenue share).
func (s *Service) Credit(ctx context.Context, userID string, req CreditRequest) (CoinLedger, Balance, error) {
	if err := validateMoneyReq(userID, req.Coins, req.IdempotencyKey); err != nil {
		return CoinLedger{}, Balance{}, err
	}

	entryType := req.Type
	if entryType == "" {
		entryType = LedgerEntryTypeCredit
	}
	if entryType != LedgerEntryTypeCredit && entryType != LedgerEntryTypeRevenueShare {
		return CoinLedger{}, Balance{}, ErrInvalidArgument
	}

	now := s.clock().UTC()
	ledgerID := uuid.NewString()

	var outLedger CoinLedger
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureBalanceRow(ctx, tx, userID, now); err != nil {
			return err
		}
		if _, err := getBalanceForUpdate(ctx, tx, userID); err != nil {
			return err
		}

		// Idempotency: if a ledger entry already exists for this user+key,
		// return it and the current balance.
		if existing, ok, err := findLedgerByIdempotency(ctx, tx, userID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			b, err := getBalanceTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		entry := CoinLedger{
			ID:             ledgerID,
			UserID:         userID,
			Type:           entryType,
			Coins:          req.Coins,
			ExternalRef:    req.ExternalRef,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		b, err := applyBalanceDelta(ctx, tx, userID, req.Coins, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outBal = b
		return nil
	})

	return outLedger, outBal, err
}

// Debit removes coins from the user's balance, failing with
// ErrInsufficientFunds when the balance cannot cover the full amount.
func (s *Service) Debit(ctx context.Context, userID string, req DebitRequest) (CoinLedger, Balance, error) {
	return s.debit(ctx, userID, req, false)
}

// DebitUpTo removes up to req.Coins, clamping to the available balance.
// Used by the call-end path: the billed amount always lands in the mirror
// record, but a caller who ran dry mid-call is drained rather than pushed
// negative. The actual deducted amount is the returned ledger entry's Coins
// (negated).
func (s *Service) DebitUpTo(ctx context.Context, userID string, req DebitRequest) (CoinLedger, Balance, error) {
	return s.debit(ctx, userID, req, true)
}

func (s *Service) debit(ctx context.Context, userID string, req DebitRequest, clamp bool) (CoinLedger, Balance, error) {
	if err := validateMoneyReq(userID, req.Coins, req.IdempotencyKey); err != nil {
		return CoinLedger{}, Balance{}, err
	}

	now := s.clock().UTC()
	ledgerID := uuid.NewString()

	var outLedger CoinLedger
	var outBal Balance

	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := ensureBalanceRow(ctx, tx, userID, now); err != nil {
			return err
		}

		if existing, ok, err := findLedgerByIdempotency(ctx, tx, userID, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			outLedger = existing
			b, err := getBalanceTx(ctx, tx, userID)
			if err != nil {
				return err
			}
			outBal = b
			return nil
		}

		b, err := getBalanceForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}

		amount := req.Coins
		if b.Coins < amount {
			if !clamp {
				return ErrInsufficientFunds
			}
			amount = b.Coins
		}

		entry := CoinLedger{
			ID:             ledgerID,
			UserID:         userID,
			Type:           LedgerEntryTypeDebit,
			Coins:          -amount,
			ExternalRef:    req.ExternalRef,
			IdempotencyKey: req.IdempotencyKey,
			Metadata:       req.Metadata,
			CreatedAt:      now,
		}
		if err := insertLedger(ctx, tx, entry); err != nil {
			return err
		}

		out, err := applyBalanceDelta(ctx, tx, userID, -amount, now)
		if err != nil {
			return err
		}
		outLedger = entry
		outBal = out
		return nil
	})

	return outLedger, outBal, err
}

func validateMoneyReq(userID string, coins int64, idempotencyKey string) error {
	if userID == "" {
		return ErrInvalidArgument
	}
	if idempotencyKey == "" {
		return ErrInvalidArgument
	}
	if coins <= 0 {
		return ErrInvalidArgument
	}
	return nil
}
