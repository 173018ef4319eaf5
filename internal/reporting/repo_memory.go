package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"voicecall-platform/internal/mirror"
	"voicecall-platform/internal/wallet"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
// It enforces user isolation on reads.

type MemoryRepo struct {
	mu sync.Mutex

	Calls   []mirror.CallRecord
	Ledgers []wallet.CoinLedger
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) ListCalls(ctx context.Context, userID string, from, to time.Time) ([]mirror.CallRecord, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]mirror.CallRecord, 0)
	for _, c := range r.Calls {
		if c.CallerID != userID && c.RecipientID != userID {
			continue
		}
		if !c.CreatedAt.IsZero() {
			if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) ListCoinLedger(ctx context.Context, userID string, from, to time.Time) ([]wallet.CoinLedger, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wallet.CoinLedger, 0)
	for _, l := range r.Ledgers {
		if l.UserID != userID {
			continue
		}
		if !l.CreatedAt.IsZero() {
			if l.CreatedAt.Before(from) || !l.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, l)
	}
	return out, nil
}
