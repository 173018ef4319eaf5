package wallet

import (
	"context"
	"errors"
)

// CallLedger adapts Service to the call coordinator's ledger contract.
// Charges clamp to the available balance (a caller who ran dry mid-call is
// drained, never pushed negative) and use the call id as the idempotency
// key, so a replayed settlement cannot double-charge.
type CallLedger struct {
	Svc *Service
}

func (l CallLedger) Balance(ctx context.Context, userID string) (int64, error) {
	bal, err := l.Svc.GetBalance(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return bal.Coins, nil
}

func (l CallLedger) Deduct(ctx context.Context, userID string, coins int64, callID string) (int64, error) {
	entry, _, err := l.Svc.DebitUpTo(ctx, userID, DebitRequest{
		Coins:          coins,
		ExternalRef:    callID,
		IdempotencyKey: callID,
	})
	if err != nil {
		return 0, err
	}
	return -entry.Coins, nil
}

func (l CallLedger) Credit(ctx context.Context, userID string, coins int64, ref string) error {
	_, _, err := l.Svc.Credit(ctx, userID, CreditRequest{
		Coins:          coins,
		Type:           LedgerEntryTypeRevenueShare,
		ExternalRef:    ref,
		IdempotencyKey: ref,
	})
	return err
}
