package reporting

import (
	"context"
	"errors"
	"time"

	"voicecall-platform/internal/mirror"
	"voicecall-platform/internal/session"
	"voicecall-platform/internal/wallet"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce user filtering.
// - Implementations should query immutable sources when possible (coin ledger, audit, call records).

type Repository interface {
	ListCalls(ctx context.Context, userID string, from, to time.Time) ([]mirror.CallRecord, error)
	ListCoinLedger(ctx context.Context, userID string, from, to time.Time) ([]wallet.CoinLedger, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.UserID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{UserID: req.UserID}
	answered := 0
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.FraudFlagged {
			out.FraudFlaggedCalls++
		}
		if c.CallerID == req.UserID {
			out.TotalCoinsDeducted += c.CoinsDeducted
		}
		switch session.CallStatus(c.Status) {
		case session.StatusEnded:
			out.EndedCalls++
			answered++
		case session.StatusDisconnected:
			out.DisconnectedCalls++
			answered++
		case session.StatusAccepted, session.StatusActive:
			answered++
		case session.StatusDeclined:
			out.DeclinedCalls++
		case session.StatusTimeout:
			out.TimedOutCalls++
		case session.StatusCancelled:
			out.CancelledCalls++
		case session.StatusFailed:
			out.FailedCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.AnswerRate = float64(answered) / float64(out.TotalCalls)
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.UserID == "" {
		return SpendSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	ledgers, err := s.repo.ListCoinLedger(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{UserID: req.UserID}
	for _, l := range ledgers {
		out.LedgerEntriesCount++
		if l.Coins > 0 {
			out.TotalCreditCoins += l.Coins
		} else {
			out.TotalDebitCoins += -l.Coins
		}

		switch l.Type {
		case wallet.LedgerEntryTypeDebit:
			out.CallSpendCoins += -l.Coins
		case wallet.LedgerEntryTypeRevenueShare:
			out.RevenueShareCoins += l.Coins
		case wallet.LedgerEntryTypeCredit:
			out.TopUpCoins += l.Coins
		}
	}
	out.NetDeltaCoins = out.TotalCreditCoins - out.TotalDebitCoins
	return out, nil
}
