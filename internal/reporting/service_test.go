package reporting

import (
	"context"
	"testing"
	"time"

	"voicecall-platform/internal/mirror"
	"voicecall-platform/internal/wallet"
)

func TestReporting_UserIsolation(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Calls = []mirror.CallRecord{
		{CallID: "c1", CallerID: "u1", RecipientID: "u2", Status: "ended", DurationSeconds: 30, CreatedAt: now},
		{CallID: "c2", CallerID: "u3", RecipientID: "u4", Status: "ended", DurationSeconds: 50, CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{UserID: "u1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 {
		t.Fatalf("expected 1 call, got %d", out.TotalCalls)
	}
}

func TestReporting_CallsSummaryAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Calls = []mirror.CallRecord{
		{CallID: "c1", CallerID: "u1", RecipientID: "u2", Status: "ended", DurationSeconds: 100, CoinsDeducted: 20, CreatedAt: now},
		{CallID: "c2", CallerID: "u1", RecipientID: "u3", Status: "declined", CreatedAt: now},
		{CallID: "c3", CallerID: "u4", RecipientID: "u1", Status: "disconnected", DurationSeconds: 40, CoinsDeducted: 8, FraudFlagged: true, CreatedAt: now},
		{CallID: "c4", CallerID: "u1", RecipientID: "u5", Status: "timeout", CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{UserID: "u1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 4 || out.EndedCalls != 1 || out.DeclinedCalls != 1 || out.DisconnectedCalls != 1 || out.TimedOutCalls != 1 {
		t.Fatalf("unexpected breakdown: %+v", out)
	}
	if out.TotalDurationSeconds != 140 || out.AverageDurationSeconds != 35 {
		t.Fatalf("unexpected durations: %+v", out)
	}
	// Only calls where u1 was the paying caller count toward spend.
	if out.TotalCoinsDeducted != 20 {
		t.Fatalf("expected 20 coins deducted, got %d", out.TotalCoinsDeducted)
	}
	if out.FraudFlaggedCalls != 1 {
		t.Fatalf("expected 1 fraud-flagged call")
	}
	if out.AnswerRate != 0.5 {
		t.Fatalf("expected answer rate 0.5, got %v", out.AnswerRate)
	}
}

func TestReporting_SpendSummaryAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.Ledgers = []wallet.CoinLedger{
		{ID: "l1", UserID: "u1", Type: wallet.LedgerEntryTypeCredit, Coins: 500, CreatedAt: now},
		{ID: "l2", UserID: "u1", Type: wallet.LedgerEntryTypeDebit, Coins: -125, ExternalRef: "c1", CreatedAt: now},
		{ID: "l3", UserID: "u1", Type: wallet.LedgerEntryTypeRevenueShare, Coins: 25, ExternalRef: "c9", CreatedAt: now},
		{ID: "l4", UserID: "u2", Type: wallet.LedgerEntryTypeDebit, Coins: -50, CreatedAt: now},
	}
	svc := NewService(repo)

	out, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{UserID: "u1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCreditCoins != 525 || out.TotalDebitCoins != 125 || out.NetDeltaCoins != 400 {
		t.Fatalf("unexpected totals: %+v", out)
	}
	if out.CallSpendCoins != 125 || out.RevenueShareCoins != 25 || out.TopUpCoins != 500 {
		t.Fatalf("unexpected categories: %+v", out)
	}
	if out.LedgerEntriesCount != 3 {
		t.Fatalf("expected 3 entries for u1, got %d", out.LedgerEntriesCount)
	}
}

func TestReporting_RejectsInvalidRange(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	now := time.Now()

	if _, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{UserID: "u1", Range: TimeRange{From: now, To: now}}); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	if _, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{Range: TimeRange{From: now.Add(-time.Hour), To: now}}); err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
