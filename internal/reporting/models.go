package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one user.

type CallsSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

type CallsSummary struct {
	UserID string `json:"user_id"`

	TotalCalls        int `json:"total_calls"`
	EndedCalls        int `json:"ended_calls"`
	DeclinedCalls     int `json:"declined_calls"`
	TimedOutCalls     int `json:"timed_out_calls"`
	CancelledCalls    int `json:"cancelled_calls"`
	DisconnectedCalls int `json:"disconnected_calls"`
	FailedCalls       int `json:"failed_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	TotalCoinsDeducted int64 `json:"total_coins_deducted"`
	FraudFlaggedCalls  int   `json:"fraud_flagged_calls"`

	// AnswerRate is answered calls (ended, disconnected or still live after
	// accept) over all attempts.
	AnswerRate float64 `json:"answer_rate"`
}

// SpendSummaryRequest requests aggregated coin movement for one user.
// Spend is derived from immutable coin ledger entries.

type SpendSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

type SpendSummary struct {
	UserID string `json:"user_id"`

	TotalDebitCoins  int64 `json:"total_debit_coins"`
	TotalCreditCoins int64 `json:"total_credit_coins"`
	NetDeltaCoins    int64 `json:"net_delta_coins"`

	CallSpendCoins     int64 `json:"call_spend_coins"`
	RevenueShareCoins  int64 `json:"revenue_share_coins"`
	TopUpCoins         int64 `json:"top_up_coins"`
	LedgerEntriesCount int   `json:"ledger_entries_count"`
}
