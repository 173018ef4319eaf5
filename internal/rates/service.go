package rates

import (
	"context"
	"errors"
	"time"
)

// CallType mirrors the session call type without importing it; the two
// packages stay decoupled and the machine converts at the boundary.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Rate is a coin rate row. Rates are milli-coins per second using int64
// (the money-minor-units convention: 200 = 0.2 coins/second).
//
// A row with UserID set is a per-user override (e.g., promotional rates);
// empty UserID is the platform default for the call type.
type Rate struct {
	ID       string   `json:"id" db:"id"`
	CallType CallType `json:"call_type" db:"call_type"`
	UserID   string   `json:"user_id,omitempty" db:"user_id"`

	RateMilli int64 `json:"rate_milli" db:"rate_milli"`

	// Effective window for the rate.
	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RateRepository abstracts rate persistence. Implementation can be
// Postgres, cached, etc.
type RateRepository interface {
	// FindRate returns the best matching rate: a per-user override if one is
	// effective at the given time, otherwise the call-type default.
	FindRate(ctx context.Context, callType CallType, userID string, at time.Time) (Rate, bool, error)
}

var ErrInvalidRateReq = errors.New("rates: invalid request")

// Service resolves the coin rate for a new session. The result is frozen
// into the session at creation and never re-read mid-call, so rate changes
// cannot cause billing drift on live calls.
type Service struct {
	repo  RateRepository
	clock func() time.Time

	// Config-backed defaults used when the repository has no row.
	audioDefault int64
	videoDefault int64
}

func NewService(repo RateRepository, audioDefault, videoDefault int64) *Service {
	return &Service{
		repo:         repo,
		clock:        time.Now,
		audioDefault: audioDefault,
		videoDefault: videoDefault,
	}
}

// RateFor resolves the milli-coin per-second rate for a call of the given
// type placed by userID. Repository errors degrade to the configured
// default rather than blocking call setup.
func (s *Service) RateFor(ctx context.Context, callType CallType, userID string) (int64, error) {
	if callType != CallTypeAudio && callType != CallTypeVideo {
		return 0, ErrInvalidRateReq
	}

	if s.repo != nil {
		r, ok, err := s.repo.FindRate(ctx, callType, userID, s.clock().UTC())
		if err == nil && ok && r.RateMilli > 0 {
			return r.RateMilli, nil
		}
	}

	switch callType {
	case CallTypeAudio:
		return s.audioDefault, nil
	default:
		return s.videoDefault, nil
	}
}
