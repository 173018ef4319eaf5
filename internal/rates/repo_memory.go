package rates

import (
	"context"
	"time"
)

// MemoryRepo is a simple in-memory repository useful for tests and early
// development.
//
// NOTE: This is not intended for production; replace with Postgres implementation.
type MemoryRepo struct {
	Rates []Rate
}

func (r *MemoryRepo) FindRate(ctx context.Context, callType CallType, userID string, at time.Time) (Rate, bool, error) {
	_ = ctx

	// Per-user overrides beat defaults; among candidates, the most recent
	// effective row wins.
	var best Rate
	found := false
	bestIsOverride := false

	for _, row := range r.Rates {
		if row.CallType != callType {
			continue
		}
		if row.UserID != "" && row.UserID != userID {
			continue
		}
		if at.Before(row.EffectiveFrom) {
			continue
		}
		if row.EffectiveTo != nil && !at.Before(*row.EffectiveTo) {
			continue
		}

		isOverride := row.UserID != ""
		switch {
		case !found:
		case isOverride && !bestIsOverride:
		case isOverride == bestIsOverride && row.EffectiveFrom.After(best.EffectiveFrom):
		default:
			continue
		}
		best = row
		found = true
		bestIsOverride = isOverride
	}

	return best, found, nil
}
