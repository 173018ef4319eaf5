package mirror

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryRepo is a simple in-memory call-record repository for tests and
// early development.
type MemoryRepo struct {
	mu      sync.Mutex
	Records map[string]CallRecord

	// FailUpserts makes the next N upserts fail, for retry tests.
	FailUpserts int
	Upserts     int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{Records: map[string]CallRecord{}} }

func (r *MemoryRepo) Upsert(ctx context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Upserts++
	if r.FailUpserts > 0 {
		r.FailUpserts--
		return errors.New("mirror: simulated upsert failure")
	}
	if existing, ok := r.Records[rec.CallID]; ok && rec.CreatedAt.IsZero() {
		rec.CreatedAt = existing.CreatedAt
	}
	r.Records[rec.CallID] = rec
	return nil
}

func (r *MemoryRepo) Get(ctx context.Context, callID string) (CallRecord, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.Records[callID]
	return rec, ok, nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, from, to time.Time) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallRecord
	for _, rec := range r.Records {
		if rec.CallerID != userID && rec.RecipientID != userID {
			continue
		}
		if !rec.CreatedAt.IsZero() {
			if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}
