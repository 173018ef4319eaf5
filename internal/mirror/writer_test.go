package mirror

import (
	"testing"
	"time"
)

func TestWriter_AppliesEnqueuedRecords(t *testing.T) {
	repo := NewMemoryRepo()
	w := NewWriter(repo)
	w.Start()

	w.Enqueue(CallRecord{CallID: "c1", Status: "initiated"})
	w.Enqueue(CallRecord{CallID: "c1", Status: "ended", DurationSeconds: 40, CoinsDeducted: 8})
	w.Stop()

	rec, ok := repo.Records["c1"]
	if !ok {
		t.Fatalf("expected record to be written")
	}
	if rec.Status != "ended" || rec.CoinsDeducted != 8 {
		t.Fatalf("expected final state applied, got %+v", rec)
	}
}

func TestWriter_RetriesTransientFailures(t *testing.T) {
	repo := NewMemoryRepo()
	repo.FailUpserts = 2

	w := NewWriter(repo)
	w.backoff = time.Millisecond
	w.Start()

	w.Enqueue(CallRecord{CallID: "c1", Status: "ended"})
	w.Stop()

	if _, ok := repo.Records["c1"]; !ok {
		t.Fatalf("expected record after retries")
	}
	if repo.Upserts != 3 {
		t.Fatalf("expected 3 attempts, got %d", repo.Upserts)
	}
}
