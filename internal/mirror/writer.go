package mirror

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Writer applies call-record upserts asynchronously with retries. It is the
// write-through half of the dual-persistence model: the in-memory store
// commits first and Enqueue never blocks or fails a live transition. A full
// queue or a dead database costs audit completeness, never call correctness.
type Writer struct {
	repo Repo

	queue   chan CallRecord
	wg      sync.WaitGroup
	retries int
	backoff time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
}

func NewWriter(repo Repo) *Writer {
	return &Writer{
		repo:    repo,
		queue:   make(chan CallRecord, 1024),
		retries: 3,
		backoff: 500 * time.Millisecond,
		quit:    make(chan struct{}),
	}
}

// Start launches the background apply loop.
func (w *Writer) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go w.loop()
	})
}

// Stop drains in-flight writes and stops the loop.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.quit) })
	w.wg.Wait()
}

// Enqueue schedules a best-effort write. Never blocks: if the queue is full
// the record is dropped with a warning.
func (w *Writer) Enqueue(rec CallRecord) {
	select {
	case w.queue <- rec:
	default:
		slog.Warn("mirror queue full, dropping record", "call_id", rec.CallID, "status", rec.Status)
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()
	for {
		select {
		case rec := <-w.queue:
			w.apply(rec)
		case <-w.quit:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case rec := <-w.queue:
					w.apply(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *Writer) apply(rec CallRecord) {
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			time.Sleep(w.backoff * time.Duration(attempt))
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = w.repo.Upsert(ctx, rec)
		cancel()
		if err == nil {
			return
		}
	}
	slog.Error("mirror write failed after retries", "call_id", rec.CallID, "status", rec.Status, "err", err)
}
