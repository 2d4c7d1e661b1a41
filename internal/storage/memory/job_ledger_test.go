package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"coin-journal/internal/domain"
	"coin-journal/internal/storage"
)

func acquire(t *testing.T, l *JobLedger, userID, tradeID int64) *domain.EvaluationJob {
	t.Helper()
	job, inFlight, err := l.TryAcquire(context.Background(), userID, tradeID, 7, "2026-03-14")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if inFlight {
		t.Fatal("TryAcquire() reported in-flight for a fresh key")
	}
	return job
}

func TestTryAcquireCreatesPendingJob(t *testing.T) {
	l := NewJobLedger()
	job := acquire(t, l, 1, 100)

	if job.JobID == "" {
		t.Error("JobID is empty")
	}
	if job.Status != domain.StatusPending {
		t.Errorf("Status = %s, want PENDING", job.Status)
	}
	if job.CreatedAt == 0 || job.UpdatedAt == 0 {
		t.Error("timestamps not set")
	}
}

func TestTryAcquireReturnsInFlightJob(t *testing.T) {
	l := NewJobLedger()
	ctx := context.Background()
	first := acquire(t, l, 1, 100)

	second, inFlight, err := l.TryAcquire(ctx, 1, 100, 7, "2026-03-14")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !inFlight {
		t.Error("TryAcquire() must report the existing in-flight job")
	}
	if second.JobID != first.JobID {
		t.Errorf("JobID = %s, want %s", second.JobID, first.JobID)
	}

	// RUNNING still blocks the key.
	if err := l.MarkRunning(ctx, first.JobID); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	_, inFlight, err = l.TryAcquire(ctx, 1, 100, 7, "2026-03-14")
	if err != nil {
		t.Fatalf("TryAcquire() error = %v", err)
	}
	if !inFlight {
		t.Error("RUNNING job must block acquisition")
	}
}

func TestTryAcquireAfterTerminal(t *testing.T) {
	l := NewJobLedger()
	ctx := context.Background()
	first := acquire(t, l, 1, 100)

	if err := l.MarkRunning(ctx, first.JobID); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if err := l.MarkCompleted(ctx, first.JobID); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}

	second := acquire(t, l, 1, 100)
	if second.JobID == first.JobID {
		t.Error("terminal job must not be reused")
	}
}

func TestTryAcquireIndependentKeys(t *testing.T) {
	l := NewJobLedger()
	a := acquire(t, l, 1, 100)
	b := acquire(t, l, 1, 101)
	c := acquire(t, l, 2, 100)

	if a.JobID == b.JobID || a.JobID == c.JobID {
		t.Error("distinct keys must get distinct jobs")
	}
}

func TestTryAcquireConcurrent(t *testing.T) {
	l := NewJobLedger()
	ctx := context.Background()

	const goroutines = 32
	var wg sync.WaitGroup
	created := make(chan string, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, inFlight, err := l.TryAcquire(ctx, 1, 100, 7, "2026-03-14")
			if err != nil {
				t.Errorf("TryAcquire() error = %v", err)
				return
			}
			if !inFlight {
				created <- "new"
			}
		}()
	}
	wg.Wait()
	close(created)

	n := 0
	for range created {
		n++
	}
	if n != 1 {
		t.Errorf("concurrent TryAcquire created %d jobs, want 1", n)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	l := NewJobLedger()
	ctx := context.Background()
	job := acquire(t, l, 1, 100)

	if err := l.MarkRunning(ctx, job.JobID); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if err := l.MarkCompleted(ctx, job.JobID); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}

	got, err := l.GetByID(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", got.Status)
	}
}

func TestTransitionIdempotent(t *testing.T) {
	l := NewJobLedger()
	ctx := context.Background()
	job := acquire(t, l, 1, 100)

	if err := l.MarkRunning(ctx, job.JobID); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	// Re-applying the same transition is a no-op, not an error.
	if err := l.MarkRunning(ctx, job.JobID); err != nil {
		t.Errorf("second MarkRunning() error = %v, want nil", err)
	}

	if err := l.MarkCompleted(ctx, job.JobID); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}
	if err := l.MarkCompleted(ctx, job.JobID); err != nil {
		t.Errorf("second MarkCompleted() error = %v, want nil", err)
	}
}

func TestTransitionInvalid(t *testing.T) {
	l := NewJobLedger()
	ctx := context.Background()

	// PENDING cannot complete directly.
	pending := acquire(t, l, 1, 100)
	if err := l.MarkCompleted(ctx, pending.JobID); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("MarkCompleted(PENDING) error = %v, want ErrInvalidTransition", err)
	}

	// FAILED is terminal.
	failed := acquire(t, l, 1, 101)
	if err := l.MarkFailed(ctx, failed.JobID, "boom"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if err := l.MarkRunning(ctx, failed.JobID); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("MarkRunning(FAILED) error = %v, want ErrInvalidTransition", err)
	}
	if err := l.MarkCompleted(ctx, failed.JobID); !errors.Is(err, storage.ErrInvalidTransition) {
		t.Errorf("MarkCompleted(FAILED) error = %v, want ErrInvalidTransition", err)
	}
}

func TestMarkFailedRecordsReason(t *testing.T) {
	l := NewJobLedger()
	ctx := context.Background()
	job := acquire(t, l, 1, 100)

	if err := l.MarkFailed(ctx, job.JobID, domain.FailReasonTimeout); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}

	got, err := l.GetByID(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Errorf("Status = %s, want FAILED", got.Status)
	}
	if got.FailReason != domain.FailReasonTimeout {
		t.Errorf("FailReason = %q, want %q", got.FailReason, domain.FailReasonTimeout)
	}
}

func TestTransitionUnknownJob(t *testing.T) {
	l := NewJobLedger()
	if err := l.MarkRunning(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("MarkRunning(missing) error = %v, want ErrNotFound", err)
	}
}

func TestGetByKeyReturnsMostRecent(t *testing.T) {
	l := NewJobLedger()
	ctx := context.Background()

	first := acquire(t, l, 1, 100)
	if err := l.MarkFailed(ctx, first.JobID, "boom"); err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	second := acquire(t, l, 1, 100)

	got, err := l.GetByKey(ctx, 1, 100)
	if err != nil {
		t.Fatalf("GetByKey() error = %v", err)
	}
	// CreatedAt may collide at millisecond granularity; accept either job
	// only if timestamps differ, otherwise the tie-break must be stable.
	if got.JobID != second.JobID && got.CreatedAt != first.CreatedAt {
		t.Errorf("GetByKey() = %s, want most recent %s", got.JobID, second.JobID)
	}
}

func TestGetByKeyNotFound(t *testing.T) {
	l := NewJobLedger()
	if _, err := l.GetByKey(context.Background(), 9, 999); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetByKey() error = %v, want ErrNotFound", err)
	}
}

func TestListStaleRunning(t *testing.T) {
	l := NewJobLedger()
	ctx := context.Background()

	running := acquire(t, l, 1, 100)
	if err := l.MarkRunning(ctx, running.JobID); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	// A PENDING job is never reaped.
	acquire(t, l, 1, 101)

	done := acquire(t, l, 1, 102)
	if err := l.MarkRunning(ctx, done.JobID); err != nil {
		t.Fatalf("MarkRunning() error = %v", err)
	}
	if err := l.MarkCompleted(ctx, done.JobID); err != nil {
		t.Fatalf("MarkCompleted() error = %v", err)
	}

	// Everything is stale relative to a future cutoff.
	stale, err := l.ListStaleRunning(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListStaleRunning() error = %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("ListStaleRunning() returned %d jobs, want 1", len(stale))
	}
	if stale[0].JobID != running.JobID {
		t.Errorf("stale job = %s, want %s", stale[0].JobID, running.JobID)
	}

	// Nothing is stale relative to a past cutoff.
	stale, err = l.ListStaleRunning(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ListStaleRunning() error = %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("ListStaleRunning() returned %d jobs, want 0", len(stale))
	}
}

func TestReturnedJobsAreCopies(t *testing.T) {
	l := NewJobLedger()
	ctx := context.Background()
	job := acquire(t, l, 1, 100)

	job.Status = domain.StatusCompleted // mutate the caller's copy

	got, err := l.GetByID(ctx, job.JobID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Status != domain.StatusPending {
		t.Error("mutating a returned job leaked into the ledger")
	}
}
