package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"coin-journal/internal/domain"
	"coin-journal/internal/storage"
)

// JobLedger is an in-memory implementation of storage.JobLedger.
// A single mutex stands in for the partial unique index: the in-flight check
// and insert happen under one critical section.
type JobLedger struct {
	mu   sync.Mutex
	data map[string]*domain.EvaluationJob // keyed by job_id
}

// NewJobLedger creates a new in-memory job ledger.
func NewJobLedger() *JobLedger {
	return &JobLedger{
		data: make(map[string]*domain.EvaluationJob),
	}
}

// Compile-time interface check.
var _ storage.JobLedger = (*JobLedger)(nil)

// TryAcquire atomically inserts a new PENDING job unless an in-flight one
// exists for (userID, tradeID).
func (l *JobLedger) TryAcquire(_ context.Context, userID, tradeID, coinID int64, targetDate string) (*domain.EvaluationJob, bool, error) {
	if userID == 0 || tradeID == 0 || targetDate == "" {
		return nil, false, storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, j := range l.data {
		if j.UserID == userID && j.TradeID == tradeID && j.Status.InFlight() {
			copy := *j
			return &copy, true, nil
		}
	}

	now := time.Now().UnixMilli()
	job := &domain.EvaluationJob{
		JobID:      uuid.NewString(),
		UserID:     userID,
		TradeID:    tradeID,
		CoinID:     coinID,
		TargetDate: targetDate,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	l.data[job.JobID] = job

	copy := *job
	return &copy, false, nil
}

// MarkRunning transitions PENDING→RUNNING.
func (l *JobLedger) MarkRunning(_ context.Context, jobID string) error {
	return l.transition(jobID, domain.StatusRunning, "", domain.StatusPending)
}

// MarkCompleted transitions RUNNING→COMPLETED.
func (l *JobLedger) MarkCompleted(_ context.Context, jobID string) error {
	return l.transition(jobID, domain.StatusCompleted, "", domain.StatusRunning)
}

// MarkFailed transitions PENDING|RUNNING→FAILED recording a reason.
func (l *JobLedger) MarkFailed(_ context.Context, jobID string, reason string) error {
	return l.transition(jobID, domain.StatusFailed, reason, domain.StatusPending, domain.StatusRunning)
}

func (l *JobLedger) transition(jobID string, to domain.JobStatus, reason string, from ...domain.JobStatus) error {
	if jobID == "" {
		return storage.ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	job, exists := l.data[jobID]
	if !exists {
		return storage.ErrNotFound
	}
	if job.Status == to {
		// Same transition applied twice; the first application won.
		return nil
	}
	for _, f := range from {
		if job.Status == f {
			job.Status = to
			if reason != "" {
				job.FailReason = reason
			}
			job.UpdatedAt = time.Now().UnixMilli()
			return nil
		}
	}
	return fmt.Errorf("%w: %s → %s (job %s)", storage.ErrInvalidTransition, job.Status, to, jobID)
}

// GetByKey retrieves the most recent job for (userID, tradeID).
func (l *JobLedger) GetByKey(_ context.Context, userID, tradeID int64) (*domain.EvaluationJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var matches []*domain.EvaluationJob
	for _, j := range l.data {
		if j.UserID == userID && j.TradeID == tradeID {
			matches = append(matches, j)
		}
	}
	if len(matches) == 0 {
		return nil, storage.ErrNotFound
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt != matches[j].CreatedAt {
			return matches[i].CreatedAt > matches[j].CreatedAt
		}
		return matches[i].JobID > matches[j].JobID
	})

	copy := *matches[0]
	return &copy, nil
}

// GetByID retrieves a job by its durable identity.
func (l *JobLedger) GetByID(_ context.Context, jobID string) (*domain.EvaluationJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	job, exists := l.data[jobID]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *job
	return &copy, nil
}

// ListStaleRunning retrieves RUNNING jobs not updated since olderThan.
func (l *JobLedger) ListStaleRunning(_ context.Context, olderThan time.Time) ([]*domain.EvaluationJob, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := olderThan.UnixMilli()
	var stale []*domain.EvaluationJob
	for _, j := range l.data {
		if j.Status == domain.StatusRunning && j.UpdatedAt < cutoff {
			copy := *j
			stale = append(stale, &copy)
		}
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt < stale[j].UpdatedAt
	})

	return stale, nil
}
