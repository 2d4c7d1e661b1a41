package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"coin-journal/internal/domain"
	"coin-journal/internal/storage"
)

// JobLedger implements storage.JobLedger using PostgreSQL.
//
// The at-most-one-in-flight invariant is carried by a partial unique index
// on (user_id, trade_id) WHERE status IN ('PENDING','RUNNING'); TryAcquire
// relies on ON CONFLICT against that index instead of checking first.
type JobLedger struct {
	pool *Pool
}

// NewJobLedger creates a new JobLedger.
func NewJobLedger(pool *Pool) *JobLedger {
	return &JobLedger{pool: pool}
}

// Compile-time interface check.
var _ storage.JobLedger = (*JobLedger)(nil)

const jobColumns = `job_id, user_id, trade_id, coin_id, target_date, status, fail_reason, created_at, updated_at`

// TryAcquire atomically inserts a new PENDING job unless an in-flight one
// exists for (userID, tradeID).
func (l *JobLedger) TryAcquire(ctx context.Context, userID, tradeID, coinID int64, targetDate string) (*domain.EvaluationJob, bool, error) {
	if userID == 0 || tradeID == 0 || targetDate == "" {
		return nil, false, storage.ErrInvalidInput
	}

	insert := `
		INSERT INTO evaluation_jobs (job_id, user_id, trade_id, coin_id, target_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (user_id, trade_id) WHERE status IN ('PENDING', 'RUNNING') DO NOTHING
	`

	// The in-flight job found after a conflicting insert may itself reach a
	// terminal state before we read it back, so the insert is retried.
	for attempt := 0; attempt < 3; attempt++ {
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

		tag, err := l.pool.Exec(ctx, insert,
			job.JobID, job.UserID, job.TradeID, job.CoinID, job.TargetDate, string(job.Status), now)
		if err != nil {
			return nil, false, fmt.Errorf("acquire job: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return job, false, nil
		}

		existing, err := l.getInFlight(ctx, userID, tradeID)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, false, err
		}
		// The blocking job completed between insert and read; try again.
	}

	return nil, false, fmt.Errorf("acquire job: in-flight row kept vanishing for user=%d trade=%d", userID, tradeID)
}

func (l *JobLedger) getInFlight(ctx context.Context, userID, tradeID int64) (*domain.EvaluationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM evaluation_jobs
		WHERE user_id = $1 AND trade_id = $2 AND status IN ('PENDING', 'RUNNING')
	`

	row := l.pool.QueryRow(ctx, query, userID, tradeID)
	job, err := scanJob(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get in-flight job: %w", err)
	}
	return job, nil
}

// MarkRunning transitions PENDING→RUNNING.
func (l *JobLedger) MarkRunning(ctx context.Context, jobID string) error {
	return l.transition(ctx, jobID, domain.StatusRunning, "", domain.StatusPending)
}

// MarkCompleted transitions RUNNING→COMPLETED.
func (l *JobLedger) MarkCompleted(ctx context.Context, jobID string) error {
	return l.transition(ctx, jobID, domain.StatusCompleted, "", domain.StatusRunning)
}

// MarkFailed transitions PENDING|RUNNING→FAILED recording a reason.
func (l *JobLedger) MarkFailed(ctx context.Context, jobID string, reason string) error {
	return l.transition(ctx, jobID, domain.StatusFailed, reason, domain.StatusPending, domain.StatusRunning)
}

// transition applies a conditional UPDATE: the row changes only when its
// current status is one of from. A zero-row update is then classified as
// not-found, idempotent repeat, or invalid order by reading the row back.
func (l *JobLedger) transition(ctx context.Context, jobID string, to domain.JobStatus, reason string, from ...domain.JobStatus) error {
	if jobID == "" {
		return storage.ErrInvalidInput
	}

	fromCodes := make([]string, len(from))
	for i, s := range from {
		fromCodes[i] = string(s)
	}

	update := `
		UPDATE evaluation_jobs
		SET status = $2, fail_reason = NULLIF($3, ''), updated_at = $4
		WHERE job_id = $1 AND status = ANY($5)
	`

	tag, err := l.pool.Exec(ctx, update, jobID, string(to), reason, time.Now().UnixMilli(), fromCodes)
	if err != nil {
		return fmt.Errorf("transition job to %s: %w", to, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	current, err := l.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if current.Status == to {
		// Same transition applied twice; the first application won.
		return nil
	}
	return fmt.Errorf("%w: %s → %s (job %s)", storage.ErrInvalidTransition, current.Status, to, jobID)
}

// GetByKey retrieves the most recent job for (userID, tradeID).
func (l *JobLedger) GetByKey(ctx context.Context, userID, tradeID int64) (*domain.EvaluationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM evaluation_jobs
		WHERE user_id = $1 AND trade_id = $2
		ORDER BY created_at DESC, job_id DESC
		LIMIT 1
	`

	row := l.pool.QueryRow(ctx, query, userID, tradeID)
	job, err := scanJob(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get job by key: %w", err)
	}
	return job, nil
}

// GetByID retrieves a job by its durable identity.
func (l *JobLedger) GetByID(ctx context.Context, jobID string) (*domain.EvaluationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM evaluation_jobs
		WHERE job_id = $1
	`

	row := l.pool.QueryRow(ctx, query, jobID)
	job, err := scanJob(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get job by id: %w", err)
	}
	return job, nil
}

// ListStaleRunning retrieves RUNNING jobs not updated since olderThan.
func (l *JobLedger) ListStaleRunning(ctx context.Context, olderThan time.Time) ([]*domain.EvaluationJob, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM evaluation_jobs
		WHERE status = 'RUNNING' AND updated_at < $1
		ORDER BY updated_at ASC
	`

	rows, err := l.pool.Query(ctx, query, olderThan.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list stale running jobs: %w", err)
	}
	defer rows.Close()

	return scanJobs(rows)
}

func scanJob(row pgx.Row) (*domain.EvaluationJob, error) {
	var job domain.EvaluationJob
	var status string
	var failReason *string
	if err := row.Scan(&job.JobID, &job.UserID, &job.TradeID, &job.CoinID,
		&job.TargetDate, &status, &failReason, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}

	parsed, err := domain.ParseJobStatus(status)
	if err != nil {
		return nil, fmt.Errorf("decode stored status: %w", err)
	}
	job.Status = parsed
	if failReason != nil {
		job.FailReason = *failReason
	}
	return &job, nil
}

func scanJobs(rows pgx.Rows) ([]*domain.EvaluationJob, error) {
	var jobs []*domain.EvaluationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
