package storage

import (
	"context"
	"time"

	"coin-journal/internal/domain"
)

// JobLedger is the durable record of evaluation job lifecycles. Its
// uniqueness constraint on in-flight (user_id, trade_id) pairs is the single
// source of mutual exclusion for duplicate submissions.
type JobLedger interface {
	// TryAcquire atomically inserts a new PENDING job for (userID, tradeID)
	// unless an in-flight job for the pair already exists. When one exists,
	// the existing job is returned with alreadyInFlight=true and no row is
	// written. Implemented as a single conditional insert, never as a
	// read-then-write sequence.
	TryAcquire(ctx context.Context, userID, tradeID, coinID int64, targetDate string) (job *domain.EvaluationJob, alreadyInFlight bool, err error)

	// MarkRunning transitions PENDING→RUNNING. Idempotent: calling on an
	// already-RUNNING job is a no-op. Calling on a terminal job returns
	// ErrInvalidTransition. Returns ErrNotFound for an unknown jobID.
	MarkRunning(ctx context.Context, jobID string) error

	// MarkCompleted transitions RUNNING→COMPLETED, with the same idempotence
	// and ordering rules as MarkRunning.
	MarkCompleted(ctx context.Context, jobID string) error

	// MarkFailed transitions PENDING|RUNNING→FAILED recording a reason.
	// Calling on an already-FAILED job is a no-op (the first reason wins);
	// calling on a COMPLETED job returns ErrInvalidTransition.
	MarkFailed(ctx context.Context, jobID string, reason string) error

	// GetByKey retrieves the most recent job for (userID, tradeID).
	// Returns ErrNotFound when the pair has never been submitted.
	GetByKey(ctx context.Context, userID, tradeID int64) (*domain.EvaluationJob, error)

	// GetByID retrieves a job by its durable identity.
	GetByID(ctx context.Context, jobID string) (*domain.EvaluationJob, error)

	// ListStaleRunning retrieves RUNNING jobs whose last update predates
	// olderThan. Used by the reaper to bound stuck jobs.
	ListStaleRunning(ctx context.Context, olderThan time.Time) ([]*domain.EvaluationJob, error)
}

// ResultStore holds completed evaluation payloads, append-only with
// latest-wins read semantics per trade.
type ResultStore interface {
	// Insert adds a new result. Returns ErrDuplicateKey if result_id exists.
	Insert(ctx context.Context, r *domain.EvaluationResult) error

	// GetLatestByTrade retrieves the most recent result for a trade.
	// Returns ErrNotFound when the trade has no results.
	GetLatestByTrade(ctx context.Context, tradeID int64) (*domain.EvaluationResult, error)

	// ListByTrade retrieves all results for a trade, newest first.
	ListByTrade(ctx context.Context, tradeID int64) ([]*domain.EvaluationResult, error)

	// ListRecent retrieves results created at or after sinceMs (unix ms)
	// across all trades, newest first, capped at limit. Used for report
	// generation.
	ListRecent(ctx context.Context, sinceMs int64, limit int) ([]*domain.EvaluationResult, error)
}

// TickStore provides access to the price tick timeseries.
type TickStore interface {
	// InsertBulk adds multiple ticks. Fails the entire batch on a duplicate
	// (coin_id, timestamp_ms).
	InsertBulk(ctx context.Context, ticks []*domain.PriceTick) error

	// GetByTimeRange retrieves ticks for a coin within [start, end] unix ms
	// (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, coinID int64, start, end int64) ([]*domain.PriceTick, error)

	// LatestTimestamp returns the newest tick timestamp for a coin.
	// Returns ErrNotFound when the coin has no ticks.
	LatestTimestamp(ctx context.Context, coinID int64) (int64, error)
}
