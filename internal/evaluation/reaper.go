package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"coin-journal/internal/domain"
	"coin-journal/internal/observability"
	"coin-journal/internal/storage"
)

// DefaultMaxRunning is how long a RUNNING job may go without an update
// before the reaper treats it as orphaned.
const DefaultMaxRunning = 5 * time.Minute

// Reaper fails RUNNING jobs whose worker died without reaching a terminal
// state (crash, kill, lost node). Without it an orphaned row would block
// re-submission for its (user, trade) pair forever.
type Reaper struct {
	ledger     storage.JobLedger
	logger     *log.Logger
	maxRunning time.Duration
	now        func() time.Time
}

// ReaperOptions configures the Reaper.
type ReaperOptions struct {
	Ledger     storage.JobLedger
	Logger     *log.Logger
	MaxRunning time.Duration
	Now        func() time.Time
}

// NewReaper creates a reaper.
func NewReaper(opts ReaperOptions) *Reaper {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.MaxRunning <= 0 {
		opts.MaxRunning = DefaultMaxRunning
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Reaper{
		ledger:     opts.Ledger,
		logger:     opts.Logger,
		maxRunning: opts.MaxRunning,
		now:        opts.Now,
	}
}

// Sweep fails every RUNNING job not updated within the staleness window and
// returns how many were reaped. A job that reaches a terminal state between
// listing and failing is skipped.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.maxRunning)

	stale, err := r.ledger.ListStaleRunning(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("list stale running jobs: %w", err)
	}

	reaped := 0
	for _, job := range stale {
		if err := r.ledger.MarkFailed(ctx, job.JobID, domain.FailReasonTimeout); err != nil {
			if errors.Is(err, storage.ErrInvalidTransition) || errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return reaped, fmt.Errorf("reap job %s: %w", job.JobID, err)
		}
		reaped++
		observability.RecordJobReaped()
		observability.RecordJobFailed(domain.FailReasonTimeout)
		r.logger.Printf("[reaper] failed stale job %s (user=%d trade=%d, last update %s)",
			job.JobID, job.UserID, job.TradeID, time.UnixMilli(job.UpdatedAt).UTC().Format(time.RFC3339))
	}
	return reaped, nil
}
