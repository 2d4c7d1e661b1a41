package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"coin-journal/internal/domain"
	"coin-journal/internal/observability"
	"coin-journal/internal/storage"
)

// Default orchestrator tuning.
const (
	DefaultMaxConcurrent = 8
	DefaultEvalTimeout   = 60 * time.Second
)

// failReasonMaxLen bounds evaluator error text stored as a fail reason.
const failReasonMaxLen = 256

// Options configures the Orchestrator.
type Options struct {
	Ledger    storage.JobLedger
	Results   storage.ResultStore
	Evaluator Evaluator
	Logger    *log.Logger

	// MaxConcurrent caps simultaneously executing evaluations.
	MaxConcurrent int
	// EvalTimeout bounds a single evaluation run.
	EvalTimeout time.Duration

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// StatusView is the caller-facing snapshot of a job, carrying the current
// result once the job has completed.
type StatusView struct {
	Job    *domain.EvaluationJob
	Result *domain.EvaluationResult // nil unless Status is COMPLETED
}

// Orchestrator accepts evaluation submissions, deduplicates them through
// the ledger, and runs accepted jobs on background workers.
type Orchestrator struct {
	ledger    storage.JobLedger
	results   storage.ResultStore
	evaluator Evaluator
	logger    *log.Logger

	evalTimeout time.Duration
	now         func() time.Time

	// sem caps concurrent evaluations.
	sem chan struct{}

	// baseCtx outlives submission requests; workers run under it so an
	// HTTP-request cancellation does not kill an accepted job.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. Call Shutdown to stop accepting
// work and wait for in-flight evaluations.
func NewOrchestrator(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if opts.EvalTimeout <= 0 {
		opts.EvalTimeout = DefaultEvalTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		ledger:      opts.Ledger,
		results:     opts.Results,
		evaluator:   opts.Evaluator,
		logger:      opts.Logger,
		evalTimeout: opts.EvalTimeout,
		now:         opts.Now,
		sem:         make(chan struct{}, opts.MaxConcurrent),
		baseCtx:     ctx,
		cancel:      cancel,
	}
}

// Submit requests an evaluation for the trade. When an in-flight job already
// covers the (user, trade) pair, that job is returned with accepted=false
// and no new work starts. Otherwise a new PENDING job is created, dispatched
// to a worker, and returned with accepted=true.
func (o *Orchestrator) Submit(ctx context.Context, userID, tradeID, coinID int64, targetDate string) (*domain.EvaluationJob, bool, error) {
	if userID <= 0 || tradeID <= 0 {
		return nil, false, fmt.Errorf("%w: user and trade ids must be positive", storage.ErrInvalidInput)
	}
	if _, _, err := domain.DayBoundsUTC(targetDate); err != nil {
		return nil, false, fmt.Errorf("%w: bad target date %q", storage.ErrInvalidInput, targetDate)
	}

	job, alreadyInFlight, err := o.ledger.TryAcquire(ctx, userID, tradeID, coinID, targetDate)
	if err != nil {
		return nil, false, fmt.Errorf("acquire job: %w", err)
	}
	if alreadyInFlight {
		observability.RecordJobDeduplicated()
		return job, false, nil
	}

	observability.RecordJobSubmitted()
	o.wg.Add(1)
	go o.run(job)

	return job, true, nil
}

// GetStatus returns the most recent job for the (user, trade) pair. For a
// COMPLETED job the current result is attached.
func (o *Orchestrator) GetStatus(ctx context.Context, userID, tradeID int64) (*StatusView, error) {
	job, err := o.ledger.GetByKey(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}

	view := &StatusView{Job: job}
	if job.Status == domain.StatusCompleted {
		result, err := o.results.GetLatestByTrade(ctx, tradeID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("load result for trade %d: %w", tradeID, err)
		}
		view.Result = result
	}
	return view, nil
}

// ListResults returns all persisted results for the trade, newest first.
func (o *Orchestrator) ListResults(ctx context.Context, tradeID int64) ([]*domain.EvaluationResult, error) {
	return o.results.ListByTrade(ctx, tradeID)
}

// Shutdown stops accepting dispatches and waits for in-flight evaluations
// up to the ctx deadline. Jobs still queued behind the concurrency cap are
// failed with the shutdown reason.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.cancel()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until all dispatched jobs have finished. For tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// run executes one accepted job on a worker goroutine.
func (o *Orchestrator) run(job *domain.EvaluationJob) {
	defer o.wg.Done()

	// Admission against the concurrency cap.
	select {
	case o.sem <- struct{}{}:
		defer func() { <-o.sem }()
	case <-o.baseCtx.Done():
		o.fail(job, domain.FailReasonShutdown)
		return
	}
	if o.baseCtx.Err() != nil {
		o.fail(job, domain.FailReasonShutdown)
		return
	}

	if err := o.ledger.MarkRunning(o.baseCtx, job.JobID); err != nil {
		// Usually the reaper or an operator already moved the job.
		o.logger.Printf("[evaluation] job %s: mark running: %v", job.JobID, err)
		return
	}

	started := o.now()
	evalCtx, cancel := context.WithTimeout(o.baseCtx, o.evalTimeout)
	payload, err := o.evaluator.Evaluate(evalCtx, job)
	cancel()

	if err != nil {
		o.fail(job, failReasonFor(evalCtx, err))
		return
	}
	if payload == nil {
		o.fail(job, "EMPTY_RESULT")
		return
	}

	result := &domain.EvaluationResult{
		ResultID:  uuid.NewString(),
		TradeID:   job.TradeID,
		JobID:     job.JobID,
		Payload:   *payload,
		CreatedAt: o.now().UnixMilli(),
	}
	if err := o.results.Insert(o.baseCtx, result); err != nil {
		o.logger.Printf("[evaluation] job %s: persist result: %v", job.JobID, err)
		o.fail(job, domain.FailReasonPersist)
		return
	}

	if err := o.ledger.MarkCompleted(o.baseCtx, job.JobID); err != nil {
		o.logger.Printf("[evaluation] job %s: mark completed: %v", job.JobID, err)
		return
	}
	observability.RecordJobCompleted(o.now().Sub(started).Seconds())
}

// fail moves the job to FAILED. A lost race against another transition is
// logged, not escalated; the ledger keeps transitions idempotent.
func (o *Orchestrator) fail(job *domain.EvaluationJob, reason string) {
	// Shutdown may have cancelled baseCtx; the failure record must still
	// be written.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.ledger.MarkFailed(ctx, job.JobID, reason); err != nil {
		o.logger.Printf("[evaluation] job %s: mark failed (%s): %v", job.JobID, reason, err)
		return
	}
	observability.RecordJobFailed(reason)
	o.logger.Printf("[evaluation] job %s failed: %s", job.JobID, reason)
}

// failReasonFor maps an evaluator error to a stored fail reason.
func failReasonFor(evalCtx context.Context, err error) string {
	if errors.Is(err, context.DeadlineExceeded) && evalCtx.Err() != nil {
		return domain.FailReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return domain.FailReasonShutdown
	}
	reason := err.Error()
	if len(reason) > failReasonMaxLen {
		reason = reason[:failReasonMaxLen]
	}
	return reason
}
