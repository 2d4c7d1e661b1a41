// Package evaluation runs trade evaluations asynchronously. Submissions are
// deduplicated through the job ledger so one (user, trade) pair has at most
// one in-flight evaluation at a time.
package evaluation

import (
	"context"

	"coin-journal/internal/domain"
)

// Evaluator produces the evaluation payload for a job. Implementations must
// honor ctx cancellation; the orchestrator enforces the per-job timeout
// through it.
type Evaluator interface {
	Evaluate(ctx context.Context, job *domain.EvaluationJob) (*domain.ResultPayload, error)
}

// EvaluatorFunc adapts a function to the Evaluator interface.
type EvaluatorFunc func(ctx context.Context, job *domain.EvaluationJob) (*domain.ResultPayload, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, job *domain.EvaluationJob) (*domain.ResultPayload, error) {
	return f(ctx, job)
}
