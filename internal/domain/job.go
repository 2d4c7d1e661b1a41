package domain

// EvaluationJob tracks one trade-evaluation request through its lifecycle.
// The (UserID, TradeID) pair is the dedup key: at most one job with an
// in-flight status may exist per pair at any time. Rows are never deleted;
// terminal jobs stay for audit history.
type EvaluationJob struct {
	JobID      string // uuid, durable record identity
	UserID     int64
	TradeID    int64
	CoinID     int64
	TargetDate string // trading day being evaluated, "2006-01-02"
	Status     JobStatus
	FailReason string // set only when Status is FAILED
	CreatedAt  int64  // unix ms
	UpdatedAt  int64  // unix ms
}

// Failure reason codes recorded on FAILED jobs.
const (
	FailReasonTimeout  = "TIMEOUT"
	FailReasonShutdown = "SHUTDOWN"
	FailReasonPersist  = "RESULT_PERSIST"
)
