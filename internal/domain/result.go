package domain

// ResultPayload is the structured output of one trade evaluation.
type ResultPayload struct {
	Score     float64            `json:"score"`
	Summary   string             `json:"summary,omitempty"`
	Breakdown map[string]float64 `json:"breakdown,omitempty"`
}

// EvaluationResult is one completed evaluation for a trade. Results are
// append-only: a re-evaluation inserts a new row, and the current result is
// the most recent by CreatedAt (ResultID breaks ties deterministically).
type EvaluationResult struct {
	ResultID  string // uuid
	TradeID   int64
	JobID     string // job that produced this result
	Payload   ResultPayload
	CreatedAt int64 // unix ms
}
