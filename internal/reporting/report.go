// Package reporting renders evaluation results into human-readable
// artifacts: a Markdown summary and a CSV export. It reads from the result
// store only and never mutates state, so generating a report is always safe
// to re-run.
package reporting

import (
	"sort"
	"time"

	"coin-journal/internal/domain"
)

// Score bands used for the distribution table. These mirror the thresholds
// the evaluator uses when writing result summaries.
const (
	strongThreshold   = 0.7
	moderateThreshold = 0.4
)

// Report is the aggregated view of recent evaluation results.
type Report struct {
	GeneratedAt time.Time

	// Window covered by the report, unix ms.
	SinceMs int64

	TotalResults   int
	DistinctTrades int

	ScoreMean float64
	ScoreMin  float64
	ScoreMax  float64

	// Distribution by score band.
	StrongCount   int
	ModerateCount int
	WeakCount     int

	// Rows sorted newest first, as returned by the store.
	Rows []ResultRow
}

// ResultRow is one evaluation result flattened for rendering.
type ResultRow struct {
	ResultID  string
	TradeID   int64
	JobID     string
	Score     float64
	Summary   string
	CreatedAt int64 // unix ms
}

// BuildReport aggregates results into a Report. Results are expected newest
// first; order is preserved in Rows.
func BuildReport(results []*domain.EvaluationResult, sinceMs int64, generatedAt time.Time) *Report {
	r := &Report{
		GeneratedAt: generatedAt,
		SinceMs:     sinceMs,
	}

	trades := make(map[int64]struct{})
	var sum float64
	for i, res := range results {
		score := res.Payload.Score
		if i == 0 {
			r.ScoreMin = score
			r.ScoreMax = score
		} else {
			if score < r.ScoreMin {
				r.ScoreMin = score
			}
			if score > r.ScoreMax {
				r.ScoreMax = score
			}
		}
		sum += score
		trades[res.TradeID] = struct{}{}

		switch {
		case score >= strongThreshold:
			r.StrongCount++
		case score >= moderateThreshold:
			r.ModerateCount++
		default:
			r.WeakCount++
		}

		r.Rows = append(r.Rows, ResultRow{
			ResultID:  res.ResultID,
			TradeID:   res.TradeID,
			JobID:     res.JobID,
			Score:     score,
			Summary:   res.Payload.Summary,
			CreatedAt: res.CreatedAt,
		})
	}

	r.TotalResults = len(results)
	r.DistinctTrades = len(trades)
	if r.TotalResults > 0 {
		r.ScoreMean = sum / float64(r.TotalResults)
	}
	return r
}

// ScoreMedian returns the median score of the report rows, 0 when empty.
func (r *Report) ScoreMedian() float64 {
	if len(r.Rows) == 0 {
		return 0
	}
	scores := make([]float64, len(r.Rows))
	for i, row := range r.Rows {
		scores[i] = row.Score
	}
	sort.Float64s(scores)
	mid := len(scores) / 2
	if len(scores)%2 == 1 {
		return scores[mid]
	}
	return (scores[mid-1] + scores[mid]) / 2
}
