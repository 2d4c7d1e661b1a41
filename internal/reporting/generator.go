package reporting

import (
	"context"
	"fmt"
	"time"

	"coin-journal/internal/storage"
)

// DefaultListLimit caps how many results a single report loads.
const DefaultListLimit = 10000

// Generator produces reports from stored evaluation results.
type Generator struct {
	results storage.ResultStore
	now     func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(results storage.ResultStore) *Generator {
	return &Generator{
		results: results,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds a report covering the window [since, now].
func (g *Generator) Generate(ctx context.Context, since time.Duration) (*Report, error) {
	now := g.now()
	sinceMs := now.Add(-since).UnixMilli()

	results, err := g.results.ListRecent(ctx, sinceMs, DefaultListLimit)
	if err != nil {
		return nil, fmt.Errorf("list recent results: %w", err)
	}

	return BuildReport(results, sinceMs, now), nil
}
