package memory

import (
	"context"
	"sort"
	"sync"

	"coin-journal/internal/domain"
	"coin-journal/internal/storage"
)

// ResultStore is an in-memory implementation of storage.ResultStore.
type ResultStore struct {
	mu   sync.RWMutex
	data map[string]*domain.EvaluationResult // keyed by result_id
}

// NewResultStore creates a new in-memory result store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		data: make(map[string]*domain.EvaluationResult),
	}
}

// Compile-time interface check.
var _ storage.ResultStore = (*ResultStore)(nil)

// Insert adds a new result. Returns ErrDuplicateKey if result_id exists.
func (s *ResultStore) Insert(_ context.Context, r *domain.EvaluationResult) error {
	if r == nil || r.ResultID == "" || r.TradeID == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ResultID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *r
	s.data[r.ResultID] = &copy
	return nil
}

// GetLatestByTrade retrieves the most recent result for a trade.
func (s *ResultStore) GetLatestByTrade(ctx context.Context, tradeID int64) (*domain.EvaluationResult, error) {
	results, err := s.ListByTrade(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, storage.ErrNotFound
	}
	return results[0], nil
}

// ListByTrade retrieves all results for a trade, newest first.
func (s *ResultStore) ListByTrade(_ context.Context, tradeID int64) ([]*domain.EvaluationResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*domain.EvaluationResult
	for _, r := range s.data {
		if r.TradeID == tradeID {
			copy := *r
			results = append(results, &copy)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt != results[j].CreatedAt {
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].ResultID > results[j].ResultID
	})

	return results, nil
}

// ListRecent retrieves results created at or after sinceMs, newest first,
// capped at limit.
func (s *ResultStore) ListRecent(_ context.Context, sinceMs int64, limit int) ([]*domain.EvaluationResult, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*domain.EvaluationResult
	for _, r := range s.data {
		if r.CreatedAt >= sinceMs {
			copy := *r
			results = append(results, &copy)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].CreatedAt != results[j].CreatedAt {
			return results[i].CreatedAt > results[j].CreatedAt
		}
		return results[i].ResultID > results[j].ResultID
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}
