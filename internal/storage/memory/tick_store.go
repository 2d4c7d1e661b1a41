package memory

import (
	"context"
	"sort"
	"sync"

	"coin-journal/internal/domain"
	"coin-journal/internal/storage"
)

// TickStore is an in-memory implementation of storage.TickStore.
type TickStore struct {
	mu   sync.RWMutex
	data map[int64][]*domain.PriceTick // keyed by coin_id, ordered by timestamp ASC
}

// NewTickStore creates a new in-memory tick store.
func NewTickStore() *TickStore {
	return &TickStore{
		data: make(map[int64][]*domain.PriceTick),
	}
}

// Compile-time interface check.
var _ storage.TickStore = (*TickStore)(nil)

// InsertBulk adds multiple ticks. Fails entire batch on duplicate (coin_id, timestamp_ms).
func (s *TickStore) InsertBulk(_ context.Context, ticks []*domain.PriceTick) error {
	if len(ticks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		coinID      int64
		timestampMs int64
	}
	batchKeys := make(map[key]struct{}, len(ticks))

	// First pass: check for duplicates (existing + intra-batch)
	for _, t := range ticks {
		if t == nil || t.CoinID == 0 {
			return storage.ErrInvalidInput
		}

		k := key{t.CoinID, t.TimestampMs}
		if _, exists := batchKeys[k]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[k] = struct{}{}

		for _, existing := range s.data[t.CoinID] {
			if existing.TimestampMs == t.TimestampMs {
				return storage.ErrDuplicateKey
			}
		}
	}

	// Second pass: insert all, keeping timestamp order
	byCoin := make(map[int64]bool)
	for _, t := range ticks {
		copy := *t
		s.data[t.CoinID] = append(s.data[t.CoinID], &copy)
		byCoin[t.CoinID] = true
	}
	for coinID := range byCoin {
		list := s.data[coinID]
		sort.Slice(list, func(i, j int) bool {
			return list[i].TimestampMs < list[j].TimestampMs
		})
	}

	return nil
}

// GetByTimeRange retrieves ticks for a coin within [start, end] (inclusive).
func (s *TickStore) GetByTimeRange(_ context.Context, coinID int64, start, end int64) ([]*domain.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceTick
	for _, t := range s.data[coinID] {
		if t.TimestampMs >= start && t.TimestampMs <= end {
			copy := *t
			result = append(result, &copy)
		}
	}
	return result, nil
}

// LatestTimestamp returns the newest tick timestamp for a coin.
func (s *TickStore) LatestTimestamp(_ context.Context, coinID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.data[coinID]
	if len(list) == 0 {
		return 0, storage.ErrNotFound
	}
	return list[len(list)-1].TimestampMs, nil
}
