package cache

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"coin-journal/internal/observability"
)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process implementation of Store. A janitor goroutine
// evicts expired entries so the map does not grow unbounded; reads also
// check expiry so a stale entry is never returned between sweeps.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	logger *log.Logger
	done   chan struct{}
	once   sync.Once
}

// NewMemoryStore creates a memory cache. sweepInterval <= 0 disables the
// janitor (expiry is then enforced on read only).
func NewMemoryStore(sweepInterval time.Duration, logger *log.Logger) *MemoryStore {
	if logger == nil {
		logger = log.Default()
	}
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		logger:  logger,
		done:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.janitor(sweepInterval)
	}
	return s
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// Set stores a value, overwriting any existing entry unconditionally.
func (s *MemoryStore) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	entry := memoryEntry{payload: payload}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Get deserializes the entry into dest. Absent, expired, and corrupt entries
// are all misses.
func (s *MemoryStore) Get(_ context.Context, key string, dest any) (bool, error) {
	s.mu.RLock()
	entry, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists || entry.expired(time.Now()) {
		return false, nil
	}

	if err := json.Unmarshal(entry.payload, dest); err != nil {
		s.logger.Printf("[cache] corrupt payload for %s, dropping entry: %v", key, err)
		observability.RecordCacheCorruption()
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return false, nil
	}
	return true, nil
}

// Delete removes an entry immediately.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Close stops the janitor.
func (s *MemoryStore) Close() {
	s.once.Do(func() { close(s.done) })
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, entry := range s.entries {
				if entry.expired(now) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
