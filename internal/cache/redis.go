package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"coin-journal/internal/observability"
)

// RedisStore implements Store on Redis. Expiry is delegated to the server
// via per-key TTLs, so no janitor is needed.
type RedisStore struct {
	rdb    *redis.Client
	logger *log.Logger
}

// NewRedisStore creates a RedisStore and pings the server.
func NewRedisStore(ctx context.Context, addr, password string, db int, logger *log.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	if logger == nil {
		logger = log.Default()
	}
	return &RedisStore{rdb: rdb, logger: logger}, nil
}

// Compile-time interface check.
var _ Store = (*RedisStore)(nil)

// Set stores a value, overwriting any existing entry unconditionally.
func (s *RedisStore) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if ttl < 0 {
		ttl = 0 // redis treats 0 as no expiry
	}
	if err := s.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Get deserializes the entry into dest. Absent and corrupt entries are misses.
func (s *RedisStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	payload, err := s.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(payload, dest); err != nil {
		s.logger.Printf("[cache] corrupt payload for %s, dropping entry: %v", key, err)
		observability.RecordCacheCorruption()
		if delErr := s.rdb.Del(ctx, key).Err(); delErr != nil {
			s.logger.Printf("[cache] drop corrupt entry %s: %v", key, delErr)
		}
		return false, nil
	}
	return true, nil
}

// Client exposes the underlying Redis client so other components (the
// signal bus) can share the connection.
func (s *RedisStore) Client() *redis.Client {
	return s.rdb
}

// Delete removes an entry immediately.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
