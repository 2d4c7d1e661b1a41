// Package cache provides the key/value store used as a read-through cache
// for externally fetched market series.
package cache

import (
	"context"
	"time"
)

// Store is the cache port. Values are JSON-serialized opaque payloads with a
// per-key TTL. A Get after expiry is a miss, not an error; callers cannot
// distinguish "never cached" from "expired" since the remediation (re-fetch
// from source) is identical. A corrupt payload also degrades to a miss.
type Store interface {
	// Set stores a value with an absolute expiry ttl from now, overwriting
	// any existing entry unconditionally. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value any, ttl time.Duration) error

	// Get deserializes the entry into dest and reports whether it was found.
	// Misses (absent, expired, corrupt) return (false, nil).
	Get(ctx context.Context, key string, dest any) (bool, error)

	// Delete removes an entry immediately.
	Delete(ctx context.Context, key string) error
}
