// Package store defines the shared key-value contract used for cross-worker
// counters, progress snapshots and task metadata, together with its in-memory
// and Redis implementations.
package store

//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/agbru/primecount/internal/store KV

import (
	"context"
	"time"
)

// KV is the subset of key-value operations the job engine relies on. Every
// operation is atomic with respect to concurrent callers on the same key.
// A ttl of zero means the key does not expire.
type KV interface {
	// Incr atomically increments the integer stored at key, creating it at
	// 0 first if missing, and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value at key, replacing any previous value and expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// SAdd adds member to the set at key and reports whether it was new.
	SAdd(ctx context.Context, key, member string) (bool, error)
	// SCard returns the number of members of the set at key, 0 if missing.
	SCard(ctx context.Context, key string) (int64, error)
	// Del removes the keys. Missing keys are ignored.
	Del(ctx context.Context, keys ...string) error
	// Expire sets a new time to live on key. Missing keys are ignored.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
}
