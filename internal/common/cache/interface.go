package cache

import (
	"context"
	"time"
)

// Cache is the subset of Redis the build service relies on: a few key and
// hash operations for run status and an owner lock.
type Cache interface {
	BasicOps
	HashOps
	LockOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get retrieves the value for the given key, "" when missing
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; ttl 0 means no expiry
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Del deletes one or more keys
	Del(ctx context.Context, keys ...string) error

	// Exists returns how many of the keys exist
	Exists(ctx context.Context, keys ...string) (int64, error)

	// Expire sets a timeout on a key
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// HashOps defines hash (map) operations
type HashOps interface {
	// HMSet sets multiple fields in the hash stored at key
	HMSet(ctx context.Context, key string, fields map[string]interface{}) error

	// HGetAll returns all fields and values of the hash stored at key
	HGetAll(ctx context.Context, key string) (map[string]string, error)
}

// LockOps defines distributed lock operations. The token identifies the
// holder so a lock that expired and was taken over is never released by the
// previous holder.
type LockOps interface {
	// TryLock attempts to acquire the lock; false means someone else holds it
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Unlock releases the lock if token still holds it
	Unlock(ctx context.Context, key, token string) error

	// ExtendLock extends the TTL if token still holds the lock
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) error
}
