// Package cache defines the key/value backends behind the device-local cache.
// Implementations use an in-memory map, a SQLite file on the device, Redis
// (shared by several processes on one device) or a tiered combination.
// Values are opaque byte slices; envelope encoding is left to the caller.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the cache.
var ErrNotFound = errors.New("cache: key not found")

// Cache abstracts a key-value cache with TTL support.
// All operations are safe for concurrent use.
type Cache interface {
	// Get retrieves the value associated with key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL, replacing any previous value.
	// A zero TTL means the entry does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the cache. It is not an error to delete
	// a key that does not exist.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key exists and has not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies connectivity to the underlying cache backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the cache implementation.
	Close() error
}

// Invalidator is implemented by caches that keep a process-local copy of
// shared entries. Invalidate drops the local copy only, so the next Get
// observes a write made by another process.
type Invalidator interface {
	Invalidate(ctx context.Context, key string) error
}
