// Package localcache persists engine state on the device. Every entry is an
// Envelope carrying its creation time, expiry and schema version, so a reader
// can reject stale or expired data without knowing who wrote it.
package localcache

import (
	"fmt"
	"time"
)

// Envelope wraps a persisted value. Timestamps are Unix milliseconds.
type Envelope[T any] struct {
	Data           T     `json:"data"`
	Timestamp      int64 `json:"timestamp"`
	ExpirationDate int64 `json:"expirationDate"`
	Version        int   `json:"version"`
}

// Wrap builds an envelope created at now that expires after ttl.
func Wrap[T any](data T, now time.Time, ttl time.Duration, version int) Envelope[T] {
	return Envelope[T]{
		Data:           data,
		Timestamp:      now.UnixMilli(),
		ExpirationDate: now.Add(ttl).UnixMilli(),
		Version:        version,
	}
}

// Expired reports whether the envelope has outlived its expiration date.
func (e Envelope[T]) Expired(now time.Time) bool {
	return e.ExpirationDate < now.UnixMilli()
}

// CreatedAt returns the creation time.
func (e Envelope[T]) CreatedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// ExpiresAt returns the expiration time.
func (e Envelope[T]) ExpiresAt() time.Time {
	return time.UnixMilli(e.ExpirationDate)
}

// Key helpers. A partition is "guest" or "user:<id>".
const SessionKey = "session"

func CartKey(partition string) string      { return "cart:" + partition }
func BookmarksKey(partition string) string { return "bookmarks:" + partition }
func QueueKey(partition string) string     { return "queue:" + partition }

// PartitionKeys lists every entry owned by a partition.
func PartitionKeys(partition string) []string {
	return []string{CartKey(partition), BookmarksKey(partition), QueueKey(partition)}
}

func errStale(version, want int) error {
	return fmt.Errorf("schema version %d, want %d", version, want)
}
