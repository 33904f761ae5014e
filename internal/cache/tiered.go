package cache

import (
	"context"
	"time"
)

// TieredCache puts a short-lived in-process L1 in front of a durable or
// shared L2 (SQLite or Redis). Reads check L1 first and populate it from
// L2 on miss; writes go to both. Writes made by other processes become
// visible after Invalidate or once the L1 entry ages out.
type TieredCache struct {
	l1    Cache
	l2    Cache
	l1TTL time.Duration // TTL for L1 entries (should be shorter than L2)
}

// NewTieredCache creates a two-level cache.
// l1TTL controls how long items live in the L1 cache (default: 10s).
func NewTieredCache(l1, l2 Cache, l1TTL time.Duration) *TieredCache {
	if l1TTL <= 0 {
		l1TTL = 10 * time.Second
	}
	return &TieredCache{l1: l1, l2: l2, l1TTL: l1TTL}
}

func (t *TieredCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := t.l1.Get(ctx, key)
	if err == nil {
		return val, nil
	}

	val, err = t.l2.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	_ = t.l1.Set(ctx, key, val, t.l1Lifetime(0))
	return val, nil
}

func (t *TieredCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.l2.Set(ctx, key, value, ttl); err != nil {
		_ = t.l1.Delete(ctx, key)
		return err
	}
	_ = t.l1.Set(ctx, key, value, t.l1Lifetime(ttl))
	return nil
}

// l1Lifetime never lets an L1 copy outlive its L2 entry.
func (t *TieredCache) l1Lifetime(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < t.l1TTL {
		return ttl
	}
	return t.l1TTL
}

func (t *TieredCache) Delete(ctx context.Context, key string) error {
	_ = t.l1.Delete(ctx, key)
	return t.l2.Delete(ctx, key)
}

func (t *TieredCache) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := t.l1.Exists(ctx, key)
	if err == nil && ok {
		return true, nil
	}
	return t.l2.Exists(ctx, key)
}

// Invalidate drops the L1 copy of key.
func (t *TieredCache) Invalidate(ctx context.Context, key string) error {
	return t.l1.Delete(ctx, key)
}

func (t *TieredCache) Ping(ctx context.Context) error {
	if err := t.l1.Ping(ctx); err != nil {
		return err
	}
	return t.l2.Ping(ctx)
}

func (t *TieredCache) Close() error {
	_ = t.l1.Close()
	return t.l2.Close()
}
