package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/redis/go-redis/v9"

	"github.com/oriys/cartsync/internal/domain"
)

const (
	defaultRedisStorePrefix = "cartsync:store:"
	maxWatchRetries         = 64
	watchInitialDelay       = time.Millisecond
	watchMaxDelay           = 20 * time.Millisecond
)

// RedisStore keeps one JSON value per entity and partition. Updates run
// under WATCH so concurrent writers of a partition never lose an update.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisStoreFromClient(client, prefix), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisStorePrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(entity domain.Entity, partition string) string {
	return s.prefix + string(entity) + ":" + partition
}

func (s *RedisStore) get(ctx context.Context, key string, out any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// update retries a WATCH/MULTI transaction until it commits. Writers that
// lost the race back off with jitter so contending clients spread out.
func (s *RedisStore) update(ctx context.Context, key string, apply func(tx *redis.Tx) ([]byte, error)) error {
	txf := func(tx *redis.Tx) error {
		data, err := apply(tx)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	var last error
	retrier := retry.NewRetrier(maxWatchRetries, watchInitialDelay, watchMaxDelay)
	_ = retrier.RunContext(ctx, func(ctx context.Context) error {
		last = s.client.Watch(ctx, txf, key)
		if last != nil && !errors.Is(last, redis.TxFailedErr) {
			return retry.Stop(last)
		}
		return last
	})
	if errors.Is(last, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s", ErrConflict, key)
	}
	return last
}

func (s *RedisStore) GetCart(ctx context.Context, partition string) (domain.CartState, error) {
	c := emptyCart()
	if err := s.get(ctx, s.key(domain.EntityCart, partition), &c); err != nil {
		return domain.CartState{}, fmt.Errorf("get cart: %w", err)
	}
	return c.Normalize(), nil
}

func (s *RedisStore) UpdateCart(ctx context.Context, partition string, fn func(domain.CartState) domain.CartState) (domain.CartState, error) {
	key := s.key(domain.EntityCart, partition)
	var next domain.CartState
	err := s.update(ctx, key, func(tx *redis.Tx) ([]byte, error) {
		cur := emptyCart()
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		if err == nil {
			if err := json.Unmarshal(data, &cur); err != nil {
				return nil, err
			}
		}
		next = fn(cur.Normalize()).Normalize()
		return json.Marshal(next)
	})
	if err != nil {
		return domain.CartState{}, fmt.Errorf("update cart: %w", err)
	}
	return next, nil
}

func (s *RedisStore) GetBookmarks(ctx context.Context, partition string) (domain.BookmarkState, error) {
	b := emptyBookmarks()
	if err := s.get(ctx, s.key(domain.EntityBookmarks, partition), &b); err != nil {
		return domain.BookmarkState{}, fmt.Errorf("get bookmarks: %w", err)
	}
	return b.Normalize(), nil
}

func (s *RedisStore) UpdateBookmarks(ctx context.Context, partition string, fn func(domain.BookmarkState) domain.BookmarkState) (domain.BookmarkState, error) {
	key := s.key(domain.EntityBookmarks, partition)
	var next domain.BookmarkState
	err := s.update(ctx, key, func(tx *redis.Tx) ([]byte, error) {
		cur := emptyBookmarks()
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, err
		}
		if err == nil {
			if err := json.Unmarshal(data, &cur); err != nil {
				return nil, err
			}
		}
		next = fn(cur.Normalize()).Normalize()
		return json.Marshal(next)
	})
	if err != nil {
		return domain.BookmarkState{}, fmt.Errorf("update bookmarks: %w", err)
	}
	return next, nil
}
