package store

import (
	"context"
	"sync"

	"github.com/oriys/cartsync/internal/domain"
)

// MemoryStore keeps partitions in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	carts     map[string]domain.CartState
	bookmarks map[string]domain.BookmarkState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		carts:     make(map[string]domain.CartState),
		bookmarks: make(map[string]domain.BookmarkState),
	}
}

func (s *MemoryStore) GetCart(_ context.Context, partition string) (domain.CartState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[partition]
	if !ok {
		return emptyCart(), nil
	}
	return c.Clone(), nil
}

func (s *MemoryStore) UpdateCart(_ context.Context, partition string, fn func(domain.CartState) domain.CartState) (domain.CartState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.carts[partition]
	if !ok {
		cur = emptyCart()
	}
	next := fn(cur.Clone()).Normalize()
	s.carts[partition] = next
	return next.Clone(), nil
}

func (s *MemoryStore) GetBookmarks(_ context.Context, partition string) (domain.BookmarkState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookmarks[partition]
	if !ok {
		return emptyBookmarks(), nil
	}
	return b.Clone(), nil
}

func (s *MemoryStore) UpdateBookmarks(_ context.Context, partition string, fn func(domain.BookmarkState) domain.BookmarkState) (domain.BookmarkState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.bookmarks[partition]
	if !ok {
		cur = emptyBookmarks()
	}
	next := fn(cur.Clone()).Normalize()
	s.bookmarks[partition] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
