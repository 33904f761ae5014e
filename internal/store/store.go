// Package store persists the authoritative cart and bookmark state of the
// reference backend, one record per partition.
package store

import (
	"context"
	"errors"

	"github.com/oriys/cartsync/internal/domain"
)

// ErrConflict is returned when an update kept losing a concurrent race.
var ErrConflict = errors.New("store: concurrent update conflict")

// CartStore is the backend persistence layer. Update functions receive the
// current state (empty when none exists) and return the state to store;
// implementations run them atomically per partition.
type CartStore interface {
	GetCart(ctx context.Context, partition string) (domain.CartState, error)
	UpdateCart(ctx context.Context, partition string, fn func(domain.CartState) domain.CartState) (domain.CartState, error)

	GetBookmarks(ctx context.Context, partition string) (domain.BookmarkState, error)
	UpdateBookmarks(ctx context.Context, partition string, fn func(domain.BookmarkState) domain.BookmarkState) (domain.BookmarkState, error)

	Ping(ctx context.Context) error
	Close() error
}

// PartitionOf maps an identity to its backend partition. Unlike the device
// partition, every anonymous session gets its own record.
func PartitionOf(id domain.SessionIdentity) string {
	if id.IsAuthenticated() {
		return "user:" + id.ID
	}
	return "session:" + id.ID
}

func emptyCart() domain.CartState {
	return domain.CartState{Items: []domain.LineItem{}}
}

func emptyBookmarks() domain.BookmarkState {
	return domain.BookmarkState{Products: []domain.Product{}}
}
