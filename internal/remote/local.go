package remote

import (
	"context"
	"net/http"

	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/store"
)

// LocalBackend serves the Backend contract straight from a CartStore. The
// HTTP service and embedded CLI sessions share it, so both apply the same
// mutation rules.
type LocalBackend struct {
	store store.CartStore
}

func NewLocalBackend(s store.CartStore) *LocalBackend {
	return &LocalBackend{store: s}
}

func badRequest(err error) error {
	return &StatusError{Code: http.StatusBadRequest, Message: err.Error()}
}

func (b *LocalBackend) GetCart(ctx context.Context, id domain.SessionIdentity) (domain.CartState, error) {
	return b.store.GetCart(ctx, store.PartitionOf(id))
}

func (b *LocalBackend) AddToCart(ctx context.Context, id domain.SessionIdentity, p domain.Product, qty int) (domain.CartState, error) {
	if err := domain.ValidateProduct(p); err != nil {
		return domain.CartState{}, badRequest(err)
	}
	return b.store.UpdateCart(ctx, store.PartitionOf(id), func(c domain.CartState) domain.CartState {
		return c.WithAdded(p, qty)
	})
}

func (b *LocalBackend) UpdateCartItem(ctx context.Context, id domain.SessionIdentity, productID string, qty int) (domain.CartState, error) {
	return b.store.UpdateCart(ctx, store.PartitionOf(id), func(c domain.CartState) domain.CartState {
		return c.WithQuantity(productID, qty)
	})
}

func (b *LocalBackend) RemoveFromCart(ctx context.Context, id domain.SessionIdentity, productID string) (domain.CartState, error) {
	return b.store.UpdateCart(ctx, store.PartitionOf(id), func(c domain.CartState) domain.CartState {
		return c.WithRemoved(productID)
	})
}

func (b *LocalBackend) ClearCart(ctx context.Context, id domain.SessionIdentity) (domain.CartState, error) {
	return b.store.UpdateCart(ctx, store.PartitionOf(id), func(domain.CartState) domain.CartState {
		return domain.CartState{Items: []domain.LineItem{}}
	})
}

func (b *LocalBackend) ReplaceCart(ctx context.Context, id domain.SessionIdentity, c domain.CartState) (domain.CartState, error) {
	for _, it := range c.Items {
		if err := domain.ValidateProduct(it.Product); err != nil {
			return domain.CartState{}, badRequest(err)
		}
	}
	return b.store.UpdateCart(ctx, store.PartitionOf(id), func(domain.CartState) domain.CartState {
		return c.Clone()
	})
}

func (b *LocalBackend) GetBookmarks(ctx context.Context, id domain.SessionIdentity) (domain.BookmarkState, error) {
	return b.store.GetBookmarks(ctx, store.PartitionOf(id))
}

func (b *LocalBackend) AddBookmark(ctx context.Context, id domain.SessionIdentity, p domain.Product) (domain.BookmarkState, error) {
	if err := domain.ValidateProduct(p); err != nil {
		return domain.BookmarkState{}, badRequest(err)
	}
	return b.store.UpdateBookmarks(ctx, store.PartitionOf(id), func(bm domain.BookmarkState) domain.BookmarkState {
		return bm.WithAdded(p)
	})
}

func (b *LocalBackend) RemoveBookmark(ctx context.Context, id domain.SessionIdentity, productID string) (domain.BookmarkState, error) {
	return b.store.UpdateBookmarks(ctx, store.PartitionOf(id), func(bm domain.BookmarkState) domain.BookmarkState {
		return bm.WithRemoved(productID)
	})
}

func (b *LocalBackend) ClearBookmarks(ctx context.Context, id domain.SessionIdentity) (domain.BookmarkState, error) {
	return b.store.UpdateBookmarks(ctx, store.PartitionOf(id), func(domain.BookmarkState) domain.BookmarkState {
		return domain.BookmarkState{Products: []domain.Product{}}
	})
}

func (b *LocalBackend) ReplaceBookmarks(ctx context.Context, id domain.SessionIdentity, bm domain.BookmarkState) (domain.BookmarkState, error) {
	for _, p := range bm.Products {
		if err := domain.ValidateProduct(p); err != nil {
			return domain.BookmarkState{}, badRequest(err)
		}
	}
	return b.store.UpdateBookmarks(ctx, store.PartitionOf(id), func(domain.BookmarkState) domain.BookmarkState {
		return bm.Clone()
	})
}
