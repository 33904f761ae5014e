// Package remote is the client side of the Remote Backend Store: the
// authoritative per-partition cart and bookmark state. Every mutation
// returns the new canonical full state of its entity.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oriys/cartsync/internal/domain"
)

// Partition headers set by the auth collaborator.
const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"
)

var (
	// ErrUnavailable is returned when the backend cannot be reached.
	ErrUnavailable = errors.New("remote: backend unavailable")
	// ErrStatus is matched by every StatusError.
	ErrStatus = errors.New("remote: unexpected status")
)

// StatusError carries a non-2xx answer of the backend.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote: status %d", e.Code)
	}
	return fmt.Sprintf("remote: status %d: %s", e.Code, e.Message)
}

func (e *StatusError) Is(target error) bool { return target == ErrStatus }

// Retryable reports whether repeating the call may succeed: the backend was
// unreachable, overloaded or failed internally.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests || se.Code == http.StatusRequestTimeout
	}
	return false
}

// WithRetry runs fn up to attempts times, waiting exactly backoff between
// tries. Errors that Retryable rejects end the loop at once. The error of
// the last attempt is returned unwrapped.
func WithRetry(ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 && backoff > 0 {
			t := time.NewTimer(backoff)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return err
			}
		}
		if err = fn(ctx); err == nil || !Retryable(err) {
			return err
		}
	}
	return err
}

// Backend is the Remote Backend Store contract.
type Backend interface {
	GetCart(ctx context.Context, id domain.SessionIdentity) (domain.CartState, error)
	AddToCart(ctx context.Context, id domain.SessionIdentity, p domain.Product, qty int) (domain.CartState, error)
	UpdateCartItem(ctx context.Context, id domain.SessionIdentity, productID string, qty int) (domain.CartState, error)
	RemoveFromCart(ctx context.Context, id domain.SessionIdentity, productID string) (domain.CartState, error)
	ClearCart(ctx context.Context, id domain.SessionIdentity) (domain.CartState, error)
	ReplaceCart(ctx context.Context, id domain.SessionIdentity, c domain.CartState) (domain.CartState, error)

	GetBookmarks(ctx context.Context, id domain.SessionIdentity) (domain.BookmarkState, error)
	AddBookmark(ctx context.Context, id domain.SessionIdentity, p domain.Product) (domain.BookmarkState, error)
	RemoveBookmark(ctx context.Context, id domain.SessionIdentity, productID string) (domain.BookmarkState, error)
	ClearBookmarks(ctx context.Context, id domain.SessionIdentity) (domain.BookmarkState, error)
	ReplaceBookmarks(ctx context.Context, id domain.SessionIdentity, b domain.BookmarkState) (domain.BookmarkState, error)
}

// Result is the canonical state returned for one operation. Exactly one
// field is set, matching the operation's entity.
type Result struct {
	Cart      *domain.CartState
	Bookmarks *domain.BookmarkState
}

// Send replays op against b.
func Send(ctx context.Context, b Backend, id domain.SessionIdentity, op domain.Operation) (Result, error) {
	if err := op.Validate(); err != nil {
		return Result{}, err
	}
	p := op.Payload

	if op.Entity == domain.EntityCart {
		var (
			c   domain.CartState
			err error
		)
		switch op.Kind {
		case domain.OpAdd:
			c, err = b.AddToCart(ctx, id, *p.Product, p.Quantity)
		case domain.OpRemove:
			c, err = b.RemoveFromCart(ctx, id, p.ProductID)
		case domain.OpUpdate:
			c, err = b.UpdateCartItem(ctx, id, p.ProductID, p.Quantity)
		case domain.OpClear:
			c, err = b.ClearCart(ctx, id)
		}
		if err != nil {
			return Result{}, err
		}
		return Result{Cart: &c}, nil
	}

	var (
		bm  domain.BookmarkState
		err error
	)
	switch op.Kind {
	case domain.OpAdd:
		bm, err = b.AddBookmark(ctx, id, *p.Product)
	case domain.OpRemove:
		bm, err = b.RemoveBookmark(ctx, id, p.ProductID)
	case domain.OpClear:
		bm, err = b.ClearBookmarks(ctx, id)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Bookmarks: &bm}, nil
}
