package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/observability"
)

// HTTPBackend talks to the Remote Backend Store over its JSON API.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates a client for baseURL. A nil client gets a default
// one with a 10 second timeout.
func NewHTTPBackend(baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type addToCartRequest struct {
	Product  domain.Product `json:"product"`
	Quantity int            `json:"quantity"`
}

type updateCartRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type addBookmarkRequest struct {
	Product domain.Product `json:"product"`
}

type replaceCartRequest struct {
	Items []domain.LineItem `json:"items"`
}

type replaceBookmarksRequest struct {
	BookmarkedProducts []domain.Product `json:"bookmarkedProducts"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (b *HTTPBackend) GetCart(ctx context.Context, id domain.SessionIdentity) (domain.CartState, error) {
	return b.cart(ctx, id, http.MethodGet, "/api/cart", nil)
}

func (b *HTTPBackend) AddToCart(ctx context.Context, id domain.SessionIdentity, p domain.Product, qty int) (domain.CartState, error) {
	return b.cart(ctx, id, http.MethodPost, "/api/cart", addToCartRequest{Product: p, Quantity: qty})
}

func (b *HTTPBackend) UpdateCartItem(ctx context.Context, id domain.SessionIdentity, productID string, qty int) (domain.CartState, error) {
	return b.cart(ctx, id, http.MethodPut, "/api/cart", updateCartRequest{ProductID: productID, Quantity: qty})
}

func (b *HTTPBackend) RemoveFromCart(ctx context.Context, id domain.SessionIdentity, productID string) (domain.CartState, error) {
	return b.cart(ctx, id, http.MethodDelete, "/api/cart/"+url.PathEscape(productID), nil)
}

func (b *HTTPBackend) ClearCart(ctx context.Context, id domain.SessionIdentity) (domain.CartState, error) {
	return b.cart(ctx, id, http.MethodDelete, "/api/cart", nil)
}

func (b *HTTPBackend) ReplaceCart(ctx context.Context, id domain.SessionIdentity, c domain.CartState) (domain.CartState, error) {
	items := c.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	return b.cart(ctx, id, http.MethodPut, "/api/cart/items", replaceCartRequest{Items: items})
}

func (b *HTTPBackend) GetBookmarks(ctx context.Context, id domain.SessionIdentity) (domain.BookmarkState, error) {
	return b.bookmarks(ctx, id, http.MethodGet, "/api/bookmarks", nil)
}

func (b *HTTPBackend) AddBookmark(ctx context.Context, id domain.SessionIdentity, p domain.Product) (domain.BookmarkState, error) {
	return b.bookmarks(ctx, id, http.MethodPost, "/api/bookmarks", addBookmarkRequest{Product: p})
}

func (b *HTTPBackend) RemoveBookmark(ctx context.Context, id domain.SessionIdentity, productID string) (domain.BookmarkState, error) {
	return b.bookmarks(ctx, id, http.MethodDelete, "/api/bookmarks/"+url.PathEscape(productID), nil)
}

func (b *HTTPBackend) ClearBookmarks(ctx context.Context, id domain.SessionIdentity) (domain.BookmarkState, error) {
	return b.bookmarks(ctx, id, http.MethodDelete, "/api/bookmarks", nil)
}

func (b *HTTPBackend) ReplaceBookmarks(ctx context.Context, id domain.SessionIdentity, bm domain.BookmarkState) (domain.BookmarkState, error) {
	products := bm.Products
	if products == nil {
		products = []domain.Product{}
	}
	return b.bookmarks(ctx, id, http.MethodPut, "/api/bookmarks/items", replaceBookmarksRequest{BookmarkedProducts: products})
}

func (b *HTTPBackend) cart(ctx context.Context, id domain.SessionIdentity, method, path string, body any) (domain.CartState, error) {
	var view domain.CartView
	if err := b.do(ctx, id, method, path, body, &view); err != nil {
		return domain.CartState{}, err
	}
	return view.State(), nil
}

func (b *HTTPBackend) bookmarks(ctx context.Context, id domain.SessionIdentity, method, path string, body any) (domain.BookmarkState, error) {
	var view domain.BookmarksView
	if err := b.do(ctx, id, method, path, body, &view); err != nil {
		return domain.BookmarkState{}, err
	}
	return view.State(), nil
}

func (b *HTTPBackend) do(ctx context.Context, id domain.SessionIdentity, method, path string, body, out any) (err error) {
	ctx, span := observability.StartClientSpan(ctx, method+" "+path,
		observability.IdentityAttrs(id.Partition(), id)...)
	defer func() { observability.End(span, err) }()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if id.IsAuthenticated() {
		req.Header.Set(HeaderUserID, id.ID)
	} else {
		req.Header.Set(HeaderSessionID, id.ID)
	}
	observability.InjectHTTP(ctx, req.Header)

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&er)
		return &StatusError{Code: resp.StatusCode, Message: er.Error}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
