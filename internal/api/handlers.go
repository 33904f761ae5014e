package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oriys/cartsync/internal/cookie"
	"github.com/oriys/cartsync/internal/domain"
	"github.com/oriys/cartsync/internal/hydrate"
	"github.com/oriys/cartsync/internal/logging"
	"github.com/oriys/cartsync/internal/metrics"
	"github.com/oriys/cartsync/internal/observability"
	"github.com/oriys/cartsync/internal/remote"
	"github.com/oriys/cartsync/internal/store"
)

// Handler serves the cart and bookmark endpoints. Every mutation answers
// with the new canonical full state of its entity.
type Handler struct {
	Store   store.CartStore
	Backend remote.Backend

	MirrorCookies   bool
	CookieMaxAge    time.Duration
	CookieSizeLimit int
}

// RegisterRoutes registers all routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	route := func(pattern string, fn http.HandlerFunc) {
		mux.HandleFunc(pattern, instrument(pattern, fn))
	}

	// Cart
	route("GET /api/cart", h.GetCart)
	route("POST /api/cart", h.AddToCart)
	route("PUT /api/cart", h.UpdateCartItem)
	route("DELETE /api/cart", h.ClearCart)
	route("DELETE /api/cart/{productId}", h.RemoveFromCart)
	route("PUT /api/cart/items", h.ReplaceCart)

	// Bookmarks
	route("GET /api/bookmarks", h.GetBookmarks)
	route("POST /api/bookmarks", h.AddBookmark)
	route("DELETE /api/bookmarks", h.ClearBookmarks)
	route("DELETE /api/bookmarks/{productId}", h.RemoveBookmark)
	route("PUT /api/bookmarks/items", h.ReplaceBookmarks)

	// Hydration
	mux.Handle("GET /snapshot", hydrate.Handler())

	// Health
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /health/live", h.HealthLive)
	mux.HandleFunc("GET /health/ready", h.HealthReady)

	// Observability
	mux.Handle("GET /metrics", metrics.PrometheusHandler())
	mux.Handle("GET /metrics/json", metrics.Global().JSONHandler())
}

type addToCartRequest struct {
	Product  *domain.Product `json:"product"`
	Quantity int             `json:"quantity"`
}

type updateCartRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type replaceCartRequest struct {
	Items []domain.LineItem `json:"items"`
}

type addBookmarkRequest struct {
	Product *domain.Product `json:"product"`
}

type replaceBookmarksRequest struct {
	BookmarkedProducts []domain.Product `json:"bookmarkedProducts"`
}

// GetCart handles GET /api/cart
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	c, err := h.Backend.GetCart(r.Context(), id)
	h.writeCart(w, r, id, c, err, false)
}

// AddToCart handles POST /api/cart
func (h *Handler) AddToCart(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req addToCartRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Product == nil {
		writeError(w, http.StatusBadRequest, "product is required")
		return
	}
	c, err := h.Backend.AddToCart(r.Context(), id, *req.Product, req.Quantity)
	h.writeCart(w, r, id, c, err, true)
}

// UpdateCartItem handles PUT /api/cart. A quantity of zero or less removes
// the item.
func (h *Handler) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req updateCartRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId is required")
		return
	}
	c, err := h.Backend.UpdateCartItem(r.Context(), id, req.ProductID, req.Quantity)
	h.writeCart(w, r, id, c, err, true)
}

// RemoveFromCart handles DELETE /api/cart/{productId}
func (h *Handler) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	c, err := h.Backend.RemoveFromCart(r.Context(), id, r.PathValue("productId"))
	h.writeCart(w, r, id, c, err, true)
}

// ClearCart handles DELETE /api/cart
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	c, err := h.Backend.ClearCart(r.Context(), id)
	h.writeCart(w, r, id, c, err, true)
}

// ReplaceCart handles PUT /api/cart/items
func (h *Handler) ReplaceCart(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req replaceCartRequest
	if !decode(w, r, &req) {
		return
	}
	c, err := h.Backend.ReplaceCart(r.Context(), id, domain.CartState{Items: req.Items})
	h.writeCart(w, r, id, c, err, true)
}

// GetBookmarks handles GET /api/bookmarks
func (h *Handler) GetBookmarks(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	b, err := h.Backend.GetBookmarks(r.Context(), id)
	h.writeBookmarks(w, r, id, b, err, false)
}

// AddBookmark handles POST /api/bookmarks
func (h *Handler) AddBookmark(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req addBookmarkRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Product == nil {
		writeError(w, http.StatusBadRequest, "product is required")
		return
	}
	b, err := h.Backend.AddBookmark(r.Context(), id, *req.Product)
	h.writeBookmarks(w, r, id, b, err, true)
}

// RemoveBookmark handles DELETE /api/bookmarks/{productId}
func (h *Handler) RemoveBookmark(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	b, err := h.Backend.RemoveBookmark(r.Context(), id, r.PathValue("productId"))
	h.writeBookmarks(w, r, id, b, err, true)
}

// ClearBookmarks handles DELETE /api/bookmarks
func (h *Handler) ClearBookmarks(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	b, err := h.Backend.ClearBookmarks(r.Context(), id)
	h.writeBookmarks(w, r, id, b, err, true)
}

// ReplaceBookmarks handles PUT /api/bookmarks/items
func (h *Handler) ReplaceBookmarks(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req replaceBookmarksRequest
	if !decode(w, r, &req) {
		return
	}
	b, err := h.Backend.ReplaceBookmarks(r.Context(), id, domain.BookmarkState{Products: req.BookmarkedProducts})
	h.writeBookmarks(w, r, id, b, err, true)
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	storeOK := h.Store.Ping(ctx) == nil
	status := "ok"
	if !storeOK {
		status = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"components": map[string]interface{}{
			"store": storeOK,
		},
		"uptime_seconds": int64(time.Since(metrics.StartTime()).Seconds()),
	})
}

// HealthLive handles GET /health/live - Kubernetes liveness check
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady handles GET /health/ready - Kubernetes readiness check
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"error":  "store unavailable: " + err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// identity reads the partition headers. The user header wins when both
// are present.
func identity(w http.ResponseWriter, r *http.Request) (domain.SessionIdentity, bool) {
	var id domain.SessionIdentity
	if u := r.Header.Get(remote.HeaderUserID); u != "" {
		id = domain.Authenticated(u)
	} else if s := r.Header.Get(remote.HeaderSessionID); s != "" {
		id = domain.Anonymous(s)
	}
	if id.ID != "" {
		observability.Annotate(r.Context(), observability.IdentityAttrs(store.PartitionOf(id), id)...)
		return id, true
	}
	writeError(w, http.StatusBadRequest, fmt.Sprintf("%s or %s header is required", remote.HeaderUserID, remote.HeaderSessionID))
	return domain.SessionIdentity{}, false
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (h *Handler) writeCart(w http.ResponseWriter, r *http.Request, id domain.SessionIdentity, c domain.CartState, err error, mutated bool) {
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if mutated && h.MirrorCookies {
		bm, berr := h.Backend.GetBookmarks(r.Context(), id)
		if berr == nil {
			cookie.WriteResponse(w, domain.Snapshot{Cart: c, Bookmarks: bm}, h.CookieMaxAge, h.CookieSizeLimit)
		}
	}
	writeJSON(w, http.StatusOK, domain.ViewOfCart(c))
}

func (h *Handler) writeBookmarks(w http.ResponseWriter, r *http.Request, id domain.SessionIdentity, b domain.BookmarkState, err error, mutated bool) {
	if err != nil {
		writeFailure(w, r, err)
		return
	}
	if mutated && h.MirrorCookies {
		c, cerr := h.Backend.GetCart(r.Context(), id)
		if cerr == nil {
			cookie.WriteResponse(w, domain.Snapshot{Cart: c, Bookmarks: b}, h.CookieMaxAge, h.CookieSizeLimit)
		}
	}
	writeJSON(w, http.StatusOK, domain.ViewOfBookmarks(b))
}

func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var se *remote.StatusError
	switch {
	case errors.As(err, &se):
		writeError(w, se.Code, se.Message)
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		logging.Op().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
