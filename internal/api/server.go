// Package api is the HTTP face of the reference Remote Backend Store.
package api

import (
	"net/http"
	"time"

	"github.com/oriys/cartsync/internal/hydrate"
	"github.com/oriys/cartsync/internal/logging"
	"github.com/oriys/cartsync/internal/metrics"
	"github.com/oriys/cartsync/internal/observability"
	"github.com/oriys/cartsync/internal/remote"
	"github.com/oriys/cartsync/internal/store"
)

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Store store.CartStore

	// MirrorCookies makes every mutation answer with the cookie projection
	// of the partition's full state.
	MirrorCookies   bool
	CookieMaxAge    time.Duration
	CookieSizeLimit int
}

// NewHandler builds the routed and instrumented handler.
func NewHandler(cfg ServerConfig) http.Handler {
	mux := http.NewServeMux()

	h := &Handler{
		Store:           cfg.Store,
		Backend:         remote.NewLocalBackend(cfg.Store),
		MirrorCookies:   cfg.MirrorCookies,
		CookieMaxAge:    cfg.CookieMaxAge,
		CookieSizeLimit: cfg.CookieSizeLimit,
	}
	h.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = hydrate.Middleware(handler)
	handler = observability.HTTPMiddleware(handler)
	return handler
}

// StartHTTPServer creates and starts the HTTP server.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}

// statusRecorder captures the status code for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records count, latency and concurrency of one route and names
// its trace span.
func instrument(route string, fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		metrics.IncActiveRequests()
		defer metrics.DecActiveRequests()

		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		fn(rec, r)

		elapsed := time.Since(start).Milliseconds()
		metrics.RecordHTTPRequest(r.Method, route, rec.code, elapsed)
		observability.Route(r, route, rec.code)
		logging.Op().Debug("request served",
			"method", r.Method,
			"route", route,
			"status", rec.code,
			"duration_ms", elapsed,
			"trace_id", observability.TraceID(r.Context()))
	}
}
