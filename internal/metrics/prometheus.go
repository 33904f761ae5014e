package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps prometheus collectors for the sync engine and the
// reference backend.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Client side
	pushesTotal     *prometheus.CounterVec
	pushDuration    *prometheus.HistogramVec
	pullsTotal      *prometheus.CounterVec
	queueEvents     *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	cookieWrites    *prometheus.CounterVec
	migrationsTotal *prometheus.CounterVec
	cacheDiscards   *prometheus.CounterVec

	// Backend side
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	activeRequests prometheus.Gauge
	uptime         prometheus.GaugeFunc
}

// Default histogram buckets for request durations (in milliseconds)
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the Prometheus metrics subsystem
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: name, Help: help,
		}, labels)
	}

	pm := &PrometheusMetrics{
		registry: registry,

		pushesTotal: counter("pushes_total", "Remote mutations sent by the sync daemon", "entity", "kind", "status"),
		pushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "push_duration_ms",
			Help:      "Remote mutation latency including retries in milliseconds",
			Buckets:   buckets,
		}, []string{"entity"}),
		pullsTotal:      counter("pulls_total", "Wholesale refreshes from the remote store", "status"),
		queueEvents:     counter("offline_queue_events_total", "Offline queue events", "event"),
		cookieWrites:    counter("cookie_writes_total", "Cookie mirror write decisions", "cookie", "result"),
		migrationsTotal: counter("migrations_total", "Guest to account merges", "status"),
		cacheDiscards:   counter("local_cache_discards_total", "Local cache entries discarded on read", "reason"),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "offline_queue_depth",
			Help:      "Operations waiting in the offline queue",
		}),

		httpRequests: counter("http_requests_total", "Backend HTTP requests", "method", "route", "code"),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_ms",
			Help:      "Backend HTTP request duration in milliseconds",
			Buckets:   buckets,
		}, []string{"method", "route"}),
		activeRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of in-flight backend requests",
		}),
	}

	pm.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Seconds since the process started",
		},
		func() float64 {
			return time.Since(StartTime()).Seconds()
		},
	)

	registry.MustRegister(
		pm.pushesTotal,
		pm.pushDuration,
		pm.pullsTotal,
		pm.queueEvents,
		pm.queueDepth,
		pm.cookieWrites,
		pm.migrationsTotal,
		pm.cacheDiscards,
		pm.httpRequests,
		pm.httpDuration,
		pm.activeRequests,
		pm.uptime,
	)

	promMetrics = pm
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failed"
}

func recordPrometheusPush(entity, kind string, durationMs int64, success bool) {
	if promMetrics == nil {
		return
	}
	promMetrics.pushesTotal.WithLabelValues(entity, kind, statusLabel(success)).Inc()
	promMetrics.pushDuration.WithLabelValues(entity).Observe(float64(durationMs))
}

func recordPrometheusPull(success bool) {
	if promMetrics == nil {
		return
	}
	promMetrics.pullsTotal.WithLabelValues(statusLabel(success)).Inc()
}

func recordPrometheusQueueEvent(event string) {
	if promMetrics == nil {
		return
	}
	promMetrics.queueEvents.WithLabelValues(event).Inc()
}

func setPrometheusQueueDepth(depth int) {
	if promMetrics == nil {
		return
	}
	promMetrics.queueDepth.Set(float64(depth))
}

func recordPrometheusCookie(name, result string) {
	if promMetrics == nil {
		return
	}
	promMetrics.cookieWrites.WithLabelValues(name, result).Inc()
}

func recordPrometheusMigration(success bool) {
	if promMetrics == nil {
		return
	}
	promMetrics.migrationsTotal.WithLabelValues(statusLabel(success)).Inc()
}

func recordPrometheusCacheDiscard(reason string) {
	if promMetrics == nil {
		return
	}
	promMetrics.cacheDiscards.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest records one request served by the reference backend.
func RecordHTTPRequest(method, route string, code int, durationMs int64) {
	if promMetrics == nil {
		return
	}
	promMetrics.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	promMetrics.httpDuration.WithLabelValues(method, route).Observe(float64(durationMs))
}

// IncActiveRequests increments the active requests counter
func IncActiveRequests() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeRequests.Inc()
}

// DecActiveRequests decrements the active requests counter
func DecActiveRequests() {
	if promMetrics == nil {
		return
	}
	promMetrics.activeRequests.Dec()
}

// PrometheusHandler returns an HTTP handler for Prometheus metrics scraping
func PrometheusHandler() http.Handler {
	if promMetrics == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("prometheus metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// PrometheusRegistry returns the prometheus registry (for custom collectors)
func PrometheusRegistry() *prometheus.Registry {
	if promMetrics == nil {
		return nil
	}
	return promMetrics.registry
}
