package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// Metrics keeps in-process counters of the sync engine. Every Record method
// also feeds the Prometheus collectors when those are initialized.
type Metrics struct {
	PushesTotal   atomic.Int64
	PushFailures  atomic.Int64
	PushLatencyMs atomic.Int64
	MaxPushMs     atomic.Int64

	PullsTotal   atomic.Int64
	PullFailures atomic.Int64

	OpsQueued   atomic.Int64
	OpsReplayed atomic.Int64
	OpsDropped  atomic.Int64
	QueueDepth  atomic.Int64

	CookieWrites    atomic.Int64
	CookieUnchanged atomic.Int64
	CookieOversize  atomic.Int64

	Migrations       atomic.Int64
	MigrationFailure atomic.Int64

	CacheDiscards atomic.Int64

	startTime time.Time
}

var global = &Metrics{startTime: time.Now()}

// Global returns the global metrics instance
func Global() *Metrics {
	return global
}

// StartTime returns the time when the metrics system was initialized
func StartTime() time.Time {
	return global.startTime
}

// RecordPush records the outcome of one remote mutation attempt chain.
func (m *Metrics) RecordPush(entity, kind string, durationMs int64, success bool) {
	m.PushesTotal.Add(1)
	if !success {
		m.PushFailures.Add(1)
	}
	m.PushLatencyMs.Add(durationMs)
	updateMax(&m.MaxPushMs, durationMs)
	recordPrometheusPush(entity, kind, durationMs, success)
}

// RecordPull records a wholesale refresh from the remote store.
func (m *Metrics) RecordPull(success bool) {
	m.PullsTotal.Add(1)
	if !success {
		m.PullFailures.Add(1)
	}
	recordPrometheusPull(success)
}

// RecordQueue records an Offline Queue event: enqueued, replayed, failed or dropped.
func (m *Metrics) RecordQueue(event string) {
	switch event {
	case "enqueued":
		m.OpsQueued.Add(1)
	case "replayed":
		m.OpsReplayed.Add(1)
	case "dropped":
		m.OpsDropped.Add(1)
	}
	recordPrometheusQueueEvent(event)
}

// SetQueueDepth records the current length of the Offline Queue.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Store(int64(depth))
	setPrometheusQueueDepth(depth)
}

// RecordCookie records a Cookie Mirror decision: written, unchanged or oversize.
func (m *Metrics) RecordCookie(name, result string) {
	switch result {
	case "written":
		m.CookieWrites.Add(1)
	case "unchanged":
		m.CookieUnchanged.Add(1)
	case "oversize":
		m.CookieOversize.Add(1)
	}
	recordPrometheusCookie(name, result)
}

// RecordMigration records one guest-to-account merge.
func (m *Metrics) RecordMigration(success bool) {
	m.Migrations.Add(1)
	if !success {
		m.MigrationFailure.Add(1)
	}
	recordPrometheusMigration(success)
}

// RecordCacheDiscard records a Local Cache entry discarded on read.
func (m *Metrics) RecordCacheDiscard(reason string) {
	m.CacheDiscards.Add(1)
	recordPrometheusCacheDiscard(reason)
}

// Snapshot returns a point-in-time snapshot of all metrics
func (m *Metrics) Snapshot() map[string]interface{} {
	pushes := m.PushesTotal.Load()
	avgPush := float64(0)
	if pushes > 0 {
		avgPush = float64(m.PushLatencyMs.Load()) / float64(pushes)
	}

	return map[string]interface{}{
		"uptime_seconds": int64(time.Since(m.startTime).Seconds()),
		"pushes": map[string]interface{}{
			"total":  pushes,
			"failed": m.PushFailures.Load(),
			"avg_ms": avgPush,
			"max_ms": m.MaxPushMs.Load(),
		},
		"pulls": map[string]interface{}{
			"total":  m.PullsTotal.Load(),
			"failed": m.PullFailures.Load(),
		},
		"queue": map[string]interface{}{
			"depth":    m.QueueDepth.Load(),
			"queued":   m.OpsQueued.Load(),
			"replayed": m.OpsReplayed.Load(),
			"dropped":  m.OpsDropped.Load(),
		},
		"cookies": map[string]interface{}{
			"written":   m.CookieWrites.Load(),
			"unchanged": m.CookieUnchanged.Load(),
			"oversize":  m.CookieOversize.Load(),
		},
		"migrations": map[string]interface{}{
			"total":  m.Migrations.Load(),
			"failed": m.MigrationFailure.Load(),
		},
		"cache_discards": m.CacheDiscards.Load(),
	}
}

// JSONHandler returns an HTTP handler that exposes metrics in JSON format
func (m *Metrics) JSONHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Snapshot())
	})
}

func updateMax(target *atomic.Int64, value int64) {
	for {
		old := target.Load()
		if value <= old {
			return
		}
		if target.CompareAndSwap(old, value) {
			return
		}
	}
}
