package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_SnapshotCounts(t *testing.T) {
	m := &Metrics{}
	m.RecordPush("cart", "add", 40, true)
	m.RecordPush("cart", "add", 60, false)
	m.RecordQueue("enqueued")
	m.RecordQueue("dropped")
	m.RecordCookie("cart-state", "oversize")
	m.SetQueueDepth(3)

	snap := m.Snapshot()
	pushes := snap["pushes"].(map[string]interface{})
	if pushes["total"].(int64) != 2 || pushes["failed"].(int64) != 1 {
		t.Fatalf("unexpected pushes: %+v", pushes)
	}
	if pushes["avg_ms"].(float64) != 50 || pushes["max_ms"].(int64) != 60 {
		t.Fatalf("unexpected latency: %+v", pushes)
	}
	queue := snap["queue"].(map[string]interface{})
	if queue["depth"].(int64) != 3 || queue["dropped"].(int64) != 1 {
		t.Fatalf("unexpected queue: %+v", queue)
	}
	if m.CookieOversize.Load() != 1 {
		t.Fatalf("CookieOversize = %d", m.CookieOversize.Load())
	}
}

func TestPrometheusHandler_Exposition(t *testing.T) {
	InitPrometheus("cartsync_test", nil)
	defer func() { promMetrics = nil }()

	m := &Metrics{}
	m.RecordPull(true)
	m.RecordMigration(false)
	RecordHTTPRequest("GET", "/api/cart", 200, 3)

	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`cartsync_test_pulls_total{status="success"} 1`,
		`cartsync_test_migrations_total{status="failed"} 1`,
		`cartsync_test_http_requests_total{code="200",method="GET",route="/api/cart"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q", want)
		}
	}
}
