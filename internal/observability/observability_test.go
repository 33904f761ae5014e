package observability

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/cartsync/internal/config"
	"github.com/oriys/cartsync/internal/domain"
)

func record(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	install(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr)))
	t.Cleanup(func() { install(nil) })
	return sr
}

func attrs(kvs []attribute.KeyValue) map[attribute.Key]string {
	m := make(map[attribute.Key]string, len(kvs))
	for _, kv := range kvs {
		m[kv.Key] = kv.Value.Emit()
	}
	return m
}

func TestInit(t *testing.T) {
	ctx := context.Background()

	if err := Init(ctx, config.TracingConfig{Enabled: false}, "cartsync-cli"); err != nil {
		t.Fatalf("Init disabled: %v", err)
	}
	if Enabled() {
		t.Fatal("tracing enabled without config")
	}
	_, span := StartSpan(ctx, "noop")
	if span.IsRecording() {
		t.Fatal("disabled tracer records spans")
	}

	cfg := config.TracingConfig{Enabled: true, Exporter: "none", SampleRate: 1}
	if err := Init(ctx, cfg, "cartsync-cli"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !Enabled() {
		t.Fatal("tracing not enabled")
	}
	_, span = StartSpan(ctx, "sampled")
	if !span.IsRecording() {
		t.Fatal("span not recording at rate 1")
	}
	span.End()
	if err := Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if Enabled() {
		t.Fatal("tracing still enabled after Shutdown")
	}

	cfg.Exporter = "zipkin"
	if err := Init(ctx, cfg, "cartsync-cli"); err == nil {
		t.Fatal("unknown exporter accepted")
	}
}

func TestSampler(t *testing.T) {
	tid := trace.TraceID{1}
	root := sdktrace.SamplingParameters{ParentContext: context.Background(), TraceID: tid, Name: "root"}

	if got := Sampler(0).ShouldSample(root).Decision; got != sdktrace.Drop {
		t.Fatalf("rate 0 root decision = %v, want Drop", got)
	}
	if got := Sampler(2).ShouldSample(root).Decision; got != sdktrace.RecordAndSample {
		t.Fatalf("rate above 1 root decision = %v, want RecordAndSample", got)
	}

	parent := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    tid,
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	child := sdktrace.SamplingParameters{ParentContext: parent, TraceID: tid, Name: "child"}
	if got := Sampler(0).ShouldSample(child).Decision; got != sdktrace.RecordAndSample {
		t.Fatalf("sampled parent decision = %v, want RecordAndSample", got)
	}
}

func TestOperationSpan(t *testing.T) {
	sr := record(t)

	id := domain.Authenticated("u1")
	op := domain.Operation{ID: "op-1", Entity: domain.EntityCart, Kind: domain.OpAdd}
	_, span := StartSpan(context.Background(), "syncd.push", OperationAttrs(id, op)...)
	End(span, errors.New("backend unavailable"))

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	got := attrs(ended[0].Attributes())
	want := map[attribute.Key]string{
		AttrPartition:    id.Partition(),
		AttrIdentityKind: string(domain.IdentityAuthenticated),
		AttrEntity:       string(domain.EntityCart),
		AttrOperation:    string(domain.OpAdd),
		AttrOperationID:  "op-1",
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("attribute %s = %q, want %q", k, got[k], v)
		}
	}
	if ended[0].Status().Code != codes.Error {
		t.Fatalf("status = %v, want Error", ended[0].Status().Code)
	}
}

func TestHTTPMiddlewareNamesRoute(t *testing.T) {
	sr := record(t)

	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Annotate(r.Context(), IdentityAttrs("user:u1", domain.Authenticated("u1"))...)
		w.WriteHeader(http.StatusServiceUnavailable)
		Route(r, "GET /api/cart", http.StatusServiceUnavailable)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/cart", nil))

	ended := sr.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(ended))
	}
	s := ended[0]
	if s.Name() != "GET /api/cart" {
		t.Fatalf("span name = %q", s.Name())
	}
	if s.SpanKind() != trace.SpanKindServer {
		t.Fatalf("span kind = %v", s.SpanKind())
	}
	got := attrs(s.Attributes())
	if got["http.route"] != "GET /api/cart" || got[AttrPartition] != "user:u1" {
		t.Fatalf("attributes = %v", got)
	}
	if s.Status().Code != codes.Error {
		t.Fatalf("status = %v, want Error", s.Status().Code)
	}
}
