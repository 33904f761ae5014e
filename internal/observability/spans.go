package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/oriys/cartsync/internal/domain"
)

// Attribute keys shared by engine and backend spans.
var (
	AttrEntity       = attribute.Key("cartsync.entity")
	AttrOperation    = attribute.Key("cartsync.operation")
	AttrOperationID  = attribute.Key("cartsync.operation.id")
	AttrPartition    = attribute.Key("cartsync.partition")
	AttrIdentityKind = attribute.Key("cartsync.identity.kind")
	AttrAttempts     = attribute.Key("cartsync.attempts")
	AttrGuest        = attribute.Key("cartsync.guest.partition")
)

// IdentityAttrs tags a span with the partition it works on.
func IdentityAttrs(partition string, id domain.SessionIdentity) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrPartition.String(partition),
		AttrIdentityKind.String(string(id.Kind)),
	}
}

// OperationAttrs tags a span with one queued operation of id.
func OperationAttrs(id domain.SessionIdentity, op domain.Operation) []attribute.KeyValue {
	return append(IdentityAttrs(id.Partition(), id),
		AttrEntity.String(string(op.Entity)),
		AttrOperation.String(string(op.Kind)),
		AttrOperationID.String(op.ID),
	)
}

// StartSpan starts an internal span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan starts a span for a call to the Remote Backend Store.
func StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// Annotate adds attrs to the span carried by ctx.
func Annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// End sets the span status from err and ends it.
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
