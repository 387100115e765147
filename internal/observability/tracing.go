package observability

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps an OpenTelemetry tracer with persistence-specific span creation methods.
type Tracer struct {
	tracer      trace.Tracer
	serviceName string
}

// NewTracer creates a new Tracer using the given TracerProvider.
func NewTracer(tp trace.TracerProvider, serviceName string) *Tracer {
	return &Tracer{
		tracer:      tp.Tracer(TracerName),
		serviceName: serviceName,
	}
}

// StartSpan starts a new span with the given name and attributes.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	return ctx, span
}

// StartFlush starts a span for one flush cycle.
func (t *Tracer) StartFlush(ctx context.Context, flushID string, insertions, updates, deletions int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "readonly.flush", trace.WithAttributes(
		FlushIDAttr(flushID),
		attribute.Int(AttrFlushInsertions, insertions),
		attribute.Int(AttrFlushUpdates, updates),
		attribute.Int(AttrFlushDeletions, deletions),
	))
}

// StartLoad starts a span for loading entities of the given type.
func (t *Tracer) StartLoad(ctx context.Context, entityType, table string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "readonly.load", trace.WithAttributes(
		EntityTypeAttr(entityType),
		TableAttr(table),
	))
}

// StartDBQuery starts a span for a database statement.
func (t *Tracer) StartDBQuery(ctx context.Context, name, operation string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "gorm"),
		attribute.String("db.operation", operation),
	))
}

// RecordError records an error on the span.
func (t *Tracer) RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// RecordViolation adds a rejected read-only entity to the span as an event.
// An empty key is left off.
func (t *Tracer) RecordViolation(span trace.Span, entityType, category, key string) {
	attrs := []attribute.KeyValue{EntityTypeAttr(entityType), CategoryAttr(category)}
	if key != "" {
		attrs = append(attrs, EntityKeyAttr(key))
	}
	span.AddEvent("readonly.violation", trace.WithAttributes(attrs...))
}

// LoggerWithTrace returns a logger enriched with trace context.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logger
	}
	return logger.With(
		slog.String(LogFieldTraceID, span.SpanContext().TraceID().String()),
		slog.String(LogFieldSpanID, span.SpanContext().SpanID().String()),
	)
}
