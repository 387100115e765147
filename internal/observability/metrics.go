package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the read-only enforcement metric instruments.
type Metrics struct {
	rejectionCount     metric.Int64Counter
	flushDuration      metric.Float64Histogram
	flushSize          metric.Int64Histogram
	resolutionCount    metric.Int64Counter
	dbQueryDuration    metric.Float64Histogram
	directWriteBlocked metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with the given MeterProvider.
func NewMetrics(mp metric.MeterProvider) *Metrics {
	meter := mp.Meter(MeterName)
	m := &Metrics{}

	// Note: errors from meter instrument creation are unlikely in practice
	// and would only occur with invalid parameters. We use explicit checks
	// to satisfy the linter while continuing with partial metrics on error.
	var err error

	m.rejectionCount, err = meter.Int64Counter(
		"readonly.rejection.count",
		metric.WithDescription("Number of read-only entities rejected from the write path"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		m.rejectionCount, _ = meter.Int64Counter("readonly.rejection.count")
	}

	m.flushDuration, err = meter.Float64Histogram(
		"readonly.flush.duration",
		metric.WithDescription("Duration of flush cycles in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.flushDuration, _ = meter.Float64Histogram("readonly.flush.duration")
	}

	m.flushSize, err = meter.Int64Histogram(
		"readonly.flush.size",
		metric.WithDescription("Number of entities written by a flush cycle"),
		metric.WithUnit("{entity}"),
	)
	if err != nil {
		m.flushSize, _ = meter.Int64Histogram("readonly.flush.size")
	}

	m.resolutionCount, err = meter.Int64Counter(
		"readonly.metadata.resolution.count",
		metric.WithDescription("Number of metadata lookups answered by the read-only resolver"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		m.resolutionCount, _ = meter.Int64Counter("readonly.metadata.resolution.count")
	}

	m.dbQueryDuration, err = meter.Float64Histogram(
		"readonly.db.query.duration",
		metric.WithDescription("Duration of database statements in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		m.dbQueryDuration, _ = meter.Float64Histogram("readonly.db.query.duration")
	}

	m.directWriteBlocked, err = meter.Int64Counter(
		"readonly.direct_write.blocked",
		metric.WithDescription("Number of direct GORM writes blocked for read-only models"),
		metric.WithUnit("{statement}"),
	)
	if err != nil {
		m.directWriteBlocked, _ = meter.Int64Counter("readonly.direct_write.blocked")
	}

	return m
}

// RecordRejection records one rejected read-only entity.
func (m *Metrics) RecordRejection(ctx context.Context, phase, entityType, category string) {
	attrs := []attribute.KeyValue{PhaseAttr(phase), EntityTypeAttr(entityType)}
	if category != "" {
		attrs = append(attrs, CategoryAttr(category))
	}
	m.rejectionCount.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFlush records a completed or rejected flush cycle.
func (m *Metrics) RecordFlush(ctx context.Context, duration time.Duration, size int, succeeded bool) {
	attrs := metric.WithAttributes(attribute.Bool("readonly.flush.succeeded", succeeded))
	m.flushDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
	m.flushSize.Record(ctx, int64(size), attrs)
}

// RecordMetadataResolution records the outcome of a resolver invocation.
func (m *Metrics) RecordMetadataResolution(ctx context.Context, outcome string) {
	m.resolutionCount.Add(ctx, 1, metric.WithAttributes(OutcomeAttr(outcome)))
}

// RecordDBQuery records metrics for a database statement.
func (m *Metrics) RecordDBQuery(ctx context.Context, operation string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("db.operation", operation))
	m.dbQueryDuration.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordDirectWriteBlocked records a GORM statement stopped by the write guard.
func (m *Metrics) RecordDirectWriteBlocked(ctx context.Context, operation, entityType string) {
	attrs := metric.WithAttributes(
		attribute.String("db.operation", operation),
		EntityTypeAttr(entityType),
	)
	m.directWriteBlocked.Add(ctx, 1, attrs)
}
