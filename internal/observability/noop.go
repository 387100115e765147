package observability

import (
	"go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// NewNoopTracer creates a tracer that does nothing.
func NewNoopTracer() *Tracer {
	return &Tracer{
		tracer:      tracenoop.NewTracerProvider().Tracer(""),
		serviceName: "",
	}
}

// NewNoopMetrics creates metrics that do nothing.
func NewNoopMetrics() *Metrics {
	meter := noop.NewMeterProvider().Meter("")
	m := &Metrics{}

	// Note: noop meter never returns errors, but we must check them to satisfy the linter.
	m.rejectionCount, _ = meter.Int64Counter("readonly.rejection.count")            //nolint:errcheck
	m.flushDuration, _ = meter.Float64Histogram("readonly.flush.duration")          //nolint:errcheck
	m.flushSize, _ = meter.Int64Histogram("readonly.flush.size")                    //nolint:errcheck
	m.resolutionCount, _ = meter.Int64Counter("readonly.metadata.resolution.count") //nolint:errcheck
	m.dbQueryDuration, _ = meter.Float64Histogram("readonly.db.query.duration")     //nolint:errcheck
	m.directWriteBlocked, _ = meter.Int64Counter("readonly.direct_write.blocked")   //nolint:errcheck

	return m
}
