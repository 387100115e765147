package readonly

import (
	"github.com/nlstn/go-readonly/internal/observability"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservabilityConfig configures OpenTelemetry instrumentation.
type ObservabilityConfig struct {
	// TracerProvider is the OpenTelemetry tracer provider.
	// If nil, tracing is disabled.
	TracerProvider trace.TracerProvider

	// MeterProvider is the OpenTelemetry meter provider.
	// If nil, metrics collection is disabled.
	MeterProvider metric.MeterProvider

	// ServiceName identifies this service in traces and metrics. Defaults to "readonly".
	ServiceName string

	// ServiceVersion is the version of this service.
	ServiceVersion string

	// EnableDetailedDBTracing traces every statement issued through the database handle.
	// It requires a TracerProvider.
	EnableDetailedDBTracing bool
}

func (c ObservabilityConfig) build() (*observability.Config, error) {
	opts := []observability.Option{
		observability.WithTracerProvider(c.TracerProvider),
		observability.WithMeterProvider(c.MeterProvider),
		observability.WithServiceVersion(c.ServiceVersion),
	}
	if c.ServiceName != "" {
		opts = append(opts, observability.WithServiceName(c.ServiceName))
	}
	if c.EnableDetailedDBTracing {
		opts = append(opts, observability.WithDetailedDBTracing())
	}

	cfg := observability.NewConfig(opts...)
	if err := cfg.Initialize(); err != nil {
		return nil, err
	}
	return cfg, nil
}
