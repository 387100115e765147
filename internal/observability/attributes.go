// Package observability provides OpenTelemetry-based instrumentation for read-only enforcement.
//
// It supports distributed tracing of flush cycles, metrics for rejections and
// metadata resolution, and structured logging enriched with trace context.
//
// All observability features are opt-in. When not configured, no-op implementations
// are used with zero performance overhead.
package observability

import "go.opentelemetry.io/otel/attribute"

// Instrumentation identity constants
const (
	// TracerName is the instrumentation name for tracing.
	TracerName = "github.com/nlstn/go-readonly"
	// MeterName is the instrumentation name for metrics.
	MeterName = "github.com/nlstn/go-readonly"
)

// Semantic attribute keys following OpenTelemetry conventions.
const (
	// Entity attributes
	AttrEntityType = "readonly.entity_type"
	AttrEntityKey  = "readonly.entity_key"
	AttrTable      = "readonly.table"

	// Enforcement attributes
	AttrPhase    = "readonly.phase"
	AttrCategory = "readonly.category"
	AttrOutcome  = "readonly.outcome"

	// Flush attributes
	AttrFlushID         = "readonly.flush.id"
	AttrFlushInsertions = "readonly.flush.insertions"
	AttrFlushUpdates    = "readonly.flush.updates"
	AttrFlushDeletions  = "readonly.flush.deletions"
	AttrViolationCount  = "readonly.violation.count"
)

// Phase values for the readonly.phase attribute.
const (
	PhasePersist = "persist"
	PhaseFlush   = "flush"
)

// Outcome values for metadata resolution.
const (
	OutcomeResolved = "resolved"
	OutcomeNotProxy = "not_proxy"
	OutcomeNoParent = "no_parent"
)

// Log field keys for structured logging with trace context.
const (
	LogFieldEntityType = "entity_type"
	LogFieldEntityKey  = "entity_key"
	LogFieldPhase      = "phase"
	LogFieldCategory   = "category"
	LogFieldFlushID    = "flush_id"
	LogFieldTraceID    = "trace_id"
	LogFieldSpanID     = "span_id"
	LogFieldDuration   = "duration_ms"
	LogFieldError      = "error"
)

// EntityTypeAttr creates an attribute for the entity type name.
func EntityTypeAttr(name string) attribute.KeyValue {
	return attribute.String(AttrEntityType, name)
}

// EntityKeyAttr creates an attribute for the entity key.
func EntityKeyAttr(key string) attribute.KeyValue {
	return attribute.String(AttrEntityKey, key)
}

// TableAttr creates an attribute for the mapped table.
func TableAttr(table string) attribute.KeyValue {
	return attribute.String(AttrTable, table)
}

// PhaseAttr creates an attribute for the enforcement phase.
func PhaseAttr(phase string) attribute.KeyValue {
	return attribute.String(AttrPhase, phase)
}

// CategoryAttr creates an attribute for the change category.
func CategoryAttr(category string) attribute.KeyValue {
	return attribute.String(AttrCategory, category)
}

// OutcomeAttr creates an attribute for a resolution outcome.
func OutcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

// FlushIDAttr creates an attribute for the flush cycle identifier.
func FlushIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrFlushID, id)
}

// ViolationCountAttr creates an attribute for the number of rejected entities.
func ViolationCountAttr(count int) attribute.KeyValue {
	return attribute.Int(AttrViolationCount, count)
}
