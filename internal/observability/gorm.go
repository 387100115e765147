package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	gormSpanKey      = "readonly:gorm:span"
	gormStartTimeKey = "readonly:gorm:start"
)

// RegisterGORMCallbacks registers GORM callbacks for database statement tracing.
// This should be called after GORM is initialized and observability is configured.
// A handle that already carries the callbacks is left unchanged.
func RegisterGORMCallbacks(db *gorm.DB, cfg *Config) error {
	if cfg == nil || cfg.TracerProvider == nil || !cfg.EnableDetailedDBTracing {
		return nil
	}
	if db.Callback().Query().Get("readonly:trace_before_query") != nil {
		return nil
	}

	tracer := cfg.Tracer()

	// Query callbacks
	if err := db.Callback().Query().Before("gorm:query").Register("readonly:trace_before_query", before(tracer, "db.query", "SELECT")); err != nil {
		return err
	}
	if err := db.Callback().Query().After("gorm:query").Register("readonly:trace_after_query", after(tracer, cfg, "SELECT")); err != nil {
		return err
	}

	// Create callbacks
	if err := db.Callback().Create().Before("gorm:create").Register("readonly:trace_before_create", before(tracer, "db.create", "INSERT")); err != nil {
		return err
	}
	if err := db.Callback().Create().After("gorm:create").Register("readonly:trace_after_create", after(tracer, cfg, "INSERT")); err != nil {
		return err
	}

	// Update callbacks
	if err := db.Callback().Update().Before("gorm:update").Register("readonly:trace_before_update", before(tracer, "db.update", "UPDATE")); err != nil {
		return err
	}
	if err := db.Callback().Update().After("gorm:update").Register("readonly:trace_after_update", after(tracer, cfg, "UPDATE")); err != nil {
		return err
	}

	// Delete callbacks
	if err := db.Callback().Delete().Before("gorm:delete").Register("readonly:trace_before_delete", before(tracer, "db.delete", "DELETE")); err != nil {
		return err
	}
	if err := db.Callback().Delete().After("gorm:delete").Register("readonly:trace_after_delete", after(tracer, cfg, "DELETE")); err != nil {
		return err
	}

	return nil
}

func before(tracer *Tracer, spanName, operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		startSpan(db, tracer, spanName, operation)
	}
}

func after(tracer *Tracer, cfg *Config, operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		endSpan(db, tracer, cfg, operation)
	}
}

func startSpan(db *gorm.DB, tracer *Tracer, spanName, operation string) {
	ctx := db.Statement.Context
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracer.StartDBQuery(ctx, spanName, operation)

	db.Statement.Context = ctx
	db.InstanceSet(gormSpanKey, span)
	db.InstanceSet(gormStartTimeKey, time.Now())
}

func endSpan(db *gorm.DB, tracer *Tracer, cfg *Config, operation string) {
	spanVal, ok := db.InstanceGet(gormSpanKey)
	if !ok {
		return
	}

	span, ok := spanVal.(trace.Span)
	if !ok {
		return
	}
	defer span.End()

	// Add SQL statement info
	if db.Statement != nil {
		tableName := db.Statement.Table
		if tableName != "" {
			span.SetAttributes(attribute.String("db.sql.table", tableName))
		}
		span.SetAttributes(attribute.Int64("db.rows_affected", db.RowsAffected))
	}

	// Record error if any
	if db.Error != nil {
		tracer.RecordError(span, db.Error)
		span.SetStatus(codes.Error, db.Error.Error())
	}

	// Record metrics
	if startTimeVal, ok := db.InstanceGet(gormStartTimeKey); ok {
		if startTime, ok := startTimeVal.(time.Time); ok {
			duration := time.Since(startTime)
			cfg.Metrics().RecordDBQuery(db.Statement.Context, operation, duration)
		}
	}
}
