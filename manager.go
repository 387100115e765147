package readonly

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/nlstn/go-readonly/internal/metadata"
	"github.com/nlstn/go-readonly/internal/observability"
	"github.com/nlstn/go-readonly/internal/unitofwork"
	"gorm.io/gorm"
)

// Manager is a GORM-backed persistence manager with read-only enforcement.
// It tracks loaded and persisted entities in a unit of work and writes the
// pending changes in one transaction on Flush.
//
// Like a GORM session, a Manager is meant to be used by one goroutine at a time.
type Manager struct {
	// db holds the GORM database connection
	db *gorm.DB
	// registry holds entity metadata, proxy registrations and the metadata cache
	registry *metadata.Registry
	// uow tracks managed entities and pending changes
	uow *unitofwork.UnitOfWork
	// hook enforces read-only entities at each lifecycle point
	hook *Hook
	// observability holds the tracing and metrics configuration
	observability *observability.Config
	// logger is used for structured logging throughout the manager
	logger *slog.Logger
}

// NewManager creates a Manager for db.
func NewManager(db *gorm.DB) *Manager {
	m, err := NewManagerWithConfig(db, ManagerConfig{})
	if err != nil {
		panic(err)
	}
	return m
}

// NewManagerWithConfig creates a Manager with additional configuration.
func NewManagerWithConfig(db *gorm.DB, cfg ManagerConfig) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("readonly: database handle is required")
	}

	logger := slog.Default()
	m := &Manager{
		db:       db,
		registry: metadata.NewRegistry(db.NamingStrategy),
		logger:   logger,
	}
	m.uow = unitofwork.New(m.persistedFields)

	opts := []HookOption{WithLogger(logger), WithIdentity(m.identity)}
	if cfg.FirstViolationOnly {
		opts = append(opts, WithFirstViolationOnly())
	}
	m.hook = NewHook(opts...)
	m.registry.AddNotFoundListener(m.hook)

	if cfg.Observability != nil {
		if err := m.SetObservability(*cfg.Observability); err != nil {
			return nil, err
		}
	}

	if cfg.GuardDirectWrites {
		if err := RegisterCallbacks(db, m.hook, m.registry); err != nil {
			return nil, fmt.Errorf("failed to install write guard: %w", err)
		}
	}

	return m, nil
}

// SetLogger sets a custom logger for the manager, its hook and its registry.
// If not called, slog.Default() is used.
func (m *Manager) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	m.logger = logger
	m.hook.SetLogger(logger)
	m.registry.SetLogger(logger)
}

// SetObservability configures tracing and metrics for the manager and its hook.
// With EnableDetailedDBTracing set, every statement on the database handle is traced.
func (m *Manager) SetObservability(cfg ObservabilityConfig) error {
	obs, err := cfg.build()
	if err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	if err := observability.RegisterGORMCallbacks(m.db, obs); err != nil {
		return fmt.Errorf("failed to register database tracing: %w", err)
	}
	m.observability = obs
	withObservabilityConfig(obs)(m.hook)
	return nil
}

// DB returns the underlying GORM handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Hook returns the read-only enforcement hook driven by the manager.
func (m *Manager) Hook() *Hook {
	return m.hook
}

// RegisterEntity registers a writable or read-only entity type.
func (m *Manager) RegisterEntity(entity interface{}) error {
	record, err := m.registry.RegisterEntity(entity)
	if err != nil {
		return fmt.Errorf("failed to register entity %T: %w", entity, err)
	}
	m.logger.Debug("Registered entity",
		slog.String(observability.LogFieldEntityType, string(record.Name)),
		slog.String("table", record.Table))
	return nil
}

// RegisterProxy registers proxy as a stand-in type for parent. The proxy shares
// the parent's metadata record and table once it implements Entity.
func (m *Manager) RegisterProxy(proxy, parent interface{}) error {
	p, err := m.registry.RegisterProxy(proxy, parent)
	if err != nil {
		return fmt.Errorf("failed to register proxy %T: %w", proxy, err)
	}
	m.logger.Debug("Registered proxy",
		slog.String(observability.LogFieldEntityType, string(p.Name)),
		slog.String("parent", string(p.Parent)))
	return nil
}

// ClassMetadata returns the metadata record for name.
func (m *Manager) ClassMetadata(name TypeName) (*Metadata, error) {
	return m.registry.ClassMetadata(name)
}

// Persist schedules entity for insertion on the next Flush.
// Read-only entities are rejected with a *PersistRejectedError.
// Persisting an entity the manager already tracks does nothing.
func (m *Manager) Persist(entity interface{}) error {
	if err := m.hook.OnPrePersist(entity); err != nil {
		return err
	}
	if _, err := m.metadataFor(entity); err != nil {
		return err
	}
	if _, err := m.uow.ScheduleInsert(entity); err != nil {
		return fmt.Errorf("failed to persist %T: %w", entity, err)
	}
	return nil
}

// Remove schedules entity for deletion on the next Flush.
// Removing an entity that is only scheduled for insertion cancels the insertion.
func (m *Manager) Remove(entity interface{}) error {
	if err := m.uow.ScheduleDelete(entity); err != nil {
		return fmt.Errorf("failed to remove %T: %w", entity, err)
	}
	return nil
}

// Contains reports whether entity is managed or scheduled for insertion.
func (m *Manager) Contains(entity interface{}) bool {
	return m.uow.Contains(entity)
}

// Detach stops tracking entity. Its pending changes are discarded.
func (m *Manager) Detach(entity interface{}) {
	m.uow.Detach(entity)
}

// Clear stops tracking every entity.
func (m *Manager) Clear() {
	m.uow.Clear()
}

// Find loads the first row matching conds into dest and manages it.
// dest must be a pointer to a registered entity or proxy struct.
func (m *Manager) Find(ctx context.Context, dest interface{}, conds ...interface{}) error {
	return m.find(ctx, dest, false, conds...)
}

// FindReadOnly loads like Find and seals the loaded instance read-only.
// dest must embed Marker; ErrNotMarkable is returned before querying otherwise.
func (m *Manager) FindReadOnly(ctx context.Context, dest interface{}, conds ...interface{}) error {
	if _, ok := dest.(sealable); !ok {
		return fmt.Errorf("%w: %T", ErrNotMarkable, dest)
	}
	return m.find(ctx, dest, true, conds...)
}

// FindAll loads every row matching conds into dest, a pointer to a slice of
// entities, and manages each element.
func (m *Manager) FindAll(ctx context.Context, dest interface{}, conds ...interface{}) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() || rv.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("%w: FindAll requires a pointer to a slice, got %T", ErrInvalidEntity, dest)
	}

	record, err := m.metadataFor(dest)
	if err != nil {
		return err
	}

	ctx, span := m.observability.Tracer().StartLoad(ctx, string(NameOf(dest)), record.Table)
	defer span.End()

	if err := m.db.WithContext(ctx).Table(record.Table).Find(dest, conds...).Error; err != nil {
		m.observability.Tracer().RecordError(span, err)
		return err
	}

	for _, entity := range statementEntities(dest) {
		if err := m.loaded(entity, false); err != nil {
			return err
		}
	}
	return nil
}

// Flush writes pending insertions, updates and deletions in one transaction.
//
// The hook inspects the full change set first; when it contains a read-only
// entity nothing is written and every entity stays pending, so the caller
// can Detach the offenders and flush again.
func (m *Manager) Flush(ctx context.Context) error {
	start := time.Now()
	cs, err := m.uow.ChangeSet()
	if err != nil {
		return fmt.Errorf("failed to compute change set: %w", err)
	}

	flushID := uuid.NewString()
	ctx, span := m.observability.Tracer().StartFlush(ctx, flushID, len(cs.Insertions), len(cs.Updates), len(cs.Deletions))
	defer span.End()
	logger := observability.LoggerWithTrace(ctx, m.logger).With(slog.String(observability.LogFieldFlushID, flushID))

	if err := m.hook.OnPreFlush(cs); err != nil {
		if rejected, ok := err.(*FlushRejectedError); ok {
			span.SetAttributes(observability.ViolationCountAttr(len(rejected.Violations)))
			if m.observability.IsEnabled() {
				for _, v := range rejected.Violations {
					m.observability.Tracer().RecordViolation(span, string(v.Type), string(v.Category), identityKey(v.Identity))
				}
			}
		}
		m.observability.Tracer().RecordError(span, err)
		m.observability.Metrics().RecordFlush(ctx, time.Since(start), 0, false)
		return err
	}

	if cs.Len() == 0 {
		return nil
	}

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := m.write(tx, cs.Insertions, func(tx *gorm.DB, e interface{}) *gorm.DB { return tx.Create(e) }); err != nil {
			return err
		}
		if err := m.write(tx, cs.Updates, func(tx *gorm.DB, e interface{}) *gorm.DB { return tx.Save(e) }); err != nil {
			return err
		}
		return m.write(tx, cs.Deletions, func(tx *gorm.DB, e interface{}) *gorm.DB { return tx.Delete(e) })
	})
	if err != nil {
		m.observability.Tracer().RecordError(span, err)
		m.observability.Metrics().RecordFlush(ctx, time.Since(start), cs.Len(), false)
		return fmt.Errorf("flush %s failed: %w", flushID, err)
	}

	if err := m.uow.Commit(cs); err != nil {
		return fmt.Errorf("flush %s written but snapshots not refreshed: %w", flushID, err)
	}

	duration := time.Since(start)
	m.observability.Metrics().RecordFlush(ctx, duration, cs.Len(), true)
	logger.Debug("Flushed unit of work",
		slog.Int("insertions", len(cs.Insertions)),
		slog.Int("updates", len(cs.Updates)),
		slog.Int("deletions", len(cs.Deletions)),
		slog.Int64(observability.LogFieldDuration, duration.Milliseconds()))
	return nil
}

// Identifier returns the primary key of entity: the single key value, or a
// map of field name to value for composite keys.
func (m *Manager) Identifier(entity interface{}) (interface{}, error) {
	record, err := m.metadataFor(entity)
	if err != nil {
		return nil, err
	}
	return record.Identifier(entity)
}

// BindParam converts an entity into its identifier so it can be bound directly
// as a query parameter. Values that are not entities known to the manager are
// returned unchanged.
//
// Example usage:
//
//	var lines []InvoiceLine
//	db.Where("invoice_id = ?", manager.BindParam(invoice)).Find(&lines)
func (m *Manager) BindParam(v interface{}) interface{} {
	if v == nil || indirect(reflect.TypeOf(v)).Kind() != reflect.Struct {
		return v
	}
	id, err := m.Identifier(v)
	if err != nil {
		return v
	}
	return id
}

func (m *Manager) find(ctx context.Context, dest interface{}, seal bool, conds ...interface{}) error {
	record, err := m.metadataFor(dest)
	if err != nil {
		return err
	}

	ctx, span := m.observability.Tracer().StartLoad(ctx, string(NameOf(dest)), record.Table)
	defer span.End()

	if err := m.db.WithContext(ctx).Table(record.Table).First(dest, conds...).Error; err != nil {
		m.observability.Tracer().RecordError(span, err)
		return err
	}
	return m.loaded(dest, seal)
}

// loaded runs the hydration steps for a freshly loaded entity.
func (m *Manager) loaded(entity interface{}, seal bool) error {
	if seal {
		if err := Seal(entity); err != nil {
			return fmt.Errorf("%w: %T", err, entity)
		}
	}
	m.hook.OnPostLoad(entity, m.registry)
	return m.uow.Manage(entity)
}

func (m *Manager) write(tx *gorm.DB, entities []interface{}, op func(*gorm.DB, interface{}) *gorm.DB) error {
	for _, entity := range entities {
		record, err := m.metadataFor(entity)
		if err != nil {
			return err
		}
		if err := op(tx.Table(record.Table), entity).Error; err != nil {
			return fmt.Errorf("failed to write %s: %w", record.EntityName, err)
		}
	}
	return nil
}

func (m *Manager) metadataFor(entity interface{}) (*Metadata, error) {
	if entity == nil {
		return nil, ErrInvalidEntity
	}
	return m.registry.ClassMetadata(NameOf(entity))
}

// persistedFields lists the fields GORM writes for entity, so change
// detection covers exactly the stored columns.
func (m *Manager) persistedFields(entity interface{}) ([]string, error) {
	record, err := m.metadataFor(entity)
	if err != nil {
		return nil, err
	}
	return record.FieldNames(), nil
}

func (m *Manager) identity(entity interface{}) (interface{}, bool) {
	id, err := m.Identifier(entity)
	if err != nil {
		return nil, false
	}
	return id, true
}

func identityKey(id interface{}) string {
	if id == nil {
		return ""
	}
	return fmt.Sprint(id)
}

func indirect(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
