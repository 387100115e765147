package readonly

import (
	"context"
	"errors"
	"log/slog"
	"reflect"

	"github.com/nlstn/go-readonly/internal/metadata"
	"github.com/nlstn/go-readonly/internal/observability"
)

// TypeName identifies an entity type: its package path and name joined by a dot.
type TypeName = metadata.TypeName

// Metadata is the structural description of a persistable entity type.
type Metadata = metadata.Record

// MetadataNotFoundEvent is raised by the metadata subsystem for a type name
// it cannot resolve. Listeners answer it through SetFoundMetadata.
type MetadataNotFoundEvent = metadata.NotFoundEvent

// NameOf returns the TypeName of the dynamic type of v.
func NameOf(v interface{}) TypeName {
	return metadata.NameOf(v)
}

// UnitOfWork exposes the entities pending in one flush cycle.
type UnitOfWork interface {
	ScheduledInsertions() []interface{}
	ScheduledUpdates() []interface{}
	ScheduledDeletions() []interface{}
}

// MetadataSource resolves metadata records by type name.
// A lookup for a name without a cached record may consult NotFound listeners.
type MetadataSource interface {
	ClassMetadata(name TypeName) (*Metadata, error)
}

// Listener is the lifecycle surface a persistence manager drives.
// The manager holds a typed reference and calls each method directly.
type Listener interface {
	// OnPrePersist is called once per entity before it is scheduled for insertion.
	// A non-nil error aborts the persist call.
	OnPrePersist(entity interface{}) error

	// OnPreFlush is called once per flush cycle before any statement is issued.
	// A non-nil error aborts the flush.
	OnPreFlush(uow UnitOfWork) error

	// OnMetadataNotFound is called when no metadata record resolves for a type name.
	OnMetadataNotFound(ev *MetadataNotFoundEvent)

	// OnPostLoad is called once per entity after it was materialized.
	OnPostLoad(entity interface{}, source MetadataSource)
}

var (
	_ Listener                  = (*Hook)(nil)
	_ metadata.NotFoundListener = (*Hook)(nil)
)

var entityInterface = reflect.TypeOf((*Entity)(nil)).Elem()

// IdentityFunc extracts the identity of an entity for diagnostics.
type IdentityFunc func(entity interface{}) (interface{}, bool)

// Hook enforces read-only entities at the four lifecycle points of a
// persistence manager. It keeps no per-call state and is safe for concurrent
// use once configured.
type Hook struct {
	logger    *slog.Logger
	identity  IdentityFunc
	firstOnly bool
	obs       *observability.Config
	obsErr    error
}

// HookOption configures a Hook.
type HookOption func(*Hook)

// WithLogger sets the logger used for rejections and resolver decisions.
// A nil logger falls back to slog.Default().
func WithLogger(logger *slog.Logger) HookOption {
	return func(h *Hook) {
		if logger == nil {
			logger = slog.Default()
		}
		h.logger = logger
	}
}

// WithIdentity sets the function used to report the identity of rejected entities.
func WithIdentity(fn IdentityFunc) HookOption {
	return func(h *Hook) {
		h.identity = fn
	}
}

// WithFirstViolationOnly makes the flush guard stop at the first read-only entity
// instead of reporting the full set.
func WithFirstViolationOnly() HookOption {
	return func(h *Hook) {
		h.firstOnly = true
	}
}

// WithObservability enables rejection and resolution metrics for the hook.
// A configuration that fails to initialize leaves the hook uninstrumented
// and is logged at Warn level.
func WithObservability(cfg ObservabilityConfig) HookOption {
	return func(h *Hook) {
		obs, err := cfg.build()
		if err != nil {
			h.obsErr = err
			return
		}
		h.obs = obs
		h.obsErr = nil
	}
}

func withObservabilityConfig(obs *observability.Config) HookOption {
	return func(h *Hook) {
		h.obs = obs
	}
}

// NewHook creates a Hook with the given options.
func NewHook(opts ...HookOption) *Hook {
	h := &Hook{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	if h.obsErr != nil {
		h.logger.Warn("Observability disabled for read-only hook",
			slog.String(observability.LogFieldError, h.obsErr.Error()))
		h.obsErr = nil
	}
	return h
}

// SetLogger sets a custom logger for the hook.
// If not called, slog.Default() is used.
func (h *Hook) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	h.logger = logger
}

// IsReadOnly reports whether entity is read-only. See the package-level IsReadOnly.
func (h *Hook) IsReadOnly(entity interface{}) bool {
	return IsReadOnly(entity)
}

// OnPrePersist rejects read-only entities before they enter the insertion set.
func (h *Hook) OnPrePersist(entity interface{}) error {
	if !IsReadOnly(entity) {
		return nil
	}

	v := h.violation(entity, "")
	h.reject(observability.PhasePersist, v)
	return &PersistRejectedError{Violation: v}
}

// OnPreFlush rejects a flush whose pending insertions, updates or deletions
// contain a read-only entity.
func (h *Hook) OnPreFlush(uow UnitOfWork) error {
	if uow == nil {
		return nil
	}

	categories := []struct {
		category Category
		entities []interface{}
	}{
		{CategoryInsertion, uow.ScheduledInsertions()},
		{CategoryUpdate, uow.ScheduledUpdates()},
		{CategoryDeletion, uow.ScheduledDeletions()},
	}

	var violations []Violation
scan:
	for _, c := range categories {
		for _, entity := range c.entities {
			if !IsReadOnly(entity) {
				continue
			}
			v := h.violation(entity, c.category)
			h.reject(observability.PhaseFlush, v)
			violations = append(violations, v)
			if h.firstOnly {
				break scan
			}
		}
	}

	if len(violations) == 0 {
		return nil
	}
	return &FlushRejectedError{Violations: violations}
}

// OnMetadataNotFound supplies the parent's metadata record for registered
// read-only proxies. It never fails: anything it cannot resolve is left to
// other listeners or to the caller's own not-found handling.
func (h *Hook) OnMetadataNotFound(ev *MetadataNotFoundEvent) {
	if ev == nil || ev.Lookup() == nil {
		return
	}

	name := ev.ClassName()
	proxy, ok := ev.Lookup().ProxyOf(name)
	if !ok || !implementsEntity(proxy.Type) {
		h.metrics().RecordMetadataResolution(context.Background(), observability.OutcomeNotProxy)
		return
	}

	record, ok := h.parentMetadata(ev.Lookup(), proxy)
	if !ok {
		h.metrics().RecordMetadataResolution(context.Background(), observability.OutcomeNoParent)
		return
	}

	ev.SetFoundMetadata(record)
	h.metrics().RecordMetadataResolution(context.Background(), observability.OutcomeResolved)
	h.logger.Debug("Resolved read-only proxy metadata",
		slog.String(observability.LogFieldEntityType, string(name)),
		slog.String("parent", string(proxy.Parent)))
}

// OnPostLoad primes the metadata cache for the concrete class of a loaded
// read-only entity, so identity-based parameter binding works for it.
func (h *Hook) OnPostLoad(entity interface{}, source MetadataSource) {
	if _, ok := entity.(Entity); !ok || source == nil {
		return
	}

	name := metadata.NameOf(entity)
	if _, err := source.ClassMetadata(name); err != nil {
		h.logger.Warn("Could not register metadata for loaded read-only entity",
			slog.String(observability.LogFieldEntityType, string(name)),
			slog.String(observability.LogFieldError, err.Error()))
	}
}

// parentMetadata looks up the record of the proxy's parent type.
func (h *Hook) parentMetadata(lookup metadata.Lookup, proxy metadata.Proxy) (*Metadata, bool) {
	record, err := lookup.ClassMetadata(proxy.Parent)
	switch {
	case err == nil && record != nil:
		return record, true
	case errors.Is(err, metadata.ErrMetadataNotFound):
		h.logger.Debug("No metadata for read-only proxy parent",
			slog.String(observability.LogFieldEntityType, string(proxy.Name)),
			slog.String("parent", string(proxy.Parent)))
		return nil, false
	default:
		h.logger.Debug("Metadata lookup for read-only proxy parent failed",
			slog.String(observability.LogFieldEntityType, string(proxy.Name)),
			slog.String("parent", string(proxy.Parent)),
			slog.Any(observability.LogFieldError, err))
		return nil, false
	}
}

func (h *Hook) violation(entity interface{}, category Category) Violation {
	v := Violation{
		Category: category,
		Type:     metadata.NameOf(entity),
		Entity:   entity,
	}
	if h.identity != nil {
		if id, ok := h.identity(entity); ok {
			v.Identity = id
		}
	}
	return v
}

func (h *Hook) reject(phase string, v Violation) {
	attrs := []interface{}{
		slog.String(observability.LogFieldPhase, phase),
		slog.String(observability.LogFieldEntityType, string(v.Type)),
	}
	if v.Category != "" {
		attrs = append(attrs, slog.String(observability.LogFieldCategory, string(v.Category)))
	}
	if v.Identity != nil {
		attrs = append(attrs, slog.Any(observability.LogFieldEntityKey, v.Identity))
	}
	h.logger.Warn("Rejected read-only entity", attrs...)
	h.metrics().RecordRejection(context.Background(), phase, string(v.Type), string(v.Category))
}

func (h *Hook) metrics() *observability.Metrics {
	return h.obs.Metrics()
}

func implementsEntity(t reflect.Type) bool {
	if t == nil {
		return false
	}
	return t.Implements(entityInterface) || reflect.PointerTo(t).Implements(entityInterface)
}
