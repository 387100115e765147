package readonly

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/nlstn/go-readonly/internal/metadata"
	"github.com/nlstn/go-readonly/internal/unitofwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"gorm.io/gorm/schema"
)

type fakeUnitOfWork struct {
	insertions []interface{}
	updates    []interface{}
	deletions  []interface{}
}

func (u *fakeUnitOfWork) ScheduledInsertions() []interface{} { return u.insertions }
func (u *fakeUnitOfWork) ScheduledUpdates() []interface{}    { return u.updates }
func (u *fakeUnitOfWork) ScheduledDeletions() []interface{}  { return u.deletions }

// fakeLookup is a metadata.Lookup with scripted answers.
type fakeLookup struct {
	records map[TypeName]*Metadata
	errs    map[TypeName]error
	proxies map[TypeName]metadata.Proxy
	calls   []TypeName
}

func (l *fakeLookup) ClassMetadata(name TypeName) (*Metadata, error) {
	l.calls = append(l.calls, name)
	if err, ok := l.errs[name]; ok {
		return nil, err
	}
	if record, ok := l.records[name]; ok {
		return record, nil
	}
	return nil, metadata.ErrMetadataNotFound
}

func (l *fakeLookup) ProxyOf(name TypeName) (metadata.Proxy, bool) {
	p, ok := l.proxies[name]
	return p, ok
}

func analyze(t *testing.T, entity interface{}) *Metadata {
	t.Helper()
	record, err := metadata.AnalyzeEntity(entity, &sync.Map{}, schema.NamingStrategy{})
	require.NoError(t, err)
	return record
}

func proxyOf(t *testing.T, proxy, parent interface{}) metadata.Proxy {
	t.Helper()
	r := metadata.NewRegistry(nil)
	p, err := r.RegisterProxy(proxy, parent)
	require.NoError(t, err)
	return p
}

func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func staticIdentity(entity interface{}) (interface{}, bool) {
	switch e := entity.(type) {
	case *ReadOnlyInvoice:
		return e.ID, true
	case *Invoice:
		return e.ID, true
	case *LedgerEntry:
		return e.ID, true
	}
	return nil, false
}

func TestHookOnPrePersist(t *testing.T) {
	var logs bytes.Buffer
	hook := NewHook(WithLogger(bufferLogger(&logs)), WithIdentity(staticIdentity))

	t.Run("rejects read-only proxy", func(t *testing.T) {
		entity := &ReadOnlyInvoice{Invoice: Invoice{ID: 1, Number: "INV-1"}}

		err := hook.OnPrePersist(entity)
		require.Error(t, err)

		var rejected *PersistRejectedError
		require.True(t, errors.As(err, &rejected))
		assert.Equal(t, NameOf(entity), rejected.Type)
		assert.Equal(t, uint(1), rejected.Identity)
		assert.Same(t, entity, rejected.Entity)
		assert.Empty(t, rejected.Category)
		assert.ErrorIs(t, err, ErrReadOnlyEntity)
		assert.Contains(t, logs.String(), "Rejected read-only entity")
		assert.Contains(t, logs.String(), "phase=persist")
	})

	t.Run("rejects sealed instance", func(t *testing.T) {
		entry := &LedgerEntry{ID: 9}
		require.NoError(t, Seal(entry))
		assert.True(t, IsPersistRejected(hook.OnPrePersist(entry)))
	})

	t.Run("accepts writable entities", func(t *testing.T) {
		assert.NoError(t, hook.OnPrePersist(&Invoice{ID: 2}))
		assert.NoError(t, hook.OnPrePersist(&LedgerEntry{ID: 3}))
		assert.NoError(t, hook.OnPrePersist(&ArchivedInvoice{}))
	})

	t.Run("omits unknown identity", func(t *testing.T) {
		err := hook.OnPrePersist(&AuditRecord{ID: 5})
		var rejected *PersistRejectedError
		require.True(t, errors.As(err, &rejected))
		assert.Nil(t, rejected.Identity)
	})
}

func TestHookOnPreFlush(t *testing.T) {
	readOnly := &ReadOnlyInvoice{Invoice: Invoice{ID: 1}}
	writable := &Invoice{ID: 2}

	tests := []struct {
		name     string
		uow      *fakeUnitOfWork
		category Category
	}{
		{name: "insertion", uow: &fakeUnitOfWork{insertions: []interface{}{writable, readOnly}}, category: CategoryInsertion},
		{name: "update", uow: &fakeUnitOfWork{updates: []interface{}{readOnly}, insertions: []interface{}{writable}}, category: CategoryUpdate},
		{name: "deletion", uow: &fakeUnitOfWork{deletions: []interface{}{readOnly}}, category: CategoryDeletion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hook := NewHook(WithLogger(bufferLogger(&bytes.Buffer{})), WithIdentity(staticIdentity))

			err := hook.OnPreFlush(tt.uow)
			require.Error(t, err)

			var rejected *FlushRejectedError
			require.True(t, errors.As(err, &rejected))
			require.Len(t, rejected.Violations, 1)
			assert.Equal(t, tt.category, rejected.Violations[0].Category)
			assert.Same(t, readOnly, rejected.Violations[0].Entity)
			assert.Equal(t, uint(1), rejected.Violations[0].Identity)
		})
	}
}

func TestHookOnPreFlushReportsAllViolations(t *testing.T) {
	first := &ReadOnlyInvoice{Invoice: Invoice{ID: 1}}
	second := &AuditRecord{ID: 2}
	sealed := &LedgerEntry{ID: 3}
	require.NoError(t, Seal(sealed))

	uow := &fakeUnitOfWork{
		insertions: []interface{}{&Invoice{ID: 10}, second},
		updates:    []interface{}{first},
		deletions:  []interface{}{sealed, &LedgerEntry{ID: 4}},
	}

	err := NewHook(WithLogger(bufferLogger(&bytes.Buffer{}))).OnPreFlush(uow)
	var rejected *FlushRejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, []interface{}{second, first, sealed}, rejected.Entities())
	assert.Equal(t, CategoryInsertion, rejected.Violations[0].Category)
	assert.Equal(t, CategoryUpdate, rejected.Violations[1].Category)
	assert.Equal(t, CategoryDeletion, rejected.Violations[2].Category)

	err = NewHook(WithLogger(bufferLogger(&bytes.Buffer{})), WithFirstViolationOnly()).OnPreFlush(uow)
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, []interface{}{second}, rejected.Entities())
}

func TestHookOnPreFlushAcceptsWritableWork(t *testing.T) {
	hook := NewHook()

	assert.NoError(t, hook.OnPreFlush(nil))
	assert.NoError(t, hook.OnPreFlush((*unitofwork.ChangeSet)(nil)))
	assert.NoError(t, hook.OnPreFlush(&fakeUnitOfWork{}))
	assert.NoError(t, hook.OnPreFlush(&fakeUnitOfWork{
		insertions: []interface{}{&Invoice{}},
		updates:    []interface{}{&LedgerEntry{}},
		deletions:  []interface{}{&ArchivedInvoice{}},
	}))
}

func TestHookOnMetadataNotFoundSubstitutesParent(t *testing.T) {
	parent := analyze(t, &Invoice{})
	proxy := proxyOf(t, &ReadOnlyInvoice{}, &Invoice{})
	lookup := &fakeLookup{
		records: map[TypeName]*Metadata{parent.Name: parent},
		proxies: map[TypeName]metadata.Proxy{proxy.Name: proxy},
	}

	ev := metadata.NewNotFoundEvent(proxy.Name, lookup)
	NewHook().OnMetadataNotFound(ev)

	found, ok := ev.FoundMetadata()
	require.True(t, ok)
	assert.Same(t, parent, found)
	assert.Equal(t, []TypeName{parent.Name}, lookup.calls)
}

func TestHookOnMetadataNotFoundLeavesOthersAlone(t *testing.T) {
	parent := analyze(t, &Invoice{})
	archived := proxyOf(t, &ArchivedInvoice{}, &Invoice{})
	lookup := &fakeLookup{
		records: map[TypeName]*Metadata{parent.Name: parent},
		proxies: map[TypeName]metadata.Proxy{archived.Name: archived},
	}

	tests := []struct {
		name string
		typ  TypeName
	}{
		{name: "proxy that is not read-only", typ: archived.Name},
		{name: "unregistered read-only type", typ: NameOf(&AuditRecord{})},
		{name: "unknown type", typ: "example.com/billing.Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup.calls = nil
			ev := metadata.NewNotFoundEvent(tt.typ, lookup)
			NewHook().OnMetadataNotFound(ev)

			_, ok := ev.FoundMetadata()
			assert.False(t, ok)
			assert.Empty(t, lookup.calls, "parent must not be looked up")
		})
	}

	assert.NotPanics(t, func() { NewHook().OnMetadataNotFound(nil) })
}

func TestHookOnMetadataNotFoundSwallowsParentFailures(t *testing.T) {
	proxy := proxyOf(t, &ReadOnlyInvoice{}, &Invoice{})

	tests := []struct {
		name string
		err  error
	}{
		{name: "parent not found", err: metadata.ErrMetadataNotFound},
		{name: "parent lookup broken", err: errors.New("schema parse failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			lookup := &fakeLookup{
				errs:    map[TypeName]error{proxy.Parent: tt.err},
				proxies: map[TypeName]metadata.Proxy{proxy.Name: proxy},
			}

			ev := metadata.NewNotFoundEvent(proxy.Name, lookup)
			assert.NotPanics(t, func() {
				NewHook(WithLogger(bufferLogger(&logs))).OnMetadataNotFound(ev)
			})

			_, ok := ev.FoundMetadata()
			assert.False(t, ok)
			assert.Equal(t, []TypeName{proxy.Parent}, lookup.calls)
			assert.Contains(t, logs.String(), "level=DEBUG")
			assert.NotContains(t, logs.String(), "level=WARN")
		})
	}
}

func TestHookResolvesThroughRegistry(t *testing.T) {
	registry := metadata.NewRegistry(nil)
	registry.AddNotFoundListener(NewHook())

	parent, err := registry.RegisterEntity(&Invoice{})
	require.NoError(t, err)
	_, err = registry.RegisterProxy(&ReadOnlyInvoice{}, &Invoice{})
	require.NoError(t, err)
	_, err = registry.RegisterProxy(&ArchivedInvoice{}, &Invoice{})
	require.NoError(t, err)

	record, err := registry.ClassMetadata(NameOf(&ReadOnlyInvoice{}))
	require.NoError(t, err)
	assert.Same(t, parent, record)
	assert.Equal(t, "invoices", record.Table)
	assert.True(t, registry.Cached(NameOf(&ReadOnlyInvoice{})))

	_, err = registry.ClassMetadata(NameOf(&ArchivedInvoice{}))
	assert.ErrorIs(t, err, ErrMetadataNotFound)
}

func TestHookOnPostLoad(t *testing.T) {
	t.Run("primes cache once for read-only entities", func(t *testing.T) {
		registry := metadata.NewRegistry(nil)
		registry.AddNotFoundListener(NewHook())
		_, err := registry.RegisterEntity(&Invoice{})
		require.NoError(t, err)
		_, err = registry.RegisterProxy(&ReadOnlyInvoice{}, &Invoice{})
		require.NoError(t, err)

		hook := NewHook()
		entity := &ReadOnlyInvoice{Invoice: Invoice{ID: 1}}
		name := NameOf(entity)

		require.False(t, registry.Cached(name))
		hook.OnPostLoad(entity, registry)
		require.True(t, registry.Cached(name))

		first, err := registry.ClassMetadata(name)
		require.NoError(t, err)
		hook.OnPostLoad(entity, registry)
		second, err := registry.ClassMetadata(name)
		require.NoError(t, err)
		assert.Same(t, first, second)
	})

	t.Run("ignores writable and instance-marked entities", func(t *testing.T) {
		lookup := &fakeLookup{}
		hook := NewHook()

		sealed := &LedgerEntry{}
		require.NoError(t, Seal(sealed))

		hook.OnPostLoad(&Invoice{}, lookup)
		hook.OnPostLoad(sealed, lookup)
		assert.Empty(t, lookup.calls)
	})

	t.Run("logs failures without returning them", func(t *testing.T) {
		var logs bytes.Buffer
		lookup := &fakeLookup{}

		assert.NotPanics(t, func() {
			NewHook(WithLogger(bufferLogger(&logs))).OnPostLoad(&AuditRecord{}, lookup)
		})
		assert.Equal(t, []TypeName{NameOf(&AuditRecord{})}, lookup.calls)
		assert.Contains(t, logs.String(), "level=WARN")
	})

	t.Run("tolerates a missing source", func(t *testing.T) {
		assert.NotPanics(t, func() { NewHook().OnPostLoad(&ReadOnlyInvoice{}, nil) })
	})
}

func TestHookSetLogger(t *testing.T) {
	var logs bytes.Buffer
	hook := NewHook()
	hook.SetLogger(bufferLogger(&logs))

	_ = hook.OnPrePersist(&ReadOnlyInvoice{})
	assert.Contains(t, logs.String(), "Rejected read-only entity")

	hook.SetLogger(nil)
	assert.Same(t, slog.Default(), hook.logger)
}

func TestHookWithObservability(t *testing.T) {
	t.Run("valid configuration instruments the hook", func(t *testing.T) {
		var logs bytes.Buffer
		hook := NewHook(
			WithObservability(ObservabilityConfig{TracerProvider: tracenoop.NewTracerProvider()}),
			WithLogger(bufferLogger(&logs)),
		)
		require.NotNil(t, hook.obs)
		assert.NotContains(t, logs.String(), "Observability disabled")
	})

	t.Run("failed configuration is logged", func(t *testing.T) {
		var logs bytes.Buffer
		hook := NewHook(
			WithObservability(ObservabilityConfig{EnableDetailedDBTracing: true}),
			WithLogger(bufferLogger(&logs)),
		)
		assert.Nil(t, hook.obs)
		assert.Contains(t, logs.String(), "level=WARN")
		assert.Contains(t, logs.String(), "Observability disabled for read-only hook")
		assert.NotPanics(t, func() { _ = hook.OnPrePersist(&ReadOnlyInvoice{}) })
	})
}
