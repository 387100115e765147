package metadata

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"gorm.io/gorm/schema"
)

// ErrMetadataNotFound is returned when no Record can be resolved for a type name.
var ErrMetadataNotFound = errors.New("metadata: class metadata not found")

// Proxy describes a registered proxy type and the entity type it stands in for.
type Proxy struct {
	Name   TypeName
	Type   reflect.Type
	Parent TypeName
}

// Lookup is the read surface of the metadata subsystem handed to listeners.
type Lookup interface {
	ClassMetadata(name TypeName) (*Record, error)
	ProxyOf(name TypeName) (Proxy, bool)
}

// NotFoundListener is notified when a type name has no cached Record.
// Listeners may supply one through NotFoundEvent.SetFoundMetadata.
type NotFoundListener interface {
	OnMetadataNotFound(ev *NotFoundEvent)
}

// NotFoundEvent is dispatched for a type name the registry cannot resolve.
type NotFoundEvent struct {
	className TypeName
	lookup    Lookup
	found     *Record
}

// NewNotFoundEvent creates an event for className backed by lookup.
func NewNotFoundEvent(className TypeName, lookup Lookup) *NotFoundEvent {
	return &NotFoundEvent{className: className, lookup: lookup}
}

// ClassName returns the type name that failed to resolve.
func (e *NotFoundEvent) ClassName() TypeName {
	return e.className
}

// Lookup returns the metadata subsystem that raised the event.
func (e *NotFoundEvent) Lookup() Lookup {
	return e.lookup
}

// SetFoundMetadata supplies the Record to associate with ClassName.
func (e *NotFoundEvent) SetFoundMetadata(record *Record) {
	e.found = record
}

// FoundMetadata returns the supplied Record, if any.
func (e *NotFoundEvent) FoundMetadata() (*Record, bool) {
	return e.found, e.found != nil
}

// Registry owns entity metadata records, keyed by TypeName.
// Entities are analyzed at registration. Proxies are only recorded against
// their parent and get a Record once a NotFoundListener resolves them.
type Registry struct {
	mu        sync.RWMutex
	namer     schema.Namer
	schemas   *sync.Map
	records   map[TypeName]*Record
	proxies   map[TypeName]Proxy
	listeners []NotFoundListener
	logger    *slog.Logger
}

// NewRegistry creates an empty registry. A nil namer uses GORM's default naming strategy.
func NewRegistry(namer schema.Namer) *Registry {
	if namer == nil {
		namer = schema.NamingStrategy{}
	}
	return &Registry{
		namer:   namer,
		schemas: &sync.Map{},
		records: make(map[TypeName]*Record),
		proxies: make(map[TypeName]Proxy),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger used for resolution diagnostics.
// If not called, slog.Default() is used.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// RegisterEntity analyzes entity and stores its Record.
// Registering the same type twice returns the existing Record.
func (r *Registry) RegisterEntity(entity interface{}) (*Record, error) {
	name := NameOf(entity)

	r.mu.RLock()
	existing, ok := r.records[name]
	_, isProxy := r.proxies[name]
	r.mu.RUnlock()
	if ok && !isProxy {
		return existing, nil
	}
	if isProxy {
		return nil, fmt.Errorf("type %s is already registered as a proxy", name)
	}

	record, err := AnalyzeEntity(entity, r.schemas, r.namer)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[name]; ok {
		return existing, nil
	}
	r.records[name] = record
	return record, nil
}

// RegisterProxy records proxy as a stand-in for parent.
// The parent does not need to be registered yet; resolution happens on first lookup.
func (r *Registry) RegisterProxy(proxy, parent interface{}) (Proxy, error) {
	if proxy == nil || parent == nil {
		return Proxy{}, fmt.Errorf("proxy and parent must not be nil")
	}

	proxyType := indirectType(reflect.TypeOf(proxy))
	parentType := indirectType(reflect.TypeOf(parent))
	if proxyType.Kind() != reflect.Struct || parentType.Kind() != reflect.Struct {
		return Proxy{}, fmt.Errorf("proxy and parent must be structs, got %s and %s", proxyType.Kind(), parentType.Kind())
	}

	p := Proxy{
		Name:   NameOfType(proxyType),
		Type:   proxyType,
		Parent: NameOfType(parentType),
	}
	if p.Name == p.Parent {
		return Proxy{}, fmt.Errorf("type %s cannot be a proxy of itself", p.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[p.Name]; ok {
		if _, wasProxy := r.proxies[p.Name]; !wasProxy {
			return Proxy{}, fmt.Errorf("type %s is already registered as an entity", p.Name)
		}
	}
	if existing, ok := r.proxies[p.Name]; ok && existing.Parent != p.Parent {
		return Proxy{}, fmt.Errorf("proxy %s is already registered for %s", p.Name, existing.Parent)
	}
	// Parent chains must terminate at a real entity.
	for next, ok := r.proxies[p.Parent]; ok; next, ok = r.proxies[next.Parent] {
		if next.Parent == p.Name {
			return Proxy{}, fmt.Errorf("proxy %s would form a cycle through %s", p.Name, p.Parent)
		}
	}
	r.proxies[p.Name] = p
	return p, nil
}

// AddNotFoundListener appends a listener consulted when a lookup misses.
// Listeners are consulted in registration order until one supplies a Record.
func (r *Registry) AddNotFoundListener(listener NotFoundListener) {
	if listener == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, listener)
}

// ProxyOf returns the proxy registered under name.
func (r *Registry) ProxyOf(name TypeName) (Proxy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.proxies[name]
	return p, ok
}

// Cached reports whether a Record is already associated with name.
func (r *Registry) Cached(name TypeName) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.records[name]
	return ok
}

// ClassMetadata returns the Record for name.
// On a cache miss the registered NotFoundListeners are consulted; a Record
// they supply is cached under name so later lookups are served directly.
func (r *Registry) ClassMetadata(name TypeName) (*Record, error) {
	r.mu.RLock()
	if record, ok := r.records[name]; ok {
		r.mu.RUnlock()
		return record, nil
	}
	listeners := make([]NotFoundListener, len(r.listeners))
	copy(listeners, r.listeners)
	logger := r.logger
	r.mu.RUnlock()

	// Listeners run without the lock held; they re-enter ClassMetadata for parents.
	ev := NewNotFoundEvent(name, r)
	for _, listener := range listeners {
		listener.OnMetadataNotFound(ev)
		if _, ok := ev.FoundMetadata(); ok {
			break
		}
	}

	found, ok := ev.FoundMetadata()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMetadataNotFound, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.records[name]; ok {
		return existing, nil
	}
	r.records[name] = found
	logger.Debug("Associated metadata with unresolved type",
		slog.String("type", string(name)),
		slog.String("metadata", string(found.Name)))
	return found, nil
}
