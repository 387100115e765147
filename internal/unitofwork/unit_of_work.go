package unitofwork

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// State represents the lifecycle state of a tracked entity instance.
type State string

const (
	// StateNew indicates that the entity is scheduled for insertion.
	StateNew State = "new"
	// StateManaged indicates that the entity is persistent and watched for changes.
	StateManaged State = "managed"
	// StateRemoved indicates that the entity is scheduled for deletion.
	StateRemoved State = "removed"
)

var (
	// ErrNotManaged indicates that the entity is not tracked by the unit of work.
	ErrNotManaged = errors.New("unitofwork: entity is not managed")

	// ErrInvalidEntity indicates that the value cannot be tracked.
	ErrInvalidEntity = errors.New("unitofwork: entity must be a non-nil pointer to a struct")
)

type entry struct {
	entity interface{}
	state  State
	digest uint64
	seq    uint64
}

// ChangeSet is the pending work of one flush cycle.
type ChangeSet struct {
	Insertions []interface{}
	Updates    []interface{}
	Deletions  []interface{}
}

// ScheduledInsertions returns the entities scheduled for insertion.
func (c *ChangeSet) ScheduledInsertions() []interface{} {
	if c == nil {
		return nil
	}
	return c.Insertions
}

// ScheduledUpdates returns the managed entities whose state changed since load.
func (c *ChangeSet) ScheduledUpdates() []interface{} {
	if c == nil {
		return nil
	}
	return c.Updates
}

// ScheduledDeletions returns the entities scheduled for deletion.
func (c *ChangeSet) ScheduledDeletions() []interface{} {
	if c == nil {
		return nil
	}
	return c.Deletions
}

// Len returns the total number of pending entities.
func (c *ChangeSet) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Insertions) + len(c.Updates) + len(c.Deletions)
}

// FieldsFunc returns the names of the persisted fields of entity.
type FieldsFunc func(entity interface{}) ([]string, error)

// UnitOfWork tracks entity instances by identity and derives the pending
// change set for a flush. Updates are detected by comparing snapshot digests
// over the persisted fields of each entity.
type UnitOfWork struct {
	mu      sync.RWMutex
	entries map[interface{}]*entry
	next    uint64
	fields  FieldsFunc
}

// New creates an empty unit of work. A nil fields function snapshots every
// exported field, promoted fields included.
func New(fields FieldsFunc) *UnitOfWork {
	if fields == nil {
		fields = ExportedFields
	}
	return &UnitOfWork{entries: make(map[interface{}]*entry), fields: fields}
}

// ExportedFields returns the exported, non-embedded fields visible on entity.
func ExportedFields(entity interface{}) ([]string, error) {
	t := reflect.TypeOf(entity)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w, got %T", ErrInvalidEntity, entity)
	}

	var names []string
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		names = append(names, f.Name)
	}
	return names, nil
}

// Digest returns the snapshot digest of the named fields of entity.
// Fields are read by name, so promoted fields of embedding types resolve.
func Digest(entity interface{}, fields []string) (uint64, error) {
	value := reflect.ValueOf(entity)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return 0, fmt.Errorf("%w, got %T", ErrInvalidEntity, entity)
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return 0, fmt.Errorf("%w, got %T", ErrInvalidEntity, entity)
	}

	d := xxhash.New()
	for _, name := range fields {
		sf, ok := value.Type().FieldByName(name)
		if !ok {
			return 0, fmt.Errorf("failed to snapshot %T: no field %s", entity, name)
		}
		field, err := value.FieldByIndexErr(sf.Index)
		if err != nil {
			return 0, fmt.Errorf("failed to snapshot %T.%s: %w", entity, name, err)
		}
		if _, err := fmt.Fprintf(d, "%s=%v\x00", name, snapshotValue(field)); err != nil {
			return 0, fmt.Errorf("failed to snapshot %T.%s: %w", entity, name, err)
		}
	}
	return d.Sum64(), nil
}

// snapshotValue dereferences pointers so the digest follows the pointee.
func snapshotValue(field reflect.Value) interface{} {
	for field.Kind() == reflect.Ptr || field.Kind() == reflect.Interface {
		if field.IsNil() {
			return nil
		}
		field = field.Elem()
	}
	if !field.CanInterface() {
		return nil
	}
	v := field.Interface()
	if t, ok := v.(time.Time); ok {
		// Drop the monotonic reading; it is not stored.
		return t.Round(0)
	}
	return v
}

func (u *UnitOfWork) digest(entity interface{}) (uint64, error) {
	fields, err := u.fields(entity)
	if err != nil {
		return 0, err
	}
	return Digest(entity, fields)
}

// Manage tracks a loaded entity as persistent. Tracking it again refreshes its snapshot.
func (u *UnitOfWork) Manage(entity interface{}) error {
	if err := validate(entity); err != nil {
		return err
	}
	digest, err := u.digest(entity)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if e, ok := u.entries[entity]; ok {
		e.state = StateManaged
		e.digest = digest
		return nil
	}
	u.track(&entry{entity: entity, state: StateManaged, digest: digest})
	return nil
}

// ScheduleInsert schedules entity for insertion.
// It reports false when the entity was already tracked; a removed entity
// becomes managed again instead.
func (u *UnitOfWork) ScheduleInsert(entity interface{}) (bool, error) {
	if err := validate(entity); err != nil {
		return false, err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if e, ok := u.entries[entity]; ok {
		if e.state == StateRemoved {
			e.state = StateManaged
		}
		return false, nil
	}
	u.track(&entry{entity: entity, state: StateNew})
	return true, nil
}

// ScheduleDelete schedules entity for deletion. A pending insertion is simply dropped.
func (u *UnitOfWork) ScheduleDelete(entity interface{}) error {
	if err := validate(entity); err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	e, ok := u.entries[entity]
	if !ok {
		return fmt.Errorf("%w: %T", ErrNotManaged, entity)
	}
	switch e.state {
	case StateNew:
		u.untrack(entity)
	case StateManaged:
		e.state = StateRemoved
	}
	return nil
}

// Detach stops tracking entity. Pending work for it is discarded.
func (u *UnitOfWork) Detach(entity interface{}) {
	if validate(entity) != nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.untrack(entity)
}

// Clear stops tracking every entity.
func (u *UnitOfWork) Clear() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.entries = make(map[interface{}]*entry)
}

// Contains reports whether entity is new or managed.
func (u *UnitOfWork) Contains(entity interface{}) bool {
	state, ok := u.StateOf(entity)
	return ok && state != StateRemoved
}

// StateOf returns the tracked state of entity.
func (u *UnitOfWork) StateOf(entity interface{}) (State, bool) {
	if validate(entity) != nil {
		return "", false
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	e, ok := u.entries[entity]
	if !ok {
		return "", false
	}
	return e.state, true
}

// ChangeSet computes the pending work in tracking order.
func (u *UnitOfWork) ChangeSet() (*ChangeSet, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	ordered := make([]*entry, 0, len(u.entries))
	for _, e := range u.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	cs := &ChangeSet{}
	for _, e := range ordered {
		entity := e.entity
		switch e.state {
		case StateNew:
			cs.Insertions = append(cs.Insertions, entity)
		case StateRemoved:
			cs.Deletions = append(cs.Deletions, entity)
		case StateManaged:
			digest, err := u.digest(entity)
			if err != nil {
				return nil, err
			}
			if digest != e.digest {
				cs.Updates = append(cs.Updates, entity)
			}
		}
	}
	return cs, nil
}

// Commit applies the post-flush transitions for a written change set:
// inserted and updated entities become managed with fresh snapshots and
// deleted entities are no longer tracked.
func (u *UnitOfWork) Commit(cs *ChangeSet) error {
	if cs == nil {
		return nil
	}

	written := make([]interface{}, 0, len(cs.Insertions)+len(cs.Updates))
	written = append(written, cs.Insertions...)
	written = append(written, cs.Updates...)
	digests := make(map[interface{}]uint64, len(written))
	for _, entity := range written {
		digest, err := u.digest(entity)
		if err != nil {
			return err
		}
		digests[entity] = digest
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	for entity, digest := range digests {
		if e, ok := u.entries[entity]; ok {
			e.state = StateManaged
			e.digest = digest
		}
	}
	for _, entity := range cs.Deletions {
		u.untrack(entity)
	}
	return nil
}

// Len returns the number of tracked entities.
func (u *UnitOfWork) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.entries)
}

func (u *UnitOfWork) track(e *entry) {
	u.next++
	e.seq = u.next
	u.entries[e.entity] = e
}

func (u *UnitOfWork) untrack(entity interface{}) {
	delete(u.entries, entity)
}

func validate(entity interface{}) error {
	if entity == nil {
		return ErrInvalidEntity
	}
	v := reflect.ValueOf(entity)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("%w, got %T", ErrInvalidEntity, entity)
	}
	return nil
}
