package readonly

// Package readonly guards read-only entities inside a GORM persistence pipeline.
// Read-only entities can be loaded, queried and bound as query parameters,
// but are rejected before they reach the insert, update or delete path.
//
// An entity is read-only when its type implements Entity, or when the instance
// embeds Marker and was sealed by the hydration layer:
//
//	type Invoice struct {
//	    ID     uint `gorm:"primaryKey"`
//	    Number string
//	}
//
//	// ReadOnlyInvoice is a read-only proxy over Invoice.
//	type ReadOnlyInvoice struct {
//	    Invoice
//	}
//
//	func (ReadOnlyInvoice) ReadOnlyEntity() {}

import "reflect"

// Entity is the type-level read-only capability.
// Types implementing it are never written, whatever the state of the instance.
type Entity interface {
	ReadOnlyEntity()
}

// Marked is implemented by types that embed Marker.
type Marked interface {
	ReadOnlyMarked() bool
}

// Marker is the instance-level read-only flag. Embed it in an entity struct
// (tagged `gorm:"-"`) when instances of an otherwise writable type can be
// materialized read-only. The flag is set once through Seal and never cleared.
type Marker struct {
	readOnly bool
}

// ReadOnlyMarked reports whether the instance was sealed read-only.
func (m Marker) ReadOnlyMarked() bool {
	return m.readOnly
}

func (m *Marker) seal() {
	m.readOnly = true
}

type sealable interface {
	seal()
}

// Seal marks entity read-only. entity must be a pointer to a struct embedding Marker.
func Seal(entity interface{}) error {
	s, ok := entity.(sealable)
	if !ok {
		return ErrNotMarkable
	}
	if v := reflect.ValueOf(entity); v.Kind() == reflect.Ptr && v.IsNil() {
		return ErrNotMarkable
	}
	s.seal()
	return nil
}

// IsReadOnly reports whether entity must be kept out of the write path.
// The check is a pair of interface assertions; it never inspects fields reflectively.
func IsReadOnly(entity interface{}) bool {
	if _, ok := entity.(Entity); ok {
		return true
	}
	if m, ok := entity.(Marked); ok && m.ReadOnlyMarked() {
		return true
	}
	return false
}
