package readonly

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nlstn/go-readonly/internal/metadata"
	"github.com/nlstn/go-readonly/internal/unitofwork"
)

// Sentinel errors for read-only enforcement.
// These can be used with errors.Is() for error handling.
var (
	// ErrReadOnlyEntity is wrapped by every rejection of a read-only entity.
	ErrReadOnlyEntity = errors.New("readonly: entity is read-only")

	// ErrNotMarkable indicates that an entity cannot carry the instance-level flag
	// because it is not a non-nil pointer to a struct embedding Marker.
	ErrNotMarkable = errors.New("readonly: entity does not embed readonly.Marker")

	// ErrMetadataNotFound indicates that no metadata record resolves for a type.
	ErrMetadataNotFound = metadata.ErrMetadataNotFound

	// ErrNotManaged indicates that the entity is not tracked by the manager.
	ErrNotManaged = unitofwork.ErrNotManaged

	// ErrInvalidEntity indicates a value that is not a non-nil pointer to a struct.
	ErrInvalidEntity = unitofwork.ErrInvalidEntity
)

// Category names the pending-change set a flushed entity was found in.
type Category string

const (
	// CategoryInsertion marks entities scheduled for insertion.
	CategoryInsertion Category = "insertion"
	// CategoryUpdate marks managed entities with pending changes.
	CategoryUpdate Category = "update"
	// CategoryDeletion marks entities scheduled for deletion.
	CategoryDeletion Category = "deletion"
)

// Violation identifies one read-only entity found on the write path.
type Violation struct {
	// Category is empty for rejections raised at persist time.
	Category Category

	// Type is the qualified type name of the entity.
	Type metadata.TypeName

	// Identity holds the primary key, or nil when it could not be determined.
	Identity interface{}

	// Entity is the rejected instance.
	Entity interface{}
}

// String renders the violation for diagnostics, e.g. "ReadOnlyInvoice(1)".
func (v Violation) String() string {
	var b strings.Builder
	b.WriteString(v.Type.Short())
	if v.Identity != nil {
		fmt.Fprintf(&b, "(%v)", v.Identity)
	}
	if v.Category != "" {
		fmt.Fprintf(&b, " scheduled for %s", v.Category)
	}
	return b.String()
}

// PersistRejectedError is returned when a read-only entity is registered for insertion.
type PersistRejectedError struct {
	Violation
}

// Error implements the error interface.
func (e *PersistRejectedError) Error() string {
	return fmt.Sprintf("readonly: cannot persist read-only entity %s", e.Violation)
}

// Unwrap returns ErrReadOnlyEntity.
func (e *PersistRejectedError) Unwrap() error {
	return ErrReadOnlyEntity
}

// FlushRejectedError is returned when a flush would write read-only entities.
// Violations lists every offender unless the hook reports the first one only.
type FlushRejectedError struct {
	Violations []Violation
}

// Error implements the error interface.
func (e *FlushRejectedError) Error() string {
	switch len(e.Violations) {
	case 0:
		return "readonly: cannot flush read-only entities"
	case 1:
		return fmt.Sprintf("readonly: cannot flush read-only entity %s", e.Violations[0])
	}
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("readonly: cannot flush %d read-only entities: %s", len(e.Violations), strings.Join(parts, "; "))
}

// Unwrap returns ErrReadOnlyEntity.
func (e *FlushRejectedError) Unwrap() error {
	return ErrReadOnlyEntity
}

// Entities returns the rejected instances in scan order.
func (e *FlushRejectedError) Entities() []interface{} {
	entities := make([]interface{}, len(e.Violations))
	for i, v := range e.Violations {
		entities[i] = v.Entity
	}
	return entities
}

// IsPersistRejected returns true if the error is a persist-time rejection.
//
// Example usage:
//
//	if err := manager.Persist(invoice); readonly.IsPersistRejected(err) {
//	    log.Printf("invoice is read-only: %v", err)
//	}
func IsPersistRejected(err error) bool {
	var target *PersistRejectedError
	return errors.As(err, &target)
}

// IsFlushRejected returns true if the error is a flush-time rejection.
func IsFlushRejected(err error) bool {
	var target *FlushRejectedError
	return errors.As(err, &target)
}

// IsReadOnlyViolation returns true for any rejection of a read-only entity.
func IsReadOnlyViolation(err error) bool {
	return errors.Is(err, ErrReadOnlyEntity)
}
