package readonly

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPersistRejectedError(t *testing.T) {
	entity := &ReadOnlyInvoice{Invoice: Invoice{ID: 7}}
	err := &PersistRejectedError{Violation: Violation{
		Type:     NameOf(entity),
		Identity: uint(7),
		Entity:   entity,
	}}

	assert.Equal(t, "readonly: cannot persist read-only entity ReadOnlyInvoice(7)", err.Error())
	assert.ErrorIs(t, err, ErrReadOnlyEntity)
	assert.True(t, IsPersistRejected(err))
	assert.False(t, IsFlushRejected(err))
	assert.True(t, IsReadOnlyViolation(err))
}

func TestFlushRejectedError(t *testing.T) {
	first := &ReadOnlyInvoice{Invoice: Invoice{ID: 1}}
	second := &AuditRecord{ID: 2}

	tests := []struct {
		name       string
		violations []Violation
		want       string
	}{
		{
			name: "no violations",
			want: "readonly: cannot flush read-only entities",
		},
		{
			name: "single violation",
			violations: []Violation{
				{Category: CategoryUpdate, Type: NameOf(first), Identity: uint(1), Entity: first},
			},
			want: "readonly: cannot flush read-only entity ReadOnlyInvoice(1) scheduled for update",
		},
		{
			name: "several violations",
			violations: []Violation{
				{Category: CategoryUpdate, Type: NameOf(first), Identity: uint(1), Entity: first},
				{Category: CategoryDeletion, Type: NameOf(second), Entity: second},
			},
			want: "readonly: cannot flush 2 read-only entities: ReadOnlyInvoice(1) scheduled for update; AuditRecord scheduled for deletion",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &FlushRejectedError{Violations: tt.violations}
			assert.Equal(t, tt.want, err.Error())
			assert.ErrorIs(t, err, ErrReadOnlyEntity)
			assert.Len(t, err.Entities(), len(tt.violations))
		})
	}
}

func TestRejectionHelpersSeeThroughWrapping(t *testing.T) {
	flush := fmt.Errorf("closing batch: %w", &FlushRejectedError{})
	persist := fmt.Errorf("import row 3: %w", &PersistRejectedError{})

	assert.True(t, IsFlushRejected(flush))
	assert.False(t, IsPersistRejected(flush))
	assert.True(t, IsPersistRejected(persist))
	assert.True(t, IsReadOnlyViolation(flush))
	assert.True(t, IsReadOnlyViolation(persist))

	assert.False(t, IsReadOnlyViolation(errors.New("boom")))
	assert.False(t, IsReadOnlyViolation(nil))
	assert.False(t, IsPersistRejected(nil))
}

func TestViolationString(t *testing.T) {
	v := Violation{Type: NameOf(&LedgerEntry{})}
	assert.Equal(t, "LedgerEntry", v.String())

	v.Identity = map[string]interface{}{"ID": 3}
	v.Category = CategoryInsertion
	assert.Equal(t, "LedgerEntry(map[ID:3]) scheduled for insertion", v.String())
}
