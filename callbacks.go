package readonly

import (
	"context"
	"fmt"
	"reflect"

	"gorm.io/gorm"
)

const (
	callbackGuardCreate = "readonly:guard_create"
	callbackGuardUpdate = "readonly:guard_update"
	callbackGuardDelete = "readonly:guard_delete"
	callbackPostLoad    = "readonly:post_load"
)

// RegisterCallbacks installs hook on a GORM handle so writes that bypass the
// Manager are guarded as well:
//
//   - Create runs the insertion guard on the statement's destination.
//   - Update and Delete run the flush guard on the statement's model.
//   - Query runs the post-load registrar on every loaded element when source is not nil.
//
// A rejected statement fails with the hook's error before any model hook or SQL runs.
// Callbacks already present on the handle are left in place; missing ones are added.
func RegisterCallbacks(db *gorm.DB, hook *Hook, source MetadataSource) error {
	if db == nil || hook == nil {
		return fmt.Errorf("readonly: database handle and hook are required")
	}

	cb := db.Callback()
	if cb.Create().Get(callbackGuardCreate) == nil {
		if err := cb.Create().Before("gorm:before_create").Register(callbackGuardCreate, guardCreate(hook)); err != nil {
			return fmt.Errorf("failed to register %s: %w", callbackGuardCreate, err)
		}
	}
	if cb.Update().Get(callbackGuardUpdate) == nil {
		if err := cb.Update().Before("gorm:before_update").Register(callbackGuardUpdate, guardWrite(hook, CategoryUpdate, "UPDATE")); err != nil {
			return fmt.Errorf("failed to register %s: %w", callbackGuardUpdate, err)
		}
	}
	if cb.Delete().Get(callbackGuardDelete) == nil {
		if err := cb.Delete().Before("gorm:before_delete").Register(callbackGuardDelete, guardWrite(hook, CategoryDeletion, "DELETE")); err != nil {
			return fmt.Errorf("failed to register %s: %w", callbackGuardDelete, err)
		}
	}
	if source == nil || cb.Query().Get(callbackPostLoad) != nil {
		return nil
	}
	if err := cb.Query().After("gorm:query").Register(callbackPostLoad, postLoad(hook, source)); err != nil {
		return fmt.Errorf("failed to register %s: %w", callbackPostLoad, err)
	}
	return nil
}

func guardCreate(hook *Hook) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Error != nil {
			return
		}
		entities := statementEntities(db.Statement.Dest)
		if len(entities) == 0 {
			entities = statementEntities(db.Statement.Model)
		}
		for _, entity := range entities {
			if err := hook.OnPrePersist(entity); err != nil {
				hook.metrics().RecordDirectWriteBlocked(statementContext(db), "INSERT", string(NameOf(entity)))
				_ = db.AddError(err)
				return
			}
		}
	}
}

func guardWrite(hook *Hook, category Category, operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Error != nil {
			return
		}
		work := statementWork{category: category, entities: statementEntities(db.Statement.Model)}
		if err := hook.OnPreFlush(work); err != nil {
			hook.metrics().RecordDirectWriteBlocked(statementContext(db), operation, string(NameOf(db.Statement.Model)))
			_ = db.AddError(err)
		}
	}
}

func postLoad(hook *Hook, source MetadataSource) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Error != nil {
			return
		}
		for _, entity := range statementEntities(db.Statement.Dest) {
			hook.OnPostLoad(entity, source)
		}
	}
}

func statementContext(db *gorm.DB) context.Context {
	if db.Statement != nil && db.Statement.Context != nil {
		return db.Statement.Context
	}
	return context.Background()
}

// statementWork presents the models of one GORM statement as a unit of work.
type statementWork struct {
	category Category
	entities []interface{}
}

func (w statementWork) ScheduledInsertions() []interface{} { return w.in(CategoryInsertion) }

func (w statementWork) ScheduledUpdates() []interface{} { return w.in(CategoryUpdate) }

func (w statementWork) ScheduledDeletions() []interface{} { return w.in(CategoryDeletion) }

func (w statementWork) in(category Category) []interface{} {
	if w.category != category {
		return nil
	}
	return w.entities
}

// statementEntities flattens a statement model or destination into entity
// values. Struct elements are returned by address when addressable.
func statementEntities(v interface{}) []interface{} {
	if v == nil {
		return nil
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr && !rv.IsNil() && rv.Elem().Kind() == reflect.Ptr {
		rv = rv.Elem()
	}

	target := reflect.Indirect(rv)
	switch target.Kind() {
	case reflect.Struct:
		return []interface{}{rv.Interface()}
	case reflect.Slice, reflect.Array:
		entities := make([]interface{}, 0, target.Len())
		for i := 0; i < target.Len(); i++ {
			el := target.Index(i)
			switch {
			case el.Kind() == reflect.Ptr && !el.IsNil():
				entities = append(entities, el.Interface())
			case el.Kind() == reflect.Struct && el.CanAddr():
				entities = append(entities, el.Addr().Interface())
			case el.Kind() == reflect.Struct:
				entities = append(entities, el.Interface())
			}
		}
		return entities
	default:
		return nil
	}
}
