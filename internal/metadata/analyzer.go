package metadata

import (
	"fmt"
	"reflect"
	"sync"

	"gorm.io/gorm/schema"
)

// Record holds the structural description of a persistable entity type.
type Record struct {
	Name       TypeName
	EntityType reflect.Type
	EntityName string
	Table      string
	Fields     []FieldMetadata
	KeyFields  []FieldMetadata // Support for composite keys
	Schema     *schema.Schema
}

// FieldMetadata holds metadata information about a mapped column
type FieldMetadata struct {
	Name   string
	Column string
	Type   reflect.Type
	IsKey  bool
}

// AnalyzeEntity extracts a Record from a GORM model.
// The schema cache is shared with the caller so repeated analysis stays cheap.
func AnalyzeEntity(entity interface{}, cache *sync.Map, namer schema.Namer) (*Record, error) {
	if entity == nil {
		return nil, fmt.Errorf("entity must not be nil")
	}

	entityType := indirectType(reflect.TypeOf(entity))
	if entityType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity must be a struct, got %s", entityType.Kind())
	}

	parsed, err := schema.Parse(entity, cache, namer)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema for %s: %w", entityType.Name(), err)
	}

	record := &Record{
		Name:       NameOfType(entityType),
		EntityType: entityType,
		EntityName: parsed.Name,
		Table:      parsed.Table,
		Fields:     make([]FieldMetadata, 0, len(parsed.Fields)),
		Schema:     parsed,
	}

	for _, field := range parsed.Fields {
		// Relationship and ignored fields carry no column
		if field.DBName == "" {
			continue
		}

		fm := FieldMetadata{
			Name:   field.Name,
			Column: field.DBName,
			Type:   field.FieldType,
			IsKey:  field.PrimaryKey,
		}
		record.Fields = append(record.Fields, fm)
		if fm.IsKey {
			record.KeyFields = append(record.KeyFields, fm)
		}
	}

	if len(record.KeyFields) == 0 {
		return nil, fmt.Errorf("entity %s must have at least one primary key (use `gorm:\"primaryKey\"` tag or name a field 'ID')", record.EntityName)
	}

	return record, nil
}

// KeyValues reads the primary key values of entity by field name.
// Promoted fields of embedding types resolve, so a proxy can be read
// with its parent's record.
func (r *Record) KeyValues(entity interface{}) (map[string]interface{}, error) {
	value := reflect.ValueOf(entity)
	for value.Kind() == reflect.Ptr {
		if value.IsNil() {
			return nil, fmt.Errorf("entity %s is a nil pointer", r.EntityName)
		}
		value = value.Elem()
	}
	if value.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity must be a struct, got %s", value.Kind())
	}

	keys := make(map[string]interface{}, len(r.KeyFields))
	for _, key := range r.KeyFields {
		field := value.FieldByName(key.Name)
		if !field.IsValid() {
			return nil, fmt.Errorf("entity %s has no key field %s", NameOf(entity), key.Name)
		}
		keys[key.Name] = field.Interface()
	}
	return keys, nil
}

// FieldNames returns the Go names of the mapped columns in declaration order.
func (r *Record) FieldNames() []string {
	names := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		names[i] = f.Name
	}
	return names
}

// Identifier returns the single key value, or the key map for composite keys.
func (r *Record) Identifier(entity interface{}) (interface{}, error) {
	keys, err := r.KeyValues(entity)
	if err != nil {
		return nil, err
	}
	if len(r.KeyFields) == 1 {
		return keys[r.KeyFields[0].Name], nil
	}
	return keys, nil
}
