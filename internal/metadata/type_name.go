package metadata

import "reflect"

// TypeName identifies an entity type across the metadata subsystem.
// It is the package path and type name joined by a dot.
type TypeName string

// NameOf returns the TypeName of the dynamic type of v.
// Pointers and slices are unwrapped to their element type.
func NameOf(v interface{}) TypeName {
	if v == nil {
		return ""
	}
	return NameOfType(reflect.TypeOf(v))
}

// NameOfType returns the TypeName of t.
func NameOfType(t reflect.Type) TypeName {
	if t == nil {
		return ""
	}
	t = indirectType(t)
	if t.Name() == "" {
		return TypeName(t.String())
	}
	return TypeName(t.PkgPath() + "." + t.Name())
}

// Short returns the unqualified type name.
func (n TypeName) Short() string {
	s := string(n)
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '.' {
			return s[i+1:]
		}
	}
	return s
}

func indirectType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice || t.Kind() == reflect.Array {
		t = t.Elem()
	}
	return t
}
