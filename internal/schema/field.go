// Package schema implements the compile-time (build-time, in Go terms)
// schema reflection layer: the ordered list of field descriptors a record
// type is built from, and constant-time lookup from field id to descriptor.
package schema

import "fmt"

// ValueType identifies the wire/in-memory representation of a field's
// value, independent of whether the field is scalar or an array of it.
type ValueType uint8

const (
	Int8 ValueType = iota
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
)

// FixedWidth returns the on-disk size of one value of this type, or 0 if
// the type has no fixed width (String).
func (t ValueType) FixedWidth() int {
	switch t {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	case Int64, Uint64, Float64:
		return 8
	default:
		return 0
	}
}

func (t ValueType) String() string {
	switch t {
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case String:
		return "string"
	default:
		return fmt.Sprintf("ValueType(%d)", uint8(t))
	}
}

// Field is a (compile-time identifier, value type, array-flag) triple: the
// elementary column of a record. IDs are unique within a schema and fit in
// one byte per spec.md §3.
type Field struct {
	ID    uint8
	Name  string
	Type  ValueType
	Array bool
}

// IsStatic reports whether this field has a fixed on-disk size: a
// non-array fixed-width scalar. Strings and arrays of anything are
// dynamic (length-prefixed).
func (f Field) IsStatic() bool {
	return !f.Array && f.Type != String
}

// StaticSize returns the fixed on-disk size of the field's value. It is
// only meaningful (and only called) when IsStatic() is true.
func (f Field) StaticSize() int {
	return f.Type.FixedWidth()
}
