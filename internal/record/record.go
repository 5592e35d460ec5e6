package record

import (
	"fmt"

	"github.com/leengari/recordstore/internal/schema"
	"github.com/leengari/recordstore/internal/storageio"
)

// Record is one schema-typed row: a value per field declared by its
// schema, keyed by field id. Values are stored as native Go types —
// int8/16/32/64, uint8/16/32/64, float32/64 and string for scalars, and
// []any (each element itself one of those types) for array fields —
// mirroring the original's Field<T,id> value storage without a generic
// parameter to carry it, since Go field values are looked up by id at
// runtime rather than addressed by compile-time type.
type Record struct {
	schema *schema.Schema
	values map[uint8]any
}

// New builds a Record from a schema and a field-id-keyed value map,
// validating that every declared field is present and every value
// matches its field's declared type (spec.md §4.2 "a record must supply
// exactly the fields its schema declares").
func New(s *schema.Schema, values map[uint8]any) (*Record, error) {
	for _, f := range s.Fields() {
		v, ok := values[f.ID]
		if !ok {
			return nil, fmt.Errorf("record: missing value for field %q (id %d)", f.Name, f.ID)
		}
		if err := validateValue(f, v); err != nil {
			return nil, err
		}
	}
	if len(values) != len(s.Fields()) {
		return nil, fmt.Errorf("record: value map has %d entries, schema declares %d fields", len(values), len(s.Fields()))
	}
	return &Record{schema: s, values: values}, nil
}

func validateValue(f schema.Field, v any) error {
	if f.Array {
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("record: field %q (id %d) is an array field, got %T", f.Name, f.ID, v)
		}
		for i, elem := range arr {
			if err := validateScalar(f, elem); err != nil {
				return fmt.Errorf("record: field %q element %d: %w", f.Name, i, err)
			}
		}
		return nil
	}
	return validateScalar(f, v)
}

func validateScalar(f schema.Field, v any) error {
	if f.Type == schema.String {
		if _, ok := v.(string); !ok {
			return fmt.Errorf("record: field %q (id %d) expects a string, got %T", f.Name, f.ID, v)
		}
		return nil
	}
	if _, err := toBits(f.Type, v); err != nil {
		return fmt.Errorf("record: field %q (id %d): %w", f.Name, f.ID, err)
	}
	return nil
}

// Get returns the value stored for fieldID, if present.
func (r *Record) Get(fieldID uint8) (any, bool) {
	v, ok := r.values[fieldID]
	return v, ok
}

// Schema returns the schema this record was built against.
func (r *Record) Schema() *schema.Schema { return r.schema }

// Encode writes the record to w: the concatenated static-field block
// first, in schema order, followed by the dynamic fields in schema
// order, each length-prefixed (spec.md §4.2).
func (r *Record) Encode(w storageio.IO) error {
	for _, f := range r.schema.StaticFields() {
		v := r.values[f.ID]
		bits, err := toBits(f.Type, v)
		if err != nil {
			return fmt.Errorf("record: encode field %q: %w", f.Name, err)
		}
		if err := storageio.WriteFixed(w, f.StaticSize(), bits); err != nil {
			return fmt.Errorf("record: encode field %q: %w", f.Name, err)
		}
	}

	for _, f := range r.schema.DynamicFields() {
		v := r.values[f.ID]
		if err := encodeDynamicField(w, f, v); err != nil {
			return fmt.Errorf("record: encode field %q: %w", f.Name, err)
		}
	}

	return nil
}

func encodeDynamicField(w storageio.IO, f schema.Field, v any) error {
	if f.Array {
		arr := v.([]any)
		if err := storageio.WriteUint32(w, uint32(len(arr))); err != nil {
			return err
		}
		for _, elem := range arr {
			if err := encodeScalarElement(w, f, elem); err != nil {
				return err
			}
		}
		return nil
	}
	return encodeScalarElement(w, f, v)
}

func encodeScalarElement(w storageio.IO, f schema.Field, v any) error {
	if f.Type == schema.String {
		return storageio.WriteString(w, v.(string))
	}
	bits, err := toBits(f.Type, v)
	if err != nil {
		return err
	}
	return storageio.WriteFixed(w, f.Type.FixedWidth(), bits)
}

// EncodeValue writes a single scalar field value in the same wire form a
// record uses for that field — fixed-width for scalars, length-prefixed
// for strings. Operations that carry a field value outside of a full
// record (a Find predicate, an Update/Delete key) use this directly,
// mirroring StorageIO::writeField in storage_io_interface.hpp.
func EncodeValue(w storageio.IO, f schema.Field, v any) error {
	return encodeScalarElement(w, f, v)
}

// DecodeValue is the inverse of EncodeValue.
func DecodeValue(r storageio.IO, f schema.Field) (any, error) {
	return decodeScalarElement(r, f)
}

// Decode reconstructs a Record of the given schema from r.
func Decode(s *schema.Schema, r storageio.IO) (*Record, error) {
	values := make(map[uint8]any, len(s.Fields()))

	for _, f := range s.StaticFields() {
		bits, err := storageio.ReadFixed(r, f.StaticSize())
		if err != nil {
			return nil, fmt.Errorf("record: decode field %q: %w", f.Name, err)
		}
		values[f.ID] = fromBits(f.Type, bits)
	}

	for _, f := range s.DynamicFields() {
		v, err := decodeDynamicField(r, f)
		if err != nil {
			return nil, fmt.Errorf("record: decode field %q: %w", f.Name, err)
		}
		values[f.ID] = v
	}

	return &Record{schema: s, values: values}, nil
}

func decodeDynamicField(r storageio.IO, f schema.Field) (any, error) {
	if f.Array {
		n, err := storageio.ReadUint32(r)
		if err != nil {
			return nil, err
		}
		arr := make([]any, n)
		for i := range arr {
			elem, err := decodeScalarElement(r, f)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			arr[i] = elem
		}
		return arr, nil
	}
	return decodeScalarElement(r, f)
}

func decodeScalarElement(r storageio.IO, f schema.Field) (any, error) {
	if f.Type == schema.String {
		return storageio.ReadString(r)
	}
	bits, err := storageio.ReadFixed(r, f.Type.FixedWidth())
	if err != nil {
		return nil, err
	}
	return fromBits(f.Type, bits), nil
}
