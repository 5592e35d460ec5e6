package schema

import "fmt"

// MaxFindFields bounds how many (field-id, field-value) pairs a Find
// operation may carry (spec.md §3/§4.3): Find's wire format prefixes the
// field count as a single byte, but no real schema needs more than this
// many scalar predicates in one query.
const MaxFindFields = 16

// Schema is the ordered set of field descriptors for one record kind,
// fixed at construction time. Static-size fields must precede all
// dynamic-size ones (spec.md §4.2 invariant).
type Schema struct {
	fields      []Field
	byID        [256]*Field
	staticCount int
	staticSize  int

	tombstoneFieldID uint8
	tombstoneValue   []byte
	hasTombstone     bool
}

// New validates and builds a Schema from an ordered field list. It panics
// on any violation of the build-time invariants spec.md §4.2 requires —
// the Go analogue of the original's static_assert checks, since this
// reflection layer is built once per process and never repaired at
// runtime.
func New(fields ...Field) *Schema {
	if len(fields) == 0 {
		panic("schema: a record must declare at least one field")
	}

	s := &Schema{fields: fields}

	seenDynamic := false
	for i := range fields {
		f := fields[i]
		if f.ID == 0 && i != 0 {
			// id 0 is legal, but guard against accidental zero-value Fields
			// slipping into the list unnoticed.
			if f.Name == "" {
				panic(fmt.Sprintf("schema: field at index %d is a zero value", i))
			}
		}
		if s.byID[f.ID] != nil {
			panic(fmt.Sprintf("schema: duplicate field id %d (%q and %q)", f.ID, s.byID[f.ID].Name, f.Name))
		}
		s.byID[f.ID] = &fields[i]

		if f.IsStatic() {
			if seenDynamic {
				panic(fmt.Sprintf("schema: static field %q (id %d) follows a dynamic field; static fields must be grouped first", f.Name, f.ID))
			}
			s.staticCount++
			s.staticSize += f.StaticSize()
		} else {
			seenDynamic = true
		}
	}

	return s
}

// Fields returns the full ordered field list (static fields first).
func (s *Schema) Fields() []Field { return s.fields }

// StaticFields returns the schema-order prefix of fixed-width fields.
func (s *Schema) StaticFields() []Field { return s.fields[:s.staticCount] }

// DynamicFields returns the schema-order suffix of length-prefixed fields.
func (s *Schema) DynamicFields() []Field { return s.fields[s.staticCount:] }

// StaticBlockSize is the compile-time-constant size in bytes of the
// concatenated static-field block (spec.md §4.2).
func (s *Schema) StaticBlockSize() int { return s.staticSize }

// FieldByID is a constant-time lookup from field id to descriptor,
// required by spec.md §9 ("Field-id to field-descriptor lookup must be
// constant-time"). The second return value is false for unknown ids.
func (s *Schema) FieldByID(id uint8) (Field, bool) {
	f := s.byID[id]
	if f == nil {
		return Field{}, false
	}
	return *f, true
}

// WithTombstone attaches a tombstone sentinel to a static field: setting
// that field to the given bit pattern marks a record as logically
// deleted (spec.md §3, §9). value's length must equal the field's
// static width. Returns s for chaining.
func (s *Schema) WithTombstone(fieldID uint8, value []byte) *Schema {
	f, ok := s.FieldByID(fieldID)
	if !ok {
		panic(fmt.Sprintf("schema: tombstone field id %d not found", fieldID))
	}
	if !f.IsStatic() {
		panic(fmt.Sprintf("schema: tombstone field %q must be a fixed-width, non-array field", f.Name))
	}
	if len(value) != f.StaticSize() {
		panic(fmt.Sprintf("schema: tombstone value for field %q must be %d bytes, got %d", f.Name, f.StaticSize(), len(value)))
	}

	s.tombstoneFieldID = fieldID
	s.tombstoneValue = append([]byte(nil), value...)
	s.hasTombstone = true
	return s
}

// HasTombstone reports whether this schema designates a tombstone field.
func (s *Schema) HasTombstone() bool { return s.hasTombstone }

// TombstoneField returns the tombstone field id and sentinel bytes. Only
// meaningful when HasTombstone() is true.
func (s *Schema) TombstoneField() (fieldID uint8, value []byte) {
	return s.tombstoneFieldID, s.tombstoneValue
}

// IsTombstoneValue reports whether raw holds the sentinel bit pattern for
// the schema's tombstone field. Without a tombstone, this always reports
// false (spec.md §3: "Without a tombstone, no deletion sentinel exists
// in-place").
func (s *Schema) IsTombstoneValue(raw []byte) bool {
	if !s.hasTombstone {
		return false
	}
	if len(raw) != len(s.tombstoneValue) {
		return false
	}
	for i := range raw {
		if raw[i] != s.tombstoneValue[i] {
			return false
		}
	}
	return true
}
