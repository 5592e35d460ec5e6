// Package ops implements the operation serializer: the five mutating/query
// operation shapes the WAL carries (Insert, Find, UpdateFull,
// AppendToArray, Delete) plus the completion marker that closes out a
// durable operation, grounded on dbops.hpp and WAL/wal_serializer.hpp.
package ops

import (
	"fmt"

	"github.com/leengari/recordstore/internal/record"
	"github.com/leengari/recordstore/internal/schema"
	"github.com/leengari/recordstore/internal/storageio"
)

// Code tags the operation kind at the head of its wire encoding. Values
// are this module's own assignment — the original's OpCode enum values
// aren't part of the on-disk format spec.md fixes, only their relative
// ordering and the fact that CompletionMarker's tag (0xDD) must not
// collide with any of them.
type Code uint8

const (
	Insert Code = iota + 1
	Find
	UpdateFull
	AppendToArray
	Delete
)

func (c Code) String() string {
	switch c {
	case Insert:
		return "Insert"
	case Find:
		return "Find"
	case UpdateFull:
		return "UpdateFull"
	case AppendToArray:
		return "AppendToArray"
	case Delete:
		return "Delete"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

// CompletionMarkerTag is the first byte of a completion marker entry,
// chosen (per the original) to never collide with a Code value.
const CompletionMarkerTag uint8 = 0xDD

// Status is the outcome recorded in a completion marker.
type Status uint8

const (
	Successful Status = 0xEE
	Failed     Status = 0x11
)

func (s Status) String() string {
	switch s {
	case Successful:
		return "Successful"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// InsertOp inserts a whole new record.
type InsertOp struct {
	Record *record.Record
}

// FindPredicate is one (field id, value) equality predicate of a Find
// operation.
type FindPredicate struct {
	FieldID uint8
	Value   any
}

// FindOp looks up records by 1..N scalar field equality predicates.
type FindOp struct {
	Predicates []FindPredicate
}

// UpdateFullOp replaces an entire record identified by a key field's
// value, optionally inserting it if no record with that key exists.
type UpdateFullOp struct {
	KeyFieldID        uint8
	InsertIfNotExists bool
	Record            *record.Record
	KeyValue          any
}

// AppendToArrayOp appends to (or creates) an array field on the record
// identified by a key field's value. When InsertIfNotExists is true and
// no record with that key exists, Record supplies the whole new record to
// insert (its array field is the one being "appended to"); otherwise
// ArrayValues is appended to the existing array field in place.
type AppendToArrayOp struct {
	KeyFieldID        uint8
	ArrayFieldID      uint8
	InsertIfNotExists bool
	KeyValue          any
	Record            *record.Record
	ArrayValues       []any
}

// DeleteOp removes the record identified by a key field's value.
type DeleteOp struct {
	KeyFieldID uint8
	KeyValue   any
}

// CompletionMarker closes out a previously logged operation, recording
// whether it completed successfully (spec.md §4.6.3).
type CompletionMarker struct {
	Status Status
}

// Codec serializes and deserializes operations against one fixed schema.
// Field values carried outside of a full record (Find predicates, Update/
// Delete/AppendToArray keys) need the schema to know how wide or
// length-prefixed their wire form is, since Go erases the original's
// compile-time field-type binding.
type Codec struct {
	schema *schema.Schema
}

// NewCodec returns a Codec bound to s.
func NewCodec(s *schema.Schema) *Codec {
	return &Codec{schema: s}
}

func (c *Codec) fieldByID(id uint8) (schema.Field, error) {
	f, ok := c.schema.FieldByID(id)
	if !ok {
		return schema.Field{}, fmt.Errorf("ops: unknown field id %d", id)
	}
	return f, nil
}

// WriteInsert serializes an InsertOp.
func (c *Codec) WriteInsert(w storageio.IO, op InsertOp) error {
	if err := storageio.WriteUint8(w, uint8(Insert)); err != nil {
		return err
	}
	return op.Record.Encode(w)
}

// WriteFind serializes a FindOp: opcode, predicate count (u8), then each
// field id, then each value, matching wal_serializer.hpp's two-pass
// layout (all ids, then all values).
func (c *Codec) WriteFind(w storageio.IO, op FindOp) error {
	if len(op.Predicates) == 0 {
		return fmt.Errorf("ops: find operation must carry at least one predicate")
	}
	if len(op.Predicates) > schema.MaxFindFields {
		return fmt.Errorf("ops: find operation carries %d predicates, max is %d", len(op.Predicates), schema.MaxFindFields)
	}

	if err := storageio.WriteUint8(w, uint8(Find)); err != nil {
		return err
	}
	if err := storageio.WriteUint8(w, uint8(len(op.Predicates))); err != nil {
		return err
	}
	for _, p := range op.Predicates {
		if err := storageio.WriteUint8(w, p.FieldID); err != nil {
			return err
		}
	}
	for _, p := range op.Predicates {
		f, err := c.fieldByID(p.FieldID)
		if err != nil {
			return err
		}
		if f.Array {
			return fmt.Errorf("ops: find predicate on array field %q (id %d) is not supported", f.Name, f.ID)
		}
		if err := record.EncodeValue(w, f, p.Value); err != nil {
			return fmt.Errorf("ops: find predicate field %q: %w", f.Name, err)
		}
	}
	return nil
}

// WriteUpdateFull serializes an UpdateFullOp.
func (c *Codec) WriteUpdateFull(w storageio.IO, op UpdateFullOp) error {
	keyField, err := c.fieldByID(op.KeyFieldID)
	if err != nil {
		return err
	}

	if err := storageio.WriteUint8(w, uint8(UpdateFull)); err != nil {
		return err
	}
	if err := storageio.WriteUint8(w, op.KeyFieldID); err != nil {
		return err
	}
	if err := writeBool(w, op.InsertIfNotExists); err != nil {
		return err
	}
	if err := op.Record.Encode(w); err != nil {
		return err
	}
	return record.EncodeValue(w, keyField, op.KeyValue)
}

// WriteAppendToArray serializes an AppendToArrayOp.
func (c *Codec) WriteAppendToArray(w storageio.IO, op AppendToArrayOp) error {
	keyField, err := c.fieldByID(op.KeyFieldID)
	if err != nil {
		return err
	}
	arrayField, err := c.fieldByID(op.ArrayFieldID)
	if err != nil {
		return err
	}
	if !arrayField.Array {
		return fmt.Errorf("ops: field %q (id %d) is not an array field", arrayField.Name, arrayField.ID)
	}

	if err := storageio.WriteUint8(w, uint8(AppendToArray)); err != nil {
		return err
	}
	if err := storageio.WriteUint8(w, op.KeyFieldID); err != nil {
		return err
	}
	if err := storageio.WriteUint8(w, op.ArrayFieldID); err != nil {
		return err
	}
	if err := writeBool(w, op.InsertIfNotExists); err != nil {
		return err
	}
	if err := record.EncodeValue(w, keyField, op.KeyValue); err != nil {
		return err
	}

	if op.InsertIfNotExists {
		return op.Record.Encode(w)
	}

	if err := storageio.WriteUint32(w, uint32(len(op.ArrayValues))); err != nil {
		return err
	}
	for _, v := range op.ArrayValues {
		elemField := arrayField
		elemField.Array = false
		if err := record.EncodeValue(w, elemField, v); err != nil {
			return err
		}
	}
	return nil
}

// WriteDelete serializes a DeleteOp.
func (c *Codec) WriteDelete(w storageio.IO, op DeleteOp) error {
	keyField, err := c.fieldByID(op.KeyFieldID)
	if err != nil {
		return err
	}

	if err := storageio.WriteUint8(w, uint8(Delete)); err != nil {
		return err
	}
	if err := storageio.WriteUint8(w, op.KeyFieldID); err != nil {
		return err
	}
	return record.EncodeValue(w, keyField, op.KeyValue)
}

// Write dispatches to the matching Write* method for op's concrete type.
// The WAL uses this to serialize whatever operation value it was handed
// without its caller needing to know which Write* method applies.
func (c *Codec) Write(w storageio.IO, op any) error {
	switch o := op.(type) {
	case InsertOp:
		return c.WriteInsert(w, o)
	case FindOp:
		return c.WriteFind(w, o)
	case UpdateFullOp:
		return c.WriteUpdateFull(w, o)
	case AppendToArrayOp:
		return c.WriteAppendToArray(w, o)
	case DeleteOp:
		return c.WriteDelete(w, o)
	default:
		return fmt.Errorf("ops: unsupported operation type %T", op)
	}
}

// WriteCompletionMarker serializes a CompletionMarker.
func WriteCompletionMarker(w storageio.IO, m CompletionMarker) error {
	if err := storageio.WriteUint8(w, CompletionMarkerTag); err != nil {
		return err
	}
	return storageio.WriteUint8(w, uint8(m.Status))
}

// PeekIsCompletionMarker reports whether the next byte at r's current
// position is a completion marker tag, without consuming it — mirroring
// Serializer::isOperationCompletionMarker's peek-then-seek-back.
func PeekIsCompletionMarker(r storageio.IO) (bool, error) {
	pos := r.Pos()
	tag, err := storageio.ReadUint8(r)
	if err != nil {
		return false, err
	}
	if err := r.Seek(pos); err != nil {
		return false, err
	}
	return tag == CompletionMarkerTag, nil
}

// Decode reads one operation entry from r and returns the concrete
// operation value: one of InsertOp, FindOp, UpdateFullOp,
// AppendToArrayOp, DeleteOp, or CompletionMarker.
func (c *Codec) Decode(r storageio.IO) (any, error) {
	tag, err := storageio.ReadUint8(r)
	if err != nil {
		return nil, fmt.Errorf("ops: read entry tag: %w", err)
	}

	if tag == CompletionMarkerTag {
		status, err := storageio.ReadUint8(r)
		if err != nil {
			return nil, fmt.Errorf("ops: read completion marker status: %w", err)
		}
		return CompletionMarker{Status: Status(status)}, nil
	}

	switch Code(tag) {
	case Insert:
		rec, err := record.Decode(c.schema, r)
		if err != nil {
			return nil, fmt.Errorf("ops: decode insert: %w", err)
		}
		return InsertOp{Record: rec}, nil

	case Find:
		n, err := storageio.ReadUint8(r)
		if err != nil {
			return nil, fmt.Errorf("ops: decode find field count: %w", err)
		}
		if n == 0 || int(n) > schema.MaxFindFields {
			return nil, fmt.Errorf("ops: decode find: invalid field count %d", n)
		}
		ids := make([]uint8, n)
		for i := range ids {
			id, err := storageio.ReadUint8(r)
			if err != nil {
				return nil, fmt.Errorf("ops: decode find field id %d: %w", i, err)
			}
			ids[i] = id
		}
		preds := make([]FindPredicate, n)
		for i, id := range ids {
			f, err := c.fieldByID(id)
			if err != nil {
				return nil, err
			}
			v, err := record.DecodeValue(r, f)
			if err != nil {
				return nil, fmt.Errorf("ops: decode find value for field %q: %w", f.Name, err)
			}
			preds[i] = FindPredicate{FieldID: id, Value: v}
		}
		return FindOp{Predicates: preds}, nil

	case UpdateFull:
		keyFieldID, err := storageio.ReadUint8(r)
		if err != nil {
			return nil, fmt.Errorf("ops: decode update key field id: %w", err)
		}
		insertIfNotExists, err := readBool(r)
		if err != nil {
			return nil, fmt.Errorf("ops: decode update insert flag: %w", err)
		}
		rec, err := record.Decode(c.schema, r)
		if err != nil {
			return nil, fmt.Errorf("ops: decode update record: %w", err)
		}
		keyField, err := c.fieldByID(keyFieldID)
		if err != nil {
			return nil, err
		}
		keyValue, err := record.DecodeValue(r, keyField)
		if err != nil {
			return nil, fmt.Errorf("ops: decode update key value: %w", err)
		}
		return UpdateFullOp{
			KeyFieldID:        keyFieldID,
			InsertIfNotExists: insertIfNotExists,
			Record:            rec,
			KeyValue:          keyValue,
		}, nil

	case AppendToArray:
		keyFieldID, err := storageio.ReadUint8(r)
		if err != nil {
			return nil, fmt.Errorf("ops: decode append key field id: %w", err)
		}
		arrayFieldID, err := storageio.ReadUint8(r)
		if err != nil {
			return nil, fmt.Errorf("ops: decode append array field id: %w", err)
		}
		insertIfNotExists, err := readBool(r)
		if err != nil {
			return nil, fmt.Errorf("ops: decode append insert flag: %w", err)
		}
		keyField, err := c.fieldByID(keyFieldID)
		if err != nil {
			return nil, err
		}
		keyValue, err := record.DecodeValue(r, keyField)
		if err != nil {
			return nil, fmt.Errorf("ops: decode append key value: %w", err)
		}

		if insertIfNotExists {
			rec, err := record.Decode(c.schema, r)
			if err != nil {
				return nil, fmt.Errorf("ops: decode append record: %w", err)
			}
			return AppendToArrayOp{
				KeyFieldID:        keyFieldID,
				ArrayFieldID:      arrayFieldID,
				InsertIfNotExists: true,
				KeyValue:          keyValue,
				Record:            rec,
			}, nil
		}

		arrayField, err := c.fieldByID(arrayFieldID)
		if err != nil {
			return nil, err
		}
		n, err := storageio.ReadUint32(r)
		if err != nil {
			return nil, fmt.Errorf("ops: decode append array length: %w", err)
		}
		elemField := arrayField
		elemField.Array = false
		values := make([]any, n)
		for i := range values {
			v, err := record.DecodeValue(r, elemField)
			if err != nil {
				return nil, fmt.Errorf("ops: decode append array element %d: %w", i, err)
			}
			values[i] = v
		}
		return AppendToArrayOp{
			KeyFieldID:        keyFieldID,
			ArrayFieldID:      arrayFieldID,
			InsertIfNotExists: false,
			KeyValue:          keyValue,
			ArrayValues:       values,
		}, nil

	case Delete:
		keyFieldID, err := storageio.ReadUint8(r)
		if err != nil {
			return nil, fmt.Errorf("ops: decode delete key field id: %w", err)
		}
		keyField, err := c.fieldByID(keyFieldID)
		if err != nil {
			return nil, err
		}
		keyValue, err := record.DecodeValue(r, keyField)
		if err != nil {
			return nil, fmt.Errorf("ops: decode delete key value: %w", err)
		}
		return DeleteOp{KeyFieldID: keyFieldID, KeyValue: keyValue}, nil

	default:
		return nil, fmt.Errorf("ops: unknown entry tag %d in log", tag)
	}
}

func writeBool(w storageio.IO, b bool) error {
	var v uint8
	if b {
		v = 1
	}
	return storageio.WriteUint8(w, v)
}

func readBool(r storageio.IO) (bool, error) {
	v, err := storageio.ReadUint8(r)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}
