// Package record implements the record serializer: encoding a schema-typed
// record as a contiguous static-field block followed by its dynamic
// (length-prefixed) fields, in declared order (spec.md §4.2), grounded on
// dbrecord.hpp and serialization/dbrecord-serializer.hpp.
package record

import (
	"fmt"
	"math"

	"github.com/leengari/recordstore/internal/schema"
)

// toBits converts a Go field value to its canonical uint64 wire
// representation for a fixed-width scalar field: sign/zero-extended for
// integers, bit-reinterpreted for floats. It is the Go analogue of the
// original's per-type valueSize()/write() overload set, collapsed into one
// type switch keyed by schema.ValueType since Go has no field template
// parameter to dispatch on.
func toBits(t schema.ValueType, v any) (uint64, error) {
	switch t {
	case schema.Int8:
		x, ok := v.(int8)
		if !ok {
			return 0, typeErr(t, v)
		}
		return uint64(uint8(x)), nil
	case schema.Int16:
		x, ok := v.(int16)
		if !ok {
			return 0, typeErr(t, v)
		}
		return uint64(uint16(x)), nil
	case schema.Int32:
		x, ok := v.(int32)
		if !ok {
			return 0, typeErr(t, v)
		}
		return uint64(uint32(x)), nil
	case schema.Int64:
		x, ok := v.(int64)
		if !ok {
			return 0, typeErr(t, v)
		}
		return uint64(x), nil
	case schema.Uint8:
		x, ok := v.(uint8)
		if !ok {
			return 0, typeErr(t, v)
		}
		return uint64(x), nil
	case schema.Uint16:
		x, ok := v.(uint16)
		if !ok {
			return 0, typeErr(t, v)
		}
		return uint64(x), nil
	case schema.Uint32:
		x, ok := v.(uint32)
		if !ok {
			return 0, typeErr(t, v)
		}
		return uint64(x), nil
	case schema.Uint64:
		x, ok := v.(uint64)
		if !ok {
			return 0, typeErr(t, v)
		}
		return x, nil
	case schema.Float32:
		x, ok := v.(float32)
		if !ok {
			return 0, typeErr(t, v)
		}
		return uint64(math.Float32bits(x)), nil
	case schema.Float64:
		x, ok := v.(float64)
		if !ok {
			return 0, typeErr(t, v)
		}
		return math.Float64bits(x), nil
	default:
		return 0, fmt.Errorf("record: type %s has no fixed-width representation", t)
	}
}

// fromBits is the inverse of toBits.
func fromBits(t schema.ValueType, bits uint64) any {
	switch t {
	case schema.Int8:
		return int8(uint8(bits))
	case schema.Int16:
		return int16(uint16(bits))
	case schema.Int32:
		return int32(uint32(bits))
	case schema.Int64:
		return int64(bits)
	case schema.Uint8:
		return uint8(bits)
	case schema.Uint16:
		return uint16(bits)
	case schema.Uint32:
		return uint32(bits)
	case schema.Uint64:
		return bits
	case schema.Float32:
		return math.Float32frombits(uint32(bits))
	case schema.Float64:
		return math.Float64frombits(bits)
	default:
		panic(fmt.Sprintf("record: type %s has no fixed-width representation", t))
	}
}

func typeErr(t schema.ValueType, v any) error {
	return fmt.Errorf("record: value %v (%T) does not match field type %s", v, v, t)
}
