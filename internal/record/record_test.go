package record_test

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/leengari/recordstore/internal/record"
	"github.com/leengari/recordstore/internal/schema"
	"github.com/leengari/recordstore/internal/storageio"
)

func userSchema() *schema.Schema {
	return schema.New(
		schema.Field{ID: 1, Name: "id", Type: schema.Uint64},
		schema.Field{ID: 2, Name: "age", Type: schema.Uint8},
		schema.Field{ID: 3, Name: "balance", Type: schema.Float64},
		schema.Field{ID: 4, Name: "name", Type: schema.String},
		schema.Field{ID: 5, Name: "tags", Type: schema.String, Array: true},
		schema.Field{ID: 6, Name: "scores", Type: schema.Int32, Array: true},
	)
}

func TestRecordRoundTrip(t *testing.T) {
	s := userSchema()
	r, err := record.New(s, map[uint8]any{
		1: uint64(42),
		2: uint8(30),
		3: float64(1234.5),
		4: "ada lovelace",
		5: []any{"admin", "beta"},
		6: []any{int32(1), int32(-2), int32(3)},
	})
	assert.NilError(t, err)

	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, r.Encode(buf))

	assert.NilError(t, buf.Seek(0))
	decoded, err := record.Decode(s, buf)
	assert.NilError(t, err)

	for _, f := range s.Fields() {
		want, _ := r.Get(f.ID)
		got, ok := decoded.Get(f.ID)
		assert.Assert(t, ok)
		assert.DeepEqual(t, got, want)
	}
}

func TestRecordRejectsMissingField(t *testing.T) {
	s := userSchema()
	_, err := record.New(s, map[uint8]any{
		1: uint64(1),
	})
	assert.ErrorContains(t, err, "missing value")
}

func TestRecordRejectsWrongType(t *testing.T) {
	s := userSchema()
	_, err := record.New(s, map[uint8]any{
		1: uint64(1),
		2: uint8(1),
		3: float64(1),
		4: "x",
		5: []any{"a"},
		6: "not an array",
	})
	assert.ErrorContains(t, err, "array field")
}

func TestStaticFieldsPrecedeDynamicInEncoding(t *testing.T) {
	s := schema.New(
		schema.Field{ID: 1, Name: "flag", Type: schema.Uint8},
		schema.Field{ID: 2, Name: "label", Type: schema.String},
	)
	r, err := record.New(s, map[uint8]any{
		1: uint8(0xFF),
		2: "x",
	})
	assert.NilError(t, err)

	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, r.Encode(buf))

	// The first byte of the wire image is the static block: a single
	// uint8. The dynamic "label" string follows only after it.
	assert.Equal(t, buf.Bytes()[0], byte(0xFF))
}
