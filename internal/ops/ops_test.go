package ops_test

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/leengari/recordstore/internal/ops"
	"github.com/leengari/recordstore/internal/record"
	"github.com/leengari/recordstore/internal/schema"
	"github.com/leengari/recordstore/internal/storageio"
)

func accountSchema() *schema.Schema {
	return schema.New(
		schema.Field{ID: 1, Name: "id", Type: schema.Uint64},
		schema.Field{ID: 2, Name: "balance", Type: schema.Int64},
		schema.Field{ID: 3, Name: "owner", Type: schema.String},
		schema.Field{ID: 4, Name: "tags", Type: schema.String, Array: true},
	)
}

func newAccount(t *testing.T, s *schema.Schema, id uint64, balance int64, owner string, tags []any) *record.Record {
	t.Helper()
	r, err := record.New(s, map[uint8]any{
		1: id,
		2: balance,
		3: owner,
		4: tags,
	})
	assert.NilError(t, err)
	return r
}

func TestInsertRoundTrip(t *testing.T) {
	s := accountSchema()
	c := ops.NewCodec(s)
	rec := newAccount(t, s, 1, 500, "alice", []any{"vip"})

	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, c.WriteInsert(buf, ops.InsertOp{Record: rec}))

	assert.NilError(t, buf.Seek(0))
	decoded, err := c.Decode(buf)
	assert.NilError(t, err)

	insert, ok := decoded.(ops.InsertOp)
	assert.Assert(t, ok)
	id, _ := insert.Record.Get(1)
	assert.Equal(t, id, uint64(1))
}

func TestFindRoundTrip(t *testing.T) {
	s := accountSchema()
	c := ops.NewCodec(s)

	op := ops.FindOp{Predicates: []ops.FindPredicate{
		{FieldID: 1, Value: uint64(42)},
		{FieldID: 3, Value: "bob"},
	}}

	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, c.WriteFind(buf, op))

	assert.NilError(t, buf.Seek(0))
	decoded, err := c.Decode(buf)
	assert.NilError(t, err)

	find, ok := decoded.(ops.FindOp)
	assert.Assert(t, ok)
	assert.Equal(t, len(find.Predicates), 2)
	assert.Equal(t, find.Predicates[0].Value, uint64(42))
	assert.Equal(t, find.Predicates[1].Value, "bob")
}

func TestFindRejectsEmptyPredicates(t *testing.T) {
	s := accountSchema()
	c := ops.NewCodec(s)
	buf := storageio.NewGrowableBuffer()
	err := c.WriteFind(buf, ops.FindOp{})
	assert.ErrorContains(t, err, "at least one predicate")
}

func TestUpdateFullRoundTrip(t *testing.T) {
	s := accountSchema()
	c := ops.NewCodec(s)
	rec := newAccount(t, s, 7, 999, "carol", nil)

	op := ops.UpdateFullOp{
		KeyFieldID:        1,
		InsertIfNotExists: true,
		Record:            rec,
		KeyValue:          uint64(7),
	}

	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, c.WriteUpdateFull(buf, op))

	assert.NilError(t, buf.Seek(0))
	decoded, err := c.Decode(buf)
	assert.NilError(t, err)

	update, ok := decoded.(ops.UpdateFullOp)
	assert.Assert(t, ok)
	assert.Equal(t, update.InsertIfNotExists, true)
	assert.Equal(t, update.KeyValue, uint64(7))
}

func TestAppendToArrayInsertBranch(t *testing.T) {
	s := accountSchema()
	c := ops.NewCodec(s)
	rec := newAccount(t, s, 3, 0, "dave", []any{"new"})

	op := ops.AppendToArrayOp{
		KeyFieldID:        1,
		ArrayFieldID:      4,
		InsertIfNotExists: true,
		KeyValue:          uint64(3),
		Record:            rec,
	}

	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, c.WriteAppendToArray(buf, op))

	assert.NilError(t, buf.Seek(0))
	decoded, err := c.Decode(buf)
	assert.NilError(t, err)

	append_, ok := decoded.(ops.AppendToArrayOp)
	assert.Assert(t, ok)
	assert.Equal(t, append_.InsertIfNotExists, true)
	assert.Assert(t, append_.Record != nil)
}

func TestAppendToArrayAppendBranch(t *testing.T) {
	s := accountSchema()
	c := ops.NewCodec(s)

	op := ops.AppendToArrayOp{
		KeyFieldID:        1,
		ArrayFieldID:      4,
		InsertIfNotExists: false,
		KeyValue:          uint64(3),
		ArrayValues:       []any{"gold", "silver"},
	}

	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, c.WriteAppendToArray(buf, op))

	assert.NilError(t, buf.Seek(0))
	decoded, err := c.Decode(buf)
	assert.NilError(t, err)

	append_, ok := decoded.(ops.AppendToArrayOp)
	assert.Assert(t, ok)
	assert.DeepEqual(t, append_.ArrayValues, []any{"gold", "silver"})
}

func TestDeleteRoundTrip(t *testing.T) {
	s := accountSchema()
	c := ops.NewCodec(s)

	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, c.WriteDelete(buf, ops.DeleteOp{KeyFieldID: 1, KeyValue: uint64(99)}))

	assert.NilError(t, buf.Seek(0))
	decoded, err := c.Decode(buf)
	assert.NilError(t, err)

	del, ok := decoded.(ops.DeleteOp)
	assert.Assert(t, ok)
	assert.Equal(t, del.KeyValue, uint64(99))
}

func TestCompletionMarkerRoundTripAndPeek(t *testing.T) {
	s := accountSchema()
	c := ops.NewCodec(s)

	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, ops.WriteCompletionMarker(buf, ops.CompletionMarker{Status: ops.Successful}))

	assert.NilError(t, buf.Seek(0))
	isMarker, err := ops.PeekIsCompletionMarker(buf)
	assert.NilError(t, err)
	assert.Assert(t, isMarker)
	assert.Equal(t, buf.Pos(), int64(0)) // peek must not consume

	decoded, err := c.Decode(buf)
	assert.NilError(t, err)
	marker, ok := decoded.(ops.CompletionMarker)
	assert.Assert(t, ok)
	assert.Equal(t, marker.Status, ops.Successful)
}

func TestPeekIsCompletionMarkerFalseForOperation(t *testing.T) {
	s := accountSchema()
	c := ops.NewCodec(s)

	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, c.WriteDelete(buf, ops.DeleteOp{KeyFieldID: 1, KeyValue: uint64(1)}))

	assert.NilError(t, buf.Seek(0))
	isMarker, err := ops.PeekIsCompletionMarker(buf)
	assert.NilError(t, err)
	assert.Assert(t, !isMarker)
}
