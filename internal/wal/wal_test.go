package wal_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
	"gotest.tools/v3/assert"

	"github.com/leengari/recordstore/internal/ops"
	"github.com/leengari/recordstore/internal/schema"
	"github.com/leengari/recordstore/internal/telemetry"
	"github.com/leengari/recordstore/internal/wal"
)

func testSchema() *schema.Schema {
	return schema.New(
		schema.Field{ID: 1, Name: "id", Type: schema.Float64},
		schema.Field{ID: 2, Name: "tag", Type: schema.Float32, Array: true},
	)
}

func openWAL(t *testing.T, dir string) (*wal.WAL, *ops.Codec) {
	t.Helper()
	codec := ops.NewCodec(testSchema())
	meter := noop.NewMeterProvider().Meter("wal-test")
	metrics, err := telemetry.NewWALMetrics(meter, "wal-test-instance")
	assert.NilError(t, err)
	w, err := wal.Open(filepath.Join(dir, "log.bin"), codec, nil, metrics)
	assert.NilError(t, err)
	return w, codec
}

func reopenWAL(t *testing.T, dir string, codec *ops.Codec) *wal.WAL {
	t.Helper()
	w, err := wal.Open(filepath.Join(dir, "log.bin"), codec, nil, nil)
	assert.NilError(t, err)
	return w
}

func appendOp(id float64) ops.AppendToArrayOp {
	return ops.AppendToArrayOp{
		KeyFieldID:        1,
		ArrayFieldID:      2,
		InsertIfNotExists: false,
		KeyValue:          id,
		ArrayValues:       []any{float32(42)},
	}
}

// Property #6: unique ids across concurrent RegisterOperation calls.
func TestRegisterOperationAssignsUniqueIDs(t *testing.T) {
	w, _ := openWAL(t, t.TempDir())
	defer w.Close()

	const n = 200
	ids := make([]uint32, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := w.RegisterOperation(appendOp(float64(i)))
			assert.NilError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[uint32]struct{}, n)
	for _, id := range ids {
		_, dup := seen[id]
		assert.Assert(t, !dup, "duplicate op id %d", id)
		assert.Assert(t, id >= 1 && id <= n)
		seen[id] = struct{}{}
	}
	assert.Equal(t, len(seen), n)
}

// Property #7: by the time RegisterOperation returns, the entry is
// durable in a block whose checksum validates — demonstrated here by a
// close immediately after return and a successful reopen+verify.
func TestRegisterOperationIsDurableOnReturn(t *testing.T) {
	dir := t.TempDir()
	w, codec := openWAL(t, dir)

	id, err := w.RegisterOperation(appendOp(7))
	assert.NilError(t, err)
	assert.NilError(t, w.Close())

	w2 := reopenWAL(t, dir, codec)
	defer w2.Close()

	var delivered []uint32
	err = w2.VerifyLog(func(opID uint32, op any) error {
		delivered = append(delivered, opID)
		return nil
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, delivered, []uint32{id})
}

// Property #8 / Scenario S5: an operation whose completion marker
// reached durability before close is never replayed.
func TestVerifyLogSkipsCompletedOperations(t *testing.T) {
	dir := t.TempDir()
	w, codec := openWAL(t, dir)

	id, err := w.RegisterOperation(appendOp(1))
	assert.NilError(t, err)
	assert.NilError(t, w.UpdateOpStatus(id, ops.Successful))
	assert.NilError(t, w.Close())

	w2 := reopenWAL(t, dir, codec)
	defer w2.Close()

	count := 0
	err = w2.VerifyLog(func(uint32, any) error {
		count++
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, count, 0)
}

// Scenario S4: a single AppendToArray op registered then recovered.
func TestVerifyLogDeliversSingleAppend(t *testing.T) {
	dir := t.TempDir()
	w, codec := openWAL(t, dir)

	id, err := w.RegisterOperation(appendOp(42))
	assert.NilError(t, err)
	assert.NilError(t, w.Close())

	w2 := reopenWAL(t, dir, codec)
	defer w2.Close()

	var delivered []ops.AppendToArrayOp
	err = w2.VerifyLog(func(opID uint32, op any) error {
		assert.Equal(t, opID, id)
		a, ok := op.(ops.AppendToArrayOp)
		assert.Assert(t, ok)
		delivered = append(delivered, a)
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, len(delivered), 1)
	assert.Equal(t, delivered[0].KeyValue.(float64), 42.0)
	assert.Equal(t, delivered[0].ArrayValues[0].(float32), float32(42))
}

// Property #9: a torn trailing block is discarded, never replayed.
func TestVerifyLogDiscardsTornTail(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.bin")
	w, codec := openWAL(t, dir)

	first, err := w.RegisterOperation(appendOp(1))
	assert.NilError(t, err)
	assert.NilError(t, w.Close())

	info, err := os.Stat(path)
	assert.NilError(t, err)
	sz := info.Size()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	assert.NilError(t, err)
	garbage := make([]byte, 37)
	for i := range garbage {
		garbage[i] = byte(i + 1)
	}
	_, err = f.Write(garbage)
	assert.NilError(t, err)
	assert.NilError(t, f.Close())

	w2 := reopenWAL(t, dir, codec)
	defer w2.Close()

	var delivered []uint32
	err = w2.VerifyLog(func(opID uint32, op any) error {
		delivered = append(delivered, opID)
		return nil
	})
	assert.NilError(t, err)
	assert.DeepEqual(t, delivered, []uint32{first})

	info, err = os.Stat(path)
	assert.NilError(t, err)
	assert.Equal(t, info.Size(), sz)
}

// Scenario S6: a bulk run of sequential operations round-trips through
// the log in full.
func TestSequentialBulkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, codec := openWAL(t, dir)

	const n = 2000
	ids := make([]uint32, n)
	for i := 0; i < n; i++ {
		id, err := w.RegisterOperation(appendOp(float64(i)))
		assert.NilError(t, err)
		ids[i] = id
	}
	assert.NilError(t, w.Close())

	w2 := reopenWAL(t, dir, codec)
	defer w2.Close()

	seen := make(map[uint32]float64, n)
	err := w2.VerifyLog(func(opID uint32, op any) error {
		a, ok := op.(ops.AppendToArrayOp)
		assert.Assert(t, ok)
		seen[opID] = a.KeyValue.(float64)
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, len(seen), n)
	for i, id := range ids {
		v, ok := seen[id]
		assert.Assert(t, ok, "missing op %d", id)
		assert.Equal(t, v, float64(i))
	}
}

func TestTruncateLogRefusesWithPendingOperations(t *testing.T) {
	w, _ := openWAL(t, t.TempDir())
	defer w.Close()

	_, err := w.RegisterOperation(appendOp(1))
	assert.NilError(t, err)
	err = w.TruncateLog()
	assert.ErrorContains(t, err, "pending")
}

func TestTruncateLogClearsCompletedLog(t *testing.T) {
	dir := t.TempDir()
	w, codec := openWAL(t, dir)

	id, err := w.RegisterOperation(appendOp(1))
	assert.NilError(t, err)
	assert.NilError(t, w.UpdateOpStatus(id, ops.Successful))
	assert.NilError(t, w.TruncateLog())
	assert.NilError(t, w.Close())

	w2 := reopenWAL(t, dir, codec)
	defer w2.Close()

	count := 0
	err = w2.VerifyLog(func(uint32, any) error {
		count++
		return nil
	})
	assert.NilError(t, err)
	assert.Equal(t, count, 0)
}

func TestEntryExceedingBlockIsRejected(t *testing.T) {
	w, _ := openWAL(t, t.TempDir())
	defer w.Close()

	huge := make([]any, 2000)
	for i := range huge {
		huge[i] = float32(i)
	}
	_, err := w.RegisterOperation(ops.AppendToArrayOp{
		KeyFieldID:   1,
		ArrayFieldID: 2,
		KeyValue:     float64(1),
		ArrayValues:  huge,
	})
	assert.ErrorIs(t, err, wal.ErrEntryTooLarge)
}
