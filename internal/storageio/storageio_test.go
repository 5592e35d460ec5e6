package storageio_test

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/leengari/recordstore/internal/storageio"
)

func allAdapters(t *testing.T) map[string]storageio.IO {
	t.Helper()
	dir := t.TempDir()

	f, err := storageio.OpenFile(filepath.Join(dir, "block.bin"), storageio.Write)
	assert.NilError(t, err)
	t.Cleanup(func() { f.Close() })

	return map[string]storageio.IO{
		"file":     f,
		"static":   storageio.NewStaticBuffer(4096),
		"growable": storageio.NewGrowableBuffer(),
	}
}

func TestPrimitiveRoundTrip(t *testing.T) {
	for name, io := range allAdapters(t) {
		t.Run(name, func(t *testing.T) {
			assert.NilError(t, storageio.WriteUint8(io, 0xAB))
			assert.NilError(t, storageio.WriteUint16(io, 0xBEEF))
			assert.NilError(t, storageio.WriteUint32(io, 0xDEADBEEF))
			assert.NilError(t, storageio.WriteUint64(io, 0x0123456789ABCDEF))
			assert.NilError(t, storageio.WriteString(io, "hello, record store"))
			assert.NilError(t, storageio.WriteBytes(io, []byte{1, 2, 3, 4, 5}))

			assert.NilError(t, io.Seek(0))

			u8, err := storageio.ReadUint8(io)
			assert.NilError(t, err)
			assert.Equal(t, u8, uint8(0xAB))

			u16, err := storageio.ReadUint16(io)
			assert.NilError(t, err)
			assert.Equal(t, u16, uint16(0xBEEF))

			u32, err := storageio.ReadUint32(io)
			assert.NilError(t, err)
			assert.Equal(t, u32, uint32(0xDEADBEEF))

			u64, err := storageio.ReadUint64(io)
			assert.NilError(t, err)
			assert.Equal(t, u64, uint64(0x0123456789ABCDEF))

			s, err := storageio.ReadString(io)
			assert.NilError(t, err)
			assert.Equal(t, s, "hello, record store")

			b, err := storageio.ReadBytes(io)
			assert.NilError(t, err)
			assert.DeepEqual(t, b, []byte{1, 2, 3, 4, 5})
		})
	}
}

func TestFixedWidths(t *testing.T) {
	buf := storageio.NewGrowableBuffer()
	assert.NilError(t, storageio.WriteFixed(buf, 1, 0xFF))
	assert.NilError(t, storageio.WriteFixed(buf, 2, 0xFFFF))
	assert.NilError(t, storageio.WriteFixed(buf, 4, 0xFFFFFFFF))
	assert.NilError(t, storageio.WriteFixed(buf, 8, 0xFFFFFFFFFFFFFFFF))
	assert.Error(t, storageio.WriteFixed(buf, 3, 0), "storageio: unsupported fixed width 3")

	assert.NilError(t, buf.Seek(0))
	v1, err := storageio.ReadFixed(buf, 1)
	assert.NilError(t, err)
	assert.Equal(t, v1, uint64(0xFF))

	v2, err := storageio.ReadFixed(buf, 2)
	assert.NilError(t, err)
	assert.Equal(t, v2, uint64(0xFFFF))

	v4, err := storageio.ReadFixed(buf, 4)
	assert.NilError(t, err)
	assert.Equal(t, v4, uint64(0xFFFFFFFF))

	v8, err := storageio.ReadFixed(buf, 8)
	assert.NilError(t, err)
	assert.Equal(t, v8, uint64(0xFFFFFFFFFFFFFFFF))
}

func TestStaticBufferCapacityExceeded(t *testing.T) {
	b := storageio.NewStaticBuffer(4)
	assert.NilError(t, storageio.WriteUint32(b, 1))
	err := storageio.WriteUint8(b, 1)
	assert.ErrorIs(t, err, storageio.ErrCapacityExceeded)
}

func TestStaticBufferClearZeroesAndResets(t *testing.T) {
	b := storageio.NewStaticBuffer(8)
	assert.NilError(t, storageio.WriteUint64(b, 0xFFFFFFFFFFFFFFFF))
	assert.Equal(t, b.Size(), int64(8))

	assert.NilError(t, b.Clear())
	assert.Equal(t, b.Size(), int64(0))
	assert.Equal(t, b.Pos(), int64(0))
	for _, v := range b.Bytes()[:b.Capacity()] {
		assert.Equal(t, v, byte(0))
	}
}

func TestGrowableBufferGrowsAsNeeded(t *testing.T) {
	b := storageio.NewGrowableBuffer()
	payload := make([]byte, 10000)
	for i := range payload {
		payload[i] = byte(i)
	}
	assert.NilError(t, b.Write(payload))
	assert.Equal(t, b.Size(), int64(len(payload)))

	assert.NilError(t, b.Seek(0))
	out := make([]byte, len(payload))
	assert.NilError(t, b.Read(out))
	assert.DeepEqual(t, out, payload)
}

func TestMemoryBlockIsReadOnly(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	mb := storageio.NewMemoryBlock(src)

	out := make([]byte, 2)
	assert.NilError(t, mb.Read(out))
	assert.DeepEqual(t, out, []byte{1, 2})

	err := mb.Write([]byte{9})
	assert.ErrorIs(t, err, storageio.ErrReadOnly)

	err = mb.Clear()
	assert.ErrorIs(t, err, storageio.ErrReadOnly)

	assert.DeepEqual(t, mb.Bytes(), src)
}

func TestFileSeekToEndAndSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wal.bin")

	f, err := storageio.OpenFile(path, storageio.Write)
	assert.NilError(t, err)

	assert.NilError(t, storageio.WriteUint64(f, 42))
	assert.NilError(t, f.Flush())
	assert.Equal(t, f.Size(), int64(8))

	assert.NilError(t, f.SeekToEnd())
	assert.Equal(t, f.Pos(), int64(8))
	assert.NilError(t, f.Close())

	info, err := os.Stat(path)
	assert.NilError(t, err)
	assert.Equal(t, info.Size(), int64(8))
}

func TestFileClearTruncates(t *testing.T) {
	dir := t.TempDir()
	f, err := storageio.OpenFile(filepath.Join(dir, "x.bin"), storageio.Write)
	assert.NilError(t, err)

	assert.NilError(t, storageio.WriteUint32(f, 7))
	assert.NilError(t, f.Clear())
	assert.Equal(t, f.Size(), int64(0))
	assert.NilError(t, f.Close())
}
