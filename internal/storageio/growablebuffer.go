package storageio

import "fmt"

// GrowableBuffer is an unbounded in-memory IO backed by a slice that grows
// on demand, grounded on storage_static_buffer.hpp's sibling adapters —
// used wherever a record or operation is assembled without a known upper
// bound ahead of time (e.g. building an on-the-fly payload before it is
// known whether it will fit a fixed scratch buffer).
type GrowableBuffer struct {
	data []byte
	pos  int
}

// NewGrowableBuffer returns an empty GrowableBuffer.
func NewGrowableBuffer() *GrowableBuffer {
	return &GrowableBuffer{}
}

func (b *GrowableBuffer) Read(dst []byte) error {
	if b.pos+len(dst) > len(b.data) {
		return fmt.Errorf("storageio: growable buffer short read at pos %d, want %d bytes, have %d: %w", b.pos, len(dst), len(b.data)-b.pos, ErrIO)
	}
	copy(dst, b.data[b.pos:b.pos+len(dst)])
	b.pos += len(dst)
	return nil
}

func (b *GrowableBuffer) Write(src []byte) error {
	end := b.pos + len(src)
	if end > len(b.data) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[b.pos:end], src)
	b.pos = end
	return nil
}

func (b *GrowableBuffer) Seek(absolute int64) error {
	if absolute < 0 || int(absolute) > len(b.data) {
		return fmt.Errorf("storageio: growable buffer seek to %d out of range [0,%d]: %w", absolute, len(b.data), ErrIO)
	}
	b.pos = int(absolute)
	return nil
}

func (b *GrowableBuffer) SeekToEnd() error {
	b.pos = len(b.data)
	return nil
}

func (b *GrowableBuffer) Pos() int64 { return int64(b.pos) }

func (b *GrowableBuffer) Size() int64 { return int64(len(b.data)) }

func (b *GrowableBuffer) Flush() error { return nil }

func (b *GrowableBuffer) Clear() error {
	b.data = b.data[:0]
	b.pos = 0
	return nil
}

func (b *GrowableBuffer) Close() error { return nil }

// Bytes returns the full contents written so far. The returned slice
// aliases the buffer's backing array.
func (b *GrowableBuffer) Bytes() []byte { return b.data }
