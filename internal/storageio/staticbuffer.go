package storageio

import "fmt"

// ErrCapacityExceeded is returned by StaticBuffer.Write when a write would
// overflow the buffer's fixed capacity.
var ErrCapacityExceeded = fmt.Errorf("storageio: capacity exceeded")

// StaticBuffer is a fixed-capacity in-memory IO, grounded on
// storage_static_buffer.hpp's StaticBufferAdapter<MaxSize>. The WAL uses
// one of these sized to the block size (4096 bytes) as its write scratch,
// so that a single block can be assembled without ever touching disk
// until it is full and ready to flush.
type StaticBuffer struct {
	data []byte // len == capacity; logical size tracked separately
	size int    // number of valid bytes written so far
	pos  int
}

// NewStaticBuffer allocates a StaticBuffer with the given fixed capacity.
func NewStaticBuffer(capacity int) *StaticBuffer {
	return &StaticBuffer{data: make([]byte, capacity)}
}

func (b *StaticBuffer) Read(dst []byte) error {
	if b.pos+len(dst) > b.size {
		return fmt.Errorf("storageio: static buffer short read at pos %d, want %d bytes, have %d: %w", b.pos, len(dst), b.size-b.pos, ErrIO)
	}
	copy(dst, b.data[b.pos:b.pos+len(dst)])
	b.pos += len(dst)
	return nil
}

func (b *StaticBuffer) Write(src []byte) error {
	if b.pos+len(src) > len(b.data) {
		return fmt.Errorf("storageio: static buffer write at pos %d would exceed capacity %d by %d bytes: %w",
			b.pos, len(b.data), b.pos+len(src)-len(b.data), ErrCapacityExceeded)
	}
	copy(b.data[b.pos:], src)
	b.pos += len(src)
	if b.pos > b.size {
		b.size = b.pos
	}
	return nil
}

func (b *StaticBuffer) Seek(absolute int64) error {
	if absolute < 0 || int(absolute) > b.size {
		return fmt.Errorf("storageio: static buffer seek to %d out of range [0,%d]: %w", absolute, b.size, ErrIO)
	}
	b.pos = int(absolute)
	return nil
}

func (b *StaticBuffer) SeekToEnd() error {
	b.pos = b.size
	return nil
}

func (b *StaticBuffer) Pos() int64 { return int64(b.pos) }

func (b *StaticBuffer) Size() int64 { return int64(b.size) }

// Capacity returns the fixed maximum size this buffer may ever hold.
func (b *StaticBuffer) Capacity() int { return len(b.data) }

func (b *StaticBuffer) Flush() error { return nil }

// Clear resets the buffer to empty without reallocating, and zeroes the
// backing array so a reused block never leaks a previous block's tail.
func (b *StaticBuffer) Clear() error {
	for i := range b.data {
		b.data[i] = 0
	}
	b.size = 0
	b.pos = 0
	return nil
}

func (b *StaticBuffer) Close() error { return nil }

// Bytes returns the valid (written) prefix of the buffer. The returned
// slice aliases the buffer's backing array and must not be retained
// across a subsequent Write or Clear.
func (b *StaticBuffer) Bytes() []byte { return b.data[:b.size] }
