package storageio

import "fmt"

// ErrReadOnly is returned by any mutating call against a MemoryBlock.
var ErrReadOnly = fmt.Errorf("storageio: read-only adapter")

// MemoryBlock is a read-only view over an existing byte slice, with no
// copy, grounded on storage_static_buffer.hpp's MemoryBlockAdapter. The
// WAL's block-verification pass wraps a block it has just read from disk
// in one of these rather than copying it into a second scratch buffer.
type MemoryBlock struct {
	data []byte
	pos  int
}

// NewMemoryBlock wraps data for reading. data is not copied; the caller
// must not mutate it while the MemoryBlock is in use.
func NewMemoryBlock(data []byte) *MemoryBlock {
	return &MemoryBlock{data: data}
}

func (b *MemoryBlock) Read(dst []byte) error {
	if b.pos+len(dst) > len(b.data) {
		return fmt.Errorf("storageio: memory block short read at pos %d, want %d bytes, have %d: %w", b.pos, len(dst), len(b.data)-b.pos, ErrIO)
	}
	copy(dst, b.data[b.pos:b.pos+len(dst)])
	b.pos += len(dst)
	return nil
}

func (b *MemoryBlock) Write(src []byte) error {
	return fmt.Errorf("storageio: cannot write %d bytes: %w", len(src), ErrReadOnly)
}

func (b *MemoryBlock) Seek(absolute int64) error {
	if absolute < 0 || int(absolute) > len(b.data) {
		return fmt.Errorf("storageio: memory block seek to %d out of range [0,%d]: %w", absolute, len(b.data), ErrIO)
	}
	b.pos = int(absolute)
	return nil
}

func (b *MemoryBlock) SeekToEnd() error {
	b.pos = len(b.data)
	return nil
}

func (b *MemoryBlock) Pos() int64 { return int64(b.pos) }

func (b *MemoryBlock) Size() int64 { return int64(len(b.data)) }

func (b *MemoryBlock) Flush() error { return nil }

func (b *MemoryBlock) Clear() error {
	return fmt.Errorf("storageio: cannot clear: %w", ErrReadOnly)
}

func (b *MemoryBlock) Close() error { return nil }

// Bytes returns the wrapped slice verbatim.
func (b *MemoryBlock) Bytes() []byte { return b.data }
