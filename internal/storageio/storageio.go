// Package storageio provides a uniform byte-oriented interface over a
// backing store — a disk file, a fixed-capacity in-memory buffer, or a
// growable in-memory buffer — plus field-aware helpers for fixed-width
// and length-prefixed values (spec.md §4.1).
//
// WAL blocks are assembled in a bounded 4 KiB scratch buffer that must
// support the exact same operations as the on-disk log file; keeping the
// interface polymorphic over the backing store is what lets the WAL
// serializer and the record/operation serializers be written once and
// reused against both.
package storageio

import (
	"encoding/binary"
	"fmt"
	"io"
)

// OpenMode mirrors spec.md §6's three file open modes.
type OpenMode int

const (
	Read OpenMode = iota
	Write
	ReadWrite
)

// ErrIO is the generic failure returned when the underlying store cannot
// satisfy a request: insufficient data on read, capacity exceeded on a
// static buffer write, or an I/O error on disk (spec.md §4.1).
var ErrIO = fmt.Errorf("storageio: operation failed")

// IO is the uniform interface every backing store implements.
type IO interface {
	Read(dst []byte) error
	Write(src []byte) error
	Seek(absolute int64) error
	SeekToEnd() error
	Pos() int64
	Size() int64
	Flush() error
	Clear() error
	Close() error
}

// ByteOrder is the wire byte order used throughout this module, matching
// the teacher's internal/wal.ByteOrder convention.
var ByteOrder = binary.LittleEndian

func ioErr(op string, err error) error {
	return fmt.Errorf("storageio: %s: %w: %w", op, err, ErrIO)
}

// --- fixed-width primitive helpers -----------------------------------------

func WriteUint8(w IO, v uint8) error {
	return wrapWrite(w, "write uint8", []byte{v})
}

func ReadUint8(r IO) (uint8, error) {
	var buf [1]byte
	if err := wrapRead(r, "read uint8", buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func WriteUint16(w IO, v uint16) error {
	var buf [2]byte
	ByteOrder.PutUint16(buf[:], v)
	return wrapWrite(w, "write uint16", buf[:])
}

func ReadUint16(r IO) (uint16, error) {
	var buf [2]byte
	if err := wrapRead(r, "read uint16", buf[:]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint16(buf[:]), nil
}

func WriteUint32(w IO, v uint32) error {
	var buf [4]byte
	ByteOrder.PutUint32(buf[:], v)
	return wrapWrite(w, "write uint32", buf[:])
}

func ReadUint32(r IO) (uint32, error) {
	var buf [4]byte
	if err := wrapRead(r, "read uint32", buf[:]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint32(buf[:]), nil
}

func WriteUint64(w IO, v uint64) error {
	var buf [8]byte
	ByteOrder.PutUint64(buf[:], v)
	return wrapWrite(w, "write uint64", buf[:])
}

func ReadUint64(r IO) (uint64, error) {
	var buf [8]byte
	if err := wrapRead(r, "read uint64", buf[:]); err != nil {
		return 0, err
	}
	return ByteOrder.Uint64(buf[:]), nil
}

// WriteFixed writes the low 'width' bytes of v, little-endian. width must
// be 1, 2, 4, or 8 — the set of fixed primitive widths spec.md §3 allows.
func WriteFixed(w IO, width int, v uint64) error {
	switch width {
	case 1:
		return WriteUint8(w, uint8(v))
	case 2:
		return WriteUint16(w, uint16(v))
	case 4:
		return WriteUint32(w, uint32(v))
	case 8:
		return WriteUint64(w, v)
	default:
		return fmt.Errorf("storageio: unsupported fixed width %d", width)
	}
}

// ReadFixed is the inverse of WriteFixed.
func ReadFixed(r IO, width int) (uint64, error) {
	switch width {
	case 1:
		v, err := ReadUint8(r)
		return uint64(v), err
	case 2:
		v, err := ReadUint16(r)
		return uint64(v), err
	case 4:
		v, err := ReadUint32(r)
		return uint64(v), err
	case 8:
		return ReadUint64(r)
	default:
		return 0, fmt.Errorf("storageio: unsupported fixed width %d", width)
	}
}

// --- length-prefixed helpers -------------------------------------------------

// WriteString writes a u32 length prefix followed by the raw UTF-8 bytes.
func WriteString(w IO, s string) error {
	if err := WriteUint32(w, uint32(len(s))); err != nil {
		return err
	}
	return wrapWrite(w, "write string bytes", []byte(s))
}

// ReadString is the inverse of WriteString.
func ReadString(r IO) (string, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if n > 0 {
		if err := wrapRead(r, "read string bytes", buf); err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

// WriteBytes writes a u32 length prefix followed by raw bytes, for
// length-prefixed byte payloads that aren't strings. Record arrays do not
// use it: they are written as a u32 element count followed by each
// element in its own wire form.
func WriteBytes(w IO, b []byte) error {
	if err := WriteUint32(w, uint32(len(b))); err != nil {
		return err
	}
	return wrapWrite(w, "write bytes", b)
}

func ReadBytes(r IO) ([]byte, error) {
	n, err := ReadUint32(r)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if n > 0 {
		if err := wrapRead(r, "read bytes", buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// WriteRaw writes len(b) bytes verbatim, with no length prefix.
func WriteRaw(w IO, b []byte) error {
	return wrapWrite(w, "write raw", b)
}

func ReadRaw(r IO, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := wrapRead(r, "read raw", buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func wrapWrite(w IO, op string, b []byte) error {
	if err := w.Write(b); err != nil {
		return ioErr(op, err)
	}
	return nil
}

func wrapRead(r IO, op string, b []byte) error {
	if err := r.Read(b); err != nil {
		return ioErr(op, err)
	}
	return nil
}

var _ = io.EOF // referenced by implementations in this package
