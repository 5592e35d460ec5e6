package storageio

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// File is a disk-file-backed IO, grounded on storage_std.hpp's FopenAdapter:
// a thin wrapper translating the uniform IO interface onto *os.File calls.
type File struct {
	f    *os.File
	path string
}

// OpenFile opens the file at path in the given mode. Write and ReadWrite
// create the file if it does not exist; Read fails on a missing file.
func OpenFile(path string, mode OpenMode) (*File, error) {
	var flag int
	switch mode {
	case Read:
		flag = os.O_RDONLY
	case Write:
		flag = os.O_RDWR | os.O_CREATE
	case ReadWrite:
		flag = os.O_RDWR | os.O_CREATE
	default:
		return nil, fmt.Errorf("storageio: unknown open mode %d", mode)
	}

	f, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storageio: open %s: %w", path, err)
	}
	return &File{f: f, path: path}, nil
}

func (fl *File) Read(dst []byte) error {
	_, err := io.ReadFull(fl.f, dst)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("storageio: short read from %s: %w", fl.path, err)
		}
		return fmt.Errorf("storageio: read %s: %w", fl.path, err)
	}
	return nil
}

func (fl *File) Write(src []byte) error {
	if _, err := fl.f.Write(src); err != nil {
		return fmt.Errorf("storageio: write %s: %w", fl.path, err)
	}
	return nil
}

func (fl *File) Seek(absolute int64) error {
	if _, err := fl.f.Seek(absolute, io.SeekStart); err != nil {
		return fmt.Errorf("storageio: seek %s: %w", fl.path, err)
	}
	return nil
}

func (fl *File) SeekToEnd() error {
	if _, err := fl.f.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("storageio: seek-to-end %s: %w", fl.path, err)
	}
	return nil
}

func (fl *File) Pos() int64 {
	pos, err := fl.f.Seek(0, io.SeekCurrent)
	if err != nil {
		return -1
	}
	return pos
}

func (fl *File) Size() int64 {
	info, err := fl.f.Stat()
	if err != nil {
		return -1
	}
	return info.Size()
}

func (fl *File) Flush() error {
	if err := fl.f.Sync(); err != nil {
		return fmt.Errorf("storageio: flush %s: %w", fl.path, err)
	}
	return nil
}

// Clear truncates the file to zero length and rewinds to its start.
func (fl *File) Clear() error {
	if err := fl.f.Truncate(0); err != nil {
		return fmt.Errorf("storageio: clear %s: %w", fl.path, err)
	}
	return fl.Seek(0)
}

// Truncate trims the file to exactly size bytes, used to discard a torn
// trailing block discovered during WAL recovery (spec.md §6/§7: a
// checksum failure on the final block is a silent truncation, not an
// error).
func (fl *File) Truncate(size int64) error {
	if err := fl.f.Truncate(size); err != nil {
		return fmt.Errorf("storageio: truncate %s to %d: %w", fl.path, size, err)
	}
	return fl.SeekToEnd()
}

func (fl *File) Close() error {
	if err := fl.f.Close(); err != nil {
		return fmt.Errorf("storageio: close %s: %w", fl.path, err)
	}
	return nil
}

// Path returns the filesystem path this File was opened with.
func (fl *File) Path() string { return fl.path }
