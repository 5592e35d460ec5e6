package index

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/leengari/recordstore/internal/schema"
	"github.com/leengari/recordstore/internal/storageio"
)

// Set is the full Secondary Index Set for one schema: one Index per
// indexed field, grounded on dbindices.hpp's Indices<IndexedFields...>.
// Unlike the original's compile-time tuple of indices, membership is
// decided at construction time from a caller-supplied field list, since
// Go has no template parameter pack to enumerate indexed fields with.
type Set struct {
	byFieldID map[uint8]*Index
}

// NewSet builds a Set with one Index per field given.
func NewSet(fields ...schema.Field) *Set {
	s := &Set{byFieldID: make(map[uint8]*Index, len(fields))}
	for _, f := range fields {
		s.byFieldID[f.ID] = New(f)
	}
	return s
}

// HasIndex reports whether fieldID is indexed.
func (s *Set) HasIndex(fieldID uint8) bool {
	_, ok := s.byFieldID[fieldID]
	return ok
}

func (s *Set) indexFor(fieldID uint8) (*Index, error) {
	idx, ok := s.byFieldID[fieldID]
	if !ok {
		return nil, fmt.Errorf("index: field id %d is not indexed", fieldID)
	}
	return idx, nil
}

// Find returns the storage locations registered for value under
// fieldID's index.
func (s *Set) Find(fieldID uint8, value any) ([]uint64, error) {
	idx, err := s.indexFor(fieldID)
	if err != nil {
		return nil, err
	}
	return idx.Find(value), nil
}

// RegisterValueLocation adds (value, location) to fieldID's index,
// rejecting a pair already present (dbindices.hpp's
// registerValueLocation duplicate check).
func (s *Set) RegisterValueLocation(fieldID uint8, value any, location uint64) error {
	idx, err := s.indexFor(fieldID)
	if err != nil {
		return err
	}
	idx.Add(value, location)
	return nil
}

// RemoveAllEntriesByValue removes every location registered for value
// under fieldID's index.
func (s *Set) RemoveAllEntriesByValue(fieldID uint8, value any) error {
	idx, err := s.indexFor(fieldID)
	if err != nil {
		return err
	}
	idx.RemoveAll(value)
	return nil
}

// RemoveLocation removes one (value, location) pair under fieldID's
// index, e.g. when a record is deleted or updated away from its old
// value.
func (s *Set) RemoveLocation(fieldID uint8, value any, location uint64) error {
	idx, err := s.indexFor(fieldID)
	if err != nil {
		return err
	}
	idx.RemoveOne(value, location)
	return nil
}

// FileName returns the canonical, filesystem-safe file name for an
// index on field, replacing the original's typeid(index).name()-derived
// scheme (index_persistence.hpp's normalizedFileName) with one built
// directly from the field's id and name, since Go field descriptors
// carry their own stable identity already.
func FileName(f schema.Field) string {
	var b strings.Builder
	for _, r := range f.Name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return fmt.Sprintf("field_%d_%s.index", f.ID, b.String())
}

// Store persists every index in the set to dir, one file per indexed
// field.
func (s *Set) Store(dir string) error {
	for _, idx := range s.byFieldID {
		path := filepath.Join(dir, FileName(idx.field))
		f, err := storageio.OpenFile(path, storageio.Write)
		if err != nil {
			return fmt.Errorf("index: store field %q: %w", idx.field.Name, err)
		}
		err = idx.Save(f)
		closeErr := f.Close()
		if err != nil {
			return fmt.Errorf("index: store field %q: %w", idx.field.Name, err)
		}
		if closeErr != nil {
			return fmt.Errorf("index: store field %q: %w", idx.field.Name, closeErr)
		}
	}
	return nil
}

// Load reads every index file in dir back into the set.
func (s *Set) Load(dir string) error {
	for _, idx := range s.byFieldID {
		path := filepath.Join(dir, FileName(idx.field))
		f, err := storageio.OpenFile(path, storageio.Read)
		if err != nil {
			return fmt.Errorf("index: load field %q: %w", idx.field.Name, err)
		}
		err = idx.Load(f)
		closeErr := f.Close()
		if err != nil {
			return fmt.Errorf("index: load field %q: %w", idx.field.Name, err)
		}
		if closeErr != nil {
			return fmt.Errorf("index: load field %q: %w", idx.field.Name, closeErr)
		}
	}
	return nil
}
