// Package index implements the Secondary Index Set: one ordered multimap
// per indexed field, mapping a field value to the storage locations of
// every record currently holding it, grounded on index/dbindex.hpp and
// index/dbindices.hpp.
package index

import (
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/leengari/recordstore/internal/record"
	"github.com/leengari/recordstore/internal/schema"
	"github.com/leengari/recordstore/internal/storageio"
)

// ErrCorrupt is returned by Load when a persisted index file fails its
// integrity hash.
var ErrCorrupt = fmt.Errorf("index: file corrupt")

type pair struct {
	value    any
	location uint64
}

// Index is the ordered multimap for one indexed field: a field value may
// map to several storage locations (several records sharing that value),
// and insertion order among those locations is preserved, matching the
// original's std::multimap<FieldValueType, StorageLocation> iteration
// behavior for equal keys.
type Index struct {
	field   schema.Field
	byValue map[any][]uint64
	entries []pair // flat insertion order, source of truth for persistence
}

// New returns an empty Index for field. field must not be an array field:
// DbIndex's ValueType must be usable as a map key (dbindex.hpp's
// static_assert(IndexedField::isField())).
func New(field schema.Field) *Index {
	if field.Array {
		panic(fmt.Sprintf("index: field %q (id %d) is an array field and cannot be indexed", field.Name, field.ID))
	}
	return &Index{field: field, byValue: make(map[any][]uint64)}
}

// Field returns the field descriptor this index was built for.
func (idx *Index) Field() schema.Field { return idx.field }

// Find returns the storage locations currently registered for value, in
// insertion order.
func (idx *Index) Find(value any) []uint64 {
	locs := idx.byValue[value]
	if len(locs) == 0 {
		return nil
	}
	out := make([]uint64, len(locs))
	copy(out, locs)
	return out
}

// Add registers location under value. A (value, location) pair already
// present is rejected (spec.md's Secondary Index Set invariant); Add
// reports whether the pair was actually inserted.
func (idx *Index) Add(value any, location uint64) bool {
	for _, l := range idx.byValue[value] {
		if l == location {
			return false
		}
	}
	idx.byValue[value] = append(idx.byValue[value], location)
	idx.entries = append(idx.entries, pair{value: value, location: location})
	return true
}

// RemoveOne removes the first (value, location) entry matching exactly,
// reporting whether anything was removed.
func (idx *Index) RemoveOne(value any, location uint64) bool {
	locs := idx.byValue[value]
	for i, l := range locs {
		if l != location {
			continue
		}
		idx.byValue[value] = append(locs[:i], locs[i+1:]...)
		if len(idx.byValue[value]) == 0 {
			delete(idx.byValue, value)
		}
		idx.removeEntry(value, location)
		return true
	}
	return false
}

// RemoveAll removes every location registered for value, returning the
// count removed.
func (idx *Index) RemoveAll(value any) int {
	locs := idx.byValue[value]
	if len(locs) == 0 {
		return 0
	}
	delete(idx.byValue, value)
	kept := idx.entries[:0:0]
	for _, e := range idx.entries {
		if e.value == value {
			continue
		}
		kept = append(kept, e)
	}
	idx.entries = kept
	return len(locs)
}

func (idx *Index) removeEntry(value any, location uint64) {
	for i, e := range idx.entries {
		if e.value == value && e.location == location {
			idx.entries = append(idx.entries[:i], idx.entries[i+1:]...)
			return
		}
	}
}

// Size returns the total number of (value, location) pairs registered.
func (idx *Index) Size() int { return len(idx.entries) }

// Save persists the index as count:u64, then (value, location) pairs in
// insertion order, then a 64-bit truncated SHA3-256 hash, mirroring
// index_persistence.hpp's store().
func (idx *Index) Save(w storageio.IO) error {
	if err := w.Clear(); err != nil {
		return fmt.Errorf("index: save: clear: %w", err)
	}
	if err := storageio.WriteUint64(w, uint64(len(idx.entries))); err != nil {
		return fmt.Errorf("index: save: count: %w", err)
	}

	h := sha3.New256()
	for _, e := range idx.entries {
		if err := record.EncodeValue(w, idx.field, e.value); err != nil {
			return fmt.Errorf("index: save: value: %w", err)
		}
		if err := storageio.WriteUint64(w, e.location); err != nil {
			return fmt.Errorf("index: save: location: %w", err)
		}
		hashValue(h, idx.field, e.value)
		hashUint64(h, e.location)
	}

	sum := h.Sum(nil)
	hash := storageio.ByteOrder.Uint64(sum[len(sum)-8:])
	if err := storageio.WriteUint64(w, hash); err != nil {
		return fmt.Errorf("index: save: hash: %w", err)
	}
	return w.Flush()
}

// Load replaces the index's contents with what is persisted at r,
// verifying the trailing hash.
func (idx *Index) Load(r storageio.IO) error {
	idx.byValue = make(map[any][]uint64)
	idx.entries = nil

	count, err := storageio.ReadUint64(r)
	if err != nil {
		return fmt.Errorf("index: load: count: %w", err)
	}

	h := sha3.New256()
	for i := uint64(0); i < count; i++ {
		value, err := record.DecodeValue(r, idx.field)
		if err != nil {
			return fmt.Errorf("index: load: entry %d value: %w", i, err)
		}
		location, err := storageio.ReadUint64(r)
		if err != nil {
			return fmt.Errorf("index: load: entry %d location: %w", i, err)
		}
		hashValue(h, idx.field, value)
		hashUint64(h, location)

		idx.byValue[value] = append(idx.byValue[value], location)
		idx.entries = append(idx.entries, pair{value: value, location: location})
	}

	storedHash, err := storageio.ReadUint64(r)
	if err != nil {
		return fmt.Errorf("index: load: hash: %w", err)
	}
	sum := h.Sum(nil)
	computedHash := storageio.ByteOrder.Uint64(sum[len(sum)-8:])
	if storedHash != computedHash {
		return fmt.Errorf("index: load: hash mismatch (stored %x, computed %x): %w", storedHash, computedHash, ErrCorrupt)
	}
	return nil
}

func hashUint64(w interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	storageio.ByteOrder.PutUint64(buf[:], v)
	_, _ = w.Write(buf[:])
}

func hashValue(w interface{ Write([]byte) (int, error) }, f schema.Field, v any) {
	buf := storageio.NewGrowableBuffer()
	_ = record.EncodeValue(buf, f, v)
	_, _ = w.Write(buf.Bytes())
}
