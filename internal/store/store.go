// Package store composes the WAL, File Allocation Manager, and Secondary
// Index Set into the submit/apply/complete data flow spec.md §2
// describes, grounded on the teacher's internal/storage/manager and
// internal/engine packages. It owns the primary data file; the WAL owns
// its own block buffer and log file, the FAM owns its gap set, and each
// index owns its multimap (spec.md §3 Ownership) — Store only mediates
// between them under its own mutex.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/leengari/recordstore/internal/fam"
	"github.com/leengari/recordstore/internal/index"
	"github.com/leengari/recordstore/internal/ops"
	"github.com/leengari/recordstore/internal/record"
	"github.com/leengari/recordstore/internal/schema"
	"github.com/leengari/recordstore/internal/storageio"
	"github.com/leengari/recordstore/internal/wal"
)

// slotHeaderSize is the length prefix every stored record slot carries on
// disk, ahead of its record.Encode payload, so a slot's extent can be
// recovered without consulting the index (spec.md §4.1/§4.4: the FAM
// only tracks gaps by offset and length, so the data file itself must be
// self-describing).
const slotHeaderSize = 4

// ErrNotFound is returned when an UpdateFull, AppendToArray, or Delete
// operation names a key value with no matching record.
var ErrNotFound = fmt.Errorf("store: no record for given key")

// ErrKeyNotIndexed is returned when an operation names a key field that
// has no Secondary Index, since Store has no other way to locate a
// record by field value.
var ErrKeyNotIndexed = fmt.Errorf("store: key field is not indexed")

// Store is the primary record store for one schema: the data file
// holding live record bytes, the FAM tracking its reusable gaps, the
// index set over declared fields, and the WAL all mutations pass
// through first.
type Store struct {
	mu sync.Mutex

	schema *schema.Schema
	codec  *ops.Codec
	wal    *wal.WAL
	fam    *fam.Manager
	idx    *index.Set
	data   *storageio.File

	log *slog.Logger
}

// Options configures Open.
type Options struct {
	// Dir is the directory holding data.bin, gaps.fam, log.wal, and one
	// file per indexed field.
	Dir string
	// IndexedFields lists the fields to maintain a Secondary Index for.
	IndexedFields []schema.Field
	Logger        *slog.Logger
}

func paths(dir string) (data, gaps, log string) {
	return filepath.Join(dir, "data.bin"), filepath.Join(dir, "gaps.fam"), filepath.Join(dir, "log.wal")
}

// Open opens (or creates) a store rooted at opts.Dir, loads its gap map
// and indices if present, and replays any WAL operations left pending
// from a previous session (spec.md §2's recovery half of the data flow).
func Open(s *schema.Schema, opts Options) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dataPath, gapsPath, walPath := paths(opts.Dir)
	dataFile, err := storageio.OpenFile(dataPath, storageio.ReadWrite)
	if err != nil {
		return nil, fmt.Errorf("store: open data file: %w", err)
	}

	gapManager := fam.New(logger)
	if gf, err := storageio.OpenFile(gapsPath, storageio.Read); err == nil {
		loadErr := gapManager.Load(gf)
		_ = gf.Close()
		if loadErr != nil && !errors.Is(loadErr, fam.ErrCorrupt) {
			return nil, fmt.Errorf("store: load gap map: %w", loadErr)
		}
		if loadErr != nil {
			logger.Warn("store: gap map corrupt, starting empty", "error", loadErr)
		}
	}

	idxSet := index.NewSet(opts.IndexedFields...)
	if err := idxSet.Load(opts.Dir); err != nil {
		logger.Warn("store: index load incomplete, continuing with partial/empty indices", "error", err)
	}

	codec := ops.NewCodec(s)
	w, err := wal.Open(walPath, codec, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}

	st := &Store{
		schema: s,
		codec:  codec,
		wal:    w,
		fam:    gapManager,
		idx:    idxSet,
		data:   dataFile,
		log:    logger,
	}

	if err := st.recover(); err != nil {
		return nil, fmt.Errorf("store: recover: %w", err)
	}
	return st, nil
}

// recover replays every WAL operation without a durable Successful
// completion marker, re-applying it to the data file, FAM, and indices
// exactly as a live mutation would be, then marks it complete (spec.md
// §2: "On recovery, the WAL replays only operations without matching
// successful completion markers").
func (st *Store) recover() error {
	// VerifyLog holds the WAL's own mutex for the whole scan, so the
	// completion markers for replayed operations are written only after
	// it returns — UpdateOpStatus taking that same mutex inside the
	// receiver would deadlock.
	type replayed struct {
		opID   uint32
		status ops.Status
	}
	var toMark []replayed

	err := st.wal.VerifyLog(func(opID uint32, operation any) error {
		status := ops.Successful
		if err := st.applyLocked(operation); err != nil {
			st.log.Warn("store: recovery re-apply failed, marking failed", "op_id", opID, "error", err)
			status = ops.Failed
		}
		toMark = append(toMark, replayed{opID: opID, status: status})
		return nil
	})
	if err != nil {
		return err
	}

	for _, r := range toMark {
		if err := st.wal.UpdateOpStatus(r.opID, r.status); err != nil {
			return err
		}
	}
	return nil
}

// Close persists the gap map and indices and closes the data file and
// WAL.
func (st *Store) Close() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	_, gapsPath, _ := paths(filepath.Dir(st.data.Path()))
	gf, err := storageio.OpenFile(gapsPath, storageio.Write)
	if err != nil {
		return fmt.Errorf("store: close: open gap map for save: %w", err)
	}
	saveErr := st.fam.Save(gf)
	closeErr := gf.Close()
	if saveErr != nil {
		return fmt.Errorf("store: close: save gap map: %w", saveErr)
	}
	if closeErr != nil {
		return fmt.Errorf("store: close: %w", closeErr)
	}

	if err := st.idx.Store(filepath.Dir(st.data.Path())); err != nil {
		return fmt.Errorf("store: close: save indices: %w", err)
	}

	if err := st.data.Close(); err != nil {
		return fmt.Errorf("store: close: data file: %w", err)
	}
	return st.wal.Close()
}

// submit performs the full spec.md §2 data-flow sequence: register op
// with the WAL (durable once RegisterOperation returns), apply it to
// the data file/FAM/indices, then write its completion marker. Apply
// failures mark the operation Failed rather than Successful; since only
// a Successful marker closes an operation out, a later recovery pass
// replays a Failed one again.
func (st *Store) submit(operation any) error {
	opID, err := st.wal.RegisterOperation(operation)
	if err != nil {
		return fmt.Errorf("store: register operation: %w", err)
	}

	st.mu.Lock()
	applyErr := st.applyLocked(operation)
	st.mu.Unlock()

	status := ops.Successful
	if applyErr != nil {
		status = ops.Failed
	}
	if err := st.wal.UpdateOpStatus(opID, status); err != nil {
		return fmt.Errorf("store: update op status: %w", err)
	}
	return applyErr
}

// Insert durably logs and applies an InsertOp.
func (st *Store) Insert(rec *record.Record) error {
	return st.submit(ops.InsertOp{Record: rec})
}

// Find logs and applies a FindOp, returning the storage locations of
// every record matching every predicate (intersection across
// predicates). Find has no durable side effect, but still passes through
// the WAL so the operation appears in the log for audit purposes,
// mirroring spec.md §4.3's inclusion of Find among the operation set.
func (st *Store) Find(predicates ...ops.FindPredicate) ([]uint64, error) {
	op := ops.FindOp{Predicates: predicates}
	opID, err := st.wal.RegisterOperation(op)
	if err != nil {
		return nil, fmt.Errorf("store: register operation: %w", err)
	}

	st.mu.Lock()
	locs, findErr := st.findLocked(op)
	st.mu.Unlock()

	status := ops.Successful
	if findErr != nil {
		status = ops.Failed
	}
	if err := st.wal.UpdateOpStatus(opID, status); err != nil {
		return nil, fmt.Errorf("store: update op status: %w", err)
	}
	return locs, findErr
}

// UpdateFull durably logs and applies an UpdateFullOp.
func (st *Store) UpdateFull(op ops.UpdateFullOp) error {
	return st.submit(op)
}

// AppendToArray durably logs and applies an AppendToArrayOp.
func (st *Store) AppendToArray(op ops.AppendToArrayOp) error {
	return st.submit(op)
}

// Delete durably logs and applies a DeleteOp.
func (st *Store) Delete(op ops.DeleteOp) error {
	return st.submit(op)
}

// applyLocked dispatches operation to its apply* method. Must be called
// under mu (or during single-threaded recovery, before any concurrent
// access is possible).
func (st *Store) applyLocked(operation any) error {
	switch o := operation.(type) {
	case ops.InsertOp:
		return st.applyInsert(o.Record)
	case ops.FindOp:
		_, err := st.findLocked(o)
		return err
	case ops.UpdateFullOp:
		return st.applyUpdateFull(o)
	case ops.AppendToArrayOp:
		return st.applyAppendToArray(o)
	case ops.DeleteOp:
		return st.applyDelete(o)
	default:
		return fmt.Errorf("store: unsupported operation type %T", operation)
	}
}

func (st *Store) findLocked(op ops.FindOp) ([]uint64, error) {
	if len(op.Predicates) == 0 {
		return nil, fmt.Errorf("store: find requires at least one predicate")
	}

	var result map[uint64]struct{}
	for i, p := range op.Predicates {
		if !st.idx.HasIndex(p.FieldID) {
			return nil, fmt.Errorf("store: find field id %d: %w", p.FieldID, ErrKeyNotIndexed)
		}
		locs, err := st.idx.Find(p.FieldID, p.Value)
		if err != nil {
			return nil, err
		}
		set := make(map[uint64]struct{}, len(locs))
		for _, l := range locs {
			set[l] = struct{}{}
		}
		if i == 0 {
			result = set
			continue
		}
		for l := range result {
			if _, ok := set[l]; !ok {
				delete(result, l)
			}
		}
	}

	out := make([]uint64, 0, len(result))
	for l := range result {
		out = append(out, l)
	}
	return out, nil
}

// locateByKey finds the unique storage location of the record whose
// keyFieldID field equals keyValue, via that field's Secondary Index.
// More than one match is a caller/data-model error spec.md leaves
// unaddressed for a non-unique key; this module treats it the same as
// "found" and picks the first, since ordering among duplicates is
// insertion order (spec.md §3).
func (st *Store) locateByKey(keyFieldID uint8, keyValue any) (uint64, error) {
	if !st.idx.HasIndex(keyFieldID) {
		return 0, fmt.Errorf("store: key field id %d: %w", keyFieldID, ErrKeyNotIndexed)
	}
	locs, err := st.idx.Find(keyFieldID, keyValue)
	if err != nil {
		return 0, err
	}
	if len(locs) == 0 {
		return 0, ErrNotFound
	}
	return locs[0], nil
}

func (st *Store) applyInsert(rec *record.Record) error {
	loc, err := st.writeSlot(rec)
	if err != nil {
		return fmt.Errorf("store: insert: %w", err)
	}
	st.indexRecord(rec, loc)
	return nil
}

func (st *Store) applyUpdateFull(op ops.UpdateFullOp) error {
	loc, err := st.locateByKey(op.KeyFieldID, op.KeyValue)
	if errors.Is(err, ErrNotFound) {
		if !op.InsertIfNotExists {
			return err
		}
		return st.applyInsert(op.Record)
	}
	if err != nil {
		return fmt.Errorf("store: update: %w", err)
	}

	old, slotLen, err := st.readSlot(loc)
	if err != nil {
		return fmt.Errorf("store: update: read old record: %w", err)
	}
	st.unindexRecord(old, loc)
	st.fam.RegisterGap(loc, uint64(slotLen))

	newLoc, err := st.writeSlot(op.Record)
	if err != nil {
		return fmt.Errorf("store: update: write new record: %w", err)
	}
	st.indexRecord(op.Record, newLoc)
	return nil
}

func (st *Store) applyAppendToArray(op ops.AppendToArrayOp) error {
	loc, err := st.locateByKey(op.KeyFieldID, op.KeyValue)
	if errors.Is(err, ErrNotFound) {
		if !op.InsertIfNotExists {
			return err
		}
		return st.applyInsert(op.Record)
	}
	if err != nil {
		return fmt.Errorf("store: append: %w", err)
	}

	old, slotLen, err := st.readSlot(loc)
	if err != nil {
		return fmt.Errorf("store: append: read record: %w", err)
	}

	arrayField, ok := st.schema.FieldByID(op.ArrayFieldID)
	if !ok {
		return fmt.Errorf("store: append: unknown array field id %d", op.ArrayFieldID)
	}
	current, ok := old.Get(op.ArrayFieldID)
	if !ok {
		return fmt.Errorf("store: append: record has no value for field %q", arrayField.Name)
	}
	arr, ok := current.([]any)
	if !ok {
		return fmt.Errorf("store: append: field %q is not an array value", arrayField.Name)
	}
	updatedArr := append(append([]any(nil), arr...), op.ArrayValues...)

	values := make(map[uint8]any, len(st.schema.Fields()))
	for _, f := range st.schema.Fields() {
		v, _ := old.Get(f.ID)
		if f.ID == op.ArrayFieldID {
			v = updatedArr
		}
		values[f.ID] = v
	}
	updated, err := record.New(st.schema, values)
	if err != nil {
		return fmt.Errorf("store: append: rebuild record: %w", err)
	}

	st.unindexRecord(old, loc)
	st.fam.RegisterGap(loc, uint64(slotLen))
	newLoc, err := st.writeSlot(updated)
	if err != nil {
		return fmt.Errorf("store: append: write updated record: %w", err)
	}
	st.indexRecord(updated, newLoc)
	return nil
}

func (st *Store) applyDelete(op ops.DeleteOp) error {
	loc, err := st.locateByKey(op.KeyFieldID, op.KeyValue)
	if err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}

	old, slotLen, err := st.readSlot(loc)
	if err != nil {
		return fmt.Errorf("store: delete: read record: %w", err)
	}
	st.unindexRecord(old, loc)

	if st.schema.HasTombstone() {
		tombstoneFieldID, _ := st.schema.TombstoneField()
		if err := st.tombstoneSlot(loc, tombstoneFieldID); err != nil {
			return fmt.Errorf("store: delete: tombstone: %w", err)
		}
		return nil
	}

	st.fam.RegisterGap(loc, uint64(slotLen))
	return nil
}

// indexRecord adds loc to every Secondary Index whose field this record
// carries a value for.
func (st *Store) indexRecord(rec *record.Record, loc uint64) {
	for _, f := range st.schema.Fields() {
		if !st.idx.HasIndex(f.ID) {
			continue
		}
		v, ok := rec.Get(f.ID)
		if !ok {
			continue
		}
		_ = st.idx.RegisterValueLocation(f.ID, v, loc)
	}
}

func (st *Store) unindexRecord(rec *record.Record, loc uint64) {
	for _, f := range st.schema.Fields() {
		if !st.idx.HasIndex(f.ID) {
			continue
		}
		v, ok := rec.Get(f.ID)
		if !ok {
			continue
		}
		_ = st.idx.RemoveLocation(f.ID, v, loc)
	}
}

// writeSlot allocates (from the FAM, or by appending) and writes rec as
// a (size: u32, record bytes...) slot, returning its offset.
func (st *Store) writeSlot(rec *record.Record) (uint64, error) {
	buf := storageio.NewGrowableBuffer()
	if err := rec.Encode(buf); err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}
	payload := buf.Bytes()
	slotLen := uint64(slotHeaderSize + len(payload))

	offset := st.fam.TakeSuitableGap(slotLen)
	if offset == fam.NoGap {
		size := st.data.Size()
		if size < 0 {
			return 0, fmt.Errorf("stat data file")
		}
		offset = uint64(size)
	}

	if err := st.data.Seek(int64(offset)); err != nil {
		return 0, err
	}
	if err := storageio.WriteUint32(st.data, uint32(len(payload))); err != nil {
		return 0, err
	}
	if err := st.data.Write(payload); err != nil {
		return 0, err
	}
	if err := st.data.Flush(); err != nil {
		return 0, err
	}
	return offset, nil
}

// readSlot reads the record stored at offset, returning it along with
// the total slot length (header + payload) so the caller can register a
// gap of the right size if it goes on to overwrite or delete the slot.
func (st *Store) readSlot(offset uint64) (*record.Record, int, error) {
	if err := st.data.Seek(int64(offset)); err != nil {
		return nil, 0, err
	}
	payloadLen, err := storageio.ReadUint32(st.data)
	if err != nil {
		return nil, 0, err
	}
	payload := make([]byte, payloadLen)
	if err := st.data.Read(payload); err != nil {
		return nil, 0, err
	}
	rec, err := record.Decode(st.schema, storageio.NewMemoryBlock(payload))
	if err != nil {
		return nil, 0, err
	}
	return rec, slotHeaderSize + int(payloadLen), nil
}

// tombstoneSlot overwrites a record's tombstone field in place with the
// schema's sentinel bit pattern, without touching the rest of the slot
// or freeing it to the FAM (spec.md §3: a tombstoned record stays at its
// offset; deletion is in-place, not a gap).
func (st *Store) tombstoneSlot(offset uint64, tombstoneFieldID uint8) error {
	if _, ok := st.schema.FieldByID(tombstoneFieldID); !ok {
		return fmt.Errorf("unknown tombstone field id %d", tombstoneFieldID)
	}

	fieldOffset := slotHeaderSize
	for _, sf := range st.schema.StaticFields() {
		if sf.ID == tombstoneFieldID {
			break
		}
		fieldOffset += sf.StaticSize()
	}

	_, value := st.schema.TombstoneField()
	if err := st.data.Seek(int64(offset) + int64(fieldOffset)); err != nil {
		return err
	}
	if err := st.data.Write(value); err != nil {
		return err
	}
	return st.data.Flush()
}
