package wal

import (
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/leengari/recordstore/internal/ops"
	"github.com/leengari/recordstore/internal/storageio"
)

// ===========================================================================
// SUBMISSION PROTOCOL
// ===========================================================================
//
// RegisterOperation and UpdateOpStatus both follow spec.md §4.6.3:
//  1. Serialize into a per-call scratch buffer, reserving the entry's
//     size and op-id prefixes.
//  2. Acquire the block mutex.
//  3. Roll the block over if the entry no longer fits.
//  4. Decide first-writer status right after any rollover and before the
//     append (spec.md §9's Design Notes: this is hoisted earlier than the
//     original's post-append placement to make the race-free ordering
//     explicit).
//  5. Assign/patch the op id.
//  6. Append the entry; release the mutex.
//  7. Spin-wait for durability, taking over the flush if this goroutine
//     is the timeout owner.
//
// ===========================================================================

// buildEntry serializes an entry's payload via write into a fresh
// scratch buffer with its size prefix already patched in, leaving the
// 4-byte op-id slot at offset 2 still zeroed for the caller to fill in
// under the block mutex.
func buildEntry(write func(storageio.IO) error) (*storageio.StaticBuffer, int, error) {
	eb := storageio.NewStaticBuffer(BlockSize)
	if err := storageio.WriteUint16(eb, 0); err != nil {
		return nil, 0, err
	}
	if err := storageio.WriteUint32(eb, 0); err != nil {
		return nil, 0, err
	}
	if err := write(eb); err != nil {
		if errors.Is(err, storageio.ErrCapacityExceeded) {
			return nil, 0, fmt.Errorf("wal: serialize entry: %w: %w", err, ErrEntryTooLarge)
		}
		return nil, 0, fmt.Errorf("wal: serialize entry: %w", err)
	}

	entrySize := int(eb.Size())
	if entrySize > maxEntrySize {
		return nil, 0, fmt.Errorf("wal: entry of %d bytes exceeds maximum block payload of %d: %w", entrySize, maxEntrySize, ErrEntryTooLarge)
	}

	if err := eb.Seek(0); err != nil {
		return nil, 0, err
	}
	if err := storageio.WriteUint16(eb, uint16(entrySize)); err != nil {
		return nil, 0, err
	}
	if err := eb.SeekToEnd(); err != nil {
		return nil, 0, err
	}
	return eb, entrySize, nil
}

// patchOpID overwrites the entry's 4-byte op-id slot (offset 2) and
// leaves the buffer positioned at its end, ready to be appended to the
// block.
func patchOpID(eb *storageio.StaticBuffer, opID uint32) error {
	if err := eb.Seek(entrySizePrefixSize); err != nil {
		return err
	}
	if err := storageio.WriteUint32(eb, opID); err != nil {
		return err
	}
	return eb.SeekToEnd()
}

// RegisterOperation serializes op, assigns it a strictly monotonic
// operation id under the block mutex, appends it to the shared block,
// and blocks until the block containing it is durable. The entry's
// header op id equals its assigned id (spec.md §4.6.3).
func (w *WAL) RegisterOperation(op any) (uint32, error) {
	eb, entrySize, err := buildEntry(func(io storageio.IO) error {
		return w.codec.Write(io, op)
	})
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	if w.newBlockRequiredForData(entrySize) {
		if err := w.finalizeAndFlushLocked(); err != nil {
			w.mu.Unlock()
			return 0, err
		}
	}

	firstWriter := w.blockIsEmpty()
	var startedAt time.Time
	if firstWriter {
		startedAt = time.Now()
	}

	opID := w.lastOpID + 1
	w.lastOpID = opID
	if err := patchOpID(eb, opID); err != nil {
		w.mu.Unlock()
		return 0, err
	}

	w.lastBlockOpID = opID
	if err := w.block.Write(eb.Bytes()); err != nil {
		w.mu.Unlock()
		return 0, err
	}
	w.blockItemCount++
	w.pending[opID] = struct{}{}
	w.mu.Unlock()

	if err := w.waitForFlushAndHandleTimeout(opID, firstWriter, startedAt); err != nil {
		return 0, err
	}
	return opID, nil
}

// UpdateOpStatus logs a completion marker for targetOpID. The marker's
// own entry header carries targetOpID (not a fresh id) so recovery can
// tell which earlier operation it closes out. This call also assigns a
// fresh id, which governs only its own flush-wait and is never written
// to the log; the marker payload holds just the tag and status.
// targetOpID leaves the pending set whatever the status.
func (w *WAL) UpdateOpStatus(targetOpID uint32, status ops.Status) error {
	eb, entrySize, err := buildEntry(func(io storageio.IO) error {
		return ops.WriteCompletionMarker(io, ops.CompletionMarker{Status: status})
	})
	if err != nil {
		return err
	}
	if err := patchOpID(eb, targetOpID); err != nil {
		return err
	}

	w.mu.Lock()
	if w.newBlockRequiredForData(entrySize) {
		if err := w.finalizeAndFlushLocked(); err != nil {
			w.mu.Unlock()
			return err
		}
	}

	firstWriter := w.blockIsEmpty()
	var startedAt time.Time
	if firstWriter {
		startedAt = time.Now()
	}

	newOpID := w.lastOpID + 1
	w.lastOpID = newOpID

	w.lastBlockOpID = newOpID
	if err := w.block.Write(eb.Bytes()); err != nil {
		w.mu.Unlock()
		return err
	}
	w.blockItemCount++
	delete(w.pending, targetOpID)
	w.mu.Unlock()

	return w.waitForFlushAndHandleTimeout(newOpID, firstWriter, startedAt)
}

// waitForFlushAndHandleTimeout spins until opID's containing block has
// been flushed. If this goroutine is the first-writer timeout owner and
// timeoutOwnerWindow has elapsed with nobody else having flushed, it
// takes over the flush itself (spec.md §4.6.3 step 8, §5's first-writer
// rule, and §9's note that a condition variable would serve equally).
func (w *WAL) waitForFlushAndHandleTimeout(opID uint32, firstWriter bool, startedAt time.Time) error {
	for w.lastFlushedOpID.Load() < opID {
		if firstWriter && time.Since(startedAt) >= timeoutOwnerWindow {
			w.mu.Lock()
			if w.lastFlushedOpID.Load() < opID {
				if err := w.finalizeAndFlushLocked(); err != nil {
					w.mu.Unlock()
					return err
				}
			}
			w.mu.Unlock()
			continue
		}
		runtime.Gosched()
	}
	return nil
}
