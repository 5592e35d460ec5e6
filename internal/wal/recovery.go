package wal

import (
	"fmt"

	"github.com/leengari/recordstore/internal/ops"
	"github.com/leengari/recordstore/internal/storageio"
)

// entryHeader is the decoded (entry_size, operation_id) prefix every WAL
// entry carries (spec.md §4.6.2).
type entryHeader struct {
	size int
	opID uint32
}

// readValidBlocks scans the log file from offset 0 in BlockSize strides,
// validating each block's checksum, and returns the raw bytes of every
// block up to (but never including) a torn final block (spec.md §4.6.5
// pass 1, §7). A checksum failure on any block other than the last one
// in the file is fatal; on the last block, and on any short trailing
// partial block, it is a silent truncation: the file is trimmed to drop
// the torn tail.
func readValidBlocks(f *storageio.File) ([][]byte, error) {
	total := f.Size()
	if total < 0 {
		return nil, fmt.Errorf("wal: stat log file")
	}

	var blocks [][]byte
	var offset int64
	for offset+BlockSize <= total {
		if err := f.Seek(offset); err != nil {
			return nil, err
		}
		data := make([]byte, BlockSize)
		if err := f.Read(data); err != nil {
			return nil, fmt.Errorf("wal: read block at %d: %w", offset, err)
		}

		want := blockChecksumField(data)
		got := blockChecksum(data[:checksummedRegion])
		if got != want {
			isFinal := offset+BlockSize == total
			if !isFinal {
				return nil, fmt.Errorf("wal: block at offset %d: %w", offset, ErrChecksumMismatch)
			}
			if err := f.Truncate(offset); err != nil {
				return nil, fmt.Errorf("wal: discard torn tail at %d: %w", offset, err)
			}
			return blocks, nil
		}

		blocks = append(blocks, data)
		offset += BlockSize
	}

	if offset < total {
		if err := f.Truncate(offset); err != nil {
			return nil, fmt.Errorf("wal: discard short tail at %d: %w", offset, err)
		}
	}
	return blocks, nil
}

func blockChecksumField(block []byte) uint32 {
	return storageio.ByteOrder.Uint32(block[checksummedRegion : checksummedRegion+checksumSize])
}

// forEachEntry walks every entry in a validated block, in order, handing
// each one's header and a MemoryBlock positioned at its payload (right
// after the op-id field) to visit.
func forEachEntry(block []byte, visit func(h entryHeader, payload *storageio.MemoryBlock) error) error {
	itemCount := storageio.ByteOrder.Uint16(block[0:itemCountSize])
	pos := itemCountSize
	for i := uint16(0); i < itemCount; i++ {
		if pos+MinEntrySize > checksummedRegion {
			return fmt.Errorf("wal: block truncated mid-entry at item %d", i)
		}
		size := int(storageio.ByteOrder.Uint16(block[pos : pos+entrySizePrefixSize]))
		opID := storageio.ByteOrder.Uint32(block[pos+entrySizePrefixSize : pos+entrySizePrefixSize+opIDFieldSize])
		if size < MinEntrySize || pos+size > checksummedRegion {
			return fmt.Errorf("wal: entry %d at offset %d reports invalid size %d", i, pos, size)
		}

		payloadStart := pos + entrySizePrefixSize + opIDFieldSize
		payloadEnd := pos + size
		mb := storageio.NewMemoryBlock(block[payloadStart:payloadEnd])
		if err := visit(entryHeader{size: size, opID: opID}, mb); err != nil {
			return err
		}

		pos += size
	}
	return nil
}

// VerifyLog performs the two-pass recovery scan of spec.md §4.6.5:
// pass 1 collects the set of operation ids a Successful completion
// marker closed out; pass 2 hands receiver every remaining operation, in
// the order it was originally logged. A torn or missing trailing block
// is never an error — it is simply absent from both passes. After pass 1
// the next op id is raised past the highest id found in the log, so ids
// assigned after recovery never repeat one already in the file.
func (w *WAL) VerifyLog(receiver Receiver) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	blocks, err := readValidBlocks(w.file)
	if err != nil {
		return err
	}

	completed := make(map[uint32]struct{})
	var maxOpID uint32
	for _, block := range blocks {
		err := forEachEntry(block, func(h entryHeader, payload *storageio.MemoryBlock) error {
			if h.opID > maxOpID {
				maxOpID = h.opID
			}
			isMarker, err := ops.PeekIsCompletionMarker(payload)
			if err != nil {
				return err
			}
			if !isMarker {
				return nil
			}
			decoded, err := w.codec.Decode(payload)
			if err != nil {
				return fmt.Errorf("wal: decode completion marker for op %d: %w", h.opID, err)
			}
			marker, ok := decoded.(ops.CompletionMarker)
			if !ok {
				return fmt.Errorf("wal: decoded completion marker for op %d has unexpected type %T", h.opID, decoded)
			}
			if marker.Status == ops.Successful {
				completed[h.opID] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return err
		}
	}
	if maxOpID > w.lastOpID {
		w.lastOpID = maxOpID
	}

	for _, block := range blocks {
		err := forEachEntry(block, func(h entryHeader, payload *storageio.MemoryBlock) error {
			isMarker, err := ops.PeekIsCompletionMarker(payload)
			if err != nil {
				return err
			}
			if isMarker {
				return nil
			}
			if _, done := completed[h.opID]; done {
				return nil
			}
			operation, err := w.codec.Decode(payload)
			if err != nil {
				return fmt.Errorf("wal: decode operation %d during recovery: %w", h.opID, err)
			}
			return receiver(h.opID, operation)
		})
		if err != nil {
			return err
		}
	}

	return nil
}
