// Package fam implements the File Allocation Manager: tracking reusable
// gaps (offset, length) left behind by deletes and updates so later
// inserts can reuse freed space instead of only ever appending, grounded
// on fileallocationmanager.hpp.
package fam

import (
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/crypto/sha3"

	"github.com/leengari/recordstore/internal/storageio"
)

// NoGap is returned by TakeSuitableGap when no gap of sufficient length
// exists, mirroring the original's FileAllocationManager::noGap sentinel
// (std::numeric_limits<uint64_t>::max()).
const NoGap uint64 = ^uint64(0)

// consolidateThreshold is the number of gap insertions the original
// tolerates before forcing a consolidation pass on a failed
// takeSuitableGap lookup (fileallocationmanager.hpp's hard-coded 1000).
const consolidateThreshold = 1000

// Gap is a single free (offset, length) region of the data file.
type Gap struct {
	Offset uint64
	Length uint64
}

func (g Gap) endOffset() uint64 { return g.Offset + g.Length }

// Manager tracks the set of reusable gaps. It is not safe for concurrent
// use without external synchronization — callers composing it into the
// store serialize access the same way they serialize WAL operation
// application (spec.md §5).
type Manager struct {
	gaps       []Gap // kept sorted by Offset
	insertions uint64
	log        *slog.Logger
}

// New returns an empty Manager. A nil logger defaults to slog.Default().
func New(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{log: logger}
}

// RegisterGap records a newly freed region. Gaps are kept sorted by
// offset so ConsolidateGaps can do a single ascending pass.
func (m *Manager) RegisterGap(offset, length uint64) {
	i := sort.Search(len(m.gaps), func(i int) bool { return m.gaps[i].Offset >= offset })
	m.gaps = append(m.gaps, Gap{})
	copy(m.gaps[i+1:], m.gaps[i:])
	m.gaps[i] = Gap{Offset: offset, Length: length}
	m.insertions++
}

// TakeSuitableGap removes and returns the offset of the best-fit gap (the
// smallest gap whose length is >= requestedLength), splitting off and
// re-registering the remainder when the gap is larger than requested.
// It returns NoGap if nothing fits — after first forcing a consolidation
// pass and retrying once, if enough insertions have accumulated since the
// last consolidation to make that worthwhile (fileallocationmanager.hpp's
// takeSuitableGap).
func (m *Manager) TakeSuitableGap(requestedLength uint64) uint64 {
	if requestedLength == 0 {
		panic("fam: requested gap length must be > 0")
	}

	idx, found := m.bestFit(requestedLength)
	if !found {
		if m.insertions < consolidateThreshold {
			return NoGap
		}
		m.ConsolidateGaps()
		idx, found = m.bestFit(requestedLength)
		if !found {
			return NoGap
		}
	}

	gap := m.gaps[idx]
	m.gaps = append(m.gaps[:idx], m.gaps[idx+1:]...)

	if gap.Length != requestedLength {
		remainder := Gap{Offset: gap.Offset + requestedLength, Length: gap.Length - requestedLength}
		i := sort.Search(len(m.gaps), func(i int) bool { return m.gaps[i].Offset >= remainder.Offset })
		m.gaps = append(m.gaps, Gap{})
		copy(m.gaps[i+1:], m.gaps[i:])
		m.gaps[i] = remainder
	}

	return gap.Offset
}

// bestFit finds the index of the smallest gap whose length is at least
// requestedLength. Ties are broken by offset order since m.gaps is
// offset-sorted and scanned in that order.
func (m *Manager) bestFit(requestedLength uint64) (int, bool) {
	best := -1
	for i, g := range m.gaps {
		if g.Length < requestedLength {
			continue
		}
		if best == -1 || g.Length < m.gaps[best].Length {
			best = i
		}
	}
	return best, best != -1
}

// ConsolidateGaps merges strictly-adjacent gaps (current.endOffset() ==
// next.Offset) in ascending-offset order. An overlap between two
// registered gaps would mean two live records were allocated over the
// same bytes, which is a bug in the caller, not a recoverable condition —
// mirrors the original's assert(current->endOffset() == next->location).
func (m *Manager) ConsolidateGaps() {
	if len(m.gaps) < 2 {
		m.insertions = 0
		return
	}

	merged := make([]Gap, 0, len(m.gaps))
	current := m.gaps[0]
	for _, next := range m.gaps[1:] {
		if current.endOffset() > next.Offset {
			panic(fmt.Sprintf("fam: overlapping gaps at offset %d (current ends at %d, next starts at %d)", next.Offset, current.endOffset(), next.Offset))
		}
		if current.endOffset() == next.Offset {
			current.Length += next.Length
			continue
		}
		merged = append(merged, current)
		current = next
	}
	merged = append(merged, current)

	before := len(m.gaps)
	m.gaps = merged
	m.insertions = 0
	m.log.Debug("consolidated gaps", "before", before, "after", len(merged))
}

// Size returns the number of distinct gaps currently tracked.
func (m *Manager) Size() int { return len(m.gaps) }

// Clear discards all tracked gaps.
func (m *Manager) Clear() {
	m.gaps = nil
	m.insertions = 0
}

// Save persists the gap set as count:u64, then (length,offset) pairs in
// ascending offset order, then a 64-bit truncated SHA3-256 hash of that payload
// — the exact layout fileallocationmanager.hpp's saveToFile writes.
func (m *Manager) Save(w storageio.IO) error {
	if err := w.Clear(); err != nil {
		return fmt.Errorf("fam: save: clear: %w", err)
	}
	if err := storageio.WriteUint64(w, uint64(len(m.gaps))); err != nil {
		return fmt.Errorf("fam: save: count: %w", err)
	}

	h := sha3.New256()
	for _, g := range m.gaps {
		hashUint64(h, g.Length)
		hashUint64(h, g.Offset)
		if err := storageio.WriteUint64(w, g.Length); err != nil {
			return fmt.Errorf("fam: save: gap length: %w", err)
		}
		if err := storageio.WriteUint64(w, g.Offset); err != nil {
			return fmt.Errorf("fam: save: gap offset: %w", err)
		}
	}

	sum := h.Sum(nil)
	hash := storageio.ByteOrder.Uint64(sum[len(sum)-8:])
	if err := storageio.WriteUint64(w, hash); err != nil {
		return fmt.Errorf("fam: save: hash: %w", err)
	}
	return w.Flush()
}

// Load replaces the current gap set with the one persisted at r, verifying
// its trailing hash. On a hash mismatch the Manager is left empty and
// ErrCorrupt is returned; callers must not trust a partially loaded gap
// set (spec.md §7: gap-map corruption is unrecoverable-by-repair).
func (m *Manager) Load(r storageio.IO) error {
	m.Clear()

	count, err := storageio.ReadUint64(r)
	if err != nil {
		return fmt.Errorf("fam: load: count: %w", err)
	}

	h := sha3.New256()
	gaps := make([]Gap, 0, count)
	for i := uint64(0); i < count; i++ {
		length, err := storageio.ReadUint64(r)
		if err != nil {
			return fmt.Errorf("fam: load: gap %d length: %w", i, err)
		}
		offset, err := storageio.ReadUint64(r)
		if err != nil {
			return fmt.Errorf("fam: load: gap %d offset: %w", i, err)
		}
		hashUint64(h, length)
		hashUint64(h, offset)
		gaps = append(gaps, Gap{Offset: offset, Length: length})
	}

	storedHash, err := storageio.ReadUint64(r)
	if err != nil {
		return fmt.Errorf("fam: load: hash: %w", err)
	}

	sum := h.Sum(nil)
	computedHash := storageio.ByteOrder.Uint64(sum[len(sum)-8:])
	if storedHash != computedHash {
		return fmt.Errorf("fam: load: gap-map hash mismatch (stored %x, computed %x): %w", storedHash, computedHash, ErrCorrupt)
	}

	sort.Slice(gaps, func(i, j int) bool { return gaps[i].Offset < gaps[j].Offset })
	m.gaps = gaps
	return nil
}

func hashUint64(h interface{ Write([]byte) (int, error) }, v uint64) {
	var buf [8]byte
	storageio.ByteOrder.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}

// ErrCorrupt is returned by Load when the persisted gap map fails its
// integrity hash.
var ErrCorrupt = fmt.Errorf("fam: gap map corrupt")
