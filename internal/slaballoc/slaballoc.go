// Package slaballoc implements SlabAlloc (spec §4.3): the hybrid allocator
// that serves reads from the attached file's mmap windows and writes from
// in-memory slabs, translating [nodearray.Ref] to bytes and tracking free
// space with the per-version bookkeeping the GroupWriter needs to reuse
// file space safely across snapshots.
//
// Grounded on the teacher's cache_binary.go (mmap-backed read path, header
// validation before trusting mapped bytes) and internal/fs's FS abstraction
// (translate-by-ref is the same shape as translate-by-path), generalized to
// the logical-address-space split described in original_source/src/alloc.h.
package slaballoc

import (
	"errors"
	"fmt"
	"sort"

	"github.com/calvinalkan/nodestore/internal/filemap"
	"github.com/calvinalkan/nodestore/pkg/nodearray"
)

// ErrOutOfMemory is returned when a slab cannot be grown further (spec §7).
var ErrOutOfMemory = errors.New("slaballoc: out of memory")

// sectionSize is the mmap alignment boundary that allocations must never
// cross (spec §4.3 "never crossing a section boundary"; §4.4 default 1 MB).
const sectionSize = filemap.DefaultAlignment

// slabInitialSize is the size of the first slab allocated in a fresh
// transaction (spec §4.3 "doubles until 1 MB, then grows linearly by 1 MB").
const slabInitialSize = 4096

// FreeEntry is a free-space-list tuple (spec §3 "Free-space entry"): pos and
// size are multiples of 8; ReleasedAt is the version at or before which the
// range became reusable.
type FreeEntry struct {
	Pos        nodearray.Ref
	Size       int
	ReleasedAt uint64
}

// slab is one contiguous, heap-backed chunk of the mutable address space.
// Slabs are allocated in increasing Ref order and never physically moved;
// growing the slab region means appending a new, larger slab after the last
// one; existing slabs and their contents stay where they are.
type slab struct {
	start nodearray.Ref
	data  []byte
	used  int // bump pointer: bytes in [0,used) are allocated
}

// SlabAlloc implements [nodearray.Allocator] and the versioned free-space
// tracking of spec §4.3.
//
// Not safe for concurrent use; callers serialize access per transaction
// (spec §5 "at most one writer at a time").
type SlabAlloc struct {
	fm       *filemap.FileMap
	wmgr     *filemap.WriteWindowMgr
	baseline nodearray.Ref // first address of the mutable slab region

	slabs []*slab // ordered by start; binary-searched by Translate

	freeSpace    []FreeEntry // [4.3] slab-owned space, reusable immediately
	freeReadOnly []FreeEntry // [4.3] file-owned space, queued for next commit

	writeVersion uint64 // version stamped on newly-freed read-only ranges
}

// New creates a SlabAlloc over fm, with baseline marking the end of the
// currently attached file region (spec §4.3 "[0, baseline) = attached
// file... [baseline, total) = slabs").
func New(fm *filemap.FileMap, wmgr *filemap.WriteWindowMgr, baseline nodearray.Ref) *SlabAlloc {
	return &SlabAlloc{fm: fm, wmgr: wmgr, baseline: baseline}
}

// Baseline returns the boundary between file-mapped and slab-backed regions.
func (a *SlabAlloc) Baseline() nodearray.Ref { return a.baseline }

// SetWriteVersion records the version that will be assigned to the
// transaction currently being prepared; Free() stamps it onto any
// newly-freed read-only range (spec §3 "released_at_version").
func (a *SlabAlloc) SetWriteVersion(v uint64) { a.writeVersion = v }

// IsReadOnly implements [nodearray.Allocator].
func (a *SlabAlloc) IsReadOnly(ref nodearray.Ref) bool {
	return ref < a.baseline
}

// Translate implements [nodearray.Allocator].
func (a *SlabAlloc) Translate(ref nodearray.Ref) ([]byte, error) {
	if ref < a.baseline {
		w, err := a.wmgr.GetWindow(int64(ref), nodearray.HeaderSize)
		if err != nil {
			return nil, fmt.Errorf("slaballoc: translate file ref %d: %w", ref, err)
		}

		return w.Translate(int64(ref)), nil
	}

	s := a.findSlab(ref)
	if s == nil {
		return nil, fmt.Errorf("slaballoc: ref %d not owned by any slab", ref)
	}

	return s.data[ref-s.start:], nil
}

// findSlab binary-searches the ordered slab list for the slab covering ref.
func (a *SlabAlloc) findSlab(ref nodearray.Ref) *slab {
	i := sort.Search(len(a.slabs), func(i int) bool {
		return a.slabs[i].start+nodearray.Ref(len(a.slabs[i].data)) > ref
	})

	if i < len(a.slabs) && a.slabs[i].start <= ref {
		return a.slabs[i]
	}

	return nil
}

// Alloc implements [nodearray.Allocator]: rounds size up to 8 bytes, serves
// it from a free_space entry if one fits, else bump-allocates from the
// current (or a freshly grown) slab.
func (a *SlabAlloc) Alloc(size int) (nodearray.Ref, []byte, error) {
	size = align8(size)

	if ref, ok := a.takeFree(size); ok {
		data, err := a.Translate(ref)
		if err != nil {
			return 0, nil, err
		}

		return ref, data[:size], nil
	}

	return a.bumpAlloc(size)
}

// takeFree satisfies size from free_space by best fit, splitting the
// remainder back into the list when it leaves a residue (spec §4.5
// "allocation... splits one large enough, returning the remainder").
func (a *SlabAlloc) takeFree(size int) (nodearray.Ref, bool) {
	best := -1

	for i, e := range a.freeSpace {
		if e.Size < size {
			continue
		}

		if best < 0 || e.Size < a.freeSpace[best].Size {
			best = i
		}
	}

	if best < 0 {
		return 0, false
	}

	e := a.freeSpace[best]
	a.freeSpace = append(a.freeSpace[:best], a.freeSpace[best+1:]...)

	if rest := e.Size - size; rest > 0 {
		a.freeSpace = append(a.freeSpace, FreeEntry{Pos: e.Pos + nodearray.Ref(size), Size: rest})
	}

	return e.Pos, true
}

// bumpAlloc grows the slab list to satisfy size, respecting the section
// boundary and the doubling-then-linear growth policy (spec §4.3).
func (a *SlabAlloc) bumpAlloc(size int) (nodearray.Ref, []byte, error) {
	if n := len(a.slabs); n > 0 {
		s := a.slabs[n-1]
		if room := len(s.data) - s.used; room >= size && sameSection(s.start+nodearray.Ref(s.used), size) {
			ref := s.start + nodearray.Ref(s.used)
			s.used += size

			return ref, s.data[ref-s.start : ref-s.start+nodearray.Ref(size)], nil
		}
	}

	s, err := a.growSlab(size)
	if err != nil {
		return 0, nil, err
	}

	ref := s.start
	s.used = size

	return ref, s.data[:size], nil
}

// growSlab appends a new slab at least big enough for size, doubling the
// previous slab's size up to 1 MB and growing linearly by 1 MB thereafter,
// and never letting a single allocation straddle a section boundary.
func (a *SlabAlloc) growSlab(size int) (*slab, error) {
	prevSize := slabInitialSize / 2
	start := a.baseline

	if n := len(a.slabs); n > 0 {
		last := a.slabs[n-1]
		prevSize = len(last.data)
		start = last.start + nodearray.Ref(len(last.data))
	}

	newSize := prevSize * 2
	if prevSize >= sectionSize {
		newSize = prevSize + sectionSize
	}

	if newSize < size {
		newSize = align8(size)
	}

	// Never let the slab cross a section boundary measured from its start.
	if secEnd := sectionEnd(start); start+nodearray.Ref(newSize) > secEnd {
		start = secEnd
		if newSize < size {
			newSize = align8(size)
		}
	}

	if newSize <= 0 {
		return nil, fmt.Errorf("nodestore: %w", ErrOutOfMemory)
	}

	s := &slab{start: start, data: make([]byte, newSize)}
	a.slabs = append(a.slabs, s)

	return s, nil
}

func sectionEnd(ref nodearray.Ref) nodearray.Ref {
	return (ref/sectionSize + 1) * sectionSize
}

func sameSection(start nodearray.Ref, size int) bool {
	return sectionEnd(start-1) >= start+nodearray.Ref(size) || start%sectionSize == 0
}

// Realloc implements [nodearray.Allocator]. ref must already be slab-owned
// (callers copy-on-write before calling Realloc on a read-only ref).
func (a *SlabAlloc) Realloc(ref nodearray.Ref, oldSize, newSize int) (nodearray.Ref, []byte, error) {
	newSize = align8(newSize)

	s := a.findSlab(ref)
	if s == nil {
		return 0, nil, fmt.Errorf("slaballoc: realloc: ref %d not slab-owned", ref)
	}

	off := int(ref - s.start)

	// In-place growth: this allocation is the slab's most recent (its end
	// is the bump pointer) and the slab's physical buffer has room.
	if off+oldSize == s.used && off+newSize <= len(s.data) {
		s.used = off + newSize

		return ref, s.data[off : off+newSize], nil
	}

	newRef, newData, err := a.Alloc(newSize)
	if err != nil {
		return 0, nil, err
	}

	copy(newData, s.data[off:off+min(oldSize, newSize)])

	if err := a.Free(ref, oldSize); err != nil {
		return 0, nil, err
	}

	return newRef, newData, nil
}

// Free implements [nodearray.Allocator] (spec §4.3 "Free"): read-only refs
// go to free_read_only stamped with the in-progress write version; slab
// refs return immediately to free_space.
func (a *SlabAlloc) Free(ref nodearray.Ref, size int) error {
	if size <= 0 {
		return nil
	}

	if a.IsReadOnly(ref) {
		a.freeReadOnly = append(a.freeReadOnly, FreeEntry{Pos: ref, Size: size, ReleasedAt: a.writeVersion})
		return nil
	}

	a.freeSpace = append(a.freeSpace, FreeEntry{Pos: ref, Size: size})

	return nil
}

// TakeFreeReadOnly consolidates and returns every range freed from the file
// region during the current transaction, clearing the internal list (spec
// §4.3 "Consolidation": adjacent ranges fuse; overlaps are fatal).
func (a *SlabAlloc) TakeFreeReadOnly() ([]FreeEntry, error) {
	merged, err := consolidate(a.freeReadOnly)
	if err != nil {
		return nil, err
	}

	a.freeReadOnly = nil

	return merged, nil
}

// consolidate sorts entries by position and fuses adjacent ranges,
// returning an error on overlap (spec §4.3 "overlapping ranges are a fatal
// consistency error").
func consolidate(entries []FreeEntry) ([]FreeEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	sorted := append([]FreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Pos < sorted[j].Pos })

	out := []FreeEntry{sorted[0]}

	for _, e := range sorted[1:] {
		last := &out[len(out)-1]

		switch {
		case e.Pos < last.Pos+nodearray.Ref(last.Size):
			return nil, fmt.Errorf("slaballoc: overlapping free ranges [%d,+%d) and [%d,+%d)",
				last.Pos, last.Size, e.Pos, e.Size)
		case e.Pos == last.Pos+nodearray.Ref(last.Size) && e.ReleasedAt == last.ReleasedAt:
			last.Size += e.Size
		default:
			out = append(out, e)
		}
	}

	return out, nil
}

// Reset discards every slab acquired since the transaction began (spec §5
// "Cancellation": rollback drops all slabs). Free-space lists are also
// cleared since they describe ranges that no longer matter once the
// transaction's mutations are discarded.
func (a *SlabAlloc) Reset(baseline nodearray.Ref) {
	a.baseline = baseline
	a.slabs = nil
	a.freeSpace = nil
	a.freeReadOnly = nil
}

// FindSectionInRange returns the lowest 8-byte-aligned position within
// [start, start+chunkSize) at which an allocation of size bytes would not
// cross a section boundary, or 0 if none exists (original_source's
// `SlabAlloc::find_section_in_range`, used by the GroupWriter's free-space
// search). 0 is never itself a valid answer since ref 0 is the file header.
func FindSectionInRange(start nodearray.Ref, chunkSize, size int) nodearray.Ref {
	end := start + nodearray.Ref(chunkSize)

	for pos := start; pos+nodearray.Ref(size) <= end; pos = sectionEnd(pos) {
		if sectionEnd(pos-1) >= pos+nodearray.Ref(size) || pos%sectionSize == 0 {
			return pos
		}
	}

	return 0
}

func align8(x int) int {
	return (x + 7) &^ 7
}
