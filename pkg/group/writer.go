package group

import (
	"fmt"
	"sort"

	"github.com/calvinalkan/nodestore/internal/filemap"
	"github.com/calvinalkan/nodestore/internal/slaballoc"
	"github.com/calvinalkan/nodestore/pkg/bptree"
	"github.com/calvinalkan/nodestore/pkg/nodearray"
)

// sectionSize mirrors slaballoc's allocation-section boundary (spec §4.5
// "Allocations must not cross the allocator's section boundaries").
const sectionSize = filemap.DefaultAlignment

// GroupWriter turns a Group's dirty in-memory arrays into a valid on-disk
// snapshot (spec §4.5). It implements [nodearray.Writer]: every node write
// during a commit — table names, table placeholders, columns, the freelist
// arrays, and finally the top itself — goes through GetFreeSpace and a
// [filemap.WriteWindowMgr] window.
type GroupWriter struct {
	wmgr *filemap.WriteWindowMgr

	oldestReachableVersion uint64

	free   []slaballoc.FreeEntry // allocation candidates
	locked []slaballoc.FreeEntry // version > oldestReachableVersion: carried through, not reused this round

	history []FreelistSnapshot // prior commits' recreated freelists, newest last; for backdating

	fileEnd nodearray.Ref
}

// FreelistSnapshot records the freelist a commit recreated, keyed by the
// version it was written for. A later commit's [GroupWriter] walks a slice
// of these (oldest reachable version through the commit just before it) to
// backdate newly freed ranges (spec §4.5 step 3 "Backdate").
type FreelistSnapshot struct {
	Version uint64
	Free    []slaballoc.FreeEntry
}

// NewGroupWriter creates a writer that allocates starting from fileEnd and
// treats any freelist entry with ReleasedAt > oldestReachableVersion as
// still potentially visible to a live reader snapshot, and therefore not
// reusable yet (spec §4.5 step 1). history is this DB's retained freelist
// snapshots from prior commits, oldest first, used for backdating; pass nil
// when none are retained (e.g. a one-shot [nodestore.Export]).
func NewGroupWriter(wmgr *filemap.WriteWindowMgr, oldestReachableVersion uint64, fileEnd nodearray.Ref, history []FreelistSnapshot) *GroupWriter {
	return &GroupWriter{wmgr: wmgr, oldestReachableVersion: oldestReachableVersion, fileEnd: fileEnd, history: history}
}

// ReadInFreelist parses top's three freelist arrays into allocation
// candidates, partitioning entries still visible to some live snapshot into
// gw.locked (spec §4.5 step 1 "Read in freelist"). A fresh, never-committed
// top (FreePositionsRef() == 0) yields an empty freelist.
func (gw *GroupWriter) ReadInFreelist(alloc nodearray.Allocator, top *Top) error {
	if top.FreePositionsRef() == 0 {
		return nil
	}

	positions, err := nodearray.Open(alloc, top.FreePositionsRef())
	if err != nil {
		return fmt.Errorf("group: read in freelist positions: %w", err)
	}

	sizes, err := nodearray.Open(alloc, top.FreeSizesRef())
	if err != nil {
		return fmt.Errorf("group: read in freelist sizes: %w", err)
	}

	var versions *nodearray.Node

	if ref := top.FreeVersionsRef(); ref != 0 {
		versions, err = nodearray.Open(alloc, ref)
		if err != nil {
			return fmt.Errorf("group: read in freelist versions: %w", err)
		}
	}

	for i := 0; i < positions.Size(); i++ {
		entry := slaballoc.FreeEntry{
			Pos:  nodearray.Ref(positions.Get(i)),
			Size: int(sizes.Get(i)),
		}

		if versions != nil {
			entry.ReleasedAt = uint64(versions.Get(i))
		}

		if entry.ReleasedAt > gw.oldestReachableVersion {
			gw.locked = append(gw.locked, entry)
			continue
		}

		gw.free = append(gw.free, entry)
	}

	merged, err := mergeAdjacent(gw.free)
	if err != nil {
		return fmt.Errorf("group: %w", err)
	}

	gw.free = merged

	return nil
}

// mergeAdjacent sorts entries by position and fuses strictly adjacent runs
// that share a ReleasedAt version (spec §4.3 "Consolidation"), matching
// slaballoc's own free-space merge rule.
func mergeAdjacent(entries []slaballoc.FreeEntry) ([]slaballoc.FreeEntry, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	sorted := append([]slaballoc.FreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Pos < sorted[j].Pos })

	out := []slaballoc.FreeEntry{sorted[0]}

	for _, e := range sorted[1:] {
		last := &out[len(out)-1]

		switch {
		case e.Pos < last.Pos+nodearray.Ref(last.Size):
			return nil, fmt.Errorf("overlapping free ranges [%d,+%d) and [%d,+%d)", last.Pos, last.Size, e.Pos, e.Size)
		case e.Pos == last.Pos+nodearray.Ref(last.Size) && e.ReleasedAt == last.ReleasedAt:
			last.Size += e.Size
		default:
			out = append(out, e)
		}
	}

	return out, nil
}

// GetFreeSpace returns a section-boundary-respecting position for size
// bytes, satisfying it from the freelist by best fit when possible and
// extending the file otherwise (spec §4.5 step 2, step 5 simplified — see
// DESIGN.md).
func (gw *GroupWriter) GetFreeSpace(size int) (nodearray.Ref, error) {
	size = align8(size)

	if pos, ok := gw.takeFree(size); ok {
		return pos, nil
	}

	return gw.extendFile(size)
}

func (gw *GroupWriter) takeFree(size int) (nodearray.Ref, bool) {
	best := -1
	var bestPos nodearray.Ref

	for i, e := range gw.free {
		if e.Size < size {
			continue
		}

		pos := slaballoc.FindSectionInRange(e.Pos, e.Size, size)
		if pos == 0 {
			continue
		}

		if best < 0 || e.Size < gw.free[best].Size {
			best, bestPos = i, pos
		}
	}

	if best < 0 {
		return 0, false
	}

	e := gw.free[best]
	gw.free = append(gw.free[:best], gw.free[best+1:]...)

	if bestPos > e.Pos {
		gw.free = append(gw.free, slaballoc.FreeEntry{Pos: e.Pos, Size: int(bestPos - e.Pos), ReleasedAt: e.ReleasedAt})
	}

	tailStart := bestPos + nodearray.Ref(size)
	tailEnd := e.Pos + nodearray.Ref(e.Size)

	if tailEnd > tailStart {
		gw.free = append(gw.free, slaballoc.FreeEntry{Pos: tailStart, Size: int(tailEnd - tailStart), ReleasedAt: e.ReleasedAt})
	}

	return bestPos, true
}

// extendFile grows the logical file size to satisfy size bytes, donating
// any section-boundary padding it has to skip back to the freelist as an
// immediately-reusable entry.
func (gw *GroupWriter) extendFile(size int) (nodearray.Ref, error) {
	invariant(size <= sectionSize, "single allocation of %d bytes exceeds the section size %d", size, sectionSize)

	pos := slaballoc.FindSectionInRange(gw.fileEnd, 2*sectionSize, size)
	if pos == 0 {
		return 0, fmt.Errorf("group: no section-aligned home for a %d-byte allocation past %d", size, gw.fileEnd)
	}

	if pos > gw.fileEnd {
		gw.free = append(gw.free, slaballoc.FreeEntry{Pos: gw.fileEnd, Size: int(pos - gw.fileEnd), ReleasedAt: gw.oldestReachableVersion})
	}

	gw.fileEnd = pos + nodearray.Ref(size)

	return pos, nil
}

// FileEnd returns the current logical end of the region this writer has
// allocated into, e.g. for appending a trailing footer after [WriteGroup]
// returns (used by the streaming export path).
func (gw *GroupWriter) FileEnd() nodearray.Ref { return gw.fileEnd }

// WriteNode implements [nodearray.Writer].
func (gw *GroupWriter) WriteNode(data []byte) (nodearray.Ref, error) {
	pos, err := gw.GetFreeSpace(len(data))
	if err != nil {
		return 0, err
	}

	if err := gw.writeAt(pos, data); err != nil {
		return 0, err
	}

	return pos, nil
}

// writeAt copies data into the window covering [pos, pos+len(data)). Used
// both by WriteNode's normal allocate-then-write path and by WriteGroup's
// top-array fixup, which must patch already-allocated bytes in place rather
// than allocate again.
func (gw *GroupWriter) writeAt(pos nodearray.Ref, data []byte) error {
	window, err := gw.wmgr.GetWindow(int64(pos), len(data))
	if err != nil {
		return err
	}

	copy(window.Translate(int64(pos)), data)

	return nil
}

// backdate lowers each newly freed entry's ReleasedAt to the oldest
// historical snapshot whose freelist already has one entry containing the
// whole range,
// walking from the most recent snapshot back to the oldest retained one and
// stopping at the first snapshot that does not cover the range (spec §4.5
// step 3 "Backdate": "walk backward through historical freelists... If an
// earlier freelist also contains a range covering this entry, lower its
// released_at_version to the covering version... Overlap with any reachable
// block at that historical version aborts the backdating for that entry").
// gw.history is assumed sorted oldest-first, which is how WriteGroup's
// caller ([nodestore.Tx.Commit]) appends to it.
func backdate(entries []slaballoc.FreeEntry, history []FreelistSnapshot) []slaballoc.FreeEntry {
	if len(history) == 0 {
		return entries
	}

	out := append([]slaballoc.FreeEntry(nil), entries...)

	for i := range out {
		e := &out[i]

		for h := len(history) - 1; h >= 0; h-- {
			if history[h].Version >= e.ReleasedAt {
				continue
			}

			if !coveredBy(history[h].Free, e.Pos, e.Size) {
				break
			}

			e.ReleasedAt = history[h].Version
		}
	}

	return out
}

// coveredBy reports whether [pos, pos+size) lies entirely within a single
// entry of free.
func coveredBy(free []slaballoc.FreeEntry, pos nodearray.Ref, size int) bool {
	for _, f := range free {
		if f.Pos <= pos && pos+nodearray.Ref(size) <= f.Pos+nodearray.Ref(f.Size) {
			return true
		}
	}

	return false
}

// totalFree sums every candidate entry's size, including locked ones: they
// describe space that is free in the sense of "not part of the reachable
// graph", just not reusable by this transaction.
func (gw *GroupWriter) totalFree() int {
	total := 0

	for _, e := range gw.free {
		total += e.Size
	}

	for _, e := range gw.locked {
		total += e.Size
	}

	return total
}

// maybeCompact implements the externally-observable half of spec §4.5 step
// 6: when free space exceeds twice the used space and the tail of the free
// list reaches all the way to fileEnd, that tail is truncated away,
// shrinking logical_file_size. The evacuation-limit-driven allocation
// steering the original additionally performs is not implemented.
func (gw *GroupWriter) maybeCompact() {
	used := int(gw.fileEnd) - gw.totalFree()
	if gw.totalFree() <= 2*used || gw.fileEnd < sectionSize {
		return
	}

	best := -1

	for i, e := range gw.free {
		if e.Pos+nodearray.Ref(e.Size) == gw.fileEnd {
			best = i
			break
		}
	}

	if best < 0 {
		return
	}

	trimmed := gw.free[best]
	gw.free = append(gw.free[:best], gw.free[best+1:]...)
	gw.fileEnd = trimmed.Pos
}

// WriteGroup performs the full commit write: it depth-first writes every
// reachable array (table names, live table placeholders, their columns),
// rebuilds the freelist from whatever ReadInFreelist loaded plus whatever
// the transaction freed (backdated against history first, spec §4.5 step
// 3), and finally writes a new top array. The Group's own top/names/tables
// fields are left untouched; the caller installs the returned ref as the
// new committed top only after [GroupCommitter.Commit] succeeds.
//
// snapshot is the freelist exactly as recreated and persisted (step 4,
// before the freelist arrays' and top's own allocations consume any of it)
// — the caller retains it, keyed by version, as a future commit's backdating
// history.
//
// The top array's own logical_size field is self-referential: its value is
// "where the reachable region ends", which includes the top's own bytes,
// so it cannot be known before the top is serialized (spec §4.5 step 5,
// "chicken-and-egg"). WriteGroup resolves this exactly rather than
// accepting a reserved-but-unused slack: it builds the top with a
// conservative placeholder (gw.fileEnd + maxTopNodeSize, an upper bound on
// the top's own serialized size regardless of field values, so the
// placeholder's width is never smaller than the true value's width),
// allocates space for the top's *actual* encoded length, reads back the
// real gw.fileEnd that allocation produced, and patches the placeholder
// field to that exact value in place before writing the final bytes —
// leaving no unreachable gap.
func (gw *GroupWriter) WriteGroup(alloc nodearray.Allocator, g *Group, newlyFreed []slaballoc.FreeEntry, version uint64) (topRef nodearray.Ref, logicalSize int64, snapshot []slaballoc.FreeEntry, err error) {
	namesRef, err := g.names.Write(gw)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("group: write table names: %w", err)
	}

	newTables, err := nodearray.New(alloc, false, true)
	if err != nil {
		return 0, 0, nil, err
	}

	for i := 0; i < g.tables.Size(); i++ {
		v := nodearray.RefOrTagged(g.tables.Get(i))

		slot := int64(v)

		if !v.IsTagged() {
			slot, err = gw.writeTablePlaceholder(alloc, v.AsRef())
			if err != nil {
				return 0, 0, nil, fmt.Errorf("group: write table %d: %w", i, err)
			}
		}

		if err := newTables.Insert(i, slot); err != nil {
			return 0, 0, nil, err
		}
	}

	tablesRef, err := newTables.Write(gw)
	if err != nil {
		return 0, 0, nil, fmt.Errorf("group: write tables vector: %w", err)
	}

	gw.free = append(gw.free, backdate(newlyFreed, gw.history)...)

	merged, err := mergeAdjacent(append(append([]slaballoc.FreeEntry(nil), gw.free...), gw.locked...))
	if err != nil {
		return 0, 0, nil, fmt.Errorf("group: recreate freelist: %w", err)
	}

	gw.free = merged
	gw.locked = nil

	gw.maybeCompact()

	snapshot = append([]slaballoc.FreeEntry(nil), gw.free...)

	posRef, sizeRef, verRef, err := gw.writeFreelist(alloc)
	if err != nil {
		return 0, 0, nil, err
	}

	reserved := int64(gw.fileEnd) + maxTopNodeSize

	top, err := newTopNode(alloc, built{
		TableNamesRef:    namesRef,
		TablesRef:        tablesRef,
		LogicalSize:      reserved,
		FreePositionsRef: posRef,
		FreeSizesRef:     sizeRef,
		FreeVersionsRef:  verRef,
		CurrentVersion:   version,
	})
	if err != nil {
		return 0, 0, nil, err
	}

	encoded := top.EncodedBytes()

	topRef, err = gw.GetFreeSpace(len(encoded))
	if err != nil {
		return 0, 0, nil, fmt.Errorf("group: write top: %w", err)
	}

	exact := int64(gw.fileEnd)
	invariant(exact <= reserved, "top write grew the file past its reserved logical size (%d > %d)", exact, reserved)

	if err := top.Set(topLogicalSize, int64(nodearray.TaggedInt(exact))); err != nil {
		return 0, 0, nil, fmt.Errorf("group: patch top logical size: %w", err)
	}

	final := top.EncodedBytes()
	invariant(len(final) == len(encoded), "patching top's logical_size field changed its serialized length (%d != %d)", len(final), len(encoded))

	if err := gw.writeAt(topRef, final); err != nil {
		return 0, 0, nil, fmt.Errorf("group: write top: %w", err)
	}

	return topRef, exact, snapshot, nil
}

// maxTopNodeSize bounds a top array's serialized byte size regardless of
// field values: at most 10 elements at the widest legal width, header
// included.
const maxTopNodeSize = 8 + 10*8

// writeTablePlaceholder writes out a live table's placeholder and its
// column, returning the new ref packed as a RefOrTagged slot value.
func (gw *GroupWriter) writeTablePlaceholder(alloc nodearray.Allocator, ref nodearray.Ref) (int64, error) {
	placeholder, err := nodearray.Open(alloc, ref)
	if err != nil {
		return 0, err
	}

	columnRef := nodearray.RefOrTagged(placeholder.Get(placeholderColumn)).AsRef()

	column, err := bptree.Open(alloc, columnRef, bptree.DefaultMaxListSize)
	if err != nil {
		return 0, err
	}

	newColumnRef, err := column.Write(gw)
	if err != nil {
		return 0, err
	}

	tag := placeholder.Get(placeholderTag)

	newPlaceholder, err := nodearray.New(alloc, false, true)
	if err != nil {
		return 0, err
	}

	if err := newPlaceholder.Insert(placeholderTag, tag); err != nil {
		return 0, err
	}

	if err := newPlaceholder.Insert(placeholderColumn, int64(nodearray.RefSlot(newColumnRef))); err != nil {
		return 0, err
	}

	newRef, err := newPlaceholder.Write(gw)
	if err != nil {
		return 0, err
	}

	return int64(nodearray.RefSlot(newRef)), nil
}

// writeFreelist writes the final positions/sizes/versions arrays and
// returns their refs (spec §4.5 step 4 "Recreate freelist").
func (gw *GroupWriter) writeFreelist(alloc nodearray.Allocator) (positions, sizes, versions nodearray.Ref, err error) {
	pn, err := nodearray.New(alloc, false, false)
	if err != nil {
		return 0, 0, 0, err
	}

	sn, err := nodearray.New(alloc, false, false)
	if err != nil {
		return 0, 0, 0, err
	}

	vn, err := nodearray.New(alloc, false, false)
	if err != nil {
		return 0, 0, 0, err
	}

	for i, e := range gw.free {
		if err := pn.Insert(i, int64(e.Pos)); err != nil {
			return 0, 0, 0, err
		}

		if err := sn.Insert(i, int64(e.Size)); err != nil {
			return 0, 0, 0, err
		}

		if err := vn.Insert(i, int64(e.ReleasedAt)); err != nil {
			return 0, 0, 0, err
		}
	}

	positions, err = pn.Write(gw)
	if err != nil {
		return 0, 0, 0, err
	}

	sizes, err = sn.Write(gw)
	if err != nil {
		return 0, 0, 0, err
	}

	versions, err = vn.Write(gw)
	if err != nil {
		return 0, 0, 0, err
	}

	return positions, sizes, versions, nil
}

func align8(x int) int {
	return (x + 7) &^ 7
}
