package group

import (
	"fmt"

	"github.com/calvinalkan/nodestore/pkg/nodearray"
)

// Top field positions (spec §3 "Group top array"). Fields at index >=
// top.Size() are absent; FreeVersionsRef and CurrentVersion return 0 for
// them, while the other accessors read their slot unconditionally.
const (
	topTableNames     = 0
	topTables         = 1
	topLogicalSize    = 2
	topFreePositions  = 3
	topFreeSizes      = 4
	topFreeVersions   = 5
	topCurrentVersion = 6
	topHistoryType    = 7
	topHistoryRef     = 8
	topHistorySchema  = 9

	topMinimalSize = 5 // table_names, tables, logical_size, free_positions, free_sizes
)

// legalTopSizes are the only sizes spec §4.6 recognizes as valid.
var legalTopSizes = map[int]bool{3: true, 5: true, 7: true, 9: true, 10: true}

// Top wraps the group top array: a flat [nodearray.Node] of [nodearray.RefOrTagged]
// slots in the fixed positional layout spec §3 defines.
type Top struct {
	alloc nodearray.Allocator
	n     *nodearray.Node
}

// NewTop creates an empty top: empty table-names and tables vectors, an
// empty freelist, and logical_size = group.HeaderSize (spec §4.6 "If
// top_ref == 0, initialize an empty group... logical_size = 24").
func NewTop(alloc nodearray.Allocator) (*Top, error) {
	names, err := nodearray.NewStringNode(alloc)
	if err != nil {
		return nil, err
	}

	tables, err := nodearray.New(alloc, false, true)
	if err != nil {
		return nil, err
	}

	positions, err := nodearray.New(alloc, false, true)
	if err != nil {
		return nil, err
	}

	sizes, err := nodearray.New(alloc, false, false)
	if err != nil {
		return nil, err
	}

	n, err := nodearray.New(alloc, false, true)
	if err != nil {
		return nil, err
	}

	fields := []int64{
		int64(nodearray.RefSlot(names.Ref())),
		int64(nodearray.RefSlot(tables.Ref())),
		int64(nodearray.TaggedInt(HeaderSize)),
		int64(nodearray.RefSlot(positions.Ref())),
		int64(nodearray.RefSlot(sizes.Ref())),
	}

	for i, v := range fields {
		if err := n.Insert(i, v); err != nil {
			return nil, err
		}
	}

	return &Top{alloc: alloc, n: n}, nil
}

// OpenTop reopens an existing top array at ref and validates its shape
// (spec §4.6 "verify top.size() ∈ {3,5,7,9,10}").
func OpenTop(alloc nodearray.Allocator, ref nodearray.Ref, baseline nodearray.Ref) (*Top, error) {
	n, err := nodearray.Open(alloc, ref)
	if err != nil {
		return nil, fmt.Errorf("group: open top %d: %w", ref, err)
	}

	if !legalTopSizes[n.Size()] {
		return nil, fmt.Errorf("group: %w: top array has illegal size %d", ErrInvalidDatabase, n.Size())
	}

	t := &Top{alloc: alloc, n: n}

	if t.LogicalSize() > int64(baseline) {
		return nil, fmt.Errorf("group: %w: logical size %d exceeds baseline %d", ErrInvalidDatabase, t.LogicalSize(), baseline)
	}

	return t, nil
}

// Ref returns the top array's own current ref.
func (t *Top) Ref() nodearray.Ref { return t.n.Ref() }

func (t *Top) slotRef(i int) nodearray.Ref {
	return nodearray.RefOrTagged(t.n.Get(i)).AsRef()
}

// TableNamesRef is the ref of the StringNode holding live table names.
func (t *Top) TableNamesRef() nodearray.Ref { return t.slotRef(topTableNames) }

// TablesRef is the ref of the Node holding per-table ref-or-tombstone slots.
func (t *Top) TablesRef() nodearray.Ref { return t.slotRef(topTables) }

// LogicalSize is the total byte length of the file's reachable region.
func (t *Top) LogicalSize() int64 { return nodearray.RefOrTagged(t.n.Get(topLogicalSize)).AsInt() }

// FreePositionsRef, FreeSizesRef, FreeVersionsRef address the three
// freelist arrays (spec §3 "Free-space entry"). FreeVersionsRef returns 0
// (an invalid ref, since 0 is the file header) if the top predates
// per-version free-space tracking (top.Size() <= 5).
func (t *Top) FreePositionsRef() nodearray.Ref { return t.slotRef(topFreePositions) }
func (t *Top) FreeSizesRef() nodearray.Ref     { return t.slotRef(topFreeSizes) }

func (t *Top) FreeVersionsRef() nodearray.Ref {
	if t.n.Size() <= topFreeVersions {
		return 0
	}

	return t.slotRef(topFreeVersions)
}

// CurrentVersion is the version stamp of this snapshot, or 0 if absent.
func (t *Top) CurrentVersion() uint64 {
	if t.n.Size() <= topCurrentVersion {
		return 0
	}

	return uint64(nodearray.RefOrTagged(t.n.Get(topCurrentVersion)).AsInt())
}

// built assembles the final top contents for a commit: every field of the
// input is carried over except the ones the GroupWriter recomputed
// (names/tables refs are unchanged identity-wise but may have moved;
// logicalSize and the three freelist refs always change).
type built struct {
	TableNamesRef    nodearray.Ref
	TablesRef        nodearray.Ref
	LogicalSize      int64
	FreePositionsRef nodearray.Ref
	FreeSizesRef     nodearray.Ref
	FreeVersionsRef  nodearray.Ref
	CurrentVersion   uint64
}

// newTopNode allocates a fresh in-memory top array from b, in the slab
// region. [GroupWriter.WriteGroup] serializes it with
// [nodearray.Node.EncodedBytes] after patching its logical_size slot to the
// file end reached once the top's own space is allocated.
func newTopNode(alloc nodearray.Allocator, b built) (*nodearray.Node, error) {
	n, err := nodearray.New(alloc, false, true)
	if err != nil {
		return nil, err
	}

	fields := []int64{
		int64(nodearray.RefSlot(b.TableNamesRef)),
		int64(nodearray.RefSlot(b.TablesRef)),
		int64(nodearray.TaggedInt(b.LogicalSize)),
		int64(nodearray.RefSlot(b.FreePositionsRef)),
		int64(nodearray.RefSlot(b.FreeSizesRef)),
	}

	if b.FreeVersionsRef != 0 {
		fields = append(fields,
			int64(nodearray.RefSlot(b.FreeVersionsRef)),
			int64(nodearray.TaggedInt(int64(b.CurrentVersion))),
		)
	}

	for i, v := range fields {
		if err := n.Insert(i, v); err != nil {
			return nil, err
		}
	}

	return n, nil
}
