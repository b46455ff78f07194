package bptree

import (
	"fmt"

	"github.com/calvinalkan/nodestore/pkg/nodearray"
)

// splitResult is the sum type a child's recursive insert reports to its
// parent (spec §4.2 "classifies the child's return as one of None /
// InsertBefore / InsertAfter / Split"). This implementation always
// recomputes the affected suffix of the offsets array from the children's
// actual subtree sizes (see recomputeOffsetsFrom) rather than applying
// incremental deltas, which makes the InsertBefore/InsertAfter variants of
// the original algorithm unnecessary: a new sibling is always reported as
// Split, whether it came from a value insert or (in original_source) a
// direct leaf insert. See DESIGN.md.
type splitResult struct {
	split   bool
	newRef  nodearray.Ref // replaces the child's own entry
	siblRef nodearray.Ref // new entry inserted immediately after, if split
}

// Insert shifts elements [i, Size()) right by one and stores v at i (spec
// §4.2 "Insert algorithm"). Precondition: i <= Size().
func (t *Tree) Insert(i int, v int64) error {
	newRef, res, err := t.insertNode(t.root.Ref(), i, v)
	if err != nil {
		return err
	}

	if !res.split {
		root, err := nodearray.Open(t.alloc, newRef)
		if err != nil {
			return err
		}

		t.root = root

		return nil
	}

	wrapped, err := newInner(t.alloc)
	if err != nil {
		return err
	}

	if err := insertChildRef(wrapped, 0, newRef); err != nil {
		return err
	}

	if err := insertChildRef(wrapped, 1, res.siblRef); err != nil {
		return err
	}

	offsets := mustOpenOffsets(wrapped)
	if err := offsets.Insert(0, 0); err != nil {
		return err
	}

	if err := offsets.Insert(1, 0); err != nil {
		return err
	}

	if err := recomputeOffsetsFrom(t.alloc, wrapped, offsets, 0); err != nil {
		return err
	}

	t.root = wrapped

	return nil
}

// insertNode inserts v at local index i under the subtree rooted at ref,
// returning the subtree's (possibly reallocated) new root ref and whether
// it outgrew MAX_LIST_SIZE and split.
func (t *Tree) insertNode(ref nodearray.Ref, i int, v int64) (nodearray.Ref, splitResult, error) {
	n, err := nodearray.Open(t.alloc, ref)
	if err != nil {
		return 0, splitResult{}, err
	}

	if !n.IsInner() {
		return t.insertLeaf(n, i, v)
	}

	return t.insertInner(n, i, v)
}

func (t *Tree) insertLeaf(n *nodearray.Node, i int, v int64) (nodearray.Ref, splitResult, error) {
	if err := n.Insert(i, v); err != nil {
		return 0, splitResult{}, fmt.Errorf("bptree: insert leaf: %w", err)
	}

	if n.Size() <= t.maxListSize {
		return n.Ref(), splitResult{}, nil
	}

	right, err := t.splitLeaf(n)
	if err != nil {
		return 0, splitResult{}, err
	}

	return n.Ref(), splitResult{split: true, newRef: n.Ref(), siblRef: right.Ref()}, nil
}

// splitLeaf moves the upper half of n's elements into a new sibling leaf,
// truncating n in place.
func (t *Tree) splitLeaf(n *nodearray.Node) (*nodearray.Node, error) {
	splitNdx := n.Size() / 2

	right, err := nodearray.New(t.alloc, false, false)
	if err != nil {
		return nil, err
	}

	for i := splitNdx; i < n.Size(); i++ {
		if err := right.Insert(i-splitNdx, n.Get(i)); err != nil {
			return nil, err
		}
	}

	for n.Size() > splitNdx {
		if err := n.Erase(n.Size() - 1); err != nil {
			return nil, err
		}
	}

	return right, nil
}

func (t *Tree) insertInner(n *nodearray.Node, i int, v int64) (nodearray.Ref, splitResult, error) {
	offsets := mustOpenOffsets(n)
	count := childCount(n)

	childIdx := offsets.FindPos(int64(i + 1))
	if childIdx >= count {
		childIdx = count - 1
	}

	local := i
	if childIdx > 0 {
		local = i - int(offsets.Get(childIdx-1))
	}

	newChildRef, res, err := t.insertNode(childRef(n, childIdx), local, v)
	if err != nil {
		return 0, splitResult{}, err
	}

	if err := setChildRef(n, childIdx, newChildRef); err != nil {
		return 0, splitResult{}, err
	}

	if res.split {
		if err := insertChildRef(n, childIdx+1, res.siblRef); err != nil {
			return 0, splitResult{}, err
		}

		if err := offsets.Insert(childIdx, 0); err != nil {
			return 0, splitResult{}, err
		}
	}

	if err := recomputeOffsetsFrom(t.alloc, n, offsets, childIdx); err != nil {
		return 0, splitResult{}, err
	}

	if childCount(n) <= t.maxListSize {
		return n.Ref(), splitResult{}, nil
	}

	right, err := t.splitInner(n, offsets)
	if err != nil {
		return 0, splitResult{}, err
	}

	return n.Ref(), splitResult{split: true, newRef: n.Ref(), siblRef: right.Ref()}, nil
}

// splitInner moves the upper half of n's children (and matching offsets
// entries) into a new sibling inner node (spec §4.2 "On overflow at the
// current level... the inner node itself splits").
func (t *Tree) splitInner(n *nodearray.Node, offsets *nodearray.Node) (*nodearray.Node, error) {
	count := childCount(n)
	splitNdx := count / 2

	right, err := newInner(t.alloc)
	if err != nil {
		return nil, err
	}

	rightOffsets := mustOpenOffsets(right)

	for c := splitNdx; c < count; c++ {
		if err := insertChildRef(right, c-splitNdx, childRef(n, c)); err != nil {
			return nil, err
		}

		if err := rightOffsets.Insert(c-splitNdx, 0); err != nil {
			return nil, err
		}
	}

	for childCount(n) > splitNdx {
		if err := eraseChildRef(n, childCount(n)-1); err != nil {
			return nil, err
		}

		if err := offsets.Erase(offsets.Size() - 1); err != nil {
			return nil, err
		}
	}

	if err := recomputeOffsetsFrom(t.alloc, right, rightOffsets, 0); err != nil {
		return nil, err
	}

	return right, nil
}

// recomputeOffsetsFrom rebuilds offsets[from:] from the actual subtree size
// of each child starting at index from, given that offsets[:from] is
// already correct and offsets.Size() == childCount(n). This trades an O(k)
// rescan (k = entries from `from` to the end, bounded by MAX_LIST_SIZE) for
// much simpler, less error-prone arithmetic than tracking incremental
// per-operation deltas by hand.
func recomputeOffsetsFrom(alloc nodearray.Allocator, n, offsets *nodearray.Node, from int) error {
	cum := int64(0)
	if from > 0 {
		cum = offsets.Get(from - 1)
	}

	for c := from; c < childCount(n); c++ {
		child, err := openChild(alloc, n, c)
		if err != nil {
			return err
		}

		cum += int64(subtreeSize(child))

		if err := offsets.Set(c, cum); err != nil {
			return err
		}
	}

	return nil
}
