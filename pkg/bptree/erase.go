package bptree

import (
	"fmt"

	"github.com/calvinalkan/nodestore/pkg/nodearray"
)

// Erase removes the element at logical index i (spec §4.2 "Erase").
// Precondition: i < Size().
func (t *Tree) Erase(i int) error {
	invariant(i >= 0 && i < t.Size(), "index %d out of range [0,%d)", i, t.Size())

	newRef, err := t.eraseNode(t.root.Ref(), i)
	if err != nil {
		return err
	}

	root, err := nodearray.Open(t.alloc, newRef)
	if err != nil {
		return err
	}

	// Collapse an inner root with no remaining children to an empty leaf
	// (spec §4.2 "If the root inner node becomes empty of children,
	// collapse to an empty leaf").
	if root.IsInner() && childCount(root) == 0 {
		leaf, err := nodearray.New(t.alloc, false, false)
		if err != nil {
			return err
		}

		t.root = leaf

		return nil
	}

	t.root = root

	return nil
}

func (t *Tree) eraseNode(ref nodearray.Ref, i int) (nodearray.Ref, error) {
	n, err := nodearray.Open(t.alloc, ref)
	if err != nil {
		return 0, err
	}

	if !n.IsInner() {
		if err := n.Erase(i); err != nil {
			return 0, fmt.Errorf("bptree: erase leaf: %w", err)
		}

		return n.Ref(), nil
	}

	offsets := mustOpenOffsets(n)

	childIdx := offsets.FindPos(int64(i + 1))
	if childIdx >= childCount(n) {
		childIdx = childCount(n) - 1
	}

	local := i
	if childIdx > 0 {
		local = i - int(offsets.Get(childIdx-1))
	}

	newChildRef, err := t.eraseNode(childRef(n, childIdx), local)
	if err != nil {
		return 0, err
	}

	child, err := nodearray.Open(t.alloc, newChildRef)
	if err != nil {
		return 0, err
	}

	// A child with no elements left (leaf) or no children left (inner) is
	// removed from this level entirely (spec §4.2 "if the child becomes
	// empty, remove its entry from both inner arrays and destroy the empty
	// child").
	childEmpty := child.IsInner() && childCount(child) == 0 || !child.IsInner() && child.Empty()

	if childEmpty {
		if err := eraseChildRef(n, childIdx); err != nil {
			return 0, err
		}

		if err := offsets.Erase(childIdx); err != nil {
			return 0, err
		}

		if err := child.Destroy(); err != nil {
			return 0, err
		}
	} else {
		if err := setChildRef(n, childIdx, newChildRef); err != nil {
			return 0, err
		}
	}

	if err := recomputeOffsetsFrom(t.alloc, n, offsets, childIdx); err != nil {
		return 0, err
	}

	return n.Ref(), nil
}
