package bptree

import (
	"github.com/calvinalkan/nodestore/pkg/nodearray"
)

// Write serializes the tree to w (spec §4.2 "Serialization"): children are
// written before their parent, a transient inner node referencing the
// written offsets and child positions is assembled, and that node is written
// last. The live tree is left untouched; call Write against a snapshot or
// immediately before discarding t.
func (t *Tree) Write(w nodearray.Writer) (nodearray.Ref, error) {
	return writeNode(t.alloc, w, t.root)
}

func writeNode(alloc nodearray.Allocator, w nodearray.Writer, n *nodearray.Node) (nodearray.Ref, error) {
	if !n.IsInner() {
		return n.Write(w)
	}

	offsets := mustOpenOffsets(n)

	offsetsRef, err := offsets.Write(w)
	if err != nil {
		return 0, err
	}

	count := childCount(n)
	childRefs := make([]nodearray.Ref, count)

	for c := 0; c < count; c++ {
		child, err := openChild(alloc, n, c)
		if err != nil {
			return 0, err
		}

		childRefs[c], err = writeNode(alloc, w, child)
		if err != nil {
			return 0, err
		}
	}

	// Assemble a transient inner node carrying the written refs, then write
	// and discard it; it never becomes part of the live tree.
	tmp, err := nodearray.New(alloc, true, true)
	if err != nil {
		return 0, err
	}

	if err := tmp.Insert(0, int64(offsetsRef)); err != nil {
		return 0, err
	}

	for c, ref := range childRefs {
		if err := tmp.Insert(c+1, int64(ref)); err != nil {
			return 0, err
		}
	}

	newRef, err := tmp.Write(w)
	if err != nil {
		return 0, err
	}

	if err := tmp.Destroy(); err != nil {
		return 0, err
	}

	return newRef, nil
}
