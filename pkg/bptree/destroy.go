package bptree

import "github.com/calvinalkan/nodestore/pkg/nodearray"

// Destroy frees every node in the tree, including inner-node offsets
// companions. Callers must not use t afterward (spec §4.6 "destroys the
// column graph").
func (t *Tree) Destroy() error {
	return destroyNode(t.alloc, t.root)
}

func destroyNode(alloc nodearray.Allocator, n *nodearray.Node) error {
	if n.IsInner() {
		offsets := mustOpenOffsets(n)

		for c := 0; c < childCount(n); c++ {
			child, err := openChild(alloc, n, c)
			if err != nil {
				return err
			}

			if err := destroyNode(alloc, child); err != nil {
				return err
			}
		}

		if err := offsets.Destroy(); err != nil {
			return err
		}
	}

	return n.Destroy()
}
