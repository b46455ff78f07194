package bptree

import (
	"fmt"

	"github.com/calvinalkan/nodestore/pkg/nodearray"
)

// DefaultMaxListSize is MAX_LIST_SIZE (spec §4.2): the maximum fanout of an
// inner node and the maximum element count of a leaf before either splits.
const DefaultMaxListSize = 1000

// Tree is BpTreeColumn (spec §4.2): a logically flat, ordered sequence of
// signed 64-bit values backed by a tree of [nodearray.Node]s. The root is a
// leaf until its size would exceed MaxListSize, at which point it splits and
// a new inner level is grown above it.
type Tree struct {
	alloc       nodearray.Allocator
	root        *nodearray.Node
	maxListSize int
}

// New creates an empty Tree with a fresh empty leaf as its root.
func New(alloc nodearray.Allocator, maxListSize int) (*Tree, error) {
	if maxListSize <= 1 {
		maxListSize = DefaultMaxListSize
	}

	leaf, err := nodearray.New(alloc, false, false)
	if err != nil {
		return nil, fmt.Errorf("bptree: new: %w", err)
	}

	return &Tree{alloc: alloc, root: leaf, maxListSize: maxListSize}, nil
}

// Open reopens a Tree whose root is already persisted at ref.
func Open(alloc nodearray.Allocator, ref nodearray.Ref, maxListSize int) (*Tree, error) {
	if maxListSize <= 1 {
		maxListSize = DefaultMaxListSize
	}

	root, err := nodearray.Open(alloc, ref)
	if err != nil {
		return nil, fmt.Errorf("bptree: open: %w", err)
	}

	return &Tree{alloc: alloc, root: root, maxListSize: maxListSize}, nil
}

// Ref returns the tree's current root ref. Re-read after any mutating call.
func (t *Tree) Ref() nodearray.Ref { return t.root.Ref() }

// Size returns the total number of logical elements in the tree.
func (t *Tree) Size() int {
	return subtreeSize(t.root)
}

// Empty reports whether the tree holds zero elements.
func (t *Tree) Empty() bool { return t.Size() == 0 }

func subtreeSize(n *nodearray.Node) int {
	if !n.IsInner() {
		return n.Size()
	}

	offsets := mustOpenOffsets(n)

	if offsets.Empty() {
		return 0
	}

	return int(offsets.Back())
}

// Get returns the element at logical index i. Precondition: i < Size().
func (t *Tree) Get(i int) (int64, error) {
	return get(t.alloc, t.root, i)
}

func get(alloc nodearray.Allocator, n *nodearray.Node, i int) (int64, error) {
	if !n.IsInner() {
		invariant(i >= 0 && i < n.Size(), "index %d out of range [0,%d)", i, n.Size())

		return n.Get(i), nil
	}

	offsets := mustOpenOffsets(n)

	childIdx := offsets.FindPos(int64(i + 1))
	local := i
	if childIdx > 0 {
		local = i - int(offsets.Get(childIdx-1))
	}

	child, err := openChild(alloc, n, childIdx)
	if err != nil {
		return 0, err
	}

	return get(alloc, child, local)
}

// Set overwrites the element at logical index i. Precondition: i < Size().
func (t *Tree) Set(i int, v int64) error {
	return set(t.alloc, t.root, i, v)
}

func set(alloc nodearray.Allocator, n *nodearray.Node, i int, v int64) error {
	if !n.IsInner() {
		invariant(i >= 0 && i < n.Size(), "index %d out of range [0,%d)", i, n.Size())

		return n.Set(i, v)
	}

	offsets := mustOpenOffsets(n)

	childIdx := offsets.FindPos(int64(i + 1))
	local := i
	if childIdx > 0 {
		local = i - int(offsets.Get(childIdx-1))
	}

	child, err := openChild(alloc, n, childIdx)
	if err != nil {
		return err
	}

	if err := set(alloc, child, local, v); err != nil {
		return err
	}

	return setChildRef(n, childIdx, child.Ref())
}

// Find returns the lowest logical index in [begin, end) whose element
// equals v, or [nodearray.NotFoundIndex] (spec §4.2 "Find").
func (t *Tree) Find(v int64, begin, end int) (int, error) {
	return find(t.alloc, t.root, v, begin, end, 0)
}

func find(alloc nodearray.Allocator, n *nodearray.Node, v int64, begin, end, base int) (int, error) {
	if !n.IsInner() {
		lo, hi := begin, end
		if hi > n.Size() {
			hi = n.Size()
		}

		if lo >= hi {
			return nodearray.NotFoundIndex, nil
		}

		if idx := n.Find(v, lo); idx != nodearray.NotFoundIndex && idx < hi {
			return base + idx, nil
		}

		return nodearray.NotFoundIndex, nil
	}

	offsets := mustOpenOffsets(n)
	count := childCount(n)

	childStart := 0

	for c := 0; c < count; c++ {
		childEnd := int(offsets.Get(c))
		if childEnd <= begin {
			childStart = childEnd
			continue
		}

		if childStart >= end {
			break
		}

		child, err := openChild(alloc, n, c)
		if err != nil {
			return 0, err
		}

		localBegin := max(0, begin-childStart)
		localEnd := min(childEnd-childStart, end-childStart)

		idx, err := find(alloc, child, v, localBegin, localEnd, base+childStart)
		if err != nil {
			return 0, err
		}

		if idx != nodearray.NotFoundIndex {
			return idx, nil
		}

		childStart = childEnd
	}

	return nodearray.NotFoundIndex, nil
}

// --- shared helpers over the inner-node layout (spec §4.2 "Node shape") ---

// mustOpenOffsets opens the companion offsets Node referenced by an inner
// node's element 0. Panics on a corrupt/missing offsets ref: this is a
// structural invariant, not a recoverable condition.
func mustOpenOffsets(n *nodearray.Node) *nodearray.Node {
	ref := nodearray.Ref(n.Get(0))

	offsets, err := nodearray.Open(n.Allocator(), ref)
	if err != nil {
		panic(fmt.Sprintf("bptree: invariant violated: offsets node %d: %v", ref, err))
	}

	return offsets
}

func childCount(n *nodearray.Node) int {
	return n.Size() - 1
}

func childRef(n *nodearray.Node, idx int) nodearray.Ref {
	return nodearray.Ref(n.Get(idx + 1))
}

func setChildRef(n *nodearray.Node, idx int, ref nodearray.Ref) error {
	return n.Set(idx+1, int64(ref))
}

func insertChildRef(n *nodearray.Node, idx int, ref nodearray.Ref) error {
	return n.Insert(idx+1, int64(ref))
}

func eraseChildRef(n *nodearray.Node, idx int) error {
	return n.Erase(idx + 1)
}

func openChild(alloc nodearray.Allocator, n *nodearray.Node, idx int) (*nodearray.Node, error) {
	return nodearray.Open(alloc, childRef(n, idx))
}

// newInner allocates an empty inner node with a fresh, empty offsets
// companion and no children yet.
func newInner(alloc nodearray.Allocator) (*nodearray.Node, error) {
	offsets, err := nodearray.New(alloc, false, false)
	if err != nil {
		return nil, fmt.Errorf("bptree: new offsets: %w", err)
	}

	n, err := nodearray.New(alloc, true, true)
	if err != nil {
		return nil, fmt.Errorf("bptree: new inner: %w", err)
	}

	if err := n.Insert(0, int64(offsets.Ref())); err != nil {
		return nil, err
	}

	return n, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}

	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}

	return b
}
