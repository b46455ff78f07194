package nodearray

import "fmt"

// minCapacityBytes is the smallest allocation ever made for a new node,
// header included, leaving a 120-byte body (spec §4.1 "floor of 128 bytes
// when old_capacity is 0").
const minCapacityBytes = 128

// Node is the adaptive bit-packed integer array described by spec §4.1: a
// contiguous sequence of signed 64-bit values (or refs, when HasRefs), packed
// at the minimum width able to hold the current maximum-magnitude element.
//
// A Node's identity is its current [Ref]. Methods that may reallocate
// (Set, Insert, Erase when widening or growing) update the node's ref in
// place and return only an error; callers that embed a Node as a child must
// re-read Ref() after any mutating call and propagate it to their own parent
// slot, which Node does automatically once [Node.SetParent] has been called.
type Node struct {
	alloc Allocator
	ref   Ref
	data  []byte
	hdr   header

	hasParent   bool
	parent      *Node
	parentIndex int
}

// Open decodes an existing node at ref using alloc to translate it.
func Open(alloc Allocator, ref Ref) (*Node, error) {
	invariant(ref.IsAligned(), "ref %d is not 8-byte aligned", ref)

	data, err := alloc.Translate(ref)
	if err != nil {
		return nil, fmt.Errorf("nodearray: open ref %d: %w", ref, err)
	}

	n := &Node{alloc: alloc, ref: ref, data: data, hdr: decodeHeader(data)}

	invariant(isLegalWidth(n.hdr.width), "ref %d: illegal width %d", ref, n.hdr.width)

	needed := byteSize(n.hdr.count, n.hdr.width)
	invariant(n.hdr.capacity+HeaderSize >= needed, "ref %d: capacity %d smaller than logical length %d", ref, n.hdr.capacity, needed-HeaderSize)

	return n, nil
}

// New allocates a fresh, empty node. isInner/hasRefs set the header bits
// used by B+-tree inner nodes; both false produces a plain leaf/value array.
func New(alloc Allocator, isInner, hasRefs bool) (*Node, error) {
	ref, data, err := alloc.Alloc(minCapacityBytes)
	if err != nil {
		return nil, fmt.Errorf("nodearray: new: %w", ErrOutOfMemory)
	}

	h := header{isInner: isInner, hasRefs: hasRefs, width: Width0, count: 0, capacity: minCapacityBytes - HeaderSize}
	encodeHeader(data, h)

	return &Node{alloc: alloc, ref: ref, data: data, hdr: h}, nil
}

// SetParent registers parent/parentIndex so that a reallocating mutation
// updates the parent's child slot automatically (spec §9 "parent
// back-pointers"). Pass nil to clear.
func (n *Node) SetParent(parent *Node, index int) {
	n.hasParent = parent != nil
	n.parent = parent
	n.parentIndex = index
}

// Ref returns the node's current ref. Re-read this after any mutating call.
func (n *Node) Ref() Ref { return n.ref }

// Allocator returns the Allocator this node was opened or created with, so
// that code holding only a *Node (e.g. a B+-tree inner node helper) can
// reopen a child or companion node without threading the allocator through
// every call.
func (n *Node) Allocator() Allocator { return n.alloc }

// Width returns the node's current packing width.
func (n *Node) Width() Width { return n.hdr.width }

// IsInner reports the header's is_inner bit.
func (n *Node) IsInner() bool { return n.hdr.isInner }

// HasRefs reports the header's has_refs bit.
func (n *Node) HasRefs() bool { return n.hdr.hasRefs }

// Size returns the element count.
func (n *Node) Size() int { return n.hdr.count }

// Empty reports whether the node has zero elements.
func (n *Node) Empty() bool { return n.hdr.count == 0 }

// Capacity returns the body capacity in bytes (excluding the header).
func (n *Node) Capacity() int { return n.hdr.capacity }

// Get returns the i-th element. Precondition: i < Size(). Width-0 nodes
// always return 0.
func (n *Node) Get(i int) int64 {
	invariant(i >= 0 && i < n.hdr.count, "index %d out of range [0,%d)", i, n.hdr.count)

	return getAt(n.data[HeaderSize:], i, n.hdr.width)
}

// Back returns the last element. Precondition: !Empty().
func (n *Node) Back() int64 {
	invariant(n.hdr.count > 0, "back on empty node")

	return n.Get(n.hdr.count - 1)
}

// Clear truncates the node to zero elements. Width and capacity are
// unchanged; this never narrows or shrinks (spec §4.1).
func (n *Node) Clear() error {
	if n.cowNeeded() {
		if err := n.copyOnWrite(); err != nil {
			return err
		}
	}

	n.hdr.count = 0
	setHeaderCount(n.data, 0)

	return nil
}

// Set overwrites index i with v, widening in place if v needs more bits
// than the node's current width. Precondition: i < Size().
func (n *Node) Set(i int, v int64) error {
	invariant(i >= 0 && i < n.hdr.count, "index %d out of range [0,%d)", i, n.hdr.count)

	if n.cowNeeded() {
		if err := n.copyOnWrite(); err != nil {
			return err
		}
	}

	required := bitWidth(v)
	if required > n.hdr.width {
		if err := n.widen(required); err != nil {
			return err
		}
	}

	setAt(n.data[HeaderSize:], i, n.hdr.width, v)

	return nil
}

// Insert shifts elements [i, Size()) right by one and stores v at i.
// Precondition: i <= Size(). Amortized O(n) per spec §4.1.
func (n *Node) Insert(i int, v int64) error {
	invariant(i >= 0 && i <= n.hdr.count, "index %d out of range [0,%d]", i, n.hdr.count)

	if n.cowNeeded() {
		if err := n.copyOnWrite(); err != nil {
			return err
		}
	}

	required := bitWidth(v)
	targetWidth := n.hdr.width
	if required > targetWidth {
		targetWidth = required
	}

	oldCount := n.hdr.count
	newCount := oldCount + 1

	if err := n.ensureCapacity(newCount, targetWidth); err != nil {
		return err
	}

	if targetWidth != n.hdr.width {
		// Repack existing elements into the new width at their current
		// positions first; shiftRight below then opens the gap at i using
		// getAt/setAt, which only ever touches the oldCount elements that
		// repack just placed, so no separate zero-fill pass is needed.
		n.repack(targetWidth)
	}

	body := n.data[HeaderSize:]
	shiftRight(body, n.hdr.width, i, oldCount)

	n.hdr.count = newCount
	setHeaderCount(n.data, newCount)
	setAt(body, i, n.hdr.width, v)

	return nil
}

// Erase removes the element at i, shifting [i+1, Size()) left by one.
// Precondition: i < Size(). Never narrows the width (spec §4.1).
func (n *Node) Erase(i int) error {
	invariant(i >= 0 && i < n.hdr.count, "index %d out of range [0,%d)", i, n.hdr.count)

	if n.cowNeeded() {
		if err := n.copyOnWrite(); err != nil {
			return err
		}
	}

	body := n.data[HeaderSize:]
	shiftLeft(body, n.hdr.width, i, n.hdr.count)

	n.hdr.count--
	setHeaderCount(n.data, n.hdr.count)

	return nil
}

// cowNeeded reports whether a mutating call must copy-on-write before
// touching n.data (spec §4.1 "Copy-on-write").
func (n *Node) cowNeeded() bool {
	return n.alloc.IsReadOnly(n.ref)
}

// copyOnWrite promotes a file-owned node to a fresh slab copy, rewrites its
// ref, and informs the parent (spec §4.1, §9 "Copy-on-write identity").
func (n *Node) copyOnWrite() error {
	size := byteSize(n.hdr.count, n.hdr.width) + (n.hdr.capacity - byteLength(n.hdr.count, n.hdr.width))
	if size < minCapacityBytes {
		size = minCapacityBytes
	}

	newRef, newData, err := n.alloc.Alloc(size)
	if err != nil {
		return fmt.Errorf("nodearray: copy-on-write: %w", ErrOutOfMemory)
	}

	copy(newData, n.data[:byteSize(n.hdr.count, n.hdr.width)])
	n.hdr.capacity = size - HeaderSize
	setHeaderCapacity(newData, n.hdr.capacity)

	n.ref = newRef
	n.data = newData

	n.propagateRef()

	return nil
}

// propagateRef writes the node's current ref into its parent's child slot,
// if any.
func (n *Node) propagateRef() {
	if !n.hasParent {
		return
	}

	// The parent holds children as refs (HasRefs); Set on a ref-bearing
	// node stores the raw ref value.
	_ = n.parent.Set(n.parentIndex, int64(n.ref))
}

// widen repacks the node's body at a wider width, growing capacity first if
// necessary, and updates the header.
func (n *Node) widen(newWidth Width) error {
	invariant(isLegalWidth(newWidth), "illegal width %d", newWidth)

	if err := n.ensureCapacity(n.hdr.count, newWidth); err != nil {
		return err
	}

	n.repack(newWidth)

	return nil
}

// repack re-encodes the body at newWidth, copying the node's existing
// elements from high index to low so overlapping in-place widening never
// clobbers unread source elements (spec §4.1 "re-packs existing elements
// from high index down to low"). Caller must have already called
// ensureCapacity for the node's current count at newWidth.
func (n *Node) repack(newWidth Width) {
	oldWidth := n.hdr.width
	if newWidth == oldWidth {
		return
	}

	body := n.data[HeaderSize:]

	for i := n.hdr.count - 1; i >= 0; i-- {
		v := getAt(body, i, oldWidth)
		setAt(body, i, newWidth, v)
	}

	n.hdr.width = newWidth
	setHeaderWidth(n.data, newWidth)
}

// ensureCapacity guarantees the node's allocation can hold count elements at
// width, growing (and possibly reallocating/COW-ing) as needed. Growth
// policy: new_capacity = max(required, floor(1.5*old_capacity)), floor 128
// bytes from zero (spec §4.1 "Allocation/capacity").
func (n *Node) ensureCapacity(count int, width Width) error {
	requiredBody := byteLength(count, width)
	if requiredBody <= n.hdr.capacity {
		return nil
	}

	oldTotal := HeaderSize + n.hdr.capacity
	grown := (oldTotal * 3) / 2

	newTotal := HeaderSize + requiredBody
	if grown > newTotal {
		newTotal = grown
	}

	if newTotal < minCapacityBytes {
		newTotal = minCapacityBytes
	}

	oldSize := byteSize(n.hdr.count, n.hdr.width)

	newRef, newData, err := n.alloc.Realloc(n.ref, oldSize, newTotal)
	if err != nil {
		return fmt.Errorf("nodearray: grow: %w", ErrOutOfMemory)
	}

	if newRef != n.ref {
		n.ref = newRef
		n.propagateRef()
	}

	n.data = newData
	n.hdr.capacity = newTotal - HeaderSize
	setHeaderCapacity(n.data, n.hdr.capacity)

	return nil
}

// Destroy releases the node's storage back to the allocator. Callers must
// not use the node afterward.
func (n *Node) Destroy() error {
	return n.alloc.Free(n.ref, byteSize(n.hdr.count, n.hdr.width))
}
