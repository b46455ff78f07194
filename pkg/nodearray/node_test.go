package nodearray

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNode_InsertWidensFromEmpty_ToWidth2(t *testing.T) {
	// spec §8 scenario 1: inserting the literal value 1 into a fresh node
	// widens it to width 2, never width 1.
	alloc := newFakeAllocator()
	n, err := New(alloc, false, false)
	require.NoError(t, err)

	require.NoError(t, n.Insert(0, 1))

	require.Equal(t, Width2, n.Width())
	require.Equal(t, int64(1), n.Get(0))
}

func TestNode_SetNegativeOne_WidensToWidth8(t *testing.T) {
	// spec §8 scenario 2: setting -1 into an all-zero node widens straight
	// to width 8, not width 1.
	alloc := newFakeAllocator()
	n, err := New(alloc, false, false)
	require.NoError(t, err)

	require.NoError(t, n.Insert(0, 0))
	require.Equal(t, Width0, n.Width())

	require.NoError(t, n.Set(0, -1))

	require.Equal(t, Width8, n.Width())
	require.Equal(t, int64(-1), n.Get(0))
}

func TestNode_InsertErase_RoundTrip(t *testing.T) {
	alloc := newFakeAllocator()
	n, err := New(alloc, false, false)
	require.NoError(t, err)

	values := []int64{10, -5, 300, -70000, 1 << 40, 0, 7}

	for i, v := range values {
		require.NoError(t, n.Insert(i, v))
	}

	require.Equal(t, len(values), n.Size())

	for i, v := range values {
		require.Equal(t, v, n.Get(i), "index %d", i)
	}

	require.NoError(t, n.Erase(2))

	want := append(append([]int64{}, values[:2]...), values[3:]...)
	require.Equal(t, len(want), n.Size())

	for i, v := range want {
		require.Equal(t, v, n.Get(i), "index %d after erase", i)
	}
}

func TestNode_Insert_MaintainsOrder_AtFront(t *testing.T) {
	alloc := newFakeAllocator()
	n, err := New(alloc, false, false)
	require.NoError(t, err)

	require.NoError(t, n.Insert(0, 3))
	require.NoError(t, n.Insert(0, 2))
	require.NoError(t, n.Insert(0, 1))

	require.Equal(t, []int64{1, 2, 3}, allValues(n))
}

func TestNode_Clear_PreservesWidthAndCapacity(t *testing.T) {
	alloc := newFakeAllocator()
	n, err := New(alloc, false, false)
	require.NoError(t, err)

	require.NoError(t, n.Insert(0, 1<<40))
	widthBefore := n.Width()
	capBefore := n.Capacity()

	require.NoError(t, n.Clear())

	require.Equal(t, 0, n.Size())
	require.Equal(t, widthBefore, n.Width())
	require.Equal(t, capBefore, n.Capacity())
}

func TestNode_CopyOnWrite_PromotesReadOnlyNode(t *testing.T) {
	alloc := newFakeAllocator()

	seed := make([]byte, minCapacityBytes)
	h := header{width: Width8, count: 2, capacity: minCapacityBytes - HeaderSize}
	encodeHeader(seed, h)
	setAt(seed[HeaderSize:], 0, Width8, 5)
	setAt(seed[HeaderSize:], 1, Width8, 6)

	const roRef Ref = 64
	alloc.seedReadOnly(roRef, seed)

	n, err := Open(alloc, roRef)
	require.NoError(t, err)
	require.True(t, alloc.IsReadOnly(n.Ref()))

	require.NoError(t, n.Set(0, 99))

	require.False(t, alloc.IsReadOnly(n.Ref()))
	require.NotEqual(t, roRef, n.Ref())
	require.Equal(t, int64(99), n.Get(0))
	require.Equal(t, int64(6), n.Get(1))

	// The original read-only slab must be untouched.
	require.Equal(t, int64(5), getAt(seed[HeaderSize:], 0, Width8))
}

func TestNode_CopyOnWrite_PropagatesRefToParent(t *testing.T) {
	alloc := newFakeAllocator()

	parent, err := New(alloc, true, true)
	require.NoError(t, err)

	seed := make([]byte, minCapacityBytes)
	h := header{width: Width8, count: 1, capacity: minCapacityBytes - HeaderSize}
	encodeHeader(seed, h)
	setAt(seed[HeaderSize:], 0, Width8, 42)

	const roRef Ref = 128
	alloc.seedReadOnly(roRef, seed)

	require.NoError(t, parent.Insert(0, int64(roRef)))

	child, err := Open(alloc, roRef)
	require.NoError(t, err)
	child.SetParent(parent, 0)

	require.NoError(t, child.Set(0, 1<<40))

	require.Equal(t, int64(child.Ref()), parent.Get(0))
}

func allValues(n *Node) []int64 {
	out := make([]int64, n.Size())
	for i := range out {
		out[i] = n.Get(i)
	}

	return out
}
