package nodearray

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStringNode_InsertGrowsSlotWidth(t *testing.T) {
	alloc := newFakeAllocator()
	sn, err := NewStringNode(alloc)
	require.NoError(t, err)

	require.NoError(t, sn.Insert(0, "a"))
	require.NoError(t, sn.Insert(1, "hello"))
	require.NoError(t, sn.Insert(2, "hi"))

	require.Equal(t, 3, sn.Size())
	require.Equal(t, "a", sn.Get(0))
	require.Equal(t, "hello", sn.Get(1))
	require.Equal(t, "hi", sn.Get(2))
}

func TestStringNode_InsertErase_RoundTrip(t *testing.T) {
	alloc := newFakeAllocator()
	sn, err := NewStringNode(alloc)
	require.NoError(t, err)

	words := []string{"apple", "banana", "kiwi", "fig", "pomegranate"}
	for i, w := range words {
		require.NoError(t, sn.Insert(i, w))
	}

	require.NoError(t, sn.Erase(1))

	want := []string{"apple", "kiwi", "fig", "pomegranate"}
	for i, w := range want {
		require.Equal(t, w, sn.Get(i))
	}
}

func TestStringNode_Find(t *testing.T) {
	alloc := newFakeAllocator()
	sn, err := NewStringNode(alloc)
	require.NoError(t, err)

	for i, w := range []string{"x", "y", "z", "y"} {
		require.NoError(t, sn.Insert(i, w))
	}

	require.Equal(t, 1, sn.Find("y", 0))
	require.Equal(t, 3, sn.Find("y", 2))
	require.Equal(t, NotFoundIndex, sn.Find("q", 0))
}
