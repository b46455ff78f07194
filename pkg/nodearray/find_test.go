package nodearray

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNode_Find_AcrossChunkBoundaries(t *testing.T) {
	cases := []struct {
		name      string
		wantWidth Width
		values    []int64
	}{
		{"width2", Width2, []int64{0, 1}},
		{"width4", Width4, []int64{0, 1, 2, 3}},
		{"width8", Width8, []int64{0, 100, 127, -1, 50}},
		{"width16", Width16, []int64{0, 1000, 32000, -30000, 500}},
		{"width32", Width32, []int64{0, 100000, 2000000000, -2000000000, 12345}},
		{"width64", Width64, []int64{0, 1, 2, 3000000000000, -3000000000000}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			alloc := newFakeAllocator()
			n, err := New(alloc, false, false)
			require.NoError(t, err)

			// 40 elements guarantees at least one full 64-bit chunk boundary
			// crossing for every tested width.
			const count = 40

			full := make([]int64, count)
			for i := range full {
				full[i] = tc.values[i%len(tc.values)]
			}

			for i, v := range full {
				require.NoError(t, n.Insert(i, v))
			}

			require.Equal(t, tc.wantWidth, n.Width())

			for _, target := range tc.values {
				got := n.Find(target, 0)
				want := firstIndexOf(full, target, 0)
				require.Equal(t, want, got, "target=%d", target)
			}

			require.Equal(t, NotFoundIndex, n.Find(123456789, 0))
		})
	}
}

func TestNode_Find_Width0(t *testing.T) {
	alloc := newFakeAllocator()
	n, err := New(alloc, false, false)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, n.Insert(i, 0))
	}

	require.Equal(t, 0, n.Find(0, 0))
	require.Equal(t, 2, n.Find(0, 2))
	require.Equal(t, NotFoundIndex, n.Find(1, 0))
}

func TestNode_Find_RespectsStart(t *testing.T) {
	alloc := newFakeAllocator()
	n, err := New(alloc, false, false)
	require.NoError(t, err)

	for i, v := range []int64{5, 5, 5, 9, 5} {
		require.NoError(t, n.Insert(i, v))
	}

	require.Equal(t, 0, n.Find(5, 0))
	require.Equal(t, 1, n.Find(5, 1))
	require.Equal(t, 4, n.Find(5, 4))
	require.Equal(t, NotFoundIndex, n.Find(5, 5))
}

func TestNode_FindAll(t *testing.T) {
	alloc := newFakeAllocator()
	n, err := New(alloc, false, false)
	require.NoError(t, err)

	for i, v := range []int64{1, 2, 1, 2, 1} {
		require.NoError(t, n.Insert(i, v))
	}

	require.Equal(t, []int{0, 2, 4}, n.FindAll(nil, 1, 0))
	require.Equal(t, []int{1, 3}, n.FindAll(nil, 2, 0))
}

func TestNode_FindPos_NonDecreasing(t *testing.T) {
	alloc := newFakeAllocator()
	n, err := New(alloc, false, false)
	require.NoError(t, err)

	for i, v := range []int64{0, 5, 5, 12, 20} {
		require.NoError(t, n.Insert(i, v))
	}

	require.Equal(t, 0, n.FindPos(0))
	require.Equal(t, 1, n.FindPos(1))
	require.Equal(t, 1, n.FindPos(5))
	require.Equal(t, 3, n.FindPos(6))
	require.Equal(t, 4, n.FindPos(20))
	require.Equal(t, 5, n.FindPos(21))
}

func firstIndexOf(values []int64, target int64, start int) int {
	for i := start; i < len(values); i++ {
		if values[i] == target {
			return i
		}
	}

	return NotFoundIndex
}
