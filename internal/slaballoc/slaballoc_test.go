package slaballoc

import (
	"os"
	"testing"

	"github.com/calvinalkan/nodestore/internal/filemap"
	"github.com/calvinalkan/nodestore/pkg/nodearray"
	"github.com/stretchr/testify/require"
)

func newTestAlloc(t *testing.T, baseline nodearray.Ref) *SlabAlloc {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "slaballoc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	fm := filemap.Open(f, filemap.DefaultAlignment)
	wmgr := filemap.NewWriteWindowMgr(fm, 4, false)

	return New(fm, wmgr, baseline)
}

func TestAllocReturnsAlignedRef(t *testing.T) {
	a := newTestAlloc(t, 24)

	ref, data, err := a.Alloc(17)
	require.NoError(t, err)
	require.True(t, ref.IsAligned())
	require.Len(t, data, 24) // 17 rounded up to 24

	require.True(t, ref >= a.Baseline())
}

func TestTranslateRoundTrips(t *testing.T) {
	a := newTestAlloc(t, 24)

	ref, data, err := a.Alloc(16)
	require.NoError(t, err)

	copy(data, []byte("0123456789abcdef"))

	got, err := a.Translate(ref)
	require.NoError(t, err)
	require.Equal(t, []byte("0123456789abcdef"), got[:16])
}

func TestFreeSlabSpaceIsReusedImmediately(t *testing.T) {
	a := newTestAlloc(t, 24)

	ref1, _, err := a.Alloc(64)
	require.NoError(t, err)

	require.NoError(t, a.Free(ref1, 64))

	ref2, _, err := a.Alloc(64)
	require.NoError(t, err)

	require.Equal(t, ref1, ref2, "same-size free should be reused before growing the slab")
}

func TestFreeReadOnlyIsQueuedNotReused(t *testing.T) {
	a := newTestAlloc(t, 1024)

	a.SetWriteVersion(5)
	require.NoError(t, a.Free(8, 16)) // ref 8 < baseline 1024: file-owned

	entries, err := a.TakeFreeReadOnly()
	require.NoError(t, err)
	require.Equal(t, []FreeEntry{{Pos: 8, Size: 16, ReleasedAt: 5}}, entries)

	// Queuing must not make the range available to Alloc.
	ref, _, err := a.Alloc(16)
	require.NoError(t, err)
	require.NotEqual(t, nodearray.Ref(8), ref)
}

func TestIsReadOnlyRespectsBaseline(t *testing.T) {
	a := newTestAlloc(t, 1024)

	require.True(t, a.IsReadOnly(0))
	require.True(t, a.IsReadOnly(1016))
	require.False(t, a.IsReadOnly(1024))
}

func TestConsolidateMergesAdjacentAndRejectsOverlap(t *testing.T) {
	merged, err := consolidate([]FreeEntry{
		{Pos: 0, Size: 8, ReleasedAt: 1},
		{Pos: 8, Size: 8, ReleasedAt: 1},
		{Pos: 32, Size: 8, ReleasedAt: 1},
	})
	require.NoError(t, err)
	require.Equal(t, []FreeEntry{{Pos: 0, Size: 16, ReleasedAt: 1}, {Pos: 32, Size: 8, ReleasedAt: 1}}, merged)

	_, err = consolidate([]FreeEntry{
		{Pos: 0, Size: 16, ReleasedAt: 1},
		{Pos: 8, Size: 8, ReleasedAt: 1},
	})
	require.Error(t, err)
}

func TestReallocGrowsInPlaceAtSlabTail(t *testing.T) {
	a := newTestAlloc(t, 24)

	ref, data, err := a.Alloc(16)
	require.NoError(t, err)
	copy(data, []byte("0123456789abcdef"))

	newRef, newData, err := a.Realloc(ref, 16, 32)
	require.NoError(t, err)
	require.Equal(t, ref, newRef, "tail allocation should grow in place")
	require.Equal(t, []byte("0123456789abcdef"), newData[:16])
}
