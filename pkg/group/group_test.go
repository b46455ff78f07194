package group

import (
	"os"
	"testing"

	"github.com/calvinalkan/nodestore/internal/filemap"
	"github.com/calvinalkan/nodestore/internal/slaballoc"
	"github.com/calvinalkan/nodestore/pkg/dbconfig"
	"github.com/calvinalkan/nodestore/pkg/nodearray"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) (*filemap.FileMap, *filemap.WriteWindowMgr) {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "group")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	fm := filemap.Open(f, filemap.DefaultAlignment)
	wmgr := filemap.NewWriteWindowMgr(fm, 4, false)

	return fm, wmgr
}

func TestNewGroupIsEmpty(t *testing.T) {
	fm, wmgr := newTestDB(t)
	alloc := slaballoc.New(fm, wmgr, HeaderSize)

	g, err := New(alloc)
	require.NoError(t, err)
	require.Equal(t, 0, g.TableCount())
}

func TestAddTableAssignsDistinctKeys(t *testing.T) {
	fm, wmgr := newTestDB(t)
	alloc := slaballoc.New(fm, wmgr, HeaderSize)

	g, err := New(alloc)
	require.NoError(t, err)

	k1, err := g.AddTable("people")
	require.NoError(t, err)

	k2, err := g.AddTable("orders")
	require.NoError(t, err)

	require.NotEqual(t, k1, k2)
	require.Equal(t, 2, g.TableCount())

	name, err := g.TableName(k1)
	require.NoError(t, err)
	require.Equal(t, "people", name)
}

func TestRemoveTableInvalidatesKeyAndReusesSlot(t *testing.T) {
	fm, wmgr := newTestDB(t)
	alloc := slaballoc.New(fm, wmgr, HeaderSize)

	g, err := New(alloc)
	require.NoError(t, err)

	k1, err := g.AddTable("people")
	require.NoError(t, err)

	require.NoError(t, g.RemoveTable(k1))
	require.False(t, g.HasTable(k1))
	require.Equal(t, 0, g.TableCount())

	k2, err := g.AddTable("orders")
	require.NoError(t, err)

	require.Equal(t, k1.Index(), k2.Index(), "the tombstoned slot should be reused")
	require.NotEqual(t, k1.Tag(), k2.Tag(), "the generation tag must advance")
	require.True(t, g.HasTable(k2))
	require.False(t, g.HasTable(k1), "the stale key must not resolve to the new table")
}

func TestColumnRoundTripsThroughSetColumn(t *testing.T) {
	fm, wmgr := newTestDB(t)
	alloc := slaballoc.New(fm, wmgr, HeaderSize)

	g, err := New(alloc)
	require.NoError(t, err)

	key, err := g.AddTable("T")
	require.NoError(t, err)

	col, err := g.Column(key)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, col.Insert(i, int64(i)))
	}

	require.NoError(t, g.SetColumn(key, col))

	reopened, err := g.Column(key)
	require.NoError(t, err)
	require.Equal(t, 10, reopened.Size())

	v, err := reopened.Get(5)
	require.NoError(t, err)
	require.Equal(t, int64(5), v)
}

func TestFullCommitAndReopenRoundTrip(t *testing.T) {
	fm, wmgr := newTestDB(t)
	alloc := slaballoc.New(fm, wmgr, HeaderSize)

	g, err := New(alloc)
	require.NoError(t, err)

	key, err := g.AddTable("T")
	require.NoError(t, err)

	col, err := g.Column(key)
	require.NoError(t, err)

	for _, v := range []int64{1, 2, 3, 1_000_000_000} {
		require.NoError(t, col.Insert(col.Size(), v))
	}

	require.NoError(t, g.SetColumn(key, col))

	gw := NewGroupWriter(wmgr, 0, alloc.Baseline(), nil)
	require.NoError(t, gw.ReadInFreelist(alloc, g.Top()))

	topRef, logicalSize, _, err := gw.WriteGroup(alloc, g, nil, 1)
	require.NoError(t, err)
	require.Greater(t, logicalSize, int64(HeaderSize))

	committer := NewGroupCommitter(fm, wmgr, dbconfig.DurabilityFull)

	newHeader, err := committer.Commit(FileHeader{}, nodearray.Ref(topRef))
	require.NoError(t, err)
	require.Equal(t, uint64(topRef), newHeader.ActiveTopRef())
	require.Equal(t, uint8(CurrentFileFormatVersion), newHeader.ActiveFileFormat())

	readAlloc := slaballoc.New(fm, wmgr, nodearray.Ref(logicalSize))

	reopened, err := Attach(readAlloc, nodearray.Ref(topRef), nodearray.Ref(logicalSize))
	require.NoError(t, err)
	require.Equal(t, 1, reopened.TableCount())

	reopenedCol, err := reopened.Column(key)
	require.NoError(t, err)
	require.Equal(t, 4, reopenedCol.Size())

	for i, want := range []int64{1, 2, 3, 1_000_000_000} {
		v, err := reopenedCol.Get(i)
		require.NoError(t, err)
		require.Equal(t, want, v)
	}
}

func TestOpenTopRejectsIllegalSize(t *testing.T) {
	fm, wmgr := newTestDB(t)
	alloc := slaballoc.New(fm, wmgr, HeaderSize)

	n, err := nodearray.New(alloc, false, true)
	require.NoError(t, err)
	require.NoError(t, n.Insert(0, 0))
	require.NoError(t, n.Insert(1, 0))

	_, err = OpenTop(alloc, n.Ref(), HeaderSize+64)
	require.ErrorIs(t, err, ErrInvalidDatabase)
}
