package bptree

import (
	"os"
	"testing"

	"github.com/calvinalkan/nodestore/internal/filemap"
	"github.com/calvinalkan/nodestore/internal/slaballoc"
	"github.com/calvinalkan/nodestore/pkg/nodearray"
	"github.com/stretchr/testify/require"
)

func newTestAlloc(t *testing.T) *slaballoc.SlabAlloc {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "bptree")
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	fm := filemap.Open(f, filemap.DefaultAlignment)
	wmgr := filemap.NewWriteWindowMgr(fm, 4, false)

	return slaballoc.New(fm, wmgr, 24)
}

func TestInsertAndGetRoundTrip(t *testing.T) {
	tr, err := New(newTestAlloc(t), 8)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, tr.Insert(i, int64(i*i)))
	}

	require.Equal(t, 100, tr.Size())

	for i := 0; i < 100; i++ {
		v, err := tr.Get(i)
		require.NoError(t, err)
		require.Equal(t, int64(i*i), v)
	}
}

func TestInsertGrowsInnerLevels(t *testing.T) {
	tr, err := New(newTestAlloc(t), 4)
	require.NoError(t, err)

	const n = 500
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(i, int64(i)))
	}

	require.Equal(t, n, tr.Size())

	root, err := nodearray.Open(tr.alloc, tr.Ref())
	require.NoError(t, err)
	require.True(t, root.IsInner(), "small fanout over 500 elements must have split into inner levels")

	for i := 0; i < n; i++ {
		v, err := tr.Get(i)
		require.NoError(t, err)
		require.Equal(t, int64(i), v)
	}
}

func TestSetOverwritesInPlace(t *testing.T) {
	tr, err := New(newTestAlloc(t), 4)
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, tr.Insert(i, int64(i)))
	}

	require.NoError(t, tr.Set(10, 99999))

	v, err := tr.Get(10)
	require.NoError(t, err)
	require.Equal(t, int64(99999), v)
	require.Equal(t, 50, tr.Size())
}

func TestFindAcrossSplitTree(t *testing.T) {
	tr, err := New(newTestAlloc(t), 4)
	require.NoError(t, err)

	const n = 300
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(i, int64(i%7)))
	}

	idx, err := tr.Find(0, 0, n)
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	idx, err = tr.Find(5, 10, n)
	require.NoError(t, err)
	require.Equal(t, 12, idx) // 12 % 7 == 5 and is the first such index >= 10

	idx, err = tr.Find(999, 0, n)
	require.NoError(t, err)
	require.Equal(t, nodearray.NotFoundIndex, idx)
}

func TestEraseShrinksAndCollapses(t *testing.T) {
	tr, err := New(newTestAlloc(t), 4)
	require.NoError(t, err)

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(i, int64(i)))
	}

	for tr.Size() > 0 {
		require.NoError(t, tr.Erase(tr.Size()-1))
	}

	require.True(t, tr.Empty())

	root, err := nodearray.Open(tr.alloc, tr.Ref())
	require.NoError(t, err)
	require.False(t, root.IsInner(), "emptying the tree must collapse the root back to a leaf")
}

func TestEraseMiddlePreservesOrder(t *testing.T) {
	tr, err := New(newTestAlloc(t), 4)
	require.NoError(t, err)

	for i := 0; i < 40; i++ {
		require.NoError(t, tr.Insert(i, int64(i)))
	}

	require.NoError(t, tr.Erase(20))
	require.Equal(t, 39, tr.Size())

	v, err := tr.Get(20)
	require.NoError(t, err)
	require.Equal(t, int64(21), v, "element after the erased index shifts down by one")
}

func TestOpenReopensPersistedRoot(t *testing.T) {
	alloc := newTestAlloc(t)

	tr, err := New(alloc, 4)
	require.NoError(t, err)

	for i := 0; i < 60; i++ {
		require.NoError(t, tr.Insert(i, int64(i)))
	}

	reopened, err := Open(alloc, tr.Ref(), 4)
	require.NoError(t, err)
	require.Equal(t, tr.Size(), reopened.Size())

	v, err := reopened.Get(59)
	require.NoError(t, err)
	require.Equal(t, int64(59), v)
}

// fakeWriter appends each node's bytes to a flat buffer, handing back the
// write offset as its Ref, mirroring how a file-backed Writer behaves.
type fakeWriter struct {
	buf []byte
}

func (w *fakeWriter) WriteNode(data []byte) (nodearray.Ref, error) {
	ref := nodearray.Ref(len(w.buf))
	w.buf = append(w.buf, data...)

	return ref, nil
}

func TestWriteProducesIndependentlyReadableTree(t *testing.T) {
	tr, err := New(newTestAlloc(t), 4)
	require.NoError(t, err)

	const n = 120
	for i := 0; i < n; i++ {
		require.NoError(t, tr.Insert(i, int64(i*3)))
	}

	fw := &fakeWriter{}
	newRef, err := tr.Write(fw)
	require.NoError(t, err)

	roAlloc := &readOnlyByteAlloc{data: fw.buf}

	written, err := Open(roAlloc, newRef, 4)
	require.NoError(t, err)
	require.Equal(t, n, written.Size())

	for i := 0; i < n; i++ {
		v, err := written.Get(i)
		require.NoError(t, err)
		require.Equal(t, int64(i*3), v)
	}
}

// readOnlyByteAlloc serves Translate out of a flat in-memory buffer and
// rejects every mutation, standing in for the file-backed baseline region a
// written-out tree would be reopened against.
type readOnlyByteAlloc struct {
	data []byte
}

func (a *readOnlyByteAlloc) Translate(ref nodearray.Ref) ([]byte, error) {
	return a.data[ref:], nil
}

func (a *readOnlyByteAlloc) IsReadOnly(nodearray.Ref) bool { return true }

func (a *readOnlyByteAlloc) Alloc(int) (nodearray.Ref, []byte, error) {
	panic("readOnlyByteAlloc: Alloc not supported")
}

func (a *readOnlyByteAlloc) Realloc(nodearray.Ref, int, int) (nodearray.Ref, []byte, error) {
	panic("readOnlyByteAlloc: Realloc not supported")
}

func (a *readOnlyByteAlloc) Free(nodearray.Ref, int) error {
	panic("readOnlyByteAlloc: Free not supported")
}
