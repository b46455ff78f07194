package nodearray

// fakeAllocator is a minimal in-memory Allocator for unit tests: every ref is
// its own byte slice in a map, and refs below baseline are treated as
// read-only to exercise Node's copy-on-write path without a real slab
// allocator or mmap file (spec §4.3's contract, reduced to its essentials).
type fakeAllocator struct {
	slabs    map[Ref][]byte
	next     Ref
	baseline Ref
}

func newFakeAllocator() *fakeAllocator {
	return &fakeAllocator{slabs: make(map[Ref][]byte), next: 8}
}

// seedReadOnly installs data at ref and lowers the read-only boundary to
// cover it, simulating a node that came from the file-mapped region.
func (a *fakeAllocator) seedReadOnly(ref Ref, data []byte) {
	a.slabs[ref] = data
	if ref >= a.baseline {
		a.baseline = ref + Ref(align8(len(data)))
	}

	if a.next < a.baseline {
		a.next = a.baseline
	}
}

func (a *fakeAllocator) Translate(ref Ref) ([]byte, error) {
	data, ok := a.slabs[ref]
	if !ok {
		panic(invariantMsg("fakeAllocator: unknown ref %d", ref))
	}

	return data, nil
}

func (a *fakeAllocator) IsReadOnly(ref Ref) bool {
	return ref < a.baseline
}

func (a *fakeAllocator) Alloc(size int) (Ref, []byte, error) {
	ref := a.next
	buf := make([]byte, size)
	a.slabs[ref] = buf
	a.next += Ref(align8(size))

	return ref, buf, nil
}

func (a *fakeAllocator) Realloc(ref Ref, oldSize, newSize int) (Ref, []byte, error) {
	old := a.slabs[ref]

	newRef, newBuf, err := a.Alloc(newSize)
	if err != nil {
		return 0, nil, err
	}

	n := oldSize
	if n > len(old) {
		n = len(old)
	}

	copy(newBuf, old[:n])
	delete(a.slabs, ref)

	return newRef, newBuf, nil
}

func (a *fakeAllocator) Free(ref Ref, size int) error {
	delete(a.slabs, ref)
	return nil
}
