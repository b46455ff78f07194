package nodearray

// Allocator is the contract a [Node] needs from its backing store: translate
// a ref to the bytes it addresses, allocate fresh mutable storage, and free
// storage that is no longer referenced. The slaballoc package provides the
// production implementation (spec §4.3); tests may substitute a simple
// in-memory fake.
//
// Translate must return a slice whose length is at least the node's current
// byteSize(capacity-implied-count, width); Node never reads or writes past
// the logical byte length it computes from the header it decodes.
type Allocator interface {
	// Translate returns the bytes addressed by ref: the node header followed
	// by its body, for at least `capacity` body bytes. The returned slice is
	// mutable only if IsReadOnly(ref) is false.
	Translate(ref Ref) ([]byte, error)

	// IsReadOnly reports whether ref lies in the immutable, file-mapped
	// region (ref < baseline). Mutating a read-only node requires
	// copy-on-write: Alloc a fresh slab, copy, and use the new ref.
	IsReadOnly(ref Ref) bool

	// Alloc allocates at least size bytes of fresh, mutable, slab-owned
	// storage and returns its ref together with a slice over the allocated
	// bytes. The caller is responsible for writing a valid header into the
	// first 8 bytes.
	Alloc(size int) (Ref, []byte, error)

	// Realloc grows or shrinks the allocation backing ref to at least
	// newSize bytes, preserving existing content up to min(old,new) length.
	// It may return a new ref if the allocation had to move; callers must
	// propagate the returned ref to their parent. ref must not be read-only.
	Realloc(ref Ref, oldSize, newSize int) (Ref, []byte, error)

	// Free releases the storage backing ref (size bytes). Read-only refs are
	// queued for release at the next commit (spec §4.3 free_read_only);
	// slab refs are released immediately.
	Free(ref Ref, size int) error
}
