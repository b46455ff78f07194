package nodearray

// Ref is an 8-byte-aligned 64-bit offset identifying a node's header within
// the logical address space. Refs below an allocator's baseline address the
// immutable, file-mapped region; refs at or above baseline address mutable
// slab memory. See the slaballoc package for the baseline/translate contract.
type Ref uint64

// IsAligned reports whether ref is 8-byte aligned, as required of every
// reachable ref (spec §8 invariant).
func (r Ref) IsAligned() bool {
	return r%8 == 0
}

// RefOrTagged is a single slot that is either a [Ref] (low bit 0) or an
// inline signed integer occupying the upper 63 bits (low bit 1). This is the
// encoding used by top-array and B+-tree-inner-node child slots that may
// hold either children or tagged scalars (e.g. the group top's logical_size
// slot, or a leaf holding small values packed as refs-with-tag).
type RefOrTagged uint64

// TaggedInt packs a signed 63-bit-range integer into a RefOrTagged slot.
func TaggedInt(v int64) RefOrTagged {
	return RefOrTagged(uint64(v)<<1 | 1)
}

// RefSlot packs a ref into a RefOrTagged slot. ref must be 8-byte aligned
// (so its low bit is already 0); packing does not shift it.
func RefSlot(ref Ref) RefOrTagged {
	return RefOrTagged(ref)
}

// IsTagged reports whether the slot holds an inline integer rather than a ref.
func (s RefOrTagged) IsTagged() bool {
	return s&1 == 1
}

// AsInt returns the inline integer. Precondition: s.IsTagged().
func (s RefOrTagged) AsInt() int64 {
	return int64(s) >> 1
}

// AsRef returns the ref. Precondition: !s.IsTagged().
func (s RefOrTagged) AsRef() Ref {
	return Ref(s)
}
