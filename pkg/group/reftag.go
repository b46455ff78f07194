package group

// TableKey identifies a table across add/remove cycles: the low 16 bits
// address its slot in the tables vector, the high bits are a generation tag
// that changes every time the slot is reused, so a stale key referencing a
// removed-and-recreated table is detectable (spec §4.6 "Table lifecycle").
//
// Ref-or-tagged slot encoding itself lives in [nodearray.RefOrTagged]; Group
// reuses it for the tables vector (a live entry is a ref to the table's
// placeholder node, a tombstone is the tag to assign on next reuse) and for
// the top array's scalar fields (logical_size, current_version, ...).
type TableKey uint32

func newTableKey(tag, index int) TableKey {
	invariant(index >= 0 && index <= 0xFFFF, "table index %d out of range", index)

	return TableKey(uint32(tag)<<16 | uint32(index))
}

// Index returns the key's slot index into the tables vector.
func (k TableKey) Index() int { return int(k & 0xFFFF) }

// Tag returns the key's generation tag.
func (k TableKey) Tag() int { return int(k >> 16) }
