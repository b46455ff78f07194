package nodearray

import "fmt"

// stringHeaderSize mirrors HeaderSize: isInner/hasRefs are always false for a
// StringNode, so byte 0 holds only a slot-width code (log2 of the byte slot
// width), bytes 1-3 the element count, bytes 4-6 the capacity in slots.
const stringHeaderSize = HeaderSize

// StringNode is a leaf array of fixed-width byte slots, one per short
// string, used where the spec calls for inline string storage rather than a
// ref to an out-of-line blob (spec §4.1 "StringNode"). Every string in a
// given StringNode is padded with zero bytes up to the slot width, which is
// the next power of two at least as large as the longest string ever stored
// in it; strings must not contain an embedded zero byte, since a zero marks
// end-of-string on read.
type StringNode struct {
	alloc     Allocator
	ref       Ref
	data      []byte
	count     int
	slotWidth int // bytes per slot; always a power of two >= 1
	capacity  int // slots
}

// NewStringNode allocates an empty StringNode with an initial slot width of
// 1 byte; it grows via widenSlot as longer strings are inserted.
func NewStringNode(alloc Allocator) (*StringNode, error) {
	const initialSlots = minCapacityBytes - stringHeaderSize

	ref, data, err := alloc.Alloc(minCapacityBytes)
	if err != nil {
		return nil, fmt.Errorf("nodearray: new string node: %w", ErrOutOfMemory)
	}

	sn := &StringNode{alloc: alloc, ref: ref, data: data, count: 0, slotWidth: 1, capacity: initialSlots}
	sn.encodeHeader()

	return sn, nil
}

// OpenStringNode decodes an existing StringNode at ref.
func OpenStringNode(alloc Allocator, ref Ref) (*StringNode, error) {
	data, err := alloc.Translate(ref)
	if err != nil {
		return nil, fmt.Errorf("nodearray: open string node %d: %w", ref, err)
	}

	slotWidth := 1 << (data[0] & 0x07)
	count := int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	capSlots := int(data[4])<<16 | int(data[5])<<8 | int(data[6])

	return &StringNode{alloc: alloc, ref: ref, data: data, count: count, slotWidth: slotWidth, capacity: capSlots}, nil
}

func (sn *StringNode) Ref() Ref   { return sn.ref }
func (sn *StringNode) Size() int  { return sn.count }
func (sn *StringNode) Empty() bool { return sn.count == 0 }

// Get returns the string at index i, trimmed at its first zero byte (or the
// full slot width if the string fills it exactly).
func (sn *StringNode) Get(i int) string {
	invariant(i >= 0 && i < sn.count, "index %d out of range [0,%d)", i, sn.count)

	slot := sn.slot(i)
	for j, b := range slot {
		if b == 0 {
			return string(slot[:j])
		}
	}

	return string(slot)
}

// Insert inserts s at index i, widening the slot width first if s is longer
// than the current width allows.
func (sn *StringNode) Insert(i int, s string) error {
	invariant(i >= 0 && i <= sn.count, "index %d out of range [0,%d]", i, sn.count)

	if sn.cowNeeded() {
		if err := sn.copyOnWrite(); err != nil {
			return err
		}
	}

	required := nextPow2(len(s))
	if required == 0 {
		required = 1
	}

	if required > sn.slotWidth {
		if err := sn.widenSlots(required); err != nil {
			return err
		}
	}

	if err := sn.ensureSlotCapacity(sn.count + 1); err != nil {
		return err
	}

	body := sn.data[stringHeaderSize:]
	for j := sn.count; j > i; j-- {
		copy(body[j*sn.slotWidth:], body[(j-1)*sn.slotWidth:j*sn.slotWidth])
	}

	slotStart := i * sn.slotWidth
	slot := body[slotStart : slotStart+sn.slotWidth]

	for k := range slot {
		slot[k] = 0
	}

	copy(slot, s)

	sn.count++
	sn.encodeHeader()

	return nil
}

// Set replaces the string at index i, widening the slot width first if s is
// longer than the current width allows.
func (sn *StringNode) Set(i int, s string) error {
	invariant(i >= 0 && i < sn.count, "index %d out of range [0,%d)", i, sn.count)

	if err := sn.Erase(i); err != nil {
		return err
	}

	return sn.Insert(i, s)
}

// Erase removes the string at index i.
func (sn *StringNode) Erase(i int) error {
	invariant(i >= 0 && i < sn.count, "index %d out of range [0,%d)", i, sn.count)

	if sn.cowNeeded() {
		if err := sn.copyOnWrite(); err != nil {
			return err
		}
	}

	body := sn.data[stringHeaderSize:]
	for j := i + 1; j < sn.count; j++ {
		copy(body[(j-1)*sn.slotWidth:], body[j*sn.slotWidth:(j+1)*sn.slotWidth])
	}

	sn.count--
	sn.encodeHeader()

	return nil
}

// Find returns the first index >= start whose string equals s, or
// NotFoundIndex.
func (sn *StringNode) Find(s string, start int) int {
	for i := start; i < sn.count; i++ {
		if sn.Get(i) == s {
			return i
		}
	}

	return NotFoundIndex
}

func (sn *StringNode) slot(i int) []byte {
	start := stringHeaderSize + i*sn.slotWidth
	return sn.data[start : start+sn.slotWidth]
}

func (sn *StringNode) cowNeeded() bool {
	return sn.alloc.IsReadOnly(sn.ref)
}

func (sn *StringNode) copyOnWrite() error {
	size := stringHeaderSize + sn.capacity*sn.slotWidth

	newRef, newData, err := sn.alloc.Alloc(size)
	if err != nil {
		return fmt.Errorf("nodearray: string node copy-on-write: %w", ErrOutOfMemory)
	}

	copy(newData, sn.data[:stringHeaderSize+sn.count*sn.slotWidth])

	sn.ref = newRef
	sn.data = newData

	return nil
}

// widenSlots repacks every existing string into wider slots.
func (sn *StringNode) widenSlots(newWidth int) error {
	newTotal := stringHeaderSize + sn.capacity*newWidth

	newRef, newData, err := sn.alloc.Alloc(newTotal)
	if err != nil {
		return fmt.Errorf("nodearray: widen string node: %w", ErrOutOfMemory)
	}

	oldBody := sn.data[stringHeaderSize:]
	newBody := newData[stringHeaderSize:]
	clear(newBody)

	for i := 0; i < sn.count; i++ {
		oldSlot := oldBody[i*sn.slotWidth : (i+1)*sn.slotWidth]
		copy(newBody[i*newWidth:], oldSlot)
	}

	if err := sn.alloc.Free(sn.ref, stringHeaderSize+sn.capacity*sn.slotWidth); err != nil {
		return err
	}

	sn.ref = newRef
	sn.data = newData
	sn.slotWidth = newWidth
	sn.encodeHeader()

	return nil
}

func (sn *StringNode) ensureSlotCapacity(slots int) error {
	if slots <= sn.capacity {
		return nil
	}

	newCapacity := sn.capacity + sn.capacity/2
	if minSlots := slots; newCapacity < minSlots {
		newCapacity = minSlots
	}

	if newCapacity < 4 {
		newCapacity = 4
	}

	oldSize := stringHeaderSize + sn.count*sn.slotWidth
	newSize := stringHeaderSize + newCapacity*sn.slotWidth

	newRef, newData, err := sn.alloc.Realloc(sn.ref, oldSize, newSize)
	if err != nil {
		return fmt.Errorf("nodearray: grow string node: %w", ErrOutOfMemory)
	}

	sn.ref = newRef
	sn.data = newData
	sn.capacity = newCapacity
	sn.encodeHeader()

	return nil
}

func (sn *StringNode) encodeHeader() {
	code := log2PowerOfTwo(sn.slotWidth)

	sn.data[0] = code
	sn.data[1] = byte(sn.count >> 16)
	sn.data[2] = byte(sn.count >> 8)
	sn.data[3] = byte(sn.count)
	sn.data[4] = byte(sn.capacity >> 16)
	sn.data[5] = byte(sn.capacity >> 8)
	sn.data[6] = byte(sn.capacity)
	sn.data[7] = 0
}

// nextPow2 returns the smallest power of two >= n (0 maps to 0).
func nextPow2(n int) int {
	if n <= 0 {
		return 0
	}

	p := 1
	for p < n {
		p <<= 1
	}

	return p
}

func log2PowerOfTwo(p int) byte {
	var code byte
	for p > 1 {
		p >>= 1
		code++
	}

	return code
}
