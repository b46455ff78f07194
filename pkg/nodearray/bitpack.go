package nodearray

import "encoding/binary"

// getAt reads the i-th w-bit element from a packed body, sign-extending it
// to int64. Body layout is little-endian: element i occupies bits
// [i*w, i*w+w) counting from the start of the slice, packed low-to-high
// within each byte (spec §3 "body is little-endian").
func getAt(body []byte, i int, w Width) int64 {
	switch w {
	case Width0:
		return 0
	case Width1:
		return int64(getBits(body, i, 1))
	case Width2:
		return signExtend(getBits(body, i, 2), 2)
	case Width4:
		return signExtend(getBits(body, i, 4), 4)
	case Width8:
		return int64(int8(body[i]))
	case Width16:
		return int64(int16(binary.LittleEndian.Uint16(body[i*2:])))
	case Width32:
		return int64(int32(binary.LittleEndian.Uint32(body[i*4:])))
	case Width64:
		return int64(binary.LittleEndian.Uint64(body[i*8:]))
	default:
		panic(invariantMsg("illegal width %d", w))
	}
}

// setAt writes v into the i-th w-bit slot of a packed body. v must already
// fit within w bits (callers widen first via bitWidth).
func setAt(body []byte, i int, w Width, v int64) {
	switch w {
	case Width0:
		invariant(v == 0, "value %d does not fit in width 0", v)
	case Width1:
		setBits(body, i, 1, uint64(v)&0x1)
	case Width2:
		setBits(body, i, 2, uint64(v)&0x3)
	case Width4:
		setBits(body, i, 4, uint64(v)&0xF)
	case Width8:
		body[i] = byte(v)
	case Width16:
		binary.LittleEndian.PutUint16(body[i*2:], uint16(v))
	case Width32:
		binary.LittleEndian.PutUint32(body[i*4:], uint32(v))
	case Width64:
		binary.LittleEndian.PutUint64(body[i*8:], uint64(v))
	default:
		panic(invariantMsg("illegal width %d", w))
	}
}

// getBits reads an n-bit (n in {1,2,4}) unsigned field at sub-byte element
// index i, where elements are packed low-to-high within each byte: element 0
// occupies the low bits of byte 0, element (8/n - 1) the high bits.
func getBits(body []byte, i int, n int) uint64 {
	perByte := 8 / n
	byteIdx := i / perByte
	shift := uint((i % perByte) * n)
	mask := byte(1<<uint(n) - 1)

	return uint64(body[byteIdx]>>shift) & uint64(mask)
}

func setBits(body []byte, i int, n int, v uint64) {
	perByte := 8 / n
	byteIdx := i / perByte
	shift := uint((i % perByte) * n)
	mask := byte(1<<uint(n)-1) << shift

	body[byteIdx] = body[byteIdx]&^mask | byte(v<<shift)&mask
}

// signExtend interprets the low n bits of v as a two's-complement signed
// integer and sign-extends it to int64.
func signExtend(v uint64, n uint) int64 {
	shift := 64 - n
	return int64(v<<shift) >> shift
}

// shiftRight makes room for a new element at index i by moving elements
// [i, count) one slot higher, highest first so sources aren't overwritten
// before they're read.
func shiftRight(body []byte, w Width, i, count int) {
	if w == Width0 {
		return
	}

	for j := count - 1; j >= i; j-- {
		setAt(body, j+1, w, getAt(body, j, w))
	}
}

// shiftLeft closes the gap at index i by moving elements (i, count) one slot
// lower, lowest first.
func shiftLeft(body []byte, w Width, i, count int) {
	if w == Width0 {
		return
	}

	for j := i + 1; j < count; j++ {
		setAt(body, j-1, w, getAt(body, j, w))
	}
}
