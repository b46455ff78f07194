package nodearray

// Width is the number of bits used to store each element of a [Node]. The
// only legal values are the eight listed in legalWidths; any other value is
// a structural invariant violation (spec §8).
type Width uint8

const (
	Width0  Width = 0
	Width1  Width = 1
	Width2  Width = 2
	Width4  Width = 4
	Width8  Width = 8
	Width16 Width = 16
	Width32 Width = 32
	Width64 Width = 64
)

// legalWidths lists every width a node header may legally encode, in
// ascending order. legalWidths[code] is the width for 3-bit header code
// "code" (header byte 0, bits 2..0: 0 for width 0, otherwise log2(width)+1).
var legalWidths = [8]Width{Width0, Width1, Width2, Width4, Width8, Width16, Width32, Width64}

// widthCode maps a legal width to its 3-bit header encoding.
func widthCode(w Width) uint8 {
	switch w {
	case Width0:
		return 0
	case Width1:
		return 1
	case Width2:
		return 2
	case Width4:
		return 3
	case Width8:
		return 4
	case Width16:
		return 5
	case Width32:
		return 6
	case Width64:
		return 7
	default:
		panic(invariantMsg("illegal width %d", w))
	}
}

// widthFromCode is the inverse of widthCode.
func widthFromCode(code uint8) Width {
	if code > 7 {
		panic(invariantMsg("illegal width code %d", code))
	}

	return legalWidths[code]
}

// isLegalWidth reports whether w is one of the eight widths a node may use.
func isLegalWidth(w Width) bool {
	for _, lw := range legalWidths {
		if lw == w {
			return true
		}
	}

	return false
}

// bitWidth returns the smallest width the general growth algorithm will pick
// to represent v as a two's-complement signed integer, i.e. the value
// Node.Set/Insert widens to when the current width is insufficient.
//
// bitWidth(0) is Width0, used only before any non-zero value has ever been
// stored (spec §4.1).
//
// Width1 is never returned by this function. Scenario 1 of spec §8 requires
// that inserting the literal value 1 into a fresh node widens it to width 2,
// not width 1 (width 1's signed range is [-1, 0], which does not contain +1).
// We therefore treat width 1 as reserved, unreachable through ordinary
// growth, and size positive values starting at width 2.
//
// Negative values always cost at least a full byte (width >= 8): scenario 2
// of spec §8 requires that setting -1 into an all-zero node widens to width
// 8, explicitly not width 1 even though width 1's range [-1, 0] contains -1.
// This mirrors realm-core's original shift-based classification of negative
// magnitudes, which only ever produces byte/word/dword/qword widths. This is
// how this package resolves the "asymmetric masks" open question in spec §9.
func bitWidth(v int64) Width {
	if v == 0 {
		return Width0
	}

	if v < 0 {
		switch {
		case v >= -(1 << 7):
			return Width8
		case v >= -(1 << 15):
			return Width16
		case v >= -(1 << 31):
			return Width32
		default:
			return Width64
		}
	}

	switch {
	case v <= 1<<1-1:
		return Width2
	case v <= 1<<3-1:
		return Width4
	case v <= 1<<7-1:
		return Width8
	case v <= 1<<15-1:
		return Width16
	case v <= 1<<31-1:
		return Width32
	default:
		return Width64
	}
}

// byteLength returns the logical body length in bytes for count elements of
// the given width: ceil(count*width/8). The header's 8 bytes are not
// included.
func byteLength(count int, w Width) int {
	if w == Width0 {
		return 0
	}

	bits := count * int(w)

	return (bits + 7) / 8
}
