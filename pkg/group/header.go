package group

import "fmt"

// HeaderSize is the fixed 24-byte file header (spec §3 "File header").
const HeaderSize = 24

// CurrentFileFormatVersion is the only file-format version this
// implementation writes or accepts (spec §6 "Current supported version =
// 10"). Version 0 marks an empty, just-created file with no top yet.
const CurrentFileFormatVersion = 10

// FileHeader is the decoded view of the first 24 bytes of a database file:
// two top-ref slots so a commit can durably flip between them, a
// file-format version per slot, and a flags byte whose low bit selects the
// active slot (spec §3 "File header", §4.5 "GroupCommitter.commit").
type FileHeader struct {
	TopRef     [2]uint64
	FileFormat [2]uint8
	Flags      uint8
}

// DecodeFileHeader parses the first HeaderSize bytes of buf.
func DecodeFileHeader(buf []byte) (FileHeader, error) {
	if len(buf) < HeaderSize {
		return FileHeader{}, fmt.Errorf("group: %w: header buffer too short (%d bytes)", ErrInvalidDatabase, len(buf))
	}

	var h FileHeader

	h.TopRef[0] = leUint64(buf[0:8])
	h.TopRef[1] = leUint64(buf[8:16])
	h.FileFormat[0] = buf[16]
	h.FileFormat[1] = buf[17]
	// bytes 18-22 reserved
	h.Flags = buf[23]

	return h, nil
}

// Encode writes h into the first HeaderSize bytes of buf.
func (h FileHeader) Encode(buf []byte) {
	invariant(len(buf) >= HeaderSize, "header buffer too short: %d bytes", len(buf))

	putLeUint64(buf[0:8], h.TopRef[0])
	putLeUint64(buf[8:16], h.TopRef[1])
	buf[16] = h.FileFormat[0]
	buf[17] = h.FileFormat[1]
	buf[18], buf[19], buf[20], buf[21], buf[22] = 0, 0, 0, 0, 0
	buf[23] = h.Flags
}

// ActiveSlot returns the slot (0 or 1) the flags byte currently selects.
func (h FileHeader) ActiveSlot() int { return int(h.Flags & 1) }

// ActiveTopRef returns the top ref in the currently active slot.
func (h FileHeader) ActiveTopRef() uint64 { return h.TopRef[h.ActiveSlot()] }

// ActiveFileFormat returns the file-format version of the currently active
// slot.
func (h FileHeader) ActiveFileFormat() uint8 { return h.FileFormat[h.ActiveSlot()] }

// Empty reports whether this is a freshly created, never-committed file
// (spec §6 "Version 0 is reserved for 'empty file, no top-ref'").
func (h FileHeader) Empty() bool { return h.ActiveFileFormat() == 0 }

// flipped returns the header that results from committing newTopRef: the
// inactive slot becomes active and receives the new top ref and the current
// file-format version (spec §4.5 "GroupCommitter.commit").
func (h FileHeader) flipped(newTopRef uint64) FileHeader {
	next := h
	next.Flags = h.Flags ^ 1
	slot := next.ActiveSlot()

	next.TopRef[slot] = newTopRef
	next.FileFormat[slot] = CurrentFileFormatVersion

	return next
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}

	return v
}

func putLeUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v)
		v >>= 8
	}
}
