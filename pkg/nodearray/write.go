package nodearray

// Writer accepts a node's fully-encoded header+body bytes (already padded to
// an 8-byte boundary) and persists them somewhere durable, returning the Ref
// the caller must use to reopen the node later (spec §4.2 "Serialization";
// original_source/src/Array.h Array::Write). Implementations typically append
// to a file and hand back the write offset.
type Writer interface {
	WriteNode(data []byte) (Ref, error)
}

// EncodedBytes returns n's current header and logical body (i.e. excluding
// any unused slack between the logical length and the node's allocated
// capacity), zero-padded up to the next 8-byte boundary — the exact bytes
// [Write] would hand to a [Writer], without actually writing them. Callers
// that must know a node's serialized size before committing to a position
// (e.g. the top array's self-referential logical-size field) compute it
// here first.
func (n *Node) EncodedBytes() []byte {
	logical := byteSize(n.hdr.count, n.hdr.width)
	padded := align8(logical)

	buf := make([]byte, padded)
	copy(buf, n.data[:logical])

	return buf
}

// Write serializes n's current header and logical body to w, returning the
// ref w assigned it. The node itself is left untouched; Write does not
// mutate n or change n.Ref().
func (n *Node) Write(w Writer) (Ref, error) {
	ref, err := w.WriteNode(n.EncodedBytes())
	if err != nil {
		return 0, err
	}

	return ref, nil
}

// Write serializes sn the same way [Node.Write] does: header plus the
// logical slot body, zero-padded to the next 8-byte boundary.
func (sn *StringNode) Write(w Writer) (Ref, error) {
	logical := stringHeaderSize + sn.count*sn.slotWidth
	padded := align8(logical)

	buf := make([]byte, padded)
	copy(buf, sn.data[:logical])

	ref, err := w.WriteNode(buf)
	if err != nil {
		return 0, err
	}

	return ref, nil
}
