package nodestore

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"

	"github.com/calvinalkan/nodestore/internal/filemap"
	"github.com/calvinalkan/nodestore/pkg/group"
	"github.com/calvinalkan/nodestore/pkg/nodearray"
)

// StreamingMagic is the fixed 64-bit sentinel this implementation appends
// to a streaming/single-shot export's footer (spec §6 "any implementation
// must choose a fixed 64-bit sentinel and document it").
const StreamingMagic uint64 = 0x3034125237E526C8

// Export writes tx's entire reachable graph to path as a single-shot
// streaming file: every live table's name, tables vector, and column is
// serialized depth-first starting right after a reserved, all-zero
// HeaderSize-byte region (so no written node ever lands at ref 0, which
// every RefOrTagged slot treats as "absent"), followed by a trailing
// (top_ref, magic) footer (spec §6 "File format"). Unlike a normal commit,
// no earlier freelist is read and nothing is freed (the top's freelist
// arrays are still written, holding at most section-boundary padding), and
// there is no two-slot header: the file this produces is read once, not
// reattached to as a live database.
//
// Export does not require tx to be a write transaction; exporting a read or
// snapshot transaction is the common case.
func Export(tx *Tx, path string) error {
	if tx.closed {
		return ErrAlreadyClosed
	}

	dir := filepath.Dir(path)

	scratch, err := os.CreateTemp(dir, ".nodestore-export-*")
	if err != nil {
		return fmt.Errorf("nodestore: export: %w", err)
	}

	scratchPath := scratch.Name()

	defer os.Remove(scratchPath) //nolint:errcheck

	if err := writeStreamingFile(scratch, tx); err != nil {
		_ = scratch.Close()
		return err
	}

	if _, err := scratch.Seek(0, io.SeekStart); err != nil {
		_ = scratch.Close()
		return fmt.Errorf("nodestore: export: rewind scratch file: %w", err)
	}

	if err := atomic.WriteFile(path, scratch); err != nil {
		_ = scratch.Close()
		return fmt.Errorf("nodestore: export: %w", err)
	}

	return scratch.Close()
}

func writeStreamingFile(scratch *os.File, tx *Tx) error {
	fm := filemap.Open(scratch, 0)
	wmgr := filemap.NewWriteWindowMgr(fm, filemap.DefaultMaxOpenWindows, true)

	gw := group.NewGroupWriter(wmgr, tx.version, nodearray.Ref(group.HeaderSize), nil)

	topRef, _, _, err := gw.WriteGroup(tx.alloc, tx.grp, nil, tx.version)
	if err != nil {
		return fmt.Errorf("nodestore: export: write group: %w", err)
	}

	footer := make([]byte, 16)
	binary.LittleEndian.PutUint64(footer[0:8], uint64(topRef))
	binary.LittleEndian.PutUint64(footer[8:16], StreamingMagic)

	footerPos := int64(gw.FileEnd())

	window, err := wmgr.GetWindow(footerPos, len(footer))
	if err != nil {
		return fmt.Errorf("nodestore: export: map footer: %w", err)
	}

	copy(window.Translate(footerPos), footer)

	wmgr.FlushAllMappings()

	if err := wmgr.SyncAllMappings(); err != nil {
		return fmt.Errorf("nodestore: export: sync: %w", err)
	}

	if err := wmgr.CloseAll(); err != nil {
		return fmt.Errorf("nodestore: export: close windows: %w", err)
	}

	if err := fm.Truncate(footerPos + int64(len(footer))); err != nil {
		return fmt.Errorf("nodestore: export: trim after footer: %w", err)
	}

	return fm.File().Sync()
}
