package group

import (
	"fmt"

	"github.com/calvinalkan/nodestore/internal/filemap"
	"github.com/calvinalkan/nodestore/pkg/dbconfig"
	"github.com/calvinalkan/nodestore/pkg/nodearray"
)

// GroupCommitter makes a new top ref durable via the two-slot header flip
// (spec §4.5 "GroupCommitter.commit", §4.4 "Ordering"). It maps the header
// through its own single-window manager, kept separate from whatever
// WriteWindowMgr a GroupWriter used for node bodies, since the header's own
// flush/sync must happen strictly after the body windows' (spec §4.4: "on
// commit the manager flushes all windows, then syncs them, then (for the
// header window) re-flushes and re-syncs after flipping the slot bit").
type GroupCommitter struct {
	fm          *filemap.FileMap
	bodyWindows *filemap.WriteWindowMgr
	header      *filemap.WriteWindowMgr
	durability  dbconfig.Durability
}

// NewGroupCommitter creates a committer over fm. bodyWindows is the manager
// a GroupWriter wrote node bodies through; durability controls whether
// flush is followed by sync (spec §6 durability table).
func NewGroupCommitter(fm *filemap.FileMap, bodyWindows *filemap.WriteWindowMgr, durability dbconfig.Durability) *GroupCommitter {
	noSync := durability == dbconfig.DurabilityUnsafe || durability == dbconfig.DurabilityMemOnly

	return &GroupCommitter{
		fm:          fm,
		bodyWindows: bodyWindows,
		header:      filemap.NewWriteWindowMgr(fm, 1, noSync),
		durability:  durability,
	}
}

// Commit durably installs newTopRef as the active top and returns the
// resulting header. oldHeader is the header last read by the attacher or
// the previous Commit.
func (c *GroupCommitter) Commit(oldHeader FileHeader, newTopRef nodearray.Ref) (FileHeader, error) {
	next := oldHeader.flipped(uint64(newTopRef))

	window, err := c.header.GetWindow(0, HeaderSize)
	if err != nil {
		return FileHeader{}, fmt.Errorf("group: commit: map header: %w", err)
	}

	buf := window.Translate(0)

	// Step 3: write the new top ref and file-format byte into the
	// currently-inactive slot. The flags byte itself is untouched here, so
	// a crash before step 5 leaves the old slot active and this write inert.
	staged := oldHeader
	staged.TopRef[next.ActiveSlot()] = next.TopRef[next.ActiveSlot()]
	staged.FileFormat[next.ActiveSlot()] = next.FileFormat[next.ActiveSlot()]
	staged.Encode(buf)

	if err := c.syncBodyAndBarrier(); err != nil {
		return FileHeader{}, err
	}

	// Step 5: the single-byte flip that atomically activates the new slot.
	buf[23] = next.Flags

	if err := c.syncHeaderAndBarrier(window); err != nil {
		return FileHeader{}, err
	}

	return next, nil
}

func (c *GroupCommitter) syncBodyAndBarrier() error {
	c.bodyWindows.FlushAllMappings()

	if err := c.bodyWindows.SyncAllMappings(); err != nil {
		return fmt.Errorf("group: commit: sync body windows: %w", err)
	}

	return c.fileBarrier()
}

func (c *GroupCommitter) syncHeaderAndBarrier(window *filemap.MapWindow) error {
	window.Flush()

	if c.durability == dbconfig.DurabilityFull {
		if err := window.Sync(); err != nil {
			return fmt.Errorf("group: commit: sync header: %w", err)
		}
	}

	return c.fileBarrier()
}

// fileBarrier issues the stronger, file-level durability point spec §4.5
// calls "a file barrier": original_source's File::barrier() below the mmap
// layer. fsync(2) on the file descriptor is the portable equivalent; under
// DurabilityUnsafe/MemOnly it is skipped, matching the windows' own noSync
// behavior.
func (c *GroupCommitter) fileBarrier() error {
	if c.durability != dbconfig.DurabilityFull {
		return nil
	}

	if err := c.fm.File().Sync(); err != nil {
		return fmt.Errorf("group: commit: file barrier: %w", err)
	}

	return nil
}

// Close releases the committer's header window without syncing (e.g. on
// rollback of an in-progress transaction that never reached Commit).
func (c *GroupCommitter) Close() error {
	return c.header.CloseAll()
}
