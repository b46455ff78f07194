package nodestore

import (
	"fmt"

	"github.com/calvinalkan/nodestore/internal/filemap"
	"github.com/calvinalkan/nodestore/internal/slaballoc"
	"github.com/calvinalkan/nodestore/pkg/bptree"
	"github.com/calvinalkan/nodestore/pkg/group"
	"github.com/calvinalkan/nodestore/pkg/nodearray"
)

// Mode selects a transaction's lifecycle (spec §4.7 "Three modes: write,
// read, snapshot").
type Mode int

const (
	// ModeWrite grants exclusive mutation access; commit or rollback is
	// mandatory to release the writer lock.
	ModeWrite Mode = iota

	// ModeRead pins a snapshot that [Tx.AdvanceRead] may later refresh to
	// the then-current committed snapshot.
	ModeRead

	// ModeSnapshot pins a snapshot for its entire lifetime; AdvanceRead
	// returns [ErrLogicError].
	ModeSnapshot
)

// TableKey identifies a table across add/remove cycles; see [group.TableKey].
type TableKey = group.TableKey

// Tx is a transaction against one attached [DB]. The zero value is not
// usable.
type Tx struct {
	db   *DB
	mode Mode

	alloc *slaballoc.SlabAlloc
	wmgr  *filemap.WriteWindowMgr // read/snapshot transactions own a private window pool
	grp   *group.Group

	topRef  uint64
	version uint64

	closed bool
}

// Begin starts a write transaction, blocking until any previous write
// transaction on db has committed or rolled back (spec §5 "at most one
// writer at a time"). The caller must call [Tx.Commit] or [Tx.Rollback].
func (db *DB) Begin() (*Tx, error) {
	if db.readOnly {
		return nil, ErrReadOnly
	}

	db.mu.Lock()

	return &Tx{
		db:      db,
		mode:    ModeWrite,
		alloc:   db.alloc,
		wmgr:    db.bodyWindows,
		grp:     db.grp,
		topRef:  db.grp.TopRef(),
		version: db.grp.Top().CurrentVersion() + 1,
	}, nil
}

// BeginRead opens a refreshable read transaction pinned to the currently
// committed snapshot. The caller must call [Tx.Close] when done.
func (db *DB) BeginRead() (*Tx, error) {
	return db.beginRead(ModeRead)
}

// Snapshot opens a read transaction pinned for its entire lifetime: later
// writer commits never become visible to it (spec §4.7 "A reader sees a
// pinned top_ref and baseline").
func (db *DB) Snapshot() (*Tx, error) {
	return db.beginRead(ModeSnapshot)
}

func (db *DB) beginRead(mode Mode) (*Tx, error) {
	db.headerMu.RLock()
	topRef := db.header.ActiveTopRef()
	db.headerMu.RUnlock()

	wmgr := filemap.NewWriteWindowMgr(db.fm, db.cfg.MaxOpenWindows, true)

	alloc, grp, err := attachGroup(db.fm, wmgr, topRef)
	if err != nil {
		return nil, err
	}

	tx := &Tx{db: db, mode: mode, alloc: alloc, wmgr: wmgr, grp: grp, topRef: topRef, version: grp.Top().CurrentVersion()}

	db.registerReader(tx)

	return tx, nil
}

func (db *DB) registerReader(tx *Tx) {
	db.readersMu.Lock()
	db.activeReaders[tx] = tx.version
	db.readersMu.Unlock()
}

func (db *DB) unregisterReader(tx *Tx) {
	db.readersMu.Lock()
	delete(db.activeReaders, tx)
	db.readersMu.Unlock()
}

// oldestReachableVersion returns the lowest version still pinned by a live
// reader, or committing if none (spec §4.3: free-space released at or
// before this version is reusable immediately; nothing is exempt when no
// reader predates the commit in progress).
func (db *DB) oldestReachableVersion(committing uint64) uint64 {
	db.readersMu.Lock()
	defer db.readersMu.Unlock()

	oldest := committing

	for _, v := range db.activeReaders {
		if v < oldest {
			oldest = v
		}
	}

	return oldest
}

// AdvanceRead re-attaches this read transaction to the database's current
// committed snapshot (spec §4.7 "refresh... rereads the top and updates all
// accessor pointers"). Every [*bptree.Tree] or table handle obtained before
// AdvanceRead must not be used afterward — the "minimal consistency"
// contract is satisfied here by discarding the whole accessor tree and
// rebuilding it, rather than patching pointers in place.
func (tx *Tx) AdvanceRead() error {
	if tx.mode != ModeRead {
		return fmt.Errorf("nodestore: advance read: %w: transaction is not in read mode", ErrLogicError)
	}

	if tx.closed {
		return ErrAlreadyClosed
	}

	tx.db.headerMu.RLock()
	topRef := tx.db.header.ActiveTopRef()
	tx.db.headerMu.RUnlock()

	alloc, grp, err := attachGroup(tx.db.fm, tx.wmgr, topRef)
	if err != nil {
		return err
	}

	tx.alloc, tx.grp, tx.topRef, tx.version = alloc, grp, topRef, grp.Top().CurrentVersion()

	tx.db.readersMu.Lock()
	tx.db.activeReaders[tx] = tx.version
	tx.db.readersMu.Unlock()

	return nil
}

// Close releases a read/snapshot transaction's private window pool. Closing
// a write transaction that was never committed rolls it back. Close is
// idempotent.
func (tx *Tx) Close() error {
	if tx.closed {
		return nil
	}

	if tx.mode == ModeWrite {
		return tx.Rollback()
	}

	tx.closed = true
	tx.db.unregisterReader(tx)

	return tx.wmgr.CloseAll()
}

// Commit durably installs this write transaction's mutations as the new
// snapshot (spec §4.5 "GroupWriter"/"GroupCommitter.commit"). On any
// failure the transaction is rolled back and db's committed state is left
// unchanged (spec §7 "commit is all-or-nothing").
func (tx *Tx) Commit() error {
	if tx.mode != ModeWrite {
		return fmt.Errorf("nodestore: commit: %w: transaction is not a write transaction", ErrLogicError)
	}

	if tx.closed {
		return ErrAlreadyClosed
	}

	db := tx.db

	err := tx.commitLocked()
	if err != nil {
		tx.rollbackLocked()
	}

	tx.closed = true
	db.mu.Unlock()

	return err
}

func (tx *Tx) commitLocked() error {
	db := tx.db

	newlyFreed, err := db.alloc.TakeFreeReadOnly()
	if err != nil {
		return err
	}

	oldest := db.oldestReachableVersion(tx.version)

	gw := group.NewGroupWriter(db.bodyWindows, oldest, db.alloc.Baseline(), db.freelistHistory)

	if err := gw.ReadInFreelist(db.alloc, db.grp.Top()); err != nil {
		return err
	}

	topRef, logicalSize, snapshot, err := gw.WriteGroup(db.alloc, db.grp, newlyFreed, tx.version)
	if err != nil {
		return err
	}

	committer := group.NewGroupCommitter(db.fm, db.bodyWindows, db.cfg.Durability)

	db.headerMu.Lock()
	newHeader, cerr := committer.Commit(db.header, nodearray.Ref(topRef))

	if cerr == nil {
		db.header = newHeader
	}

	db.headerMu.Unlock()

	if cerr != nil {
		return cerr
	}

	db.freelistHistory = append(db.freelistHistory, group.FreelistSnapshot{Version: tx.version, Free: snapshot})

	pruned := db.freelistHistory[:0]

	for _, h := range db.freelistHistory {
		if h.Version >= oldest {
			pruned = append(pruned, h)
		}
	}

	db.freelistHistory = pruned

	newBaseline := nodearray.Ref(logicalSize)
	db.alloc.Reset(newBaseline)

	grp, err := group.Attach(db.alloc, nodearray.Ref(topRef), newBaseline)
	if err != nil {
		return fmt.Errorf("nodestore: commit: reattach: %w", err)
	}

	db.grp = grp

	return nil
}

// Rollback discards every mutation made in this write transaction; the
// on-disk state is unchanged (spec §5 "Cancellation").
func (tx *Tx) Rollback() error {
	if tx.mode != ModeWrite {
		return fmt.Errorf("nodestore: rollback: %w: transaction is not a write transaction", ErrLogicError)
	}

	if tx.closed {
		return ErrAlreadyClosed
	}

	tx.rollbackLocked()

	tx.closed = true
	tx.db.mu.Unlock()

	return nil
}

func (tx *Tx) rollbackLocked() {
	db := tx.db

	db.alloc.Reset(db.alloc.Baseline())

	grp, err := group.Attach(db.alloc, nodearray.Ref(db.header.ActiveTopRef()), db.alloc.Baseline())
	invariant(err == nil, "reattaching the last-committed top after rollback failed: %v", err)

	db.grp = grp
}

// requireWritable rejects mutation through a read/snapshot transaction.
func (tx *Tx) requireWritable() error {
	if tx.closed {
		return ErrAlreadyClosed
	}

	if tx.mode != ModeWrite {
		return fmt.Errorf("nodestore: %w: transaction is not writable", ErrLogicError)
	}

	return nil
}

// AddTable creates a new table named name (spec §4.6 "Table lifecycle").
func (tx *Tx) AddTable(name string) (TableKey, error) {
	if err := tx.requireWritable(); err != nil {
		return 0, err
	}

	return tx.grp.AddTable(name)
}

// RemoveTable removes the table identified by key.
func (tx *Tx) RemoveTable(key TableKey) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}

	return tx.grp.RemoveTable(key)
}

// HasTable reports whether key still names a live table in this
// transaction's snapshot.
func (tx *Tx) HasTable(key TableKey) bool {
	if tx.closed {
		return false
	}

	return tx.grp.HasTable(key)
}

// TableName returns the name of the table identified by key.
func (tx *Tx) TableName(key TableKey) (string, error) {
	if tx.closed {
		return "", ErrAlreadyClosed
	}

	return tx.grp.TableName(key)
}

// TableCount returns the number of live tables in this snapshot.
func (tx *Tx) TableCount() int {
	if tx.closed {
		return 0
	}

	return tx.grp.TableCount()
}

// Column opens the table's demonstrative column (spec §1, §4.2).
func (tx *Tx) Column(key TableKey) (*bptree.Tree, error) {
	if tx.closed {
		return nil, ErrAlreadyClosed
	}

	return tx.grp.Column(key)
}

// SetColumn persists tree as the table's demonstrative column. Call it
// after every mutating [*bptree.Tree] operation, passing the same tree back
// in (its Ref() may have changed due to copy-on-write).
func (tx *Tx) SetColumn(key TableKey, tree *bptree.Tree) error {
	if err := tx.requireWritable(); err != nil {
		return err
	}

	return tx.grp.SetColumn(key, tree)
}

// TopRef returns the ref this transaction's snapshot is pinned to.
func (tx *Tx) TopRef() uint64 { return tx.topRef }

// Version returns this transaction's version stamp: the snapshot's current
// version for a read/snapshot Tx, or the version Commit will assign for a
// write Tx.
func (tx *Tx) Version() uint64 { return tx.version }
