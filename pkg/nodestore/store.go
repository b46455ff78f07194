package nodestore

import (
	"fmt"
	"os"
	"sync"

	"github.com/calvinalkan/nodestore/internal/filemap"
	"github.com/calvinalkan/nodestore/internal/slaballoc"
	"github.com/calvinalkan/nodestore/pkg/dbconfig"
	"github.com/calvinalkan/nodestore/pkg/group"
)

// Options controls how [Open] treats the underlying file (spec §6 "Opener
// contract").
type Options struct {
	// ReadOnly refuses to create a missing file and never takes the writer
	// lock; concurrent readers may all open the same file ReadOnly.
	ReadOnly bool

	// Create permits opening a missing or zero-length file. Ignored when
	// ReadOnly is set. A zero-length file is left untouched until the
	// first Commit writes the real header.
	Create bool

	// ConfigPath is an optional hujson config file (see [dbconfig.Load]).
	// Empty uses [dbconfig.Default].
	ConfigPath string
}

// DB is an attached database file: the shared FileMap, the writer's body
// window pool, and the currently committed Group. At most one write
// transaction may be open at a time ([DB.Begin] blocks until the previous
// one's Commit or Rollback); any number of read transactions may proceed
// concurrently (spec §5 "Scheduling model").
type DB struct {
	path     string
	file     *os.File
	fm       *filemap.FileMap
	cfg      dbconfig.Config
	readOnly bool

	mu sync.Mutex // serializes write transactions in-process

	headerMu sync.RWMutex
	header   group.FileHeader

	bodyWindows *filemap.WriteWindowMgr
	alloc       *slaballoc.SlabAlloc
	grp         *group.Group

	// freelistHistory is this DB's retained per-commit freelist snapshots,
	// oldest first, pruned to the oldest version any active reader can still
	// see. GroupWriter walks it backward to backdate newly freed ranges
	// (spec §4.5 step 3).
	freelistHistory []group.FreelistSnapshot

	readersMu     sync.Mutex
	activeReaders map[*Tx]uint64

	closed bool
}

// Open attaches to the database file at path under opts (spec §6 "Opener
// contract"). A read-write open blocks until it can take the file's
// exclusive writer lock (spec §5: "at most one writer at a time").
func Open(path string, opts Options) (*DB, error) {
	cfg := dbconfig.Default()

	if opts.ConfigPath != "" {
		var err error

		cfg, err = dbconfig.Load(opts.ConfigPath)
		if err != nil {
			return nil, err
		}
	}

	f, header, err := openFile(path, opts)
	if err != nil {
		return nil, err
	}

	fm := filemap.Open(f, cfg.WindowAlignment)

	if !opts.ReadOnly {
		if err := fm.LockWriter(); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("nodestore: open %s: %w", path, err)
		}
	}

	noSync := cfg.Durability == dbconfig.DurabilityUnsafe || cfg.Durability == dbconfig.DurabilityMemOnly
	bodyWindows := filemap.NewWriteWindowMgr(fm, cfg.MaxOpenWindows, noSync)

	alloc, grp, err := attachGroup(fm, bodyWindows, header.ActiveTopRef())
	if err != nil {
		if !opts.ReadOnly {
			_ = fm.UnlockWriter()
		}

		_ = f.Close()

		return nil, err
	}

	return &DB{
		path:          path,
		file:          f,
		fm:            fm,
		cfg:           cfg,
		readOnly:      opts.ReadOnly,
		header:        header,
		bodyWindows:   bodyWindows,
		alloc:         alloc,
		grp:           grp,
		activeReaders: make(map[*Tx]uint64),
	}, nil
}

// openFile implements the three branches of the opener contract and reads
// (or synthesizes) the file header.
func openFile(path string, opts Options) (*os.File, group.FileHeader, error) {
	flags := os.O_RDONLY
	if !opts.ReadOnly {
		flags = os.O_RDWR
		if opts.Create {
			flags |= os.O_CREATE
		}
	}

	f, err := os.OpenFile(path, flags, 0o644) //nolint:gosec // database files are not scripts
	if err != nil {
		return nil, group.FileHeader{}, fmt.Errorf("nodestore: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, group.FileHeader{}, fmt.Errorf("nodestore: stat %s: %w", path, err)
	}

	size := info.Size()

	switch {
	case size == 0:
		if opts.ReadOnly {
			_ = f.Close()
			return nil, group.FileHeader{}, fmt.Errorf("nodestore: open %s: %w: empty file", path, ErrInvalidDatabase)
		}

		if !opts.Create {
			_ = f.Close()
			return nil, group.FileHeader{}, fmt.Errorf("nodestore: open %s: %w: zero-length file requires Create", path, ErrInvalidDatabase)
		}

		return f, group.FileHeader{}, nil

	case size < group.HeaderSize:
		_ = f.Close()
		return nil, group.FileHeader{}, fmt.Errorf("nodestore: open %s: %w: truncated header (%d bytes)", path, ErrInvalidDatabase, size)

	default:
		buf := make([]byte, group.HeaderSize)

		if _, err := f.ReadAt(buf, 0); err != nil {
			_ = f.Close()
			return nil, group.FileHeader{}, fmt.Errorf("nodestore: open %s: read header: %w", path, err)
		}

		header, err := group.DecodeFileHeader(buf)
		if err != nil {
			_ = f.Close()
			return nil, group.FileHeader{}, err
		}

		if !header.Empty() && header.ActiveFileFormat() != group.CurrentFileFormatVersion {
			_ = f.Close()
			return nil, group.FileHeader{}, fmt.Errorf("nodestore: open %s: %w: unsupported file format version %d",
				path, ErrInvalidDatabase, header.ActiveFileFormat())
		}

		return f, header, nil
	}
}

// Path returns the database file's path.
func (db *DB) Path() string { return db.path }

// Close releases the writer lock (if held) and unmaps every open window.
// Close is idempotent.
func (db *DB) Close() error {
	if db.closed {
		return nil
	}

	db.closed = true

	err := db.bodyWindows.CloseAll()

	if !db.readOnly {
		if uerr := db.fm.UnlockWriter(); uerr != nil && err == nil {
			err = uerr
		}
	}

	if cerr := db.file.Close(); cerr != nil && err == nil {
		err = cerr
	}

	return err
}
