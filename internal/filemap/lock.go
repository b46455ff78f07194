package filemap

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock mirrors internal/fs.ErrWouldBlock for the writer's advisory
// lock: returned by TryLockWriter when another process already holds it.
var ErrWouldBlock = errors.New("filemap: lock would block")

// LockWriter acquires the process-exclusive advisory write lock on the
// database file via flock(2), blocking until available. nodestore permits
// at most one writer at a time (spec §5 "Scheduling model"); this is the
// "separate control file" the spec calls out as an external collaborator,
// realized here directly on the database file's descriptor rather than a
// sidecar, matching the teacher's internal/fs.Locker in spirit (flock an
// inode, retry on EINTR) but using unix.Flock per the domain-stack table.
func (fm *FileMap) LockWriter() error {
	if err := flockRetryEINTR(int(fm.file.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("filemap: lock writer: %w", err)
	}

	return nil
}

// TryLockWriter is the non-blocking variant of LockWriter.
func (fm *FileMap) TryLockWriter() error {
	err := flockRetryEINTR(int(fm.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return nil
	}

	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrWouldBlock
	}

	return fmt.Errorf("filemap: try-lock writer: %w", err)
}

// UnlockWriter releases a lock taken by LockWriter/TryLockWriter.
func (fm *FileMap) UnlockWriter() error {
	if err := flockRetryEINTR(int(fm.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("filemap: unlock writer: %w", err)
	}

	return nil
}

func flockRetryEINTR(fd, how int) error {
	const maxEINTRRetries = 10000

	var err error

	for range maxEINTRRetries {
		err = unix.Flock(fd, how)
		if err == nil || !errors.Is(err, unix.EINTR) {
			return err
		}
	}

	return err
}
