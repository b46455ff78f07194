// Package nodestore is the public facade: it wires dbconfig, filemap,
// slaballoc, group, bptree, and nodearray into the Opener contract and
// transaction surface spec §4.7 and §6 describe.
package nodestore

import (
	"errors"
	"fmt"
)

// Error kinds (spec §7 "Error kinds (language-neutral)"). Each is a
// sentinel a caller can match with errors.Is; the wrapping message carries
// the operational detail.
var (
	// ErrInvalidDatabase covers a bad header, unsupported file-format
	// version, or a structural validation failure on attach.
	ErrInvalidDatabase = errors.New("nodestore: invalid database")

	// ErrOutOfMemory names the out-of-memory error kind. No function in this
	// package returns it: a failed node allocation surfaces as a wrapped
	// nodearray.ErrOutOfMemory.
	ErrOutOfMemory = errors.New("nodestore: out of memory")

	// ErrMaximumFileSizeExceeded names the maximum-file-size error kind. No
	// function in this package returns it, and the logical size is not
	// checked against a cap.
	ErrMaximumFileSizeExceeded = errors.New("nodestore: maximum file size exceeded")

	// ErrCrossTableLinkTarget is reserved for the link-column layer this
	// package does not implement; see pkg/group's doc comment. Kept as a
	// named sentinel so a future typed layer can return it without
	// widening the public error surface.
	ErrCrossTableLinkTarget = errors.New("nodestore: table still referenced by a link column")

	// ErrLogicError marks a precondition violation: wrong transaction
	// state, bad key, bad index. Programming error, not a recoverable
	// condition.
	ErrLogicError = errors.New("nodestore: logic error")

	// ErrSchemaMismatch is reserved for the typed column-access layer this
	// package does not implement.
	ErrSchemaMismatch = errors.New("nodestore: schema mismatch")

	// ErrReadOnly is returned by Begin when the store was opened read-only
	// (spec §6 "Opener contract"). Mutating through a read or snapshot Tx
	// returns ErrLogicError instead.
	ErrReadOnly = errors.New("nodestore: database is read-only")

	// ErrAlreadyClosed marks use of a Tx or DB after Close/Commit/Rollback.
	ErrAlreadyClosed = errors.New("nodestore: already closed")
)

func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("nodestore: invariant violated: "+format, args...))
	}
}
