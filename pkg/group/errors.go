package group

import (
	"errors"
	"fmt"
)

// ErrInvalidDatabase corresponds to spec §7 InvalidDatabase: bad magic,
// unsupported file-format version, or a structural validation failure on
// attach.
var ErrInvalidDatabase = errors.New("group: invalid database")

// ErrTableNotFound is returned by operations addressing a TableKey that does
// not name a live table (never assigned, or removed).
var ErrTableNotFound = errors.New("group: table not found")

// ErrFileTooLarge corresponds to spec §7 MaximumFileSizeExceeded.
var ErrFileTooLarge = errors.New("group: maximum file size exceeded")

func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("group: invariant violated: "+format, args...))
	}
}
