package nodearray

import (
	"errors"
	"fmt"
)

// ErrOutOfMemory is returned when the backing allocator cannot satisfy a
// growth or allocation request. Callers should treat this as recoverable
// (spec §7 OutOfMemory).
var ErrOutOfMemory = errors.New("nodearray: out of memory")

// invariantMsg formats a message for a panic raised by a violated structural
// invariant (spec §7: "structural invariants use assertions"). Programming
// errors (bad index, wrong precondition) panic rather than return an error,
// matching the teacher's LogicError-as-programmer-error convention.
func invariantMsg(format string, args ...any) string {
	return fmt.Sprintf("nodearray: invariant violated: "+format, args...)
}

func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(invariantMsg(format, args...))
	}
}
