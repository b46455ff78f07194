package bptree

import (
	"errors"
	"fmt"
)

// ErrIndexOutOfRange is not returned by any function in this package: Get,
// Set and Erase check their index with an invariant and panic when it does
// not address an existing element.
var ErrIndexOutOfRange = errors.New("bptree: index out of range")

func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(fmt.Sprintf("bptree: invariant violated: "+format, args...))
	}
}
