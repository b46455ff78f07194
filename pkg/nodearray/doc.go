// Package nodearray implements the adaptive bit-packed integer array that
// backs every persistent structure in nodestore: a contiguous, variable-width
// (0/1/2/4/8/16/32/64-bit) sequence of signed 64-bit values with an 8-byte
// header, in-place mutation when the node is slab-owned, and copy-on-write
// promotion when it is file-owned.
//
// A [Node]'s identity is its [Ref]: a mutating call that must reallocate
// returns a new ref, and callers are responsible for propagating it to their
// parent (see [Node.Set], [Node.Insert], [Node.Erase]).
package nodearray
