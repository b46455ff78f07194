// Package bptree implements BpTreeColumn, the B+-tree-shaped sequence of
// signed 64-bit values that backs every table column in nodestore (spec
// §4.2). Values live in leaves built from [nodearray.Node]; once a leaf
// would exceed MaxListSize elements it splits, and the tree grows a new
// inner level rooted at the column's own ref.
//
// An inner node is a [nodearray.Node] with IsInner and HasRefs set whose
// element 0 is a ref to a companion offsets node (cumulative child element
// counts) and whose remaining elements are child refs. This is the general,
// always-explicit-offsets form; nodestore does not implement the compact
// (uniform leaf size, implicit offsets) form original_source/ uses as a
// space optimization (see DESIGN.md).
package bptree
