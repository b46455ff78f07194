// Package group implements the Top/Group structure and the GroupWriter and
// GroupCommitter that turn a set of dirty in-memory arrays into a durable,
// atomically-visible on-disk snapshot (spec §4.5, §4.6; original_source's
// src/realm/group.cpp and src/realm/group_writer.cpp).
//
// Group owns the top array, the table-name vector, and the table vector; it
// does not implement the object/table/schema layer above columns (spec §1
// "Out of scope"), so a table's entry is an opaque placeholder: a single
// node holding a tag (for TableKey validation) and a ref to that table's one
// demonstrative [bptree.Tree] column, enough to exercise BpTreeColumn
// through a real commit/reopen cycle without reintroducing the schema layer.
package group
