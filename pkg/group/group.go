package group

import (
	"fmt"

	"github.com/calvinalkan/nodestore/pkg/bptree"
	"github.com/calvinalkan/nodestore/pkg/nodearray"
)

// Group owns the top ref and, transitively, every node reachable at the
// current snapshot (spec §4.6). It does not implement the object/table/
// schema layer; see the package doc comment for what a "table" is here.
type Group struct {
	alloc  nodearray.Allocator
	top    *Top
	names  *nodearray.StringNode
	tables *nodearray.Node
}

// New creates a brand-new, empty group (spec §4.6 "top_ref == 0").
func New(alloc nodearray.Allocator) (*Group, error) {
	top, err := NewTop(alloc)
	if err != nil {
		return nil, fmt.Errorf("group: new: %w", err)
	}

	return openFrom(alloc, top)
}

// Attach opens an existing group rooted at topRef, or creates a new empty
// one if topRef == 0 (spec §4.6 "On attach, read top_ref").
func Attach(alloc nodearray.Allocator, topRef nodearray.Ref, baseline nodearray.Ref) (*Group, error) {
	if topRef == 0 {
		return New(alloc)
	}

	top, err := OpenTop(alloc, topRef, baseline)
	if err != nil {
		return nil, err
	}

	return openFrom(alloc, top)
}

func openFrom(alloc nodearray.Allocator, top *Top) (*Group, error) {
	names, err := nodearray.OpenStringNode(alloc, top.TableNamesRef())
	if err != nil {
		return nil, fmt.Errorf("group: open table names: %w", err)
	}

	tables, err := nodearray.Open(alloc, top.TablesRef())
	if err != nil {
		return nil, fmt.Errorf("group: open tables: %w", err)
	}

	return &Group{alloc: alloc, top: top, names: names, tables: tables}, nil
}

// TopRef returns the current top array's ref.
func (g *Group) TopRef() nodearray.Ref { return g.top.Ref() }

// Top returns the group's top array, e.g. for [GroupWriter.ReadInFreelist].
func (g *Group) Top() *Top { return g.top }

// TableCount returns the number of live (non-tombstoned) tables.
func (g *Group) TableCount() int {
	count := 0

	for i := 0; i < g.tables.Size(); i++ {
		if nodearray.RefOrTagged(g.tables.Get(i)).IsTagged() {
			continue
		}

		count++
	}

	return count
}

// placeholder layout: element 0 is the generation tag, element 1 is the
// table's one demonstrative column's root ref (spec §1 notes BpTreeColumn
// is covered "to the extent needed to exercise the node's invariants"; a
// real per-table column set belongs to the out-of-scope object/table/schema
// layer).
const (
	placeholderTag    = 0
	placeholderColumn = 1
)

func newTablePlaceholder(alloc nodearray.Allocator, tag int) (nodearray.Ref, error) {
	column, err := bptree.New(alloc, bptree.DefaultMaxListSize)
	if err != nil {
		return 0, err
	}

	n, err := nodearray.New(alloc, false, true)
	if err != nil {
		return 0, err
	}

	if err := n.Insert(placeholderTag, int64(tag)); err != nil {
		return 0, err
	}

	if err := n.Insert(placeholderColumn, int64(nodearray.RefSlot(column.Ref()))); err != nil {
		return 0, err
	}

	return n.Ref(), nil
}

// AddTable creates a table named name, reusing the lowest tombstoned slot in
// the tables vector if one exists (spec §4.6 "Table lifecycle": "Adding a
// table assigns the lowest empty index and the next tag").
func (g *Group) AddTable(name string) (TableKey, error) {
	idx, tag := -1, 0

	for i := 0; i < g.tables.Size(); i++ {
		v := nodearray.RefOrTagged(g.tables.Get(i))
		if v.IsTagged() {
			idx, tag = i, int(v.AsInt())
			break
		}
	}

	ref, err := newTablePlaceholder(g.alloc, tag)
	if err != nil {
		return 0, err
	}

	if idx < 0 {
		idx = g.tables.Size()

		if err := g.tables.Insert(idx, int64(nodearray.RefSlot(ref))); err != nil {
			return 0, err
		}

		if err := g.names.Insert(idx, name); err != nil {
			return 0, err
		}
	} else {
		if err := g.tables.Set(idx, int64(nodearray.RefSlot(ref))); err != nil {
			return 0, err
		}

		if err := g.names.Set(idx, name); err != nil {
			return 0, err
		}
	}

	return newTableKey(tag, idx), nil
}

// tableTag returns the placeholder's stored tag and whether the slot is
// currently live.
func (g *Group) tableTag(idx int) (int, bool, error) {
	v := nodearray.RefOrTagged(g.tables.Get(idx))
	if v.IsTagged() {
		return 0, false, nil
	}

	placeholder, err := nodearray.Open(g.alloc, v.AsRef())
	if err != nil {
		return 0, false, err
	}

	return int(placeholder.Get(placeholderTag)), true, nil
}

// HasTable reports whether key still names a live table: its slot exists,
// is not tombstoned, and carries the generation tag key was minted with.
func (g *Group) HasTable(key TableKey) bool {
	idx := key.Index()
	if idx < 0 || idx >= g.tables.Size() {
		return false
	}

	tag, live, err := g.tableTag(idx)

	return err == nil && live && tag == key.Tag()
}

// TableName returns the name of the table identified by key.
func (g *Group) TableName(key TableKey) (string, error) {
	if !g.HasTable(key) {
		return "", fmt.Errorf("group: table name: %w", ErrTableNotFound)
	}

	return g.names.Get(key.Index()), nil
}

// Column opens the one demonstrative column of the table identified by key.
func (g *Group) Column(key TableKey) (*bptree.Tree, error) {
	if !g.HasTable(key) {
		return nil, fmt.Errorf("group: column: %w", ErrTableNotFound)
	}

	v := nodearray.RefOrTagged(g.tables.Get(key.Index()))

	placeholder, err := nodearray.Open(g.alloc, v.AsRef())
	if err != nil {
		return nil, err
	}

	columnRef := nodearray.RefOrTagged(placeholder.Get(placeholderColumn)).AsRef()

	return bptree.Open(g.alloc, columnRef, bptree.DefaultMaxListSize)
}

// SetColumn persists tree's current root as the table's demonstrative
// column. Callers re-read tree.Ref() after any mutating bptree call and
// pass it here before committing.
func (g *Group) SetColumn(key TableKey, tree *bptree.Tree) error {
	if !g.HasTable(key) {
		return fmt.Errorf("group: set column: %w", ErrTableNotFound)
	}

	idx := key.Index()
	v := nodearray.RefOrTagged(g.tables.Get(idx))

	placeholder, err := nodearray.Open(g.alloc, v.AsRef())
	if err != nil {
		return err
	}

	if err := placeholder.Set(placeholderColumn, int64(nodearray.RefSlot(tree.Ref()))); err != nil {
		return err
	}

	return g.tables.Set(idx, int64(nodearray.RefSlot(placeholder.Ref())))
}

// RemoveTable erases name's entry, replaces the tables-vector slot with a
// tombstone carrying the next generation tag, and destroys the table's
// placeholder and its column (spec §4.6 "Removing a table... destroys the
// column graph, and decrements a counter").
func (g *Group) RemoveTable(key TableKey) error {
	if !g.HasTable(key) {
		return fmt.Errorf("group: remove table: %w", ErrTableNotFound)
	}

	idx := key.Index()
	v := nodearray.RefOrTagged(g.tables.Get(idx))

	placeholder, err := nodearray.Open(g.alloc, v.AsRef())
	if err != nil {
		return err
	}

	columnRef := nodearray.RefOrTagged(placeholder.Get(placeholderColumn)).AsRef()

	column, err := bptree.Open(g.alloc, columnRef, bptree.DefaultMaxListSize)
	if err != nil {
		return err
	}

	if err := column.Destroy(); err != nil {
		return err
	}

	if err := placeholder.Destroy(); err != nil {
		return err
	}

	nextTag := key.Tag() + 1

	if err := g.tables.Set(idx, int64(nodearray.TaggedInt(int64(nextTag)))); err != nil {
		return err
	}

	return g.names.Set(idx, "")
}
