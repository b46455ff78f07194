package nodestore

import (
	"errors"
	"fmt"

	"github.com/calvinalkan/nodestore/internal/filemap"
	"github.com/calvinalkan/nodestore/internal/slaballoc"
	"github.com/calvinalkan/nodestore/pkg/group"
	"github.com/calvinalkan/nodestore/pkg/nodearray"
)

// bootstrapBaseline is a placeholder baseline used only to read a top
// array's own logical_size field: until that field is known, every ref
// reachable from the top is, by construction, file-backed (no writer has
// allocated slabs yet on this attach), so routing every Translate through
// the file-mapped path is always correct. Chosen well within int64 range so
// [group.OpenTop]'s baseline comparison never overflows.
const bootstrapBaseline = nodearray.Ref(1) << 62

// attachGroup opens (or creates) the group rooted at topRef, returning an
// allocator whose baseline is the group's true logical_size (spec §4.3
// "[0, baseline) = attached file region").
func attachGroup(fm *filemap.FileMap, wmgr *filemap.WriteWindowMgr, topRef uint64) (*slaballoc.SlabAlloc, *group.Group, error) {
	if topRef == 0 {
		alloc := slaballoc.New(fm, wmgr, nodearray.Ref(group.HeaderSize))

		grp, err := group.New(alloc)
		if err != nil {
			return nil, nil, err
		}

		return alloc, grp, nil
	}

	bootstrap := slaballoc.New(fm, wmgr, bootstrapBaseline)

	top, err := group.OpenTop(bootstrap, nodearray.Ref(topRef), bootstrapBaseline)
	if err != nil {
		if errors.Is(err, group.ErrInvalidDatabase) {
			err = fmt.Errorf("%w: %w", ErrInvalidDatabase, err)
		}

		return nil, nil, err
	}

	baseline := nodearray.Ref(top.LogicalSize())

	alloc := slaballoc.New(fm, wmgr, baseline)

	grp, err := group.Attach(alloc, nodearray.Ref(topRef), baseline)
	if err != nil {
		if errors.Is(err, group.ErrInvalidDatabase) {
			err = fmt.Errorf("%w: %w", ErrInvalidDatabase, err)
		}

		return nil, nil, err
	}

	return alloc, grp, nil
}
