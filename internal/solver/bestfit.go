package solver

import (
	"fmt"
	"sort"
)

// BestFit is a deterministic descending-size first-fit solver. Contiguous
// lists are merged into one pseudo-item placed as a unit; a pseudo-item may
// overlap another block only when every member pair is allowed to.
type BestFit struct{}

// item is a placement unit: either a single block or a merged contiguous
// list. members holds block ids in layout order, sizes their individual
// sizes.
type item struct {
	members []int
	sizes   []uint64
	total   uint64
}

// interval is an occupied [start, end) byte range owned by an item.
type interval struct {
	start, end uint64
	item       int
}

// Solve implements Solver.
func (BestFit) Solve(in Input) (Result, error) {
	items, _, err := buildItems(in)
	if err != nil {
		return Result{}, err
	}

	// Descending total size, ascending first id for determinism.
	order := make([]int, len(items))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ia, ib := items[order[a]], items[order[b]]
		if ia.total != ib.total {
			return ia.total > ib.total
		}
		return ia.members[0] < ib.members[0]
	})

	permitted := func(a, b *item) bool {
		for _, ma := range a.members {
			for _, mb := range b.members {
				if !in.Reuse[ma].Test(mb) || !in.Reuse[mb].Test(ma) {
					return false
				}
			}
		}
		return true
	}

	var (
		placed  []interval
		offsets = make(map[int]uint64, len(in.Tensors))
		maxEnd  uint64
	)
	for _, idx := range order {
		it := &items[idx]

		// Ranges this item may not overlap, sorted by start.
		var blocked []interval
		for _, iv := range placed {
			if !permitted(it, &items[iv.item]) {
				blocked = append(blocked, iv)
			}
		}
		sort.Slice(blocked, func(a, b int) bool { return blocked[a].start < blocked[b].start })

		// First gap large enough.
		var offset, cursor uint64
		for _, iv := range blocked {
			if iv.start >= cursor+it.total {
				break
			}
			if iv.end > cursor {
				cursor = iv.end
			}
		}
		offset = cursor

		placed = append(placed, interval{start: offset, end: offset + it.total, item: idx})
		if offset+it.total > maxEnd {
			maxEnd = offset + it.total
		}
		at := offset
		for mi, id := range it.members {
			offsets[id] = at
			at += it.sizes[mi]
		}
	}

	return Result{Offsets: offsets, MaxOffset: maxEnd}, nil
}

func buildItems(in Input) (items []item, memberItem map[int]int, err error) {
	size := make(map[int]uint64, len(in.Tensors))
	for _, d := range in.Tensors {
		size[d.ID] = d.Size
	}

	memberItem = make(map[int]int, len(in.Tensors))
	for _, list := range in.Contiguous {
		it := item{}
		for _, id := range list {
			sz, ok := size[id]
			if !ok {
				return nil, nil, fmt.Errorf("contiguous list references unknown block %d", id)
			}
			if prev, dup := memberItem[id]; dup {
				return nil, nil, fmt.Errorf("block %d is in contiguous lists %d and %d", id, prev, len(items))
			}
			memberItem[id] = len(items)
			it.members = append(it.members, id)
			it.sizes = append(it.sizes, sz)
			it.total += sz
		}
		if len(it.members) > 0 {
			items = append(items, it)
		}
	}
	for _, d := range in.Tensors {
		if _, inList := memberItem[d.ID]; inList {
			continue
		}
		memberItem[d.ID] = len(items)
		items = append(items, item{
			members: []int{d.ID},
			sizes:   []uint64{d.Size},
			total:   d.Size,
		})
	}

	for i, row := range in.Reuse {
		if row == nil {
			return nil, nil, fmt.Errorf("reuse matrix row %d is nil", i)
		}
	}
	return items, memberItem, nil
}
