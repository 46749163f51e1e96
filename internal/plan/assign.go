package plan

import (
	"fmt"

	"somas/internal/diag"
	"somas/internal/solver"
)

// assignOffsets runs the solver over the constrained model and writes the
// resulting offsets back into the tensors. Returns the pool footprint.
func (p *Planner) assignOffsets(bag *diag.Bag) (uint64, error) {
	m := p.model

	// Members of ref-paired second lists take their offsets from the first
	// list after solving; giving them solver slots of their own would only
	// grow the footprint with dead space.
	aliased := make(map[TensorID]bool)
	for _, pair := range p.listRefPairs {
		for _, id := range m.Contiguous[pair[1]] {
			aliased[id] = true
		}
	}

	in := solver.Input{Reuse: p.reuse}
	for _, t := range m.Tensors {
		if t.AlignedSize == 0 || aliased[t.ID] {
			continue
		}
		in.Tensors = append(in.Tensors, solver.Desc{ID: int(t.ID), Size: t.AlignedSize})
	}
	// Bound members have aligned size 0 and take no slot; the remaining
	// members of the list still pack back to back around them.
	for _, list := range p.solverContiguousLists(bag) {
		ids := make([]int, 0, len(list))
		for _, id := range list {
			if m.Tensor(id).AlignedSize == 0 {
				continue
			}
			ids = append(ids, int(id))
		}
		if len(ids) == 0 {
			continue
		}
		in.Contiguous = append(in.Contiguous, ids)
	}

	res, err := p.opts.Solver.Solve(in)
	if err != nil {
		return 0, fmt.Errorf("solve: %w", err)
	}

	for id, off := range res.Offsets {
		m.Tensors[id].Offset = off
	}

	p.propagateRefOffsets()
	p.propagateContiguousOffsets()

	return res.MaxOffset, nil
}

// propagateRefOffsets copies the first member's offset to the rest of each
// ref group. Non-first members were removed from the solver input, so their
// offsets are undefined until now.
func (p *Planner) propagateRefOffsets() {
	for _, group := range p.model.RefGroups {
		if len(group) == 0 {
			continue
		}
		off := p.model.Tensor(group[0]).Offset
		for _, id := range group[1:] {
			p.model.Tensor(id).Offset = off
		}
	}
}

// propagateContiguousOffsets finishes contiguous placement. Ref-paired
// second lists copy offsets position by position from their solved first
// list, then every list's head tensor advances past the leading alignment
// gap so that member offsets run back to back at their payload sizes.
func (p *Planner) propagateContiguousOffsets() {
	m := p.model

	// Zero-size members never reached the solver; they ride at the running
	// position inside their list so index-based lookups still resolve.
	for _, list := range m.Contiguous {
		var pos uint64
		found := false
		for _, id := range list {
			if t := m.Tensor(id); t.AlignedSize != 0 {
				pos = t.Offset
				found = true
				break
			}
		}
		if !found {
			continue
		}
		for _, id := range list {
			t := m.Tensor(id)
			if t.AlignedSize == 0 {
				t.Offset = pos
			} else {
				pos = t.Offset + t.AlignedSize
			}
		}
	}

	for _, pair := range p.listRefPairs {
		src, dst := m.Contiguous[pair[0]], m.Contiguous[pair[1]]
		n := min(len(src), len(dst))
		for i := range n {
			m.Tensor(dst[i]).Offset = m.Tensor(src[i]).Offset
		}
	}
	for _, list := range m.Contiguous {
		if len(list) == 0 {
			continue
		}
		// A bound head never had the gap added to its size, so there is no
		// gap to step over.
		if head := m.Tensor(list[0]); head.AlignedSize != 0 {
			head.Offset += gapBytes
		}
	}
}
