package plan

import (
	"fmt"

	"somas/internal/diag"
)

// applyRefConstraints folds every ref group onto its first member. All
// members of a group must occupy the same address, so the first member's
// matrix row becomes the intersection of the whole group, every pairwise
// cell inside the group is cleared, and non-first members stop being solver
// items (their size is zeroed) unless they sit in a contiguous list, where
// the slot must stay so list offsets line up.
func (p *Planner) applyRefConstraints() error {
	m := p.model
	for _, group := range m.RefGroups {
		if len(group) == 0 {
			continue
		}
		first := group[0]
		if !first.IsValid() || int(first) >= len(m.Tensors) {
			return fmt.Errorf("ref group: invalid tensor id %d", first)
		}
		row := p.reuse[first]
		for _, id := range group[1:] {
			if !id.IsValid() || int(id) >= len(m.Tensors) {
				return fmt.Errorf("ref group: invalid tensor id %d", id)
			}
			row.Intersect(p.reuse[id])
		}
		// Матрица должна остаться симметричной после пересечения.
		for _, t := range m.Tensors {
			if !row.Test(int(t.ID)) {
				p.reuse[t.ID].Clear(int(first))
			}
		}
		for _, a := range group {
			for _, b := range group {
				if a == b {
					continue
				}
				p.reuse[a].Clear(int(b))
				p.reuse[b].Clear(int(a))
			}
		}
	}
	m.zeroRefAliasSizes()
	return nil
}

// zeroRefAliasSizes drops non-first ref members from footprint accounting.
// Contiguous members keep their slot so list offsets line up.
func (m *Model) zeroRefAliasSizes() {
	for _, group := range m.RefGroups {
		if len(group) == 0 {
			continue
		}
		for _, id := range group[1:] {
			if !m.Tensor(id).Contiguous {
				m.Tensor(id).AlignedSize = 0
			}
		}
	}
}

// applyRefOverlap forces mutual reuse bits inside every ref-overlap list.
// These tensors are declared views over the same buffer, so the solver must
// be allowed to overlap them even when the dependency test said otherwise.
func (p *Planner) applyRefOverlap() {
	for _, list := range p.model.RefOverlap {
		for _, a := range list {
			for _, b := range list {
				if a == b {
					continue
				}
				p.reuse[a].Set(int(b))
				p.reuse[b].Set(int(a))
			}
		}
	}
}

// checkRefContiguous cross-checks ref groups against contiguous lists. A ref
// group whose members are contiguous must pair two lists position by
// position. Violations are reported but not fatal: downstream either works
// by accident or the solver output is checked again anyway, and killing the
// whole plan over a diagnosable modelling slip has proven too strict.
func (p *Planner) checkRefContiguous(bag *diag.Bag) {
	m := p.model

	pos := make(map[TensorID][2]int, len(m.Tensors))
	for li, list := range m.Contiguous {
		for ti, id := range list {
			pos[id] = [2]int{li, ti}
		}
	}

	// listPairs[i] is the contiguous list paired with list i through a ref
	// group, or -1 when none is known yet.
	listPairs := make([]int, len(m.Contiguous))
	for i := range listPairs {
		listPairs[i] = -1
	}

	for _, group := range m.RefGroups {
		if len(group) < 2 {
			continue
		}
		origin, out := group[0], group[1]
		oc, originIn := pos[origin]
		uc, outIn := pos[out]
		if m.Tensor(origin).Contiguous != originIn || m.Tensor(out).Contiguous != outIn {
			bag.Add(diag.Warnf(diag.ConstrRefNotInContiguous,
				"ref pair (%d, %d): contiguous flag does not match list membership", origin, out).
				WithTensor(int(origin)))
			continue
		}
		if !originIn || !outIn {
			continue
		}
		if oc[1] != uc[1] {
			bag.Add(diag.Warnf(diag.ConstrRefPositionMismatch,
				"ref pair (%d, %d): positions %d and %d differ in contiguous lists", origin, out, oc[1], uc[1]).
				WithTensor(int(origin)))
			continue
		}
		switch prev := listPairs[oc[0]]; {
		case prev == -1:
			listPairs[oc[0]] = uc[0]
			p.listRefPairs = append(p.listRefPairs, [2]int{oc[0], uc[0]})
		case prev != uc[0]:
			bag.Add(diag.Warnf(diag.ConstrRefListConflict,
				"contiguous list %d is ref-paired with both list %d and list %d", oc[0], prev, uc[0]))
		}
	}

	for _, pair := range p.listRefPairs {
		if len(m.Contiguous[pair[0]]) != len(m.Contiguous[pair[1]]) {
			bag.Add(diag.Warnf(diag.ConstrRefListSizeMismatch,
				"ref-paired contiguous lists %d and %d have lengths %d and %d",
				pair[0], pair[1], len(m.Contiguous[pair[0]]), len(m.Contiguous[pair[1]])))
		}
	}
}

// solverContiguousLists returns the contiguous lists the solver should see.
// Lists that became all-zero after ref folding contribute nothing, and the
// second list of every ref pair is dropped: its offsets are copied from the
// first after solving.
func (p *Planner) solverContiguousLists(bag *diag.Bag) [][]TensorID {
	m := p.model

	drop := make(map[int]bool, len(p.listRefPairs))
	for _, pair := range p.listRefPairs {
		drop[pair[1]] = true
	}

	var out [][]TensorID
	for li, list := range m.Contiguous {
		if drop[li] {
			continue
		}
		zero := true
		for _, id := range list {
			if m.Tensor(id).AlignedSize != 0 {
				zero = false
				break
			}
		}
		if zero {
			bag.Add(diag.Warnf(diag.ConstrRemoveListMissing,
				"contiguous list %d is all-zero and removed from solving", li))
			continue
		}
		out = append(out, list)
	}
	return out
}
