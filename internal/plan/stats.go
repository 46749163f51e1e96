package plan

// Stats summarizes a plan for reporting. LowerBound is the theoretical
// minimum pool size (peak of simultaneously live bytes), UpperBound the sum
// of every tensor's aligned size, i.e. what a no-reuse allocator would need.
type Stats struct {
	TotalTensors   int
	TotalSize      uint64
	LowerBound     uint64
	UpperBound     uint64
	Footprint      uint64
	WorkspaceSize  uint64
	CommOutputSize uint64
	CommInputSize  uint64
	LifelongSize   uint64
}

// ComputeStats derives plan statistics for the given footprint.
func (m *Model) ComputeStats(footprint uint64) *Stats {
	s := &Stats{
		TotalTensors:   len(m.Tensors),
		Footprint:      footprint,
		CommOutputSize: m.commOutputTotal,
		CommInputSize:  m.commInputTotal,
	}

	// live[t] accumulates bytes alive at node t; lifelong tensors span the
	// whole graph regardless of recorded lifetimes.
	live := make([]uint64, len(m.Nodes)+1)
	var lifelong uint64
	for _, t := range m.Tensors {
		s.UpperBound += t.AlignedSize
		s.TotalSize += t.AlignedSize
		if t.Kind == KindWorkspace {
			s.WorkspaceSize += t.AlignedSize
		}
		if t.Lifelong == LifelongAll {
			lifelong += t.AlignedSize
			continue
		}
		start, end := t.Life.Start, t.Life.End
		if t.Lifelong == LifelongStart {
			start = 0
		}
		if t.Lifelong == LifelongEnd {
			end = NodeID(len(m.Nodes) - 1)
		}
		if !start.IsValid() || !end.IsValid() || int(end) >= len(live) {
			continue
		}
		for at := start; at <= end; at++ {
			live[at] += t.AlignedSize
		}
	}
	s.LifelongSize = lifelong

	for _, sum := range live {
		if sum+lifelong > s.LowerBound {
			s.LowerBound = sum + lifelong
		}
	}
	return s
}
