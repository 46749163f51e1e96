package plan

import (
	"context"
	"testing"

	"somas/internal/diag"
	"somas/internal/ir"
)

func runPlan(t *testing.T, g *ir.Graph, opts Options) *Result {
	t.Helper()
	if opts.Bag == nil {
		opts.Bag = diag.NewBag(64)
	}
	res, err := New(opts).Run(context.Background(), g)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return res
}

func kernel(name string, stream ir.StreamID, outSizes []uint64, inputs ...ir.Input) ir.Kernel {
	return ir.Kernel{
		Name:    name,
		Stream:  stream,
		Mod:     ir.Sizes{Outputs: outSizes},
		Inputs:  inputs,
		Logical: -1,
	}
}

func from(producer, index int) ir.Input {
	return ir.Input{Producer: producer, Index: index}
}

// checkNoIllegalOverlap asserts that tensors whose lifetimes intersect do not
// share bytes, and that lifelong tensors overlap nothing.
func checkNoIllegalOverlap(t *testing.T, m *Model) {
	t.Helper()
	overlaps := func(a, b *Tensor) bool {
		return a.Offset < b.Offset+b.AlignedSize && b.Offset < a.Offset+a.AlignedSize
	}
	aliased := make(map[TensorID]bool)
	for _, group := range m.RefGroups {
		for _, id := range group {
			aliased[id] = true
		}
	}
	for _, over := range m.RefOverlap {
		for _, id := range over {
			aliased[id] = true
		}
	}
	for i, a := range m.Tensors {
		for _, b := range m.Tensors[i+1:] {
			if a.AlignedSize == 0 || b.AlignedSize == 0 {
				continue
			}
			if aliased[a.ID] || aliased[b.ID] {
				continue
			}
			livesTogether := a.Life.Start <= b.Life.End && b.Life.Start <= a.Life.End
			if a.IsLifelong() || b.IsLifelong() {
				livesTogether = true
			}
			if livesTogether && overlaps(a, b) {
				t.Errorf("tensors %d [%d,%d) and %d [%d,%d) overlap while both live",
					a.ID, a.Offset, a.Offset+a.AlignedSize, b.ID, b.Offset, b.Offset+b.AlignedSize)
			}
		}
	}
}

func TestPlanEmptyGraph(t *testing.T) {
	res := runPlan(t, &ir.Graph{ID: 1}, Options{})
	if res.Footprint != 0 {
		t.Errorf("footprint = %d, want 0", res.Footprint)
	}
	if res.Stats == nil || res.Stats.TotalTensors != 0 {
		t.Errorf("stats = %+v", res.Stats)
	}
}

func TestPlanParallelStreamsDoNotReuse(t *testing.T) {
	// Two producers on unordered streams: neither can prove the other's
	// output is dead, so both tensors need their own range.
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			kernel("a", 0, []uint64{100}),
			kernel("b", 1, []uint64{100}),
		},
	}
	res := runPlan(t, g, Options{})
	m := res.Model
	a, b := m.Tensors[0], m.Tensors[1]
	if a.Offset < b.Offset+b.AlignedSize && b.Offset < a.Offset+a.AlignedSize {
		t.Errorf("unordered tensors share memory: %d@%d and %d@%d", a.ID, a.Offset, b.ID, b.Offset)
	}
	if res.Footprint < a.AlignedSize+b.AlignedSize {
		t.Errorf("footprint = %d, want at least %d", res.Footprint, a.AlignedSize+b.AlignedSize)
	}
}

func TestPlanSameStreamSequentialReuses(t *testing.T) {
	// Same stream, no data edge: b runs strictly after a, so a's unread
	// output is dead and the ranges may coincide.
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			kernel("a", 0, []uint64{100}),
			kernel("b", 0, []uint64{100}),
		},
	}
	res := runPlan(t, g, Options{})
	if res.Footprint != 512 {
		t.Errorf("footprint = %d, want 512 (one aligned slot)", res.Footprint)
	}
}

func TestPlanDirectConsumerNotReusable(t *testing.T) {
	// b consumes a's output while producing its own: the two tensors are
	// simultaneously live inside b.
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			kernel("a", 0, []uint64{100}),
			kernel("b", 0, []uint64{100}, from(0, 0)),
		},
	}
	res := runPlan(t, g, Options{})
	m := res.Model
	a, b := m.Tensors[0], m.Tensors[1]
	if a.Offset < b.Offset+b.AlignedSize && b.Offset < a.Offset+a.AlignedSize {
		t.Errorf("producer/consumer tensors share memory")
	}
	checkNoIllegalOverlap(t, m)
}

func TestPlanChainSkipsOneGeneration(t *testing.T) {
	// a -> b -> c: a's output is fully consumed before c runs, so c's
	// output may take a's slot.
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			kernel("a", 0, []uint64{100}),
			kernel("b", 0, []uint64{100}, from(0, 0)),
			kernel("c", 0, []uint64{100}, from(1, 0)),
		},
	}
	res := runPlan(t, g, Options{})
	if res.Footprint != 1024 {
		t.Errorf("footprint = %d, want 1024 (two slots for three tensors)", res.Footprint)
	}
	checkNoIllegalOverlap(t, res.Model)
}

func TestPlanLongChainFootprint(t *testing.T) {
	g := &ir.Graph{ID: 1}
	g.Kernels = append(g.Kernels, kernel("k0", 0, []uint64{100}))
	for i := 1; i < 10; i++ {
		g.Kernels = append(g.Kernels, kernel("k", 0, []uint64{100}, from(i-1, 0)))
	}
	res := runPlan(t, g, Options{})
	// Adjacent generations conflict, alternating ones reuse.
	if res.Footprint != 1024 {
		t.Errorf("footprint = %d, want 1024", res.Footprint)
	}
	checkNoIllegalOverlap(t, res.Model)
}

func TestPlanLifelongExcludedFromReuse(t *testing.T) {
	g := &ir.Graph{ID: 1}
	g.Kernels = append(g.Kernels, ir.Kernel{
		Name:    "fetch",
		Flags:   ir.FlagGetNext,
		Mod:     ir.Sizes{Outputs: []uint64{1024}},
		Logical: -1,
	})
	g.Kernels = append(g.Kernels, kernel("k0", 0, []uint64{100}))
	for i := 2; i < 11; i++ {
		g.Kernels = append(g.Kernels, kernel("k", 0, []uint64{100}, from(i-1, 0)))
	}
	res := runPlan(t, g, Options{})
	m := res.Model

	fetched := m.Tensors[0]
	if fetched.Lifelong != LifelongAll || fetched.Kind != KindGetNextOutput {
		t.Fatalf("get-next output not pinned: %+v", fetched)
	}
	if res.Footprint < 1024+512 {
		t.Errorf("footprint = %d, want at least %d", res.Footprint, 1024+512)
	}
	if res.Stats.LifelongSize != 1024 {
		t.Errorf("lifelong size = %d, want 1024", res.Stats.LifelongSize)
	}
	checkNoIllegalOverlap(t, m)
}

func TestPlanRefPairSharesOffset(t *testing.T) {
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			kernel("a", 0, []uint64{256}),
			kernel("inplace", 0, []uint64{256}, from(0, 0)),
		},
		RefPairs: []ir.RefPair{{
			Out:    ir.OutputRef{Kernel: 1, Index: 0},
			Origin: ir.OutputRef{Kernel: 0, Index: 0},
		}},
	}
	res := runPlan(t, g, Options{})
	m := res.Model
	origin, out := m.Tensors[0], m.Tensors[1]
	if origin.Kind != KindRefNodeInput || out.Kind != KindRefNodeOutput {
		t.Fatalf("ref kinds: %v / %v", origin.Kind, out.Kind)
	}
	if out.AlignedSize != 0 {
		t.Errorf("aliased tensor keeps size %d, want 0", out.AlignedSize)
	}
	if origin.Offset != out.Offset {
		t.Errorf("ref pair offsets differ: %d vs %d", origin.Offset, out.Offset)
	}
}

func TestPlanContiguousCommunication(t *testing.T) {
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			kernel("p0", 0, []uint64{64}),
			kernel("p1", 0, []uint64{128}),
			kernel("p2", 0, []uint64{64}),
			{
				Name:    "allreduce",
				Stream:  0,
				Kind:    ir.KindCommunication,
				Mod:     ir.Sizes{Outputs: []uint64{64, 128, 64}},
				Inputs:  []ir.Input{from(0, 0), from(1, 0), from(2, 0)},
				Logical: -1,
			},
		},
	}
	res := runPlan(t, g, Options{})
	m := res.Model

	if len(m.Contiguous) != 2 {
		t.Fatalf("contiguous lists = %d, want 2 (inputs and outputs)", len(m.Contiguous))
	}
	for _, list := range m.Contiguous {
		// The head offset is already advanced past its leading gap, so
		// consecutive members differ by the plain aligned size.
		for i := 1; i < len(list); i++ {
			prev, cur := m.Tensor(list[i-1]), m.Tensor(list[i])
			want := prev.Offset + AlignSize(prev.OriginalSize)
			if cur.Offset != want {
				t.Errorf("list member %d at %d, want %d (prev at %d)", cur.ID, cur.Offset, want, prev.Offset)
			}
		}
	}
	if res.Stats.CommInputSize == 0 || res.Stats.CommOutputSize == 0 {
		t.Errorf("communication totals not recorded: %+v", res.Stats)
	}
}

func TestPlanContiguousWithBoundMember(t *testing.T) {
	// p1's output already has a device address, so its tensor takes no slot
	// in the shared pool; the rest of the allreduce input list must still
	// plan and pack around it.
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			kernel("p0", 0, []uint64{512}),
			{
				Name:        "p1",
				Stream:      0,
				Mod:         ir.Sizes{Outputs: []uint64{512}},
				OutputBound: []bool{true},
				Logical:     -1,
			},
			kernel("p2", 0, []uint64{512}),
			{
				Name:    "allreduce",
				Stream:  0,
				Kind:    ir.KindCommunication,
				Mod:     ir.Sizes{Outputs: []uint64{64, 64}},
				Inputs:  []ir.Input{from(0, 0), from(1, 0), from(2, 0)},
				Logical: -1,
			},
		},
	}
	res := runPlan(t, g, Options{})
	m := res.Model

	t0, t1, t2 := m.Tensors[0], m.Tensors[1], m.Tensors[2]
	if t1.AlignedSize != 0 {
		t.Fatalf("bound tensor aligned size = %d, want 0", t1.AlignedSize)
	}
	if t1.Offset != t2.Offset {
		t.Errorf("bound member at %d, want the running position %d", t1.Offset, t2.Offset)
	}
	// Head gap is 512, so the next planned member sits one payload further.
	if want := t0.Offset + AlignSize(512); t2.Offset != want {
		t.Errorf("member after bound tensor at %d, want %d", t2.Offset, want)
	}
}

func TestPlanDeterministic(t *testing.T) {
	build := func() *ir.Graph {
		g := &ir.Graph{ID: 7}
		g.Kernels = append(g.Kernels, kernel("k0", 0, []uint64{100}))
		g.Kernels = append(g.Kernels, kernel("k1", 1, []uint64{300}))
		for i := 2; i < 20; i++ {
			g.Kernels = append(g.Kernels, kernel("k", ir.StreamID(i%2), []uint64{uint64(100 * (i%3 + 1))}, from(i-2, 0)))
		}
		return g
	}
	first := runPlan(t, build(), Options{})
	for range 5 {
		res := runPlan(t, build(), Options{})
		if res.Footprint != first.Footprint {
			t.Fatalf("footprint changed between runs: %d vs %d", res.Footprint, first.Footprint)
		}
		for i, tensor := range res.Model.Tensors {
			if tensor.Offset != first.Model.Tensors[i].Offset {
				t.Fatalf("tensor %d moved between runs: %d vs %d", i, tensor.Offset, first.Model.Tensors[i].Offset)
			}
		}
	}
}

func TestPlanParallelConflictMatchesSequential(t *testing.T) {
	build := func() *ir.Graph {
		g := &ir.Graph{ID: 2}
		g.Kernels = append(g.Kernels, kernel("k0", 0, []uint64{128}))
		for i := 1; i < 40; i++ {
			g.Kernels = append(g.Kernels, kernel("k", 0, []uint64{uint64(64 * (i%4 + 1))}, from(i-1, 0)))
		}
		return g
	}
	seq := runPlan(t, build(), Options{ParallelThreshold: 1000})
	par := runPlan(t, build(), Options{ParallelThreshold: 1, Jobs: 4})
	if seq.Footprint != par.Footprint {
		t.Fatalf("parallel footprint %d differs from sequential %d", par.Footprint, seq.Footprint)
	}
	for i := range seq.Model.Tensors {
		if seq.Model.Tensors[i].Offset != par.Model.Tensors[i].Offset {
			t.Fatalf("tensor %d offset differs: %d vs %d", i, seq.Model.Tensors[i].Offset, par.Model.Tensors[i].Offset)
		}
	}
}

func TestPlanEventOrdersStreams(t *testing.T) {
	// recv on stream 1 waits for send on stream 0; after the event the
	// streams are ordered and the dead tensor can be reused.
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			kernel("send", 0, []uint64{100}),
			kernel("recv", 1, []uint64{100}),
			kernel("after", 1, []uint64{100}),
		},
		Events: []ir.Event{{ID: 0, Send: 0, Recv: 1}},
	}
	res := runPlan(t, g, Options{})
	m := res.Model
	recv := m.Node(1)
	if _, ok := recv.Ancestors[0]; !ok {
		t.Fatal("event did not create an ancestor edge")
	}
	// send's output (unconsumed) dies at node 0; "after" runs provably
	// later on stream 1 thanks to the event edge.
	virtual := m.Tensors[3]
	if virtual.Kind != KindEventVirtualOutput || virtual.AlignedSize != 0 {
		t.Fatalf("virtual event tensor: %+v", virtual)
	}
	checkNoIllegalOverlap(t, m)
}

func TestPlanUnreusePinsTensors(t *testing.T) {
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			kernel("a", 0, []uint64{100}),
			{
				Name:    "pinned",
				Stream:  0,
				Flags:   ir.FlagUnreuse,
				Mod:     ir.Sizes{Outputs: []uint64{100}},
				Inputs:  []ir.Input{from(0, 0)},
				Logical: -1,
			},
		},
	}
	res := runPlan(t, g, Options{})
	for _, tensor := range res.Model.Tensors {
		if tensor.Lifelong != LifelongAll {
			t.Errorf("tensor %d not pinned: %v", tensor.ID, tensor.Lifelong)
		}
	}
	if res.Footprint != 1024 {
		t.Errorf("footprint = %d, want 1024 (no reuse)", res.Footprint)
	}
}

func TestPlanIndependentOutputsLiveToEnd(t *testing.T) {
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			{
				Name:    "side",
				Stream:  0,
				Flags:   ir.FlagIndependent,
				Mod:     ir.Sizes{Outputs: []uint64{100}},
				Logical: -1,
			},
			kernel("b", 0, []uint64{100}),
			kernel("c", 0, []uint64{100}),
		},
	}
	res := runPlan(t, g, Options{})
	side := res.Model.Tensors[0]
	if side.Lifelong != LifelongEnd {
		t.Fatalf("independent output lifelong = %v, want LifelongEnd", side.Lifelong)
	}
	// b's tensor (id 1) has a larger id; the end-pinned tensor must not
	// share with it.
	b := res.Model.Tensors[1]
	if side.Offset < b.Offset+b.AlignedSize && b.Offset < side.Offset+side.AlignedSize {
		t.Error("end-pinned tensor shares memory with a later tensor")
	}
}

func TestPlanNonTaskAliasesInput(t *testing.T) {
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			kernel("a", 0, []uint64{256}),
			{
				Name:    "reshape",
				Stream:  0,
				Flags:   ir.FlagNonTask,
				Mod:     ir.Sizes{Outputs: []uint64{256}},
				Inputs:  []ir.Input{from(0, 0)},
				Logical: -1,
			},
		},
	}
	res := runPlan(t, g, Options{})
	m := res.Model
	in, out := m.Tensors[0], m.Tensors[1]
	if in.Offset != out.Offset {
		t.Errorf("no-task alias offsets differ: %d vs %d", in.Offset, out.Offset)
	}
	if out.AlignedSize != 0 {
		t.Errorf("no-task output keeps size %d, want 0", out.AlignedSize)
	}
}

func TestPlanNonTaskWithoutInputFails(t *testing.T) {
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			{Name: "broken", Flags: ir.FlagNonTask, Mod: ir.Sizes{Outputs: []uint64{64}}, Logical: -1},
		},
	}
	_, err := New(Options{Bag: diag.NewBag(8)}).Run(context.Background(), g)
	if err == nil {
		t.Fatal("expected error for no-task kernel without inputs")
	}
}

func TestPlanProducerAfterConsumerFails(t *testing.T) {
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			kernel("a", 0, []uint64{100}, from(1, 0)),
			kernel("b", 0, []uint64{100}),
		},
	}
	_, err := New(Options{Bag: diag.NewBag(8)}).Run(context.Background(), g)
	if err == nil {
		t.Fatal("expected error for producer scheduled after consumer")
	}
}

func TestPlanOffsetLookups(t *testing.T) {
	g := &ir.Graph{
		ID: 1,
		Kernels: []ir.Kernel{
			kernel("a", 0, []uint64{100}),
			kernel("b", 0, []uint64{100}, from(0, 0)),
		},
	}
	res := runPlan(t, g, Options{})
	m := res.Model

	off, err := m.OutputOffset(m.KernelNode(0), 0)
	if err != nil {
		t.Fatal(err)
	}
	if off != m.Tensors[0].Offset {
		t.Errorf("OutputOffset = %d, want %d", off, m.Tensors[0].Offset)
	}
	if _, err := m.OutputOffset(m.KernelNode(0), 5); err == nil {
		t.Error("expected error for out-of-range output index")
	}
	if _, err := m.WorkspaceOffset(m.KernelNode(0), 0); err == nil {
		t.Error("expected error for out-of-range workspace index")
	}
}
