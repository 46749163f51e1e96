package plan

import (
	"fmt"

	"fortio.org/safecast"

	"somas/internal/diag"
	"somas/internal/ir"
)

// BuildModel constructs the planner's registry from the scheduled graph:
// streams, nodes, output/workspace/input tensors, parameters, event-virtual
// tensors, then the classification passes (independent, summary, ref-node,
// no-task, unreuse, contiguous, get-next).
//
// Structural violations (producer not scheduled before its consumer, output
// index out of range, no-task kernel without inputs) are unrecoverable: they
// mean the execution order handed in breaks the compiler's own contract.
func BuildModel(g *ir.Graph, bag *diag.Bag) (*Model, error) {
	b := &builder{
		g:        g,
		bag:      bag,
		paramIDs: make(map[[2]int]ParamID),
	}
	if err := b.buildStreamsAndNodes(); err != nil {
		return nil, err
	}
	b.buildOutputAndWorkspaceTensors()
	if err := b.buildInputs(); err != nil {
		return nil, err
	}
	b.buildEvents()

	b.independentOutputs()
	b.summaryInputs()
	if err := b.refNodes(); err != nil {
		return nil, err
	}
	if err := b.nonTaskNodes(); err != nil {
		return nil, err
	}
	if err := b.refOverlapLists(); err != nil {
		return nil, err
	}
	b.unreuseNodes()
	if err := b.contiguousLists(); err != nil {
		return nil, err
	}
	b.getNextOutputs()

	return b.m, nil
}

type builder struct {
	g   *ir.Graph
	m   *Model
	bag *diag.Bag

	// paramIDs dedups parameters by (param node index, output index).
	paramIDs map[[2]int]ParamID
}

// logicalIndex resolves which execution index owns kernel ki's tensors.
func (b *builder) logicalIndex(ki int) int {
	if l := b.g.Kernels[ki].Logical; l >= 0 {
		return l
	}
	return ki
}

func (b *builder) groupNodes(ki int) []NodeID {
	return b.m.kernelNodes[b.logicalIndex(ki)]
}

func (b *builder) buildStreamsAndNodes() error {
	b.m = &Model{
		GraphID:      b.g.ID,
		StreamGroups: b.g.StreamGroups,
		Events:       b.g.Events,
		kernelNodes:  make(map[int][]NodeID, len(b.g.Kernels)),
	}
	for ki := range b.g.Kernels {
		k := &b.g.Kernels[ki]
		stream := b.m.Stream(k.Stream)
		if stream == nil {
			stream = &Stream{ID: k.Stream}
			b.m.Streams = append(b.m.Streams, stream)
		}
		id, err := safecast.Conv[int32](len(b.m.Nodes))
		if err != nil {
			return fmt.Errorf("kernel %d (%s): node id overflow: %w", ki, k.Name, err)
		}
		node := &Node{
			ID:     NodeID(id),
			Name:   k.Name,
			Kind:   k.Kind,
			Stream: k.Stream,
		}
		b.m.Nodes = append(b.m.Nodes, node)
		stream.Nodes = append(stream.Nodes, node.ID)

		key := b.logicalIndex(ki)
		if key > ki || (key != ki && b.g.Kernels[key].Logical >= 0) {
			return fmt.Errorf("kernel %d (%s): logical index %d is not an earlier primary occurrence", ki, k.Name, key)
		}
		b.m.kernelNodes[key] = append(b.m.kernelNodes[key], node.ID)
	}
	return nil
}

func (b *builder) newTensor(source NodeID, stream ir.StreamID, size uint64, kind TensorKind) *Tensor {
	t := &Tensor{
		ID:           TensorID(len(b.m.Tensors)),
		Source:       source,
		SourceStream: stream,
		OriginalSize: size,
		AlignedSize:  AlignSize(size),
		Kind:         kind,
		Life:         Lifetime{Start: source, End: source},
	}
	b.m.Tensors = append(b.m.Tensors, t)
	return t
}

func (b *builder) buildOutputAndWorkspaceTensors() {
	for ki := range b.g.Kernels {
		k := &b.g.Kernels[ki]
		if k.Logical >= 0 {
			continue // replay; tensors live on the primary occurrence
		}
		group := b.m.kernelNodes[ki]
		first := b.m.Node(group[0])
		last := group[len(group)-1]

		outputs, workspaces := sizeList(k)
		for i, size := range outputs {
			t := b.newTensor(first.ID, first.Stream, size, KindOutputOnly)
			t.Life.End = last
			if i < len(k.OutputBound) && k.OutputBound[i] {
				t.AlignedSize = 0
			}
			for _, nid := range group {
				b.m.Node(nid).Outputs = append(b.m.Node(nid).Outputs, t.ID)
			}
		}
		for i, size := range workspaces {
			t := b.newTensor(first.ID, first.Stream, size, KindWorkspace)
			t.Life.End = last
			if i < len(k.WorkspaceBound) && k.WorkspaceBound[i] {
				t.AlignedSize = 0
			}
			for _, nid := range group {
				b.m.Node(nid).Workspaces = append(b.m.Node(nid).Workspaces, t.ID)
			}
		}
	}
}

func sizeList(k *ir.Kernel) (outputs, workspaces []uint64) {
	if k.Mod == nil {
		return nil, nil
	}
	return k.Mod.SizeList()
}

func (b *builder) buildInputs() error {
	for ki := range b.g.Kernels {
		k := &b.g.Kernels[ki]
		if k.Logical >= 0 {
			continue
		}
		var err error
		if k.Flags&ir.FlagAtomicClean != 0 {
			err = b.buildCleanInputs(ki, k)
		} else {
			err = b.buildCommonInputs(ki, k)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) buildCommonInputs(ki int, k *ir.Kernel) error {
	group := b.m.kernelNodes[ki]
	node := b.m.Node(group[0])

	for pos, in := range k.Inputs {
		if in.FromParam() {
			pid, err := b.parameter(in.Param, in.Index)
			if err != nil {
				return fmt.Errorf("kernel %d (%s) input %d: %w", ki, k.Name, pos, err)
			}
			if node.InputParams == nil {
				node.InputParams = make(map[int]ParamID, 2)
			}
			node.InputParams[pos] = pid
			continue
		}

		if in.Producer >= len(b.g.Kernels) {
			return fmt.Errorf("kernel %d (%s) input %d: producer %d is not in the execution order", ki, k.Name, pos, in.Producer)
		}
		if b.logicalIndex(in.Producer) > ki {
			return fmt.Errorf("kernel %d (%s) input %d: producer %d is scheduled after its consumer", ki, k.Name, pos, in.Producer)
		}
		prod := b.m.Node(b.groupNodes(in.Producer)[0])
		if in.Index >= len(prod.Outputs) {
			return fmt.Errorf("kernel %d (%s) input %d: output index %d exceeds producer %d's output count %d",
				ki, k.Name, pos, in.Index, in.Producer, len(prod.Outputs))
		}
		t := b.m.Tensor(prod.Outputs[in.Index])
		for _, nid := range group {
			b.m.Node(nid).Inputs = append(b.m.Node(nid).Inputs, t.ID)
		}
		if t.Kind == KindOutputOnly {
			t.Kind = KindCommon
		}
		for _, nid := range group {
			t.addDestination(nid)
			if t.Life.End < nid {
				t.Life.End = nid
			}
		}
		if node.ID != prod.ID {
			node.addAncestor(prod.ID)
		}
		if t.SourceStream != node.Stream {
			t.BetweenStreams = true
		}
	}
	return nil
}

// buildCleanInputs wires an atomic-clean kernel to the output/workspace
// tensors it zeroes on its target kernels.
func (b *builder) buildCleanInputs(ki int, k *ir.Kernel) error {
	node := b.m.Node(b.m.kernelNodes[ki][0])
	for _, ref := range k.Clean {
		if ref.Target < 0 || ref.Target >= len(b.g.Kernels) {
			return fmt.Errorf("clean kernel %d (%s): target %d not initialized", ki, k.Name, ref.Target)
		}
		target := b.m.Node(b.groupNodes(ref.Target)[0])
		for _, idx := range ref.Outputs {
			if idx >= len(target.Outputs) {
				return fmt.Errorf("clean kernel %d (%s): output index %d exceeds target %d's output count %d",
					ki, k.Name, idx, ref.Target, len(target.Outputs))
			}
			t := b.m.Tensor(target.Outputs[idx])
			node.Inputs = append(node.Inputs, t.ID)
			if b.g.FusionClear {
				t.Lifelong = LifelongAll
			}
		}
		for _, idx := range ref.Workspaces {
			if idx >= len(target.Workspaces) {
				return fmt.Errorf("clean kernel %d (%s): workspace index %d exceeds target %d's workspace count %d",
					ki, k.Name, idx, ref.Target, len(target.Workspaces))
			}
			t := b.m.Tensor(target.Workspaces[idx])
			node.Inputs = append(node.Inputs, t.ID)
			if b.g.FusionClear {
				t.Lifelong = LifelongAll
			}
		}
	}
	return nil
}

func (b *builder) parameter(paramNode, index int) (ParamID, error) {
	if paramNode < 0 || paramNode >= len(b.g.Params) {
		return NoParam, fmt.Errorf("parameter node %d does not exist", paramNode)
	}
	key := [2]int{paramNode, index}
	if id, ok := b.paramIDs[key]; ok {
		return id, nil
	}
	src := &b.g.Params[paramNode]
	var addr, size uint64
	if index < len(src.Outputs) {
		out := src.Outputs[index]
		if !out.Bound {
			return NoParam, fmt.Errorf("parameter %s output %d has no device address before planning", src.Name, index)
		}
		addr, size = out.Addr, out.Size
	}
	slot, err := safecast.Conv[int32](len(b.m.Params))
	if err != nil {
		return NoParam, fmt.Errorf("parameter id overflow: %w", err)
	}
	p := &Parameter{
		ID:          ParamID(slot),
		Name:        src.Name,
		OutputIndex: index,
		Addr:        addr,
		Size:        size,
	}
	b.m.Params = append(b.m.Params, p)
	b.paramIDs[key] = p.ID
	return p.ID, nil
}

// buildEvents models each send/recv pairing as a zero-size virtual tensor so
// the cross-stream ordering it enforces feeds the reachability analysis.
func (b *builder) buildEvents() {
	for _, ev := range b.g.Events {
		if ev.Send < 0 || ev.Send >= len(b.g.Kernels) || ev.Recv < 0 || ev.Recv >= len(b.g.Kernels) {
			b.bag.Add(diag.Warnf(diag.GraphEventUnpaired, "event %d: send %d / recv %d outside execution order, skipped", ev.ID, ev.Send, ev.Recv))
			continue
		}
		send := b.m.Node(b.groupNodes(ev.Send)[0])
		recv := b.m.Node(b.groupNodes(ev.Recv)[0])
		t := b.newTensor(send.ID, send.Stream, 0, KindEventVirtualOutput)
		t.Life.End = recv.ID
		t.addDestination(recv.ID)
		send.Outputs = append(send.Outputs, t.ID)
		recv.Inputs = append(recv.Inputs, t.ID)
		recv.addAncestor(send.ID)
	}
}

func (b *builder) independentOutputs() {
	var total uint64
	for ki := range b.g.Kernels {
		k := &b.g.Kernels[ki]
		if k.Flags&ir.FlagIndependent == 0 || k.Logical >= 0 {
			continue
		}
		node := b.m.Node(b.m.kernelNodes[ki][0])
		for _, tid := range node.Outputs {
			t := b.m.Tensor(tid)
			t.Lifelong = LifelongEnd
			total += t.AlignedSize
		}
	}
	if total > 0 {
		b.bag.Add(diag.Infof(diag.GraphInfo, "independent node outputs pinned to graph end: %d bytes", total))
	}
}

func (b *builder) summaryInputs() {
	if len(b.g.SummaryRefs) == 0 {
		return
	}
	var total uint64
	for _, ref := range b.g.SummaryRefs {
		if ref.Kernel < 0 || ref.Kernel >= len(b.g.Kernels) {
			b.bag.Add(diag.Warnf(diag.GraphSummaryMissing, "summary ref: kernel %d not found", ref.Kernel))
			continue
		}
		node := b.m.Node(b.groupNodes(ref.Kernel)[0])
		if ref.Index >= len(node.Outputs) {
			b.bag.Add(diag.Warnf(diag.GraphSummaryIndex, "summary ref: index %d exceeds node %d's output count %d",
				ref.Index, node.ID, len(node.Outputs)).WithNode(int(node.ID)))
			continue
		}
		t := b.m.Tensor(node.Outputs[ref.Index])
		t.Lifelong = LifelongAll
		t.Kind = KindSummaryInput
		total += t.AlignedSize
	}
	b.bag.Add(diag.Infof(diag.GraphInfo, "summary inputs pinned lifelong: %d bytes", total))
}

func (b *builder) refNodes() error {
	for _, pair := range b.g.RefPairs {
		if pair.Out.Kernel < 0 || pair.Out.Kernel >= len(b.g.Kernels) {
			return fmt.Errorf("ref pair: out kernel %d not in execution order", pair.Out.Kernel)
		}
		if pair.Origin.Kernel < 0 || pair.Origin.Kernel >= len(b.g.Kernels) {
			return fmt.Errorf("ref pair: origin kernel %d not in execution order", pair.Origin.Kernel)
		}
		outNode := b.m.Node(b.groupNodes(pair.Out.Kernel)[0])
		originNode := b.m.Node(b.groupNodes(pair.Origin.Kernel)[0])
		if pair.Out.Index >= len(outNode.Outputs) {
			return fmt.Errorf("ref pair: output index %d exceeds node %d's output count %d",
				pair.Out.Index, outNode.ID, len(outNode.Outputs))
		}
		if pair.Origin.Index >= len(originNode.Outputs) {
			return fmt.Errorf("ref pair: origin index %d exceeds node %d's output count %d",
				pair.Origin.Index, originNode.ID, len(originNode.Outputs))
		}
		out := b.m.Tensor(outNode.Outputs[pair.Out.Index])
		origin := b.m.Tensor(originNode.Outputs[pair.Origin.Index])
		out.Kind = KindRefNodeOutput
		origin.Kind = KindRefNodeInput
		b.m.RefGroups = append(b.m.RefGroups, []TensorID{origin.ID, out.ID})
	}
	return nil
}

// refOverlapLists resolves the output-slot overlap lists into tensor ids.
// Members are views of one buffer, so they are later permitted to share
// memory regardless of lifetimes.
func (b *builder) refOverlapLists() error {
	for _, refs := range b.g.RefOverlap {
		list := make([]TensorID, 0, len(refs))
		for _, ref := range refs {
			if ref.Kernel < 0 || ref.Kernel >= len(b.g.Kernels) {
				return fmt.Errorf("ref overlap: kernel %d not in execution order", ref.Kernel)
			}
			node := b.m.Node(b.groupNodes(ref.Kernel)[0])
			if ref.Index < 0 || ref.Index >= len(node.Outputs) {
				return fmt.Errorf("ref overlap: output index %d exceeds node %d's output count %d",
					ref.Index, node.ID, len(node.Outputs))
			}
			list = append(list, node.Outputs[ref.Index])
		}
		if len(list) > 1 {
			b.m.RefOverlap = append(b.m.RefOverlap, list)
		}
	}
	return nil
}

// nonTaskNodes collapses pass-through kernels: the single input and every
// output become one forced-alias group.
func (b *builder) nonTaskNodes() error {
	for ki := range b.g.Kernels {
		k := &b.g.Kernels[ki]
		if k.Flags&ir.FlagNonTask == 0 || k.Logical >= 0 {
			continue
		}
		node := b.m.Node(b.m.kernelNodes[ki][0])
		if len(node.Inputs) == 0 {
			return fmt.Errorf("no-task kernel %d (%s) has no input tensor", ki, k.Name)
		}
		group := make([]TensorID, 0, 1+len(node.Outputs))
		in := b.m.Tensor(node.Inputs[0])
		in.Kind = KindRefNodeInput
		group = append(group, in.ID)
		for _, tid := range node.Outputs {
			out := b.m.Tensor(tid)
			out.Kind = KindRefNodeOutput
			group = append(group, out.ID)
		}
		b.m.RefGroups = append(b.m.RefGroups, group)
	}
	return nil
}

func (b *builder) unreuseNodes() {
	for ki := range b.g.Kernels {
		k := &b.g.Kernels[ki]
		if k.Flags&ir.FlagUnreuse == 0 || k.Logical >= 0 {
			continue
		}
		node := b.m.Node(b.m.kernelNodes[ki][0])
		for _, lists := range [][]TensorID{node.Inputs, node.Outputs, node.Workspaces} {
			for _, tid := range lists {
				b.m.Tensor(tid).Lifelong = LifelongAll
			}
		}
	}
}

// contiguousLists merges each communication node's inputs (and outputs) into
// one physically contiguous region, padding the boundary tensors with the
// alignment gap.
func (b *builder) contiguousLists() error {
	for _, node := range b.m.Nodes {
		if node.Kind != ir.KindCommunication {
			continue
		}
		if len(node.Inputs) > 0 && !b.m.Tensor(node.Inputs[0]).Contiguous {
			list, total, err := b.makeContiguous(node, node.Inputs)
			if err != nil {
				return err
			}
			b.m.commInputTotal += total
			b.m.Contiguous = append(b.m.Contiguous, list)
		}
		if len(node.Outputs) > 0 && !b.m.Tensor(node.Outputs[0]).Contiguous {
			list, total, err := b.makeContiguous(node, node.Outputs)
			if err != nil {
				return err
			}
			b.m.commOutputTotal += total
			b.m.Contiguous = append(b.m.Contiguous, list)
		}
	}
	return nil
}

func (b *builder) makeContiguous(node *Node, tensors []TensorID) (list []TensorID, total uint64, err error) {
	head := b.m.Tensor(tensors[0])
	tail := b.m.Tensor(tensors[len(tensors)-1])
	if head.AlignedSize != 0 {
		head.AlignedSize += gapBytes
	}
	if tail.AlignedSize != 0 {
		tail.AlignedSize += gapBytes
	}
	seen := make(map[TensorID]struct{}, len(tensors))
	for _, tid := range tensors {
		t := b.m.Tensor(tid)
		total += t.AlignedSize
		t.Contiguous = true
		if _, dup := seen[tid]; dup {
			return nil, 0, fmt.Errorf("communication node %d (%s) lists tensor %d twice in a contiguous group", node.ID, node.Name, tid)
		}
		seen[tid] = struct{}{}
		list = append(list, tid)
	}
	return list, total, nil
}

func (b *builder) getNextOutputs() {
	var total uint64
	for ki := range b.g.Kernels {
		k := &b.g.Kernels[ki]
		if k.Flags&ir.FlagGetNext == 0 || k.Logical >= 0 {
			continue
		}
		node := b.m.Node(b.m.kernelNodes[ki][0])
		for _, tid := range node.Outputs {
			t := b.m.Tensor(tid)
			t.Lifelong = LifelongAll
			t.Kind = KindGetNextOutput
			total += t.AlignedSize
		}
	}
	if total > 0 {
		b.bag.Add(diag.Infof(diag.GraphInfo, "get-next outputs pinned lifelong: %d bytes", total))
	}
}
