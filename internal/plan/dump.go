package plan

import (
	"fmt"
	"sort"
	"strings"

	"somas/internal/ir"
)

// splitName trims a scope path down to its last component.
func splitName(scope string) string {
	if i := strings.LastIndexByte(scope, '/'); i >= 0 && i < len(scope)-1 {
		return scope[i+1:]
	}
	return scope
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// InfoText renders the model as text. With calcHash set, parameters are
// excluded so the result depends only on what the planner actually lays
// out; this variant is the cache key input. The format is a contract with
// external tooling that parses historical dumps.
func (m *Model) InfoText(calcHash bool) string {
	var b strings.Builder
	if !calcHash {
		m.dumpParameters(&b)
	}
	m.dumpTensors(&b)
	m.dumpNodes(&b)

	b.WriteString("\n\nAll Stream Groups:\n\n")
	for _, group := range m.StreamGroups {
		for _, stream := range group {
			fmt.Fprintf(&b, "stm%d ", stream)
		}
		b.WriteString("\n")
	}

	if len(m.RefGroups) > 0 {
		b.WriteString("\n\nAll Ref Node Info:\n\n")
		for _, group := range m.RefGroups {
			b.WriteString("refnode input-output:")
			for _, id := range group {
				fmt.Fprintf(&b, "%%%dT ", id)
			}
			b.WriteString("\n")
		}
	}

	for _, ev := range m.Events {
		fmt.Fprintf(&b, "event_id:%d send:%s recv:%s\n", ev.ID, m.kernelName(ev.Send), m.kernelName(ev.Recv))
	}
	return b.String()
}

func (m *Model) kernelName(kernelIndex int) string {
	if n := m.Node(m.KernelNode(kernelIndex)); n != nil {
		return splitName(n.Name)
	}
	return ""
}

func (m *Model) dumpParameters(b *strings.Builder) {
	b.WriteString("All Parameters:\n\n")
	b.WriteString("index:\tsize:\tstart_addr:\tsource node name:\tnode out index:\n")
	for _, p := range m.Params {
		fmt.Fprintf(b, "%%%dP\t#%dS\t&%d\t%s\t%d\n", p.ID, p.Size, p.Addr, p.Name, p.OutputIndex)
	}
}

func (m *Model) dumpTensors(b *strings.Builder) {
	b.WriteString("\n\nAll Tensors:\n\n")
	b.WriteString("index:\tsize:\treal_size:\toffset:\ttype:\tlifelong:\tlife_start:\tlife_end:\tsource node name:\n")
	for _, t := range m.Tensors {
		name := ""
		if n := m.Node(t.Source); n != nil {
			name = splitName(n.Name)
		}
		fmt.Fprintf(b, "%%%dT\t#%dS\t#%dS\t&%d\t%s\t%d\t%d\t%d\t%s\n",
			t.ID, t.AlignedSize, t.OriginalSize, t.Offset,
			t.Kind.String(), boolInt(t.IsLifelong()), t.Life.Start, t.Life.End, name)
	}
}

func (m *Model) dumpNodes(b *strings.Builder) {
	b.WriteString("\n\nAll Nodes:\n\n")
	for _, n := range m.Nodes {
		fmt.Fprintf(b, "$%d\t%s\t%d\t", n.ID, splitName(n.Name), int(n.Kind))
		b.WriteString("inputs[")
		tensorIdx := 0
		total := len(n.Inputs) + len(n.InputParams)
		for i := 0; i < total; i++ {
			if pid, ok := n.InputParams[i]; ok {
				fmt.Fprintf(b, "%%%dP, ", pid)
			} else if tensorIdx < len(n.Inputs) {
				fmt.Fprintf(b, "%%%dT, ", n.Inputs[tensorIdx])
				tensorIdx++
			}
		}
		b.WriteString("]\toutputs[")
		for _, id := range n.Outputs {
			fmt.Fprintf(b, "%%%dT, ", id)
		}
		b.WriteString("]\tworkspace[")
		for _, id := range n.Workspaces {
			fmt.Fprintf(b, "%%%dT, ", id)
		}
		fmt.Fprintf(b, "]\tstreamID[@%d]\n", n.Stream)
	}
}

// Offline renders the machine-parsable edge list consumed by visualization
// tooling: one EDGE line per (tensor, destination) pair, then CONTIGUOUS and
// GROUP lines.
func (m *Model) Offline() string {
	var b strings.Builder
	for _, t := range m.Tensors {
		if t.Kind == KindOutputOnly || t.Kind == KindRefNodeOutput {
			fmt.Fprintf(&b, "Somas EDGE ERROR src=n%d, srcstm=%d, dst=nc, dststm=nc, workspace=0, size=%d, lifelong=%d, tid=%d, start=%d, end=%d\n",
				t.Source, t.SourceStream, t.OriginalSize, int(t.Lifelong), t.ID, t.Life.Start, t.Life.End)
			continue
		}
		dests := make([]NodeID, 0, len(t.Destinations))
		for dst := range t.Destinations {
			dests = append(dests, dst)
		}
		sort.Slice(dests, func(i, j int) bool { return dests[i] < dests[j] })
		for _, dst := range dests {
			var dststm ir.StreamID
			if n := m.Node(dst); n != nil {
				dststm = n.Stream
			}
			fmt.Fprintf(&b, "Somas EDGE src=n%d, srcstm=%d, dst=n%d, dststm=%d, workspace=%d, size=%d, lifelong=%d, tid=%d, start=%d, end=%d\n",
				t.Source, t.SourceStream, dst, dststm, boolInt(t.Kind == KindWorkspace),
				t.OriginalSize, int(t.Lifelong), t.ID, t.Life.Start, t.Life.End)
		}
	}
	for _, list := range m.Contiguous {
		b.WriteString("Somas CONTIGUOUS")
		for _, id := range list {
			fmt.Fprintf(&b, " %d", id)
		}
		b.WriteString("\n")
	}
	for _, group := range m.StreamGroups {
		b.WriteString("Somas GROUP")
		for _, sid := range group {
			fmt.Fprintf(&b, " %d", sid)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// MemoryMap renders tensors grouped by assigned offset, ascending, so that
// reuse of one address range reads as one block of lines.
func (m *Model) MemoryMap() string {
	byOffset := make(map[uint64][]*Tensor)
	for _, t := range m.Tensors {
		byOffset[t.Offset] = append(byOffset[t.Offset], t)
	}
	offsets := make([]uint64, 0, len(byOffset))
	for off := range byOffset {
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	var b strings.Builder
	b.WriteString("mem_id:\tstart_offset:\tend_offset:\ttensor_id:\torigin_size:\talign_size:\ttype:\tsrc_node:\tsrc_stm_id:\tlifetime_start\tlifetime_end\n")
	for memID, off := range offsets {
		group := byOffset[off]
		sort.Slice(group, func(i, j int) bool { return group[i].ID < group[j].ID })
		for _, t := range group {
			name := "Somas Tensor"
			stm := int64(0xffff)
			if n := m.Node(t.Source); n != nil {
				name = splitName(n.Name)
				stm = int64(n.Stream)
			}
			fmt.Fprintf(&b, "#%d\t%d\t%d\t%%%dT\t%d\t%d\t%s\t%s\tstm%d\t%d\t%d\n",
				memID, t.Offset, t.Offset+t.AlignedSize, t.ID, t.OriginalSize, t.AlignedSize,
				t.Kind.String(), name, stm, t.Life.Start, t.Life.End)
		}
	}
	return b.String()
}
