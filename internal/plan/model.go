package plan

import (
	"somas/internal/ir"
)

// Alignment and contiguous-boundary gap, in bytes.
const (
	alignBytes = 512
	gapBytes   = 512
)

// AlignSize rounds size up to the allocation granularity. Zero stays zero:
// a zero aligned size means the tensor is externally backed and consumes no
// slot in the shared arena.
func AlignSize(size uint64) uint64 {
	if size == 0 {
		return 0
	}
	return (size + alignBytes - 1) / alignBytes * alignBytes
}

// TensorKind classifies a tensor for special-case handling and dumps.
type TensorKind uint8

const (
	KindCommon TensorKind = iota
	KindOutputOnly
	KindWorkspace
	KindGetNextOutput
	KindSummaryInput
	KindRefNodeInput
	KindRefNodeOutput
	KindEventVirtualOutput
	KindUnknown
)

var tensorKindNames = [...]string{
	KindCommon:             "Common",
	KindOutputOnly:         "OutputOnly",
	KindWorkspace:          "Workspace",
	KindGetNextOutput:      "GetNextOutput",
	KindSummaryInput:       "SummaryInput",
	KindRefNodeInput:       "RefNodeInput",
	KindRefNodeOutput:      "RefNodeOutput",
	KindEventVirtualOutput: "EventVirtualOutput",
	KindUnknown:            "Unknown",
}

func (k TensorKind) String() string {
	if int(k) < len(tensorKindNames) {
		return tensorKindNames[k]
	}
	return "Unknown"
}

// Lifelong restricts how a tensor's slot may be reused.
type Lifelong uint8

const (
	// LifelongNone is an ordinary reusable interval.
	LifelongNone Lifelong = iota
	// LifelongAll keeps the slot exclusive for the whole graph.
	LifelongAll
	// LifelongStart forbids reuse by tensors with a smaller id.
	LifelongStart
	// LifelongEnd forbids reuse by tensors with a larger id.
	LifelongEnd
)

var lifelongNames = [...]string{
	LifelongNone:  "LifeLongNone",
	LifelongAll:   "LifeLongGraphAll",
	LifelongStart: "LifeLongGraphStart",
	LifelongEnd:   "LifeLongGraphEnd",
}

func (l Lifelong) String() string {
	if int(l) < len(lifelongNames) {
		return lifelongNames[l]
	}
	return "LifeLongNone"
}

// Lifetime is the [Start, End] node-id interval a tensor is live for.
type Lifetime struct {
	Start NodeID
	End   NodeID
}

// Node is one scheduled operation as the planner sees it. Built once per
// compile, immutable after registry construction except for the ancestor
// set, which the lifetime pass extends.
type Node struct {
	ID     NodeID
	Name   string
	Kind   ir.NodeKind
	Stream ir.StreamID

	Inputs      []TensorID
	InputParams map[int]ParamID // input position -> parameter
	Outputs     []TensorID
	Workspaces  []TensorID

	// Ancestors holds direct predecessors only; the conflict pass derives
	// the transitive closure from them.
	Ancestors map[NodeID]struct{}
}

func (n *Node) addAncestor(id NodeID) {
	if n.Ancestors == nil {
		n.Ancestors = make(map[NodeID]struct{}, 4)
	}
	n.Ancestors[id] = struct{}{}
}

// Tensor is one planned memory region. Mutated during the analysis passes
// (kind reclassification, lifetime widening, size zeroing) and frozen at
// solve time.
type Tensor struct {
	ID           TensorID
	Source       NodeID
	SourceStream ir.StreamID

	OriginalSize uint64
	AlignedSize  uint64

	Kind     TensorKind
	Lifelong Lifelong
	Life     Lifetime

	Destinations map[NodeID]struct{}
	// consumers is the per-stream compaction of Destinations: for every
	// stream only the largest destination node id survives.
	consumers []NodeID

	Contiguous     bool
	BetweenStreams bool

	Offset uint64
}

func (t *Tensor) addDestination(id NodeID) {
	if t.Destinations == nil {
		t.Destinations = make(map[NodeID]struct{}, 2)
	}
	t.Destinations[id] = struct{}{}
}

// IsLifelong reports whether the tensor must stay live for the whole graph.
func (t *Tensor) IsLifelong() bool { return t.Lifelong == LifelongAll }

func (t *Tensor) isSemiLifelongStart() bool { return t.Lifelong == LifelongStart }
func (t *Tensor) isSemiLifelongEnd() bool   { return t.Lifelong == LifelongEnd }

// Parameter is a graph input with a pre-existing device address; never
// planned, looked up by (source node, output index).
type Parameter struct {
	ID          ParamID
	Name        string
	OutputIndex int
	Addr        uint64
	Size        uint64
}

// Stream is an ordered device execution queue.
type Stream struct {
	ID    ir.StreamID
	Nodes []NodeID
}

// Model is the registry: every entity of one compiled graph, stored in flat
// arrays indexed by dense ids. Relationships are index sets, never pointers,
// so the whole structure is cycle-free and torn down in one release.
type Model struct {
	GraphID ir.GraphID

	Nodes   []*Node
	Tensors []*Tensor
	Params  []*Parameter
	Streams []*Stream

	StreamGroups [][]ir.StreamID

	// RefGroups: ordered tensor-id lists that must share one offset.
	RefGroups [][]TensorID
	// RefOverlap: tensor-id lists allowed to reuse each other regardless of
	// lifetimes.
	RefOverlap [][]TensorID
	// Contiguous: ordered tensor-id lists laid out back to back.
	Contiguous [][]TensorID

	// Event send/recv kernel pairs kept for the model dump.
	Events []ir.Event

	// kernelNodes maps a logical kernel (by first-occurrence execution
	// index) to all nodes replaying it.
	kernelNodes map[int][]NodeID

	commInputTotal  uint64
	commOutputTotal uint64
}

// Node returns the node with the given id, or nil.
func (m *Model) Node(id NodeID) *Node {
	if !id.IsValid() || int(id) >= len(m.Nodes) {
		return nil
	}
	return m.Nodes[id]
}

// Tensor returns the tensor with the given id, or nil.
func (m *Model) Tensor(id TensorID) *Tensor {
	if !id.IsValid() || int(id) >= len(m.Tensors) {
		return nil
	}
	return m.Tensors[id]
}

// Stream returns the stream record for a stream id, or nil when the graph
// never used it.
func (m *Model) Stream(id ir.StreamID) *Stream {
	for _, s := range m.Streams {
		if s.ID == id {
			return s
		}
	}
	return nil
}
