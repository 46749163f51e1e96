package ir

// Package ir describes the already-scheduled kernel graph the planner
// consumes. The graph compiler hands the planner a flat execution order;
// nothing here owns kernels or performs scheduling.

type (
	GraphID  uint32
	StreamID uint32
)

// NodeKind separates ordinary kernels from collective-communication kernels,
// whose input/output buffers must be laid out contiguously.
type NodeKind uint8

const (
	KindCommon NodeKind = iota
	KindCommunication
)

// Flags carries the scheduler-assigned tags that change how a kernel's
// tensors are classified.
type Flags uint16

const (
	// FlagIndependent marks off-critical-path kernels; their outputs stay
	// live until the end of the graph.
	FlagIndependent Flags = 1 << iota
	// FlagGetNext marks the batch input fetch kernel; its outputs are
	// graph-lifelong.
	FlagGetNext
	// FlagNonTask marks pass-through kernels that emit no device task;
	// their outputs alias their single input.
	FlagNonTask
	// FlagUnreuse pins every tensor touched by the kernel for the whole
	// graph.
	FlagUnreuse
	// FlagAtomicClean marks a memory-clean kernel whose inputs are other
	// kernels' output/workspace tensors, referenced by index lists.
	FlagAtomicClean
)

// KernelMod is the one capability the planner needs from a resolved kernel
// implementation: the byte sizes it reports for its outputs and workspaces.
type KernelMod interface {
	SizeList() (outputs, workspaces []uint64)
}

// Sizes is the trivial KernelMod used by graph decoding and tests.
type Sizes struct {
	Outputs    []uint64
	Workspaces []uint64
}

func (s Sizes) SizeList() (outputs, workspaces []uint64) {
	return s.Outputs, s.Workspaces
}

// OutputRef names one output slot of a kernel by execution-order index.
type OutputRef struct {
	Kernel int
	Index  int
}

// Input is one consumed value. Producer is an execution-order kernel index;
// a negative Producer means the value comes from the parameter table instead
// (a graph input with a pre-existing device address).
type Input struct {
	Producer int
	Index    int
	Param    int
}

// FromParam reports whether the input is a graph parameter.
func (in Input) FromParam() bool { return in.Producer < 0 }

// ParamOut is one output slot of a parameter node. Bound tells whether the
// runtime already assigned it a device address.
type ParamOut struct {
	Addr  uint64
	Size  uint64
	Bound bool
}

// ParamNode is a graph input (weight, constant, external feed). Its storage
// is never planned; the planner only records it for bookkeeping and dumps.
type ParamNode struct {
	Name    string
	Outputs []ParamOut
}

// CleanRef lists which tensors of a target kernel an atomic-clean kernel
// touches.
type CleanRef struct {
	Target     int
	Outputs    []int
	Workspaces []int
}

// Kernel is one scheduled operation.
type Kernel struct {
	Name   string
	Stream StreamID
	Kind   NodeKind
	Flags  Flags
	Mod    KernelMod
	Inputs []Input

	// OutputBound / WorkspaceBound mark slots that already carry a
	// persistent device address; such tensors are excluded from reuse.
	OutputBound    []bool
	WorkspaceBound []bool

	// Logical is the execution-order index of the first occurrence of this
	// kernel when the schedule replays it (subgraph multi-call); -1 for an
	// ordinary single occurrence.
	Logical int

	Clean []CleanRef
}

// Event is an externally supplied send/receive pairing between two kernels,
// usually on different streams. The planner models it as a zero-size virtual
// tensor from send to recv.
type Event struct {
	ID   int
	Send int
	Recv int
}

// RefPair declares in-place semantics: the Out slot occupies the same memory
// as the Origin slot.
type RefPair struct {
	Out    OutputRef
	Origin OutputRef
}

// Graph is the planner's whole input: the execution order plus the side
// tables the graph compiler already resolved.
type Graph struct {
	ID           GraphID
	Kernels      []Kernel
	Params       []ParamNode
	StreamGroups [][]StreamID
	Events       []Event
	SummaryRefs  []OutputRef
	RefPairs     []RefPair

	// RefOverlap lists output slots that are views of one underlying buffer;
	// members of a list may share memory even when their lifetimes cross.
	RefOverlap [][]OutputRef

	// FusionClear pins atomic-clean targets for the whole graph instead of
	// letting them be reused.
	FusionClear bool
}
