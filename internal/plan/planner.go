// Package plan turns a kernel graph into a static memory layout: every
// tensor gets a byte offset into one shared pool sized by the plan's
// footprint.
package plan

import (
	"context"
	"fmt"

	"somas/internal/bitset"
	"somas/internal/diag"
	"somas/internal/ir"
	"somas/internal/observ"
	"somas/internal/plancache"
	"somas/internal/solver"
)

// Options configures a Planner. The zero value is usable: New fills in
// defaults for everything left unset.
type Options struct {
	// Jobs bounds the worker count for the conflict phase. <=0 means
	// GOMAXPROCS.
	Jobs int
	// ParallelThreshold is the candidate-tensor count above which the
	// conflict phase is sharded across workers.
	ParallelThreshold int
	// CacheDir enables the layout cache when non-empty.
	CacheDir string
	// CacheThreshold is the tensor count below which the cache is skipped:
	// small graphs solve faster than they hash.
	CacheThreshold int
	// Solver places the tensors. Defaults to solver.BestFit.
	Solver solver.Solver
	// Bag collects diagnostics. May be nil.
	Bag *diag.Bag
	// Timer records phase durations. May be nil.
	Timer *observ.Timer
}

const (
	defaultParallelThreshold = 2000
	defaultCacheThreshold    = 2000
)

// Planner runs the full planning pipeline for one graph.
type Planner struct {
	opts  Options
	model *Model
	// reuse[a].Test(b) — тензоры a и b могут занимать один диапазон.
	reuse        []*bitset.Set
	listRefPairs [][2]int
	// baseSizes snapshots aligned sizes before constraint preprocessing
	// zeroes ref aliases; cache verification compares against the fresh
	// registry, so cached entries must record these, not the solver-input
	// sizes.
	baseSizes []uint64
}

// Result is a finished plan.
type Result struct {
	Model     *Model
	Footprint uint64
	HashID    string
	FromCache bool
	Stats     *Stats
}

// New returns a Planner with defaults applied.
func New(opts Options) *Planner {
	if opts.ParallelThreshold <= 0 {
		opts.ParallelThreshold = defaultParallelThreshold
	}
	if opts.CacheThreshold <= 0 {
		opts.CacheThreshold = defaultCacheThreshold
	}
	if opts.Solver == nil {
		opts.Solver = solver.BestFit{}
	}
	return &Planner{opts: opts}
}

// Run plans graph g. Diagnostics go to the options bag; only modelling
// errors that make the graph unplannable are returned as errors. Cache
// failures are never fatal.
func (p *Planner) Run(ctx context.Context, g *ir.Graph) (*Result, error) {
	bag := p.opts.Bag
	timer := p.opts.Timer

	phModel := timer.Begin("model")
	m, err := BuildModel(g, bag)
	if err != nil {
		return nil, err
	}
	p.model = m
	m.buildDependencies(bag)
	timer.End(phModel, fmt.Sprintf("%d nodes, %d tensors", len(m.Nodes), len(m.Tensors)))

	res := &Result{Model: m}
	if len(m.Tensors) == 0 {
		res.Stats = m.ComputeStats(0)
		return res, nil
	}

	useCache := p.opts.CacheDir != "" && len(m.Tensors) >= p.opts.CacheThreshold
	if useCache {
		phCache := timer.Begin("cache")
		res.HashID = plancache.Hash(m.InfoText(true))
		p.baseSizes = make([]uint64, len(m.Tensors))
		for i, t := range m.Tensors {
			p.baseSizes[i] = t.AlignedSize
		}
		if footprint, ok := p.tryCachedLayout(res.HashID, bag); ok {
			timer.End(phCache, "hit")
			res.Footprint = footprint
			res.FromCache = true
			res.Stats = m.ComputeStats(footprint)
			return res, nil
		}
		timer.End(phCache, "miss")
	}

	phConflict := timer.Begin("conflict")
	if err := p.computeConflictMatrix(ctx); err != nil {
		return nil, err
	}
	timer.End(phConflict, "")

	phConstr := timer.Begin("constraints")
	if err := p.applyRefConstraints(); err != nil {
		return nil, err
	}
	p.applyRefOverlap()
	p.checkRefContiguous(bag)
	timer.End(phConstr, "")

	phSolve := timer.Begin("solve")
	footprint, err := p.assignOffsets(bag)
	if err != nil {
		return nil, err
	}
	timer.End(phSolve, "")
	res.Footprint = footprint

	if useCache {
		if err := p.saveCachedLayout(res.HashID, footprint); err != nil {
			bag.Add(diag.Warnf(diag.CacheWriteFailed, "layout cache save: %v", err))
		}
	}

	res.Stats = m.ComputeStats(footprint)
	return res, nil
}

// BuildForDump runs only the registry and lifetime phases, enough for the
// pre-solve text dumps.
func BuildForDump(g *ir.Graph, bag *diag.Bag) (*Model, error) {
	m, err := BuildModel(g, bag)
	if err != nil {
		return nil, err
	}
	m.buildDependencies(bag)
	return m, nil
}

// OutputOffset returns the planned offset of the idx-th output of the named
// kernel node.
func (m *Model) OutputOffset(node NodeID, idx int) (uint64, error) {
	n := m.Node(node)
	if n == nil {
		return 0, fmt.Errorf("node %d not in model", node)
	}
	if idx < 0 || idx >= len(n.Outputs) {
		return 0, fmt.Errorf("node %d (%s): output index %d out of range [0, %d)", node, n.Name, idx, len(n.Outputs))
	}
	return m.Tensor(n.Outputs[idx]).Offset, nil
}

// WorkspaceOffset returns the planned offset of the idx-th workspace of the
// named kernel node.
func (m *Model) WorkspaceOffset(node NodeID, idx int) (uint64, error) {
	n := m.Node(node)
	if n == nil {
		return 0, fmt.Errorf("node %d not in model", node)
	}
	if idx < 0 || idx >= len(n.Workspaces) {
		return 0, fmt.Errorf("node %d (%s): workspace index %d out of range [0, %d)", node, n.Name, idx, len(n.Workspaces))
	}
	return m.Tensor(n.Workspaces[idx]).Offset, nil
}

// KernelNode maps a kernel's position in the input graph to its model node.
// Replayed kernels share a primary; the primary's node is returned.
func (m *Model) KernelNode(kernelIndex int) NodeID {
	group := m.kernelNodes[kernelIndex]
	if len(group) == 0 {
		return NoNode
	}
	return group[0]
}
