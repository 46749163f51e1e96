package plan

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"somas/internal/bitset"
)

// conflictInfo is the compact per-tensor descriptor the pair test reads.
// Most tensors have one or two consumers, so those node ids are stored
// inline; larger sets spill into a shared overflow array and l/r hold the
// [l, r) range. Keeping the common case allocation-free matters: the pair
// test runs O(n²) times.
type conflictInfo struct {
	tensor TensorID
	source NodeID
	count  int
	l, r   int32
}

func makeConflictInfo(t *Tensor, overflow *[]NodeID) conflictInfo {
	info := conflictInfo{
		tensor: t.ID,
		source: t.Source,
		count:  len(t.consumers),
	}
	switch info.count {
	case 1:
		info.l = int32(t.consumers[0])
	case 2:
		info.l = int32(t.consumers[0])
		info.r = int32(t.consumers[1])
	default:
		info.l = int32(len(*overflow))
		*overflow = append(*overflow, t.consumers...)
		info.r = int32(len(*overflow))
	}
	return info
}

// allConsumersReached reports whether every consumer of the tensor behind
// info is a strict transitive ancestor of srcNode. When it holds, all of
// that tensor's readers have definitely executed before srcNode produces
// its value, so the two tensors may share memory. A consumer equal to
// srcNode itself never counts: the tensor is then srcNode's own input.
func allConsumersReached(info conflictInfo, srcNode NodeID, closure []*bitset.Set, overflow []NodeID) bool {
	src := closure[srcNode]
	switch info.count {
	case 1:
		if !src.Test(int(info.l)) || srcNode == NodeID(info.l) {
			return false
		}
	case 2:
		if !src.Test(int(info.l)) || !src.Test(int(info.r)) ||
			srcNode == NodeID(info.l) || srcNode == NodeID(info.r) {
			return false
		}
	default:
		for _, dst := range overflow[info.l:info.r] {
			if !src.Test(int(dst)) || srcNode == dst {
				return false
			}
		}
	}
	return true
}

// computeConflictMatrix builds the symmetric reuse-eligibility matrix for
// every candidate tensor pair. Candidates exclude lifelong and zero-size
// tensors; the candidate list is shuffled and sharded across workers above
// the parallel threshold, each worker writing only the rows of its own
// shard's target tensors.
func (p *Planner) computeConflictMatrix(ctx context.Context) error {
	m := p.model
	nodeCount := len(m.Nodes)

	// Transitive closure over direct ancestor edges. Node ids are a
	// topological order, so one forward pass suffices.
	closure := make([]*bitset.Set, nodeCount)
	for i := range closure {
		closure[i] = bitset.New(nodeCount)
	}
	for _, node := range m.Nodes {
		for anc := range node.Ancestors {
			closure[node.ID].Set(int(anc))
			closure[node.ID].Union(closure[anc])
		}
	}

	tensorCount := len(m.Tensors)
	p.reuse = make([]*bitset.Set, tensorCount)
	for i := range p.reuse {
		p.reuse[i] = bitset.New(tensorCount)
	}

	var (
		candidates []*Tensor
		infos      []conflictInfo
		overflow   []NodeID
		infoIndex  = make(map[TensorID]int, tensorCount)
	)
	for _, t := range m.Tensors {
		if t.IsLifelong() || t.AlignedSize == 0 {
			continue
		}
		infoIndex[t.ID] = len(infos)
		infos = append(infos, makeConflictInfo(t, &overflow))
		candidates = append(candidates, t)
	}

	// Clustered tensor ids make neighbouring shards wildly uneven in cost;
	// shuffling balances the load. The shuffle only affects scheduling, the
	// matrix content is order-independent.
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	score := func(targets []*Tensor) {
		for _, target := range targets {
			p.scoreOneTensor(target, infos[infoIndex[target.ID]], infos, overflow, closure)
		}
	}

	if len(candidates) < p.opts.ParallelThreshold {
		score(candidates)
	} else {
		jobs := p.opts.Jobs
		if jobs <= 0 {
			jobs = runtime.GOMAXPROCS(0)
		}
		shard := (len(candidates) + jobs - 1) / jobs
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(jobs)
		for start := 0; start < len(candidates); start += shard {
			end := min(start+shard, len(candidates))
			targets := candidates[start:end]
			g.Go(func() error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				// Каждый воркер пишет только в строки своего шарда,
				// поэтому мьютекс не нужен.
				score(targets)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("conflict computation: %w", err)
		}
	}

	p.restrictSemiLifelong()
	return nil
}

// scoreOneTensor fills the target tensor's matrix row. Two tensors may share
// memory iff either direction of the consumer/producer ordering test holds.
func (p *Planner) scoreOneTensor(target *Tensor, targetInfo conflictInfo, infos []conflictInfo, overflow []NodeID, closure []*bitset.Set) {
	row := p.reuse[target.ID]
	for _, info := range infos {
		if info.tensor == target.ID || info.source == target.Source {
			continue
		}
		if allConsumersReached(info, target.Source, closure, overflow) ||
			allConsumersReached(targetInfo, info.source, closure, overflow) {
			row.Set(int(info.tensor))
		}
	}
}

// restrictSemiLifelong applies the GraphStart/GraphEnd direction rule on top
// of the dependency test: a start-pinned tensor never shares with a smaller
// id, an end-pinned tensor never shares with a larger id.
func (p *Planner) restrictSemiLifelong() {
	for _, t := range p.model.Tensors {
		if !t.isSemiLifelongStart() && !t.isSemiLifelongEnd() {
			continue
		}
		for _, other := range p.model.Tensors {
			if other.ID == t.ID {
				continue
			}
			if (t.isSemiLifelongStart() && other.ID < t.ID) ||
				(t.isSemiLifelongEnd() && other.ID > t.ID) {
				p.reuse[t.ID].Clear(int(other.ID))
				p.reuse[other.ID].Clear(int(t.ID))
			}
		}
	}
}
