package plan

import (
	"sort"

	"somas/internal/diag"
	"somas/internal/ir"
)

// buildDependencies finishes the temporal model after registry construction:
// intra-stream order edges, stream-group hand-off edges, destination
// defaults, and the per-stream consumer compaction the conflict pass reads.
//
// Only direct predecessor edges are recorded here; transitive reachability
// is derived later by bitset propagation, keeping this pass O(edges).
func (m *Model) buildDependencies(bag *diag.Bag) {
	// Later node depends on its stream predecessor.
	for _, stream := range m.Streams {
		nodes := stream.Nodes
		sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
		for i := 1; i < len(nodes); i++ {
			m.Node(nodes[i]).addAncestor(nodes[i-1])
		}
	}

	// Stream-group hand-off: the first node of stream k+1 runs after the
	// last node of stream k.
	for _, group := range m.StreamGroups {
		for i := 1; i < len(group); i++ {
			prev := m.Stream(group[i-1])
			cur := m.Stream(group[i])
			if prev == nil || len(prev.Nodes) == 0 {
				bag.Add(diag.Warnf(diag.LifeStreamLookupMiss, "stream group references unknown stream %d, edge skipped", group[i-1]))
				continue
			}
			if cur == nil || len(cur.Nodes) == 0 {
				bag.Add(diag.Warnf(diag.LifeStreamLookupMiss, "stream group references unknown stream %d, edge skipped", group[i]))
				continue
			}
			m.Node(cur.Nodes[0]).addAncestor(prev.Nodes[len(prev.Nodes)-1])
		}
	}

	// A tensor nobody reads is its own destination, so every interval has
	// at least one consumer.
	for _, t := range m.Tensors {
		if len(t.Destinations) == 0 {
			t.addDestination(t.Source)
		}
	}

	// Compact destinations: within one stream only the latest consumer
	// matters for the reachability test.
	for _, t := range m.Tensors {
		maxPerStream := make(map[ir.StreamID]NodeID, 2)
		for nid := range t.Destinations {
			sid := m.Node(nid).Stream
			if cur, ok := maxPerStream[sid]; !ok || nid > cur {
				maxPerStream[sid] = nid
			}
		}
		t.consumers = t.consumers[:0]
		for _, nid := range maxPerStream {
			t.consumers = append(t.consumers, nid)
		}
		sort.Slice(t.consumers, func(i, j int) bool { return t.consumers[i] < t.consumers[j] })
	}
}
