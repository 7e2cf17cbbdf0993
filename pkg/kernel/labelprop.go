package kernel

import (
	"sort"

	"github.com/driftwatch/driftwatch/pkg/graph"
)

// LabelPropIterations bounds community label propagation.
const LabelPropIterations = 10

// LabelPropagation detects communities by propagating labels between
// neighbors. Each node starts with its own label; at every iteration a
// node adopts the most common label among its neighbors (ties resolved
// towards the smallest label). Nodes are visited in sorted id order so
// the result is deterministic for a given view.
func LabelPropagation(view *graph.View, maxIterations int) map[graph.NodeID]int {
	ids := sortedNodeIDs(view)
	labels := make(map[graph.NodeID]int, len(ids))
	for i, id := range ids {
		labels[id] = i
	}

	for iter := 0; iter < maxIterations; iter++ {
		changed := false
		for _, id := range ids {
			counts := map[int]int{}
			for _, n := range view.Outgoing[id] {
				counts[labels[n]]++
			}
			for _, n := range view.Incoming[id] {
				counts[labels[n]]++
			}
			if len(counts) == 0 {
				continue
			}
			best := labels[id]
			bestCount := 0
			for label, count := range counts {
				if count > bestCount || (count == bestCount && label < best) {
					best = label
					bestCount = count
				}
			}
			if best != labels[id] {
				labels[id] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return labels
}

// CommunitySizes groups label propagation output into label -> member count.
func CommunitySizes(labels map[graph.NodeID]int) map[int]int {
	sizes := make(map[int]int)
	for _, label := range labels {
		sizes[label]++
	}
	return sizes
}

func sortedNodeIDs(view *graph.View) []graph.NodeID {
	ids := make([]graph.NodeID, 0, len(view.Nodes))
	for id := range view.Nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}
