package kernel

import (
	"math"

	"github.com/driftwatch/driftwatch/pkg/graph"
)

const (
	// PagerankDamping is the standard damping factor.
	PagerankDamping = 0.85
	// PagerankMaxIterations bounds the power iteration.
	PagerankMaxIterations = 100
	// PagerankConvergence is the L1 delta below which iteration stops.
	PagerankConvergence = 1e-6
)

// Pagerank computes PageRank scores over a graph view using power
// iteration. Scores sum to approximately 1 across all nodes.
func Pagerank(view *graph.View, damping float64, maxIterations int, convergence float64) map[graph.NodeID]float64 {
	n := len(view.Nodes)
	if n == 0 {
		return map[graph.NodeID]float64{}
	}

	scores := make(map[graph.NodeID]float64, n)
	outDegree := make(map[graph.NodeID]int, n)
	initial := 1.0 / float64(n)
	for id := range view.Nodes {
		scores[id] = initial
		outDegree[id] = len(view.Outgoing[id])
	}

	base := (1.0 - damping) / float64(n)
	for iter := 0; iter < maxIterations; iter++ {
		next := make(map[graph.NodeID]float64, n)
		for id := range view.Nodes {
			sum := 0.0
			for _, source := range view.Incoming[id] {
				deg := outDegree[source]
				if deg == 0 {
					deg = 1
				}
				sum += scores[source] / float64(deg)
			}
			next[id] = base + damping*sum
		}

		delta := 0.0
		for id, s := range next {
			delta += math.Abs(s - scores[id])
		}
		scores = next
		if delta < convergence {
			break
		}
	}
	return scores
}
