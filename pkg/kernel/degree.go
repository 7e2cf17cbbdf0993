package kernel

import "github.com/driftwatch/driftwatch/pkg/graph"

// Degree holds the in/out/total edge counts for a single node.
type Degree struct {
	In    int `json:"in"`
	Out   int `json:"out"`
	Total int `json:"total"`
}

// DegreeCentrality counts incoming, outgoing and total edges per node.
func DegreeCentrality(view *graph.View) map[graph.NodeID]Degree {
	result := make(map[graph.NodeID]Degree, len(view.Nodes))
	for id := range view.Nodes {
		in := len(view.Incoming[id])
		out := len(view.Outgoing[id])
		result[id] = Degree{In: in, Out: out, Total: in + out}
	}
	return result
}
