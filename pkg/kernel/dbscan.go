package kernel

import "github.com/driftwatch/driftwatch/pkg/graph"

// Point is a member feature vector fed into density clustering.
type Point struct {
	ID     graph.NodeID
	Vector []float64
}

// DBSCANResult maps each clustered member to its cluster id and lists
// the members classified as noise.
type DBSCANResult struct {
	Clusters    map[graph.NodeID]int
	Noise       []graph.NodeID
	NumClusters int
}

// DBSCAN runs density-based clustering over the given points. eps is
// the neighborhood radius (Euclidean), minPts the minimum neighborhood
// size (including the point itself) to seed a cluster.
func DBSCAN(points []Point, eps float64, minPts int) DBSCANResult {
	result := DBSCANResult{Clusters: make(map[graph.NodeID]int)}
	if len(points) == 0 {
		return result
	}

	epsSq := eps * eps
	neighbors := make([][]int, len(points))
	for i := range points {
		for j := range points {
			if squaredDistance(points[i].Vector, points[j].Vector) <= epsSq {
				neighbors[i] = append(neighbors[i], j)
			}
		}
	}

	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	clusterID := 0
	for i := range points {
		if labels[i] != -1 {
			continue
		}
		if len(neighbors[i]) < minPts {
			continue
		}

		labels[i] = clusterID
		queue := append([]int(nil), neighbors[i]...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] != -1 {
				continue
			}
			labels[j] = clusterID
			if len(neighbors[j]) >= minPts {
				queue = append(queue, neighbors[j]...)
			}
		}
		clusterID++
	}

	for i, p := range points {
		if labels[i] == -1 {
			result.Noise = append(result.Noise, p.ID)
		} else {
			result.Clusters[p.ID] = labels[i]
		}
	}
	result.NumClusters = clusterID
	return result
}

func squaredDistance(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
