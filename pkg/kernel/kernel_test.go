package kernel

import (
	"math"
	"testing"

	"github.com/driftwatch/driftwatch/pkg/graph"
)

func buildStarGraph(t *testing.T) (*graph.Store, graph.NodeID) {
	t.Helper()
	g := graph.NewStore()
	hub := g.UpsertNode(graph.EntityGame, "game:hub", "seg-1")
	for _, member := range []string{"member:m1", "member:m2", "member:m3"} {
		id := g.UpsertNode(graph.EntityMember, member, "seg-1")
		g.AddEdge(id, hub, graph.EdgeOpenedGame, "seg-1")
	}
	return g, hub
}

func TestPagerankEmptyGraph(t *testing.T) {
	g := graph.NewStore()
	scores := Pagerank(g.View(), PagerankDamping, PagerankMaxIterations, PagerankConvergence)
	if len(scores) != 0 {
		t.Fatalf("expected empty scores, got %d", len(scores))
	}
}

func TestPagerankStarGraph(t *testing.T) {
	g, hub := buildStarGraph(t)
	scores := Pagerank(g.View(), PagerankDamping, PagerankMaxIterations, PagerankConvergence)
	if len(scores) != 4 {
		t.Fatalf("expected 4 scores, got %d", len(scores))
	}

	sum := 0.0
	for id, s := range scores {
		sum += s
		if id != hub && s >= scores[hub] {
			t.Errorf("hub should outrank spoke %s: %f vs %f", id, scores[hub], s)
		}
	}
	if math.Abs(sum-1.0) > 0.01 {
		t.Errorf("scores should sum to ~1, got %f", sum)
	}
}

func TestPagerankDeterministic(t *testing.T) {
	g, _ := buildStarGraph(t)
	a := Pagerank(g.View(), PagerankDamping, PagerankMaxIterations, PagerankConvergence)
	b := Pagerank(g.View(), PagerankDamping, PagerankMaxIterations, PagerankConvergence)
	for id, s := range a {
		if b[id] != s {
			t.Fatalf("scores differ for %s: %f vs %f", id, s, b[id])
		}
	}
}

func TestDegreeCentrality(t *testing.T) {
	g, hub := buildStarGraph(t)
	degrees := DegreeCentrality(g.View())

	if d := degrees[hub]; d.In != 3 || d.Out != 0 || d.Total != 3 {
		t.Errorf("hub degree = %+v, want in=3 out=0 total=3", d)
	}
	spoke, _ := g.NodeByKey(graph.EntityMember, "member:m1")
	if d := degrees[spoke.ID]; d.In != 0 || d.Out != 1 || d.Total != 1 {
		t.Errorf("spoke degree = %+v, want in=0 out=1 total=1", d)
	}
}

func TestLabelPropagationTwoComponents(t *testing.T) {
	g := graph.NewStore()
	a1 := g.UpsertNode(graph.EntityMember, "member:a1", "s")
	a2 := g.UpsertNode(graph.EntityMember, "member:a2", "s")
	a3 := g.UpsertNode(graph.EntityMember, "member:a3", "s")
	b1 := g.UpsertNode(graph.EntityMember, "member:b1", "s")
	b2 := g.UpsertNode(graph.EntityMember, "member:b2", "s")

	g.AddEdge(a1, a2, graph.EdgeLoggedInFrom, "s")
	g.AddEdge(a2, a3, graph.EdgeLoggedInFrom, "s")
	g.AddEdge(a3, a1, graph.EdgeLoggedInFrom, "s")
	g.AddEdge(b1, b2, graph.EdgeLoggedInFrom, "s")

	labels := LabelPropagation(g.View(), LabelPropIterations)

	if labels[a1] != labels[a2] || labels[a2] != labels[a3] {
		t.Errorf("triangle should share a label: %d %d %d", labels[a1], labels[a2], labels[a3])
	}
	if labels[b1] != labels[b2] {
		t.Errorf("pair should share a label: %d %d", labels[b1], labels[b2])
	}
	if labels[a1] == labels[b1] {
		t.Errorf("disconnected components should not share a label")
	}

	sizes := CommunitySizes(labels)
	if len(sizes) != 2 {
		t.Errorf("expected 2 communities, got %d", len(sizes))
	}
}

func TestLabelPropagationIsolatedNode(t *testing.T) {
	g := graph.NewStore()
	solo := g.UpsertNode(graph.EntityMember, "member:solo", "s")
	labels := LabelPropagation(g.View(), LabelPropIterations)
	if _, ok := labels[solo]; !ok {
		t.Fatal("isolated node should keep its own label")
	}
}

func TestLabelPropagationDeterministic(t *testing.T) {
	g := graph.NewStore()
	ids := make([]graph.NodeID, 6)
	for i, key := range []string{"member:a", "member:b", "member:c", "member:d", "member:e", "member:f"} {
		ids[i] = g.UpsertNode(graph.EntityMember, key, "s")
	}
	for i := 0; i < 5; i++ {
		g.AddEdge(ids[i], ids[i+1], graph.EdgeLoggedInFrom, "s")
	}

	first := LabelPropagation(g.View(), LabelPropIterations)
	for i := 0; i < 5; i++ {
		again := LabelPropagation(g.View(), LabelPropIterations)
		for id, label := range first {
			if again[id] != label {
				t.Fatalf("run %d differs for %s: %d vs %d", i, id, label, again[id])
			}
		}
	}
}

func makePoint(key string, vector ...float64) Point {
	return Point{ID: graph.NewNodeID(graph.EntityMember, "member:"+key), Vector: vector}
}

func TestDBSCANTwoClusters(t *testing.T) {
	points := []Point{
		makePoint("a1", 0, 0), makePoint("a2", 0.1, 0), makePoint("a3", 0, 0.1),
		makePoint("b1", 10, 10), makePoint("b2", 10.1, 10), makePoint("b3", 10, 10.1),
	}
	result := DBSCAN(points, 0.5, 3)

	if result.NumClusters != 2 {
		t.Fatalf("expected 2 clusters, got %d", result.NumClusters)
	}
	if len(result.Noise) != 0 {
		t.Fatalf("expected no noise, got %d", len(result.Noise))
	}
	if result.Clusters[points[0].ID] != result.Clusters[points[1].ID] {
		t.Error("a1 and a2 should share a cluster")
	}
	if result.Clusters[points[0].ID] == result.Clusters[points[3].ID] {
		t.Error("a1 and b1 should be in different clusters")
	}
}

func TestDBSCANNoisePoint(t *testing.T) {
	points := []Point{
		makePoint("a1", 0, 0), makePoint("a2", 0.1, 0), makePoint("a3", 0, 0.1),
		makePoint("outlier", 100, 100),
	}
	result := DBSCAN(points, 0.5, 3)

	if len(result.Noise) != 1 || result.Noise[0] != points[3].ID {
		t.Fatalf("expected outlier as noise, got %v", result.Noise)
	}
	if _, ok := result.Clusters[points[3].ID]; ok {
		t.Error("noise point should not be assigned a cluster")
	}
}

func TestDBSCANAllNoise(t *testing.T) {
	points := []Point{
		makePoint("a", 0, 0), makePoint("b", 10, 10), makePoint("c", 20, 20),
	}
	result := DBSCAN(points, 0.5, 2)
	if result.NumClusters != 0 {
		t.Errorf("expected 0 clusters, got %d", result.NumClusters)
	}
	if len(result.Noise) != 3 {
		t.Errorf("expected 3 noise points, got %d", len(result.Noise))
	}
}

func TestDBSCANEmptyInput(t *testing.T) {
	result := DBSCAN(nil, 0.5, 3)
	if result.NumClusters != 0 || len(result.Noise) != 0 || len(result.Clusters) != 0 {
		t.Fatalf("empty input should yield empty result, got %+v", result)
	}
}

func TestDBSCANDeterministic(t *testing.T) {
	points := []Point{
		makePoint("a1", 0, 0), makePoint("a2", 0.2, 0), makePoint("a3", 0.4, 0),
		makePoint("b1", 5, 5), makePoint("b2", 5.2, 5),
		makePoint("lone", 50, 50),
	}
	first := DBSCAN(points, 0.5, 2)
	for i := 0; i < 5; i++ {
		again := DBSCAN(points, 0.5, 2)
		if again.NumClusters != first.NumClusters || len(again.Noise) != len(first.Noise) {
			t.Fatalf("run %d differs: %+v vs %+v", i, again, first)
		}
		for id, cluster := range first.Clusters {
			if again.Clusters[id] != cluster {
				t.Fatalf("run %d assigns %s to %d, want %d", i, id, again.Clusters[id], cluster)
			}
		}
	}
}

func TestDBSCANMinPtsCountsSelf(t *testing.T) {
	// Two points within eps of each other: with minPts=2 each
	// neighborhood is {self, other} and both cluster.
	points := []Point{makePoint("a", 0, 0), makePoint("b", 0.1, 0)}
	result := DBSCAN(points, 0.5, 2)
	if result.NumClusters != 1 {
		t.Fatalf("expected 1 cluster, got %d", result.NumClusters)
	}
	if len(result.Clusters) != 2 {
		t.Fatalf("expected both points clustered, got %d", len(result.Clusters))
	}
}
