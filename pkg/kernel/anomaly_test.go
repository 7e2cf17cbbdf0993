package kernel

import (
	"math"
	"testing"

	"github.com/driftwatch/driftwatch/pkg/graph"
)

func TestComputeAnomalyScoreNormalPoint(t *testing.T) {
	score := ComputeAnomalyScore([]float64{1, 2, 3}, []float64{1, 2, 3}, []float64{1, 1, 1})
	if score.Score != 0 {
		t.Errorf("score = %f, want 0", score.Score)
	}
	if score.IsAnomalous {
		t.Error("point at centroid should not be anomalous")
	}
}

func TestComputeAnomalyScoreOutlier(t *testing.T) {
	score := ComputeAnomalyScore([]float64{10, 20, 30}, []float64{1, 2, 3}, []float64{1, 1, 1})
	if score.Score <= 2 {
		t.Errorf("score = %f, want > 2", score.Score)
	}
	if !score.IsAnomalous {
		t.Error("distant point should be anomalous")
	}
}

func TestComputeAnomalyScoreSkipsZeroStdDims(t *testing.T) {
	score := ComputeAnomalyScore([]float64{5, 2}, []float64{1, 2}, []float64{0, 1})
	if score.Score != 0 {
		t.Errorf("score = %f, want 0 (only second dim contributes)", score.Score)
	}
}

func TestComputeAnomalyScoreEmpty(t *testing.T) {
	score := ComputeAnomalyScore(nil, nil, nil)
	if score.Score != 0 || score.IsAnomalous {
		t.Fatalf("empty input should be neutral, got %+v", score)
	}
}

func TestClusterStdDev(t *testing.T) {
	vectors := [][]float64{{1, 2}, {3, 4}}
	std := ClusterStdDev(vectors, 2)
	if math.Abs(std[0]-1) > 1e-10 || math.Abs(std[1]-1) > 1e-10 {
		t.Errorf("std = %v, want [1 1]", std)
	}

	single := ClusterStdDev([][]float64{{1, 2}}, 2)
	if single[0] != 1 || single[1] != 1 {
		t.Errorf("single vector should default std to 1, got %v", single)
	}
}

func TestStatisticalOutlierScore(t *testing.T) {
	tests := []struct {
		name     string
		features []float64
		means    []float64
		stddevs  []float64
		want     float64
	}{
		{"at mean", []float64{1, 2, 3}, []float64{1, 2, 3}, []float64{1, 1, 1}, 0},
		{"extreme clamps to one", []float64{11}, []float64{1}, []float64{1}, 1},
		{"moderate", []float64{3.5}, []float64{1}, []float64{1}, 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StatisticalOutlierScore(tt.features, tt.means, tt.stddevs)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("score = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestDBSCANNoiseScore(t *testing.T) {
	id1 := graph.NewNodeID(graph.EntityMember, "member:M001")
	id2 := graph.NewNodeID(graph.EntityMember, "member:M002")

	allNoise := DBSCANResult{Noise: []graph.NodeID{id1, id2}}
	if got := DBSCANNoiseScore([]graph.NodeID{id1, id2}, allNoise); got != 1 {
		t.Errorf("all noise = %f, want 1", got)
	}

	noNoise := DBSCANResult{Clusters: map[graph.NodeID]int{id1: 0}, NumClusters: 1}
	if got := DBSCANNoiseScore([]graph.NodeID{id1}, noNoise); got != 0 {
		t.Errorf("no noise = %f, want 0", got)
	}

	partial := DBSCANResult{Clusters: map[graph.NodeID]int{id1: 0}, Noise: []graph.NodeID{id2}, NumClusters: 1}
	if got := DBSCANNoiseScore([]graph.NodeID{id1, id2}, partial); got != 0.5 {
		t.Errorf("partial noise = %f, want 0.5", got)
	}
}

func TestBehavioralDeviationScore(t *testing.T) {
	same := []float64{1, 2, 3}
	if got := BehavioralDeviationScore(same, same); got >= 0.01 {
		t.Errorf("identical vectors = %f, want ~0", got)
	}
	if got := BehavioralDeviationScore([]float64{1, 0}, []float64{0, 1}); got != 1 {
		t.Errorf("orthogonal vectors = %f, want 1", got)
	}
	if got := BehavioralDeviationScore(nil, nil); got > 1 {
		t.Errorf("empty vectors = %f, want <= 1", got)
	}
}

func TestGraphAnomalyScore(t *testing.T) {
	tests := []struct {
		name        string
		neighbors   int
		avg         float64
		communities int
		want        float64
	}{
		{"normal", 5, 5, 1, 0},
		{"device proliferation", 20, 5, 1, 0.5},
		{"cross community", 5, 5, 5, 0.3},
		{"both", 20, 5, 5, 0.8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GraphAnomalyScore(tt.neighbors, tt.avg, tt.communities)
			if math.Abs(got-tt.want) > 1e-10 {
				t.Errorf("score = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float64{1, 2, 3}
	if got := CosineSimilarity(a, a); math.Abs(got-1) > 1e-10 {
		t.Errorf("identical = %f, want 1", got)
	}
	if got := CosineSimilarity([]float64{1, 0}, []float64{0, 1}); math.Abs(got) > 1e-10 {
		t.Errorf("orthogonal = %f, want 0", got)
	}
	if got := CosineSimilarity(nil, []float64{1}); got != 0 {
		t.Errorf("zero norm = %f, want 0", got)
	}
}

func TestComputePopulationStats(t *testing.T) {
	means, stddevs := ComputePopulationStats([][]float64{{1, 2}, {3, 4}})
	if len(means) != 2 || len(stddevs) != 2 {
		t.Fatalf("lengths = %d/%d, want 2/2", len(means), len(stddevs))
	}
	if math.Abs(means[0]-2) > 1e-10 || math.Abs(means[1]-3) > 1e-10 {
		t.Errorf("means = %v, want [2 3]", means)
	}
	if stddevs[0] <= 0 {
		t.Errorf("stddev should be positive, got %v", stddevs)
	}

	emptyMeans, emptyStddevs := ComputePopulationStats(nil)
	if emptyMeans != nil || emptyStddevs != nil {
		t.Error("empty population should yield nil stats")
	}
}

func TestMultiSignalScore(t *testing.T) {
	normal := MultiSignalScore(0, 0, 0, 0)
	if normal.Score != 0 || normal.Classification != AnomalyNormal {
		t.Errorf("all-zero signals = %+v", normal)
	}

	high := MultiSignalScore(1, 1, 1, 1)
	if math.Abs(high.Score-1) > 1e-10 || high.Classification != AnomalyHighlyAnomalous {
		t.Errorf("all-one signals = %+v", high)
	}

	// 0.2*0.5 + 0.3*0.8 = 0.34
	mixed := MultiSignalScore(0.5, 0.8, 0, 0)
	if math.Abs(mixed.Score-0.34) > 1e-10 {
		t.Errorf("mixed score = %f, want 0.34", mixed.Score)
	}
	if mixed.Classification != AnomalyMild {
		t.Errorf("mixed classification = %s, want mild", mixed.Classification)
	}
	if mixed.Signals.Statistical != 0.5 || mixed.Signals.DBSCANNoise != 0.8 {
		t.Errorf("signals not carried: %+v", mixed.Signals)
	}
}

func TestClassifyAnomalyScore(t *testing.T) {
	tests := []struct {
		score float64
		want  AnomalyClassification
	}{
		{0.0, AnomalyNormal},
		{0.29, AnomalyNormal},
		{0.3, AnomalyMild},
		{0.49, AnomalyMild},
		{0.5, AnomalyAnomalous},
		{0.69, AnomalyAnomalous},
		{0.7, AnomalyHighlyAnomalous},
		{1.0, AnomalyHighlyAnomalous},
	}
	for _, tt := range tests {
		if got := ClassifyAnomalyScore(tt.score); got != tt.want {
			t.Errorf("ClassifyAnomalyScore(%f) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
