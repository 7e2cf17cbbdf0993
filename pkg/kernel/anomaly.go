package kernel

import (
	"math"

	"github.com/driftwatch/driftwatch/pkg/graph"
)

// epsilon matches the smallest meaningful spread for z-score math.
const epsilon = 2.220446049250313e-16

// anomalyThreshold is the cluster z-score above which a member counts
// as anomalous.
const anomalyThreshold = 2.0

// AnomalyClassification buckets a combined anomaly score.
type AnomalyClassification string

const (
	AnomalyNormal          AnomalyClassification = "normal"
	AnomalyMild            AnomalyClassification = "mild"
	AnomalyAnomalous       AnomalyClassification = "anomalous"
	AnomalyHighlyAnomalous AnomalyClassification = "highly_anomalous"
)

// ClassifyAnomalyScore maps a [0,1] score onto a classification.
func ClassifyAnomalyScore(score float64) AnomalyClassification {
	switch {
	case score < 0.3:
		return AnomalyNormal
	case score < 0.5:
		return AnomalyMild
	case score < 0.7:
		return AnomalyAnomalous
	default:
		return AnomalyHighlyAnomalous
	}
}

// AnomalyScore is the per-cluster deviation of one member.
type AnomalyScore struct {
	Score       float64 `json:"score"`
	IsAnomalous bool    `json:"is_anomalous"`
}

// ComputeAnomalyScore measures how far a feature vector sits from its
// cluster centroid, averaged over dimensions with nonzero spread.
func ComputeAnomalyScore(features, centroid, stdDev []float64) AnomalyScore {
	sum := 0.0
	dims := 0
	for i := range features {
		if i >= len(centroid) || i >= len(stdDev) {
			break
		}
		if stdDev[i] <= epsilon {
			continue
		}
		sum += math.Abs(features[i]-centroid[i]) / stdDev[i]
		dims++
	}
	score := 0.0
	if dims > 0 {
		score = sum / float64(dims)
	}
	return AnomalyScore{Score: score, IsAnomalous: score > anomalyThreshold}
}

// ClusterStdDev computes the per-dimension standard deviation of a set
// of vectors. With fewer than two vectors every dimension gets 1 so
// z-scores stay defined; computed deviations are floored at epsilon.
func ClusterStdDev(vectors [][]float64, dim int) []float64 {
	std := make([]float64, dim)
	if len(vectors) < 2 {
		for i := range std {
			std[i] = 1.0
		}
		return std
	}

	means := make([]float64, dim)
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			means[i] += v[i]
		}
	}
	for i := range means {
		means[i] /= float64(len(vectors))
	}

	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			d := v[i] - means[i]
			std[i] += d * d
		}
	}
	for i := range std {
		std[i] = math.Sqrt(std[i] / float64(len(vectors)))
		if std[i] < epsilon {
			std[i] = epsilon
		}
	}
	return std
}

// ComputePopulationStats returns per-dimension means and standard
// deviations over the whole population. Deviations are floored at
// epsilon so downstream z-scores never divide by zero.
func ComputePopulationStats(data [][]float64) (means, stddevs []float64) {
	if len(data) == 0 {
		return nil, nil
	}
	dim := len(data[0])
	means = make([]float64, dim)
	stddevs = make([]float64, dim)

	for _, v := range data {
		for i := 0; i < dim && i < len(v); i++ {
			means[i] += v[i]
		}
	}
	for i := range means {
		means[i] /= float64(len(data))
	}
	for _, v := range data {
		for i := 0; i < dim && i < len(v); i++ {
			d := v[i] - means[i]
			stddevs[i] += d * d
		}
	}
	for i := range stddevs {
		stddevs[i] = math.Sqrt(stddevs[i] / float64(len(data)))
		if stddevs[i] < epsilon {
			stddevs[i] = epsilon
		}
	}
	return means, stddevs
}

// StatisticalOutlierScore maps the largest per-dimension |z| onto
// [0,1], saturating at five standard deviations.
func StatisticalOutlierScore(features, means, stddevs []float64) float64 {
	maxZ := 0.0
	for i := range features {
		if i >= len(means) || i >= len(stddevs) {
			break
		}
		z := math.Abs(ZScore(features[i], means[i], stddevs[i]))
		if z > maxZ {
			maxZ = z
		}
	}
	score := maxZ / 5.0
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// DBSCANNoiseScore returns the fraction of the given members that the
// clustering marked as noise.
func DBSCANNoiseScore(members []graph.NodeID, result DBSCANResult) float64 {
	if len(members) == 0 {
		return 0
	}
	noise := make(map[graph.NodeID]struct{}, len(result.Noise))
	for _, id := range result.Noise {
		noise[id] = struct{}{}
	}
	count := 0
	for _, id := range members {
		if _, ok := noise[id]; ok {
			count++
		}
	}
	return float64(count) / float64(len(members))
}

// BehavioralDeviationScore turns cosine distance from a baseline
// vector into a [0,1] score.
func BehavioralDeviationScore(features, baseline []float64) float64 {
	score := 1.0 - CosineSimilarity(features, baseline)
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// GraphAnomalyScore flags structural oddities: far more neighbors than
// average suggests device or account proliferation, membership in many
// communities suggests cross-cluster behavior.
func GraphAnomalyScore(neighborCount int, avgNeighborCount float64, communityCount int) float64 {
	score := 0.0
	if float64(neighborCount) > 3.0*avgNeighborCount {
		score += 0.5
	}
	if communityCount > 3 {
		score += 0.3
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// CosineSimilarity returns the cosine of the angle between two
// vectors, clamped to [-1,1]. Zero-norm inputs yield 0.
func CosineSimilarity(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	dot, normA, normB := 0.0, 0.0, 0.0
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	for _, v := range a {
		normA += v * v
	}
	for _, v := range b {
		normB += v * v
	}
	if normA <= 0 || normB <= 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		return 1
	}
	if sim < -1 {
		return -1
	}
	return sim
}

// AnomalySignals are the weighted component scores behind a combined
// anomaly verdict.
type AnomalySignals struct {
	Statistical float64 `json:"statistical"`
	DBSCANNoise float64 `json:"dbscan_noise"`
	Behavioral  float64 `json:"behavioral"`
	Graph       float64 `json:"graph"`
}

// AnomalyResult is the combined multi-signal score for one member.
type AnomalyResult struct {
	Score          float64               `json:"score"`
	Classification AnomalyClassification `json:"classification"`
	Signals        AnomalySignals        `json:"signals"`
}

// MultiSignalScore combines the four anomaly signals with fixed
// weights: 0.2 statistical, 0.3 noise, 0.3 behavioral, 0.2 graph.
func MultiSignalScore(statistical, dbscanNoise, behavioral, graphScore float64) AnomalyResult {
	score := 0.2*statistical + 0.3*dbscanNoise + 0.3*behavioral + 0.2*graphScore
	return AnomalyResult{
		Score:          score,
		Classification: ClassifyAnomalyScore(score),
		Signals: AnomalySignals{
			Statistical: statistical,
			DBSCANNoise: dbscanNoise,
			Behavioral:  behavioral,
			Graph:       graphScore,
		},
	}
}
