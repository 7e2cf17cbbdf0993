package knowledge

import (
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/pkg/graph"
	"github.com/driftwatch/driftwatch/pkg/kernel"
)

// maxInsights bounds the proactive insights queue.
const maxInsights = 10000

// InsightSeverity grades a proactive insight.
type InsightSeverity string

const (
	InsightInfo     InsightSeverity = "info"
	InsightWarning  InsightSeverity = "warning"
	InsightCritical InsightSeverity = "critical"
)

// Insight is a proactive finding pushed by the compute pipeline.
type Insight struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	Severity     InsightSeverity `json:"severity"`
	CreatedAt    time.Time       `json:"created_at"`
	RelatedNodes []graph.NodeID  `json:"related_nodes,omitempty"`
}

// ClusterInfo describes one DBSCAN cluster.
type ClusterInfo struct {
	ID          int       `json:"id"`
	Centroid    []float64 `json:"centroid"`
	MemberCount int       `json:"member_count"`
}

// State is the shared materialized knowledge produced by compute
// passes. The computing task is the only writer; the HTTP layer and
// rule evaluator read snapshots.
type State struct {
	mu sync.RWMutex

	clusters     map[graph.NodeID]int
	clusterInfo  map[int]ClusterInfo
	noise        []graph.NodeID
	communities  map[graph.NodeID]int
	pagerank     map[graph.NodeID]float64
	degrees      map[graph.NodeID]kernel.Degree
	anomalies    map[graph.NodeID]kernel.AnomalyResult
	patterns     []kernel.TemporalPattern
	cooccurrence kernel.Cooccurrence
	trends       map[string]kernel.Trend
	insights     []Insight
}

// NewState returns an empty knowledge state.
func NewState() *State {
	return &State{
		clusters:     make(map[graph.NodeID]int),
		clusterInfo:  make(map[int]ClusterInfo),
		communities:  make(map[graph.NodeID]int),
		pagerank:     make(map[graph.NodeID]float64),
		degrees:      make(map[graph.NodeID]kernel.Degree),
		anomalies:    make(map[graph.NodeID]kernel.AnomalyResult),
		cooccurrence: kernel.Cooccurrence{},
		trends:       make(map[string]kernel.Trend),
	}
}

// SetPagerank replaces the published PageRank scores.
func (s *State) SetPagerank(scores map[graph.NodeID]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pagerank = scores
}

// SetDegrees replaces the published degree centrality.
func (s *State) SetDegrees(degrees map[graph.NodeID]kernel.Degree) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.degrees = degrees
}

// SetCommunities replaces the published community labels.
func (s *State) SetCommunities(labels map[graph.NodeID]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.communities = labels
}

// SetClustering replaces cluster assignments, metadata and the noise set.
func (s *State) SetClustering(result kernel.DBSCANResult, info map[int]ClusterInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clusters = result.Clusters
	s.noise = result.Noise
	s.clusterInfo = info
}

// SetAnomalies replaces the published anomaly scores.
func (s *State) SetAnomalies(anomalies map[graph.NodeID]kernel.AnomalyResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anomalies = anomalies
}

// SetPatterns replaces the published sequential patterns.
func (s *State) SetPatterns(patterns []kernel.TemporalPattern) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = patterns
}

// SetCooccurrence replaces the published co-occurrence matrices.
func (s *State) SetCooccurrence(cooc kernel.Cooccurrence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooccurrence = cooc
}

// RecordTrends stores the latest trend per metric.
func (s *State) RecordTrends(trends []kernel.Trend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range trends {
		s.trends[t.Metric] = t
	}
}

// PushInsight appends an insight, evicting the oldest past the cap.
func (s *State) PushInsight(insight Insight) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights = append(s.insights, insight)
	if len(s.insights) > maxInsights {
		s.insights = s.insights[len(s.insights)-maxInsights:]
	}
}

// Pagerank returns a copy of the published PageRank scores.
func (s *State) Pagerank() map[graph.NodeID]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[graph.NodeID]float64, len(s.pagerank))
	for k, v := range s.pagerank {
		out[k] = v
	}
	return out
}

// Degrees returns a copy of the published degree centrality.
func (s *State) Degrees() map[graph.NodeID]kernel.Degree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[graph.NodeID]kernel.Degree, len(s.degrees))
	for k, v := range s.degrees {
		out[k] = v
	}
	return out
}

// Communities returns a copy of the published community labels.
func (s *State) Communities() map[graph.NodeID]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[graph.NodeID]int, len(s.communities))
	for k, v := range s.communities {
		out[k] = v
	}
	return out
}

// Clustering returns copies of cluster assignments, metadata and noise.
func (s *State) Clustering() (map[graph.NodeID]int, map[int]ClusterInfo, []graph.NodeID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	clusters := make(map[graph.NodeID]int, len(s.clusters))
	for k, v := range s.clusters {
		clusters[k] = v
	}
	info := make(map[int]ClusterInfo, len(s.clusterInfo))
	for k, v := range s.clusterInfo {
		info[k] = v
	}
	noise := append([]graph.NodeID(nil), s.noise...)
	return clusters, info, noise
}

// Anomalies returns a copy of the published anomaly scores.
func (s *State) Anomalies() map[graph.NodeID]kernel.AnomalyResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[graph.NodeID]kernel.AnomalyResult, len(s.anomalies))
	for k, v := range s.anomalies {
		out[k] = v
	}
	return out
}

// Anomaly returns the published anomaly score for one node.
func (s *State) Anomaly(id graph.NodeID) (kernel.AnomalyResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.anomalies[id]
	return r, ok
}

// Patterns returns a copy of the published sequential patterns.
func (s *State) Patterns() []kernel.TemporalPattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]kernel.TemporalPattern(nil), s.patterns...)
}

// CooccurrencePMI returns the PMI overlay for one entity type pair.
func (s *State) CooccurrencePMI(pair kernel.TypePair) (map[string]float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matrix, ok := s.cooccurrence[pair]
	if !ok {
		return nil, false
	}
	out := make(map[string]float64, len(matrix.PMI))
	for k, v := range matrix.PMI {
		out[k] = v
	}
	return out, true
}

// Trends returns a copy of the latest trend per metric.
func (s *State) Trends() map[string]kernel.Trend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]kernel.Trend, len(s.trends))
	for k, v := range s.trends {
		out[k] = v
	}
	return out
}

// Insights returns up to limit most recent insights, newest first.
func (s *State) Insights(limit int) []Insight {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := len(s.insights)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Insight, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.insights[i])
	}
	return out
}

// Summary counts what the state currently holds.
type Summary struct {
	Clusters    int `json:"clusters"`
	Communities int `json:"communities"`
	Pagerank    int `json:"pagerank"`
	Anomalies   int `json:"anomalies"`
	Patterns    int `json:"patterns"`
	Trends      int `json:"trends"`
	Insights    int `json:"insights"`
}

// Summarize reports the current sizes for the stats endpoint.
func (s *State) Summarize() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		Clusters:    len(s.clusterInfo),
		Communities: len(s.communities),
		Pagerank:    len(s.pagerank),
		Anomalies:   len(s.anomalies),
		Patterns:    len(s.patterns),
		Trends:      len(s.trends),
		Insights:    len(s.insights),
	}
}
