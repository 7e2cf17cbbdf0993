package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/driftwatch/driftwatch/pkg/event"
	"github.com/driftwatch/driftwatch/pkg/feature"
	"github.com/driftwatch/driftwatch/pkg/graph"
	"github.com/driftwatch/driftwatch/pkg/kernel"
	"github.com/driftwatch/driftwatch/pkg/knowledge"
	"github.com/driftwatch/driftwatch/pkg/logger"
)

// Config tunes the warm compute pass.
type Config struct {
	DBSCANEps      float64
	DBSCANMinPts   int
	PrefixSpan     kernel.PrefixSpanConfig
	RecentEventCap int
}

// DefaultConfig returns the standard pipeline tuning.
func DefaultConfig() Config {
	return Config{
		DBSCANEps:      0.5,
		DBSCANMinPts:   5,
		PrefixSpan:     kernel.DefaultPrefixSpanConfig(),
		RecentEventCap: 100000,
	}
}

// Metrics reports pipeline throughput for the stats endpoint.
type Metrics struct {
	HotEvents       uint64        `json:"hot_events"`
	HotBatches      uint64        `json:"hot_batches"`
	WarmRuns        uint64        `json:"warm_runs"`
	WarmLastRun     time.Time     `json:"warm_last_run"`
	WarmLastElapsed time.Duration `json:"warm_last_elapsed"`
	WarmLastEvents  int           `json:"warm_last_events"`
}

// Pipeline connects the hot ingest path to the warm analytical pass.
// The hot path keeps the graph, feature store and co-occurrence
// counters current per event; the warm pass runs the batch kernels and
// publishes results into the knowledge state.
type Pipeline struct {
	graph    *graph.Store
	features *feature.Store
	state    *knowledge.State
	cfg      Config

	mu      sync.Mutex
	recent  []event.Event
	trend   *kernel.TrendDetector
	cooc    kernel.Cooccurrence
	metrics Metrics

	warmMu sync.Mutex
	dirty  atomic.Bool
}

// New wires a pipeline over shared graph, feature and knowledge state.
func New(g *graph.Store, features *feature.Store, state *knowledge.State, cfg Config) *Pipeline {
	if cfg.RecentEventCap <= 0 {
		cfg.RecentEventCap = DefaultConfig().RecentEventCap
	}
	return &Pipeline{
		graph:    g,
		features: features,
		state:    state,
		cfg:      cfg,
		trend:    kernel.NewTrendDetector(),
		cooc:     kernel.Cooccurrence{},
	}
}

// HotConnect applies a batch of freshly committed events: graph
// projections, feature accumulators and co-occurrence counters. The
// events are buffered for the next warm pass and the dirty bit is set.
func (p *Pipeline) HotConnect(segmentID string, events []event.Event) int {
	if len(events) == 0 {
		return 0
	}
	start := time.Now()

	for i := range events {
		for _, op := range graph.ExtractOps(events[i], nil) {
			p.graph.Apply(op, segmentID)
		}
		p.features.Update(events[i])
	}

	p.mu.Lock()
	p.cooc.Update(events)
	p.recent = append(p.recent, events...)
	if len(p.recent) > p.cfg.RecentEventCap {
		p.recent = p.recent[len(p.recent)-p.cfg.RecentEventCap:]
	}
	p.metrics.HotEvents += uint64(len(events))
	p.metrics.HotBatches++
	p.mu.Unlock()

	p.dirty.Store(true)

	logger.Debug("[Pipeline] Hot batch applied",
		"segment", segmentID, "events", len(events), "elapsed", time.Since(start))
	return len(events)
}

// Dirty reports whether events arrived since the last warm pass.
func (p *Pipeline) Dirty() bool { return p.dirty.Load() }

// MarkDirty forces the next warm pass to run.
func (p *Pipeline) MarkDirty() { p.dirty.Store(true) }

// Metrics returns a copy of the current throughput counters.
func (p *Pipeline) Metrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics
}

// WarmCompute runs the batch kernels over the current graph, feature
// matrix and buffered events, then publishes everything into the
// knowledge state. Concurrent calls coalesce: a call that finds a pass
// in flight re-arms the dirty bit and returns.
func (p *Pipeline) WarmCompute(ctx context.Context) error {
	if !p.warmMu.TryLock() {
		p.dirty.Store(true)
		return nil
	}
	defer p.warmMu.Unlock()
	p.dirty.Store(false)

	start := time.Now()

	p.mu.Lock()
	batch := p.recent
	p.recent = nil
	p.mu.Unlock()

	view := p.graph.View()

	// Graph kernels.
	pagerank := kernel.Pagerank(view, kernel.PagerankDamping, kernel.PagerankMaxIterations, kernel.PagerankConvergence)
	degrees := kernel.DegreeCentrality(view)
	communities := kernel.LabelPropagation(view, kernel.LabelPropIterations)
	p.state.SetPagerank(pagerank)
	p.state.SetDegrees(degrees)
	p.state.SetCommunities(communities)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Density clustering over the member feature matrix.
	ids, vectors := p.features.Matrix()
	points := make([]kernel.Point, len(ids))
	for i, id := range ids {
		points[i] = kernel.Point{ID: id, Vector: vectors[i]}
	}
	clustering := kernel.DBSCAN(points, p.cfg.DBSCANEps, p.cfg.DBSCANMinPts)

	clusterVectors := make(map[int][][]float64)
	for i, id := range ids {
		if cluster, ok := clustering.Clusters[id]; ok {
			clusterVectors[cluster] = append(clusterVectors[cluster], vectors[i])
		}
	}
	clusterInfo := make(map[int]knowledge.ClusterInfo, len(clusterVectors))
	centroids := make(map[int][]float64, len(clusterVectors))
	for cluster, members := range clusterVectors {
		centroid := meanVector(members, feature.Dim)
		centroids[cluster] = centroid
		clusterInfo[cluster] = knowledge.ClusterInfo{
			ID:          cluster,
			Centroid:    centroid,
			MemberCount: len(members),
		}
	}
	p.state.SetClustering(clustering, clusterInfo)

	// Multi-signal anomaly scoring.
	anomalies := p.scoreMembers(ids, vectors, clustering, centroids, communities)
	p.state.SetAnomalies(anomalies)
	p.pushAnomalyInsights(anomalies)

	if ctx.Err() != nil {
		return ctx.Err()
	}

	// Trend detection over the buffered batch.
	trends := p.trend.Detect(kernel.ExtractMetrics(batch))
	p.state.RecordTrends(trends)
	p.pushTrendInsights(trends)

	// Sequential pattern mining.
	patterns := kernel.PrefixSpan(kernel.BuildSequences(batch), p.cfg.PrefixSpan)
	p.state.SetPatterns(patterns)

	// PMI refresh over the accumulated co-occurrence counters.
	p.mu.Lock()
	p.cooc.ComputeAllPMI()
	published := make(kernel.Cooccurrence, len(p.cooc))
	for pair, matrix := range p.cooc {
		copied := *matrix
		published[pair] = &copied
	}
	elapsed := time.Since(start)
	p.metrics.WarmRuns++
	p.metrics.WarmLastRun = time.Now().UTC()
	p.metrics.WarmLastElapsed = elapsed
	p.metrics.WarmLastEvents = len(batch)
	p.mu.Unlock()
	p.state.SetCooccurrence(published)

	logger.Info("[Pipeline] Warm compute complete",
		"events", len(batch),
		"members", len(ids),
		"clusters", clustering.NumClusters,
		"anomalies", len(anomalies),
		"trends", len(trends),
		"patterns", len(patterns),
		"elapsed", elapsed)
	return nil
}

func (p *Pipeline) scoreMembers(
	ids []graph.NodeID,
	vectors [][]float64,
	clustering kernel.DBSCANResult,
	centroids map[int][]float64,
	communities map[graph.NodeID]int,
) map[graph.NodeID]kernel.AnomalyResult {
	if len(ids) == 0 {
		return map[graph.NodeID]kernel.AnomalyResult{}
	}

	means, stddevs := kernel.ComputePopulationStats(vectors)

	noise := make(map[graph.NodeID]struct{}, len(clustering.Noise))
	for _, id := range clustering.Noise {
		noise[id] = struct{}{}
	}

	neighborCounts := make(map[graph.NodeID]int, len(ids))
	totalNeighbors := 0
	for _, id := range ids {
		n := len(p.graph.Neighbors(id))
		neighborCounts[id] = n
		totalNeighbors += n
	}
	avgNeighbors := float64(totalNeighbors) / float64(len(ids))

	results := make(map[graph.NodeID]kernel.AnomalyResult, len(ids))
	for i, id := range ids {
		statistical := kernel.StatisticalOutlierScore(vectors[i], means, stddevs)

		noiseScore := 0.0
		if _, ok := noise[id]; ok {
			noiseScore = 1.0
		}

		behavioral := 0.0
		if cluster, ok := clustering.Clusters[id]; ok {
			if centroid, ok := centroids[cluster]; ok {
				behavioral = kernel.BehavioralDeviationScore(vectors[i], centroid)
			}
		}

		// Distinct communities among direct neighbors: members that
		// bridge many communities look structurally unusual.
		neighborCommunities := make(map[int]struct{})
		for _, neighbor := range p.graph.Neighbors(id) {
			if label, ok := communities[neighbor.Node.ID]; ok {
				neighborCommunities[label] = struct{}{}
			}
		}
		graphScore := kernel.GraphAnomalyScore(neighborCounts[id], avgNeighbors, len(neighborCommunities))

		results[id] = kernel.MultiSignalScore(statistical, noiseScore, behavioral, graphScore)
	}
	return results
}

func (p *Pipeline) pushAnomalyInsights(anomalies map[graph.NodeID]kernel.AnomalyResult) {
	count := 0
	for id, result := range anomalies {
		if result.Classification == kernel.AnomalyNormal || result.Classification == kernel.AnomalyMild {
			continue
		}
		count++
		severity := knowledge.InsightWarning
		if result.Classification == kernel.AnomalyHighlyAnomalous {
			severity = knowledge.InsightCritical
		}
		key, _ := p.features.MemberKey(id)
		p.state.PushInsight(knowledge.Insight{
			ID:          newInsightID(),
			Title:       fmt.Sprintf("Anomalous behavior detected (score=%.2f)", result.Score),
			Description: fmt.Sprintf("Member %s flagged with anomaly score %.2f (%s)", key, result.Score, result.Classification),
			Severity:    severity,
			CreatedAt:   time.Now().UTC(),
			RelatedNodes: []graph.NodeID{
				id,
			},
		})
	}
	if count > 0 {
		logger.Info("[Pipeline] Anomalous members detected", "count", count)
	}
}

func (p *Pipeline) pushTrendInsights(trends []kernel.Trend) {
	for _, t := range trends {
		if t.Severity == kernel.SeverityNotable {
			continue
		}
		severity := knowledge.InsightWarning
		if t.Severity == kernel.SeverityCritical {
			severity = knowledge.InsightCritical
		}
		verb := "changed"
		switch t.Direction {
		case kernel.TrendUp:
			verb = "increased"
		case kernel.TrendDown:
			verb = "decreased"
		}
		p.state.PushInsight(knowledge.Insight{
			ID:          newInsightID(),
			Title:       fmt.Sprintf("%s %s significantly (z=%.2f)", t.Metric, verb, t.ZScore),
			Description: fmt.Sprintf("%s: current=%.1f, baseline=%.1f +/- %.1f", t.Metric, t.CurrentValue, t.BaselineMean, t.BaselineStddev),
			Severity:    severity,
			CreatedAt:   time.Now().UTC(),
		})
	}
}

func newInsightID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("ins-%d", time.Now().UnixNano())
	}
	return id
}

func meanVector(vectors [][]float64, dim int) []float64 {
	mean := make([]float64, dim)
	if len(vectors) == 0 {
		return mean
	}
	for _, v := range vectors {
		for i := 0; i < dim && i < len(v); i++ {
			mean[i] += v[i]
		}
	}
	for i := range mean {
		mean[i] /= float64(len(vectors))
	}
	return mean
}
