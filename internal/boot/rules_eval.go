package boot

import (
	"context"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/driftwatch/driftwatch/pkg/graph"
	"github.com/driftwatch/driftwatch/pkg/knowledge"
	"github.com/driftwatch/driftwatch/pkg/logger"
	"github.com/driftwatch/driftwatch/pkg/rules"
)

// cooldownTracker remembers when each rule last fired so the schedule's
// cooldown suppresses repeat alerts.
type cooldownTracker struct {
	mu    sync.Mutex
	fired map[string]time.Time
}

func newCooldownTracker() *cooldownTracker {
	return &cooldownTracker{fired: make(map[string]time.Time)}
}

func (c *cooldownTracker) allow(ruleID string, cooldown time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cooldown > 0 {
		if last, ok := c.fired[ruleID]; ok && now.Sub(last) < cooldown {
			return false
		}
	}
	c.fired[ruleID] = now
	return true
}

// EvaluateRules runs every enabled anomaly rule over a snapshot of the
// current feature and knowledge state. Matches become insights; per-rule
// failures are logged and isolated.
func (a *App) EvaluateRules(ctx context.Context) error {
	ruleSet := a.Rules.AnomalyRules()
	if len(ruleSet) == 0 {
		return nil
	}

	entities, signalScores := a.entitySnapshot()
	if len(entities) == 0 {
		return nil
	}
	clusterStats := a.clusterSnapshot()

	now := time.Now().UTC()
	totalMatches := 0
	for id, rule := range ruleSet {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		matches, err := rules.Evaluate(rule, entities, clusterStats, signalScores)
		if err != nil {
			logger.Warn("[Rules] Rule evaluation failed", "rule", id, "err", err)
			continue
		}
		if len(matches) == 0 {
			continue
		}

		cooldown := time.Duration(0)
		if rule.Schedule.Cooldown != "" {
			if d, err := rules.ParseHumanDuration(rule.Schedule.Cooldown); err == nil {
				cooldown = d
			}
		}
		if !a.lastFired.allow(id, cooldown, now) {
			logger.Debug("[Rules] Rule in cooldown", "rule", id, "matches", len(matches))
			continue
		}

		totalMatches += len(matches)
		a.pushRuleInsights(rule, matches, now)
		logger.Info("[Rules] Rule matched", "rule", id, "matches", len(matches))
	}
	if totalMatches > 0 {
		logger.Info("[Rules] Evaluation complete", "rules", len(ruleSet), "matches", totalMatches)
	}
	return nil
}

// entitySnapshot copies the member feature vectors and anomaly scores
// out of the shared state under short read sections.
func (a *App) entitySnapshot() (map[string]rules.EntityData, map[string]rules.SignalScores) {
	features := a.Features()
	ids, vectors := features.Matrix()
	anomalies := a.Knowledge.Anomalies()
	clusters, _, _ := a.Knowledge.Clustering()

	entities := make(map[string]rules.EntityData, len(ids))
	signals := make(map[string]rules.SignalScores, len(ids))
	for i, id := range ids {
		key, _ := features.MemberKey(id)
		data := rules.EntityData{
			Key:        key,
			EntityType: string(graph.EntityMember),
			Features:   vectors[i],
		}
		if result, ok := anomalies[id]; ok {
			data.Score = result.Score
			signals[id.String()] = rules.SignalScores{
				"z_score":              result.Signals.Statistical,
				"dbscan_noise":         result.Signals.DBSCANNoise,
				"behavioral_deviation": result.Signals.Behavioral,
				"graph_anomaly":        result.Signals.Graph,
			}
		}
		if cluster, ok := clusters[id]; ok {
			c := cluster
			data.ClusterID = &c
		}
		entities[id.String()] = data
	}
	return entities, signals
}

func (a *App) clusterSnapshot() map[int]rules.ClusterStats {
	_, info, _ := a.Knowledge.Clustering()
	stats := make(map[int]rules.ClusterStats, len(info))
	for id, ci := range info {
		stats[id] = rules.ClusterStats{
			Centroid:    ci.Centroid,
			MemberCount: ci.MemberCount,
		}
	}
	return stats
}

func (a *App) pushRuleInsights(rule *rules.AnomalyRule, matches []rules.RuleMatch, now time.Time) {
	for _, m := range matches {
		var related []graph.NodeID
		var nodeID graph.NodeID
		if err := nodeID.UnmarshalText([]byte(m.EntityID)); err == nil {
			related = append(related, nodeID)
		}
		a.Knowledge.PushInsight(knowledge.Insight{
			ID:           newAlertID(),
			Title:        fmt.Sprintf("Rule '%s' matched %s", rule.Metadata.ID, m.EntityKey),
			Description:  m.MatchedReason,
			Severity:     knowledge.InsightWarning,
			CreatedAt:    now,
			RelatedNodes: related,
		})
	}
}

func newAlertID() string {
	id, err := gonanoid.New()
	if err != nil {
		return fmt.Sprintf("alert-%d", time.Now().UnixNano())
	}
	return id
}
