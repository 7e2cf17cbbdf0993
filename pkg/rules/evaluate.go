package rules

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/driftwatch/driftwatch/pkg/feature"
)

// EntityData is the per-entity input to rule evaluation, snapshotted from
// the feature store and knowledge state.
type EntityData struct {
	Key        string
	EntityType string
	Features   []float64
	Score      float64
	ClusterID  *int
}

// ClusterStats is the per-cluster baseline used by spike detection.
type ClusterStats struct {
	Centroid    []float64
	MemberCount int
}

// SignalScores holds an entity's per-signal anomaly scores keyed by signal
// name, as published by the compute pipeline.
type SignalScores map[string]float64

// Signal is one named score that contributed to a match.
type Signal struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// RuleMatch is a single entity that triggered a rule.
type RuleMatch struct {
	EntityID      string   `json:"entity_id"`
	EntityKey     string   `json:"entity_key"`
	EntityType    string   `json:"entity_type"`
	Score         float64  `json:"score"`
	Signals       []Signal `json:"signals"`
	MatchedReason string   `json:"matched_reason"`
}

// Evaluate runs one anomaly rule over a set of entities. Detection is
// either template-based or a composition over signal scores; matches then
// pass through the rule's filters. A disabled rule matches nothing.
func Evaluate(rule *AnomalyRule, entities map[string]EntityData, clusterStats map[int]ClusterStats, signalScores map[string]SignalScores) ([]RuleMatch, error) {
	if !rule.Metadata.IsEnabled() {
		return nil, nil
	}

	var matches []RuleMatch
	var err error
	switch {
	case rule.Detection.Template != "":
		matches, err = evaluateTemplate(rule.Detection, entities, clusterStats)
		if err != nil {
			return nil, err
		}
	case rule.Detection.Compose != nil:
		matches = evaluateComposition(*rule.Detection.Compose, entities, signalScores)
	default:
		return nil, fmt.Errorf("rule must have either 'template' or 'compose' in detection")
	}

	return applyFilters(matches, rule.Filters, entities), nil
}

// sortedEntityIDs fixes the match order regardless of map iteration.
func sortedEntityIDs(entities map[string]EntityData) []string {
	ids := make([]string, 0, len(entities))
	for id := range entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func evaluateTemplate(det Detection, entities map[string]EntityData, clusterStats map[int]ClusterStats) ([]RuleMatch, error) {
	switch det.Template {
	case TemplateSpike:
		var p SpikeParams
		if err := det.decodeParams(&p); err != nil {
			return nil, err
		}
		return evaluateSpike(p, entities, clusterStats), nil
	case TemplateDrift:
		var p DriftParams
		if err := det.decodeParams(&p); err != nil {
			return nil, err
		}
		return evaluateDrift(p, entities), nil
	case TemplateAbsence:
		var p AbsenceParams
		if err := det.decodeParams(&p); err != nil {
			return nil, err
		}
		return evaluateAbsence(p, entities), nil
	case TemplateThreshold:
		var p ThresholdParams
		if err := det.decodeParams(&p); err != nil {
			return nil, err
		}
		return evaluateThreshold(p, entities), nil
	}
	return nil, fmt.Errorf("unknown template '%s'", det.Template)
}

// evaluateSpike flags entities whose feature value exceeds baseline times
// multiplier. The baseline is the entity's cluster centroid when available,
// otherwise the population mean. Entities with too little activity
// (login + game counts below min_samples) are skipped.
func evaluateSpike(p SpikeParams, entities map[string]EntityData, clusterStats map[int]ClusterStats) []RuleMatch {
	idx, ok := feature.Index(p.Feature)
	if !ok {
		return nil
	}
	minSamples := p.MinSamples
	if minSamples == 0 {
		minSamples = 1
	}
	baselineMode := p.Baseline
	if baselineMode == "" {
		baselineMode = "cluster_centroid"
	}
	populationMean := populationFeatureMean(entities, idx)

	var matches []RuleMatch
	for _, id := range sortedEntityIDs(entities) {
		data := entities[id]
		if len(data.Features) <= idx {
			continue
		}
		samples := int(featureAt(data, 0) + featureAt(data, 1))
		if samples < minSamples {
			continue
		}

		value := data.Features[idx]
		baseline := populationMean
		if baselineMode == "cluster_centroid" && data.ClusterID != nil {
			if cs, ok := clusterStats[*data.ClusterID]; ok && len(cs.Centroid) > idx {
				baseline = cs.Centroid[idx]
			}
		}

		threshold := baseline * p.Multiplier
		if value > threshold && threshold > 0 {
			matches = append(matches, RuleMatch{
				EntityID:   id,
				EntityKey:  data.Key,
				EntityType: data.EntityType,
				Score:      value,
				Signals: []Signal{
					{Name: p.Feature, Value: value},
					{Name: "baseline", Value: baseline},
					{Name: "threshold", Value: threshold},
				},
				MatchedReason: fmt.Sprintf("%s value %.2f exceeds baseline %.2f x %.1f = %.2f",
					p.Feature, value, baseline, p.Multiplier, threshold),
			})
		}
	}
	return matches
}

// evaluateDrift flags entities whose selected feature subvector is farther
// than a threshold from the population mean, by cosine (default) or
// euclidean distance.
func evaluateDrift(p DriftParams, entities map[string]EntityData) []RuleMatch {
	var indices []int
	var names []string
	for _, f := range p.Features {
		if idx, ok := feature.Index(f); ok {
			indices = append(indices, idx)
			names = append(names, f)
		}
	}
	if len(indices) == 0 {
		return nil
	}

	method := p.Method
	if method == "" {
		method = "cosine"
	}
	baseline := populationMeanVector(entities, indices)

	var matches []RuleMatch
	for _, id := range sortedEntityIDs(entities) {
		data := entities[id]
		vec := make([]float64, len(indices))
		for j, idx := range indices {
			vec[j] = featureAt(data, idx)
		}

		var distance float64
		if method == "euclidean" {
			distance = euclideanDistance(vec, baseline)
		} else {
			distance = cosineDistance(vec, baseline)
		}

		if distance > p.Threshold {
			signals := make([]Signal, 0, len(names)+1)
			for j, name := range names {
				signals = append(signals, Signal{Name: name, Value: vec[j]})
			}
			signals = append(signals, Signal{Name: "distance", Value: distance})
			matches = append(matches, RuleMatch{
				EntityID:   id,
				EntityKey:  data.Key,
				EntityType: data.EntityType,
				Score:      distance,
				Signals:    signals,
				MatchedReason: fmt.Sprintf("Feature drift detected: %s distance %.4f exceeds threshold %.4f",
					method, distance, p.Threshold),
			})
		}
	}
	return matches
}

// evaluateAbsence flags previously active entities whose feature dropped to
// or below the threshold. Activity is approximated by login + game +
// session counts and the anomaly score.
func evaluateAbsence(p AbsenceParams, entities map[string]EntityData) []RuleMatch {
	idx, ok := feature.Index(p.Feature)
	if !ok {
		return nil
	}

	var matches []RuleMatch
	for _, id := range sortedEntityIDs(entities) {
		data := entities[id]
		if len(data.Features) <= idx {
			continue
		}
		value := data.Features[idx]
		activity := featureAt(data, 0) + featureAt(data, 1) + featureAt(data, 6)
		wasActive := activity > 0 || data.Score > 0

		if wasActive && value <= p.Threshold {
			matches = append(matches, RuleMatch{
				EntityID:   id,
				EntityKey:  data.Key,
				EntityType: data.EntityType,
				Score:      value,
				Signals: []Signal{
					{Name: p.Feature, Value: value},
					{Name: "threshold", Value: p.Threshold},
					{Name: "was_active", Value: 1},
				},
				MatchedReason: fmt.Sprintf("%s dropped to %.2f (threshold %.2f), entity was previously active",
					p.Feature, value, p.Threshold),
			})
		}
	}
	return matches
}

// evaluateThreshold compares a feature value against a constant. Equality
// comparisons tolerate floating point error within floatEpsilon.
func evaluateThreshold(p ThresholdParams, entities map[string]EntityData) []RuleMatch {
	idx, ok := feature.Index(p.Feature)
	if !ok {
		return nil
	}

	var matches []RuleMatch
	for _, id := range sortedEntityIDs(entities) {
		data := entities[id]
		if len(data.Features) <= idx {
			continue
		}
		value := data.Features[idx]

		var matched bool
		switch p.Operator {
		case OpGt:
			matched = value > p.Value
		case OpGte:
			matched = value >= p.Value
		case OpLt:
			matched = value < p.Value
		case OpLte:
			matched = value <= p.Value
		case OpEq:
			matched = abs(value-p.Value) < floatEpsilon
		case OpNeq:
			matched = abs(value-p.Value) >= floatEpsilon
		}

		if matched {
			matches = append(matches, RuleMatch{
				EntityID:   id,
				EntityKey:  data.Key,
				EntityType: data.EntityType,
				Score:      value,
				Signals:    []Signal{{Name: p.Feature, Value: value}},
				MatchedReason: fmt.Sprintf("%s value %.2f %s %.2f",
					p.Feature, value, p.Operator, p.Value),
			})
		}
	}
	return matches
}

// evaluateComposition checks the boolean tree against every entity's
// signal scores. A missing signal is a failing leaf.
func evaluateComposition(comp Composition, entities map[string]EntityData, signalScores map[string]SignalScores) []RuleMatch {
	var matches []RuleMatch
	for _, id := range sortedEntityIDs(entities) {
		data := entities[id]
		scores := signalScores[id]
		if !evaluateNode(comp, scores) {
			continue
		}
		matches = append(matches, RuleMatch{
			EntityID:      id,
			EntityKey:     data.Key,
			EntityType:    data.EntityType,
			Score:         data.Score,
			Signals:       collectSignals(comp, scores),
			MatchedReason: compositionReason(comp, scores),
		})
	}
	return matches
}

func evaluateNode(comp Composition, scores SignalScores) bool {
	switch comp.Operator {
	case OpAnd:
		for _, c := range comp.Conditions {
			if !evaluateCondition(c, scores) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range comp.Conditions {
			if evaluateCondition(c, scores) {
				return true
			}
		}
		return false
	case OpNot:
		if len(comp.Conditions) == 0 {
			return true
		}
		return !evaluateCondition(comp.Conditions[0], scores)
	}
	return false
}

func evaluateCondition(c Condition, scores SignalScores) bool {
	if c.IsNested() {
		return evaluateNode(c.Nested(), scores)
	}
	score, ok := scores[string(c.Signal)]
	return ok && score > c.Threshold
}

// collectSignals gathers the signal scores referenced anywhere in the tree.
func collectSignals(comp Composition, scores SignalScores) []Signal {
	var signals []Signal
	for _, c := range comp.Conditions {
		if c.IsNested() {
			signals = append(signals, collectSignals(c.Nested(), scores)...)
			continue
		}
		if score, ok := scores[string(c.Signal)]; ok {
			name := string(c.Signal)
			if c.Feature != "" {
				name = name + ":" + c.Feature
			}
			signals = append(signals, Signal{Name: name, Value: score})
		}
	}
	return signals
}

// compositionReason renders the tree with each leaf's observed score and
// threshold, e.g. "Composition AND: z_score=3.000 (>2.000)".
func compositionReason(comp Composition, scores SignalScores) string {
	parts := make([]string, 0, len(comp.Conditions))
	for _, c := range comp.Conditions {
		if c.IsNested() {
			parts = append(parts, "("+compositionReason(c.Nested(), scores)+")")
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%.3f (>%.3f)", c.Signal, scores[string(c.Signal)], c.Threshold))
	}
	return fmt.Sprintf("Composition %s: %s", strings.ToUpper(string(comp.Operator)), strings.Join(parts, ", "))
}

// applyFilters narrows matches by entity type, minimum score, excluded
// keys, and where-clause feature conditions. An unknown feature in a where
// clause excludes the entity.
func applyFilters(matches []RuleMatch, filters *Filters, entities map[string]EntityData) []RuleMatch {
	if filters == nil {
		return matches
	}

	out := matches[:0]
	for _, m := range matches {
		if len(filters.EntityTypes) > 0 && !containsString(filters.EntityTypes, m.EntityType) {
			continue
		}
		if filters.MinScore != nil && m.Score < *filters.MinScore {
			continue
		}
		if containsString(filters.ExcludeKeys, m.EntityKey) {
			continue
		}
		if len(filters.Where) > 0 && !whereMatches(filters.Where, entities[m.EntityID]) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func whereMatches(where map[string]FilterCondition, data EntityData) bool {
	for name, cond := range where {
		idx, ok := feature.Index(name)
		if !ok || len(data.Features) <= idx {
			return false
		}
		if !cond.Matches(data.Features[idx]) {
			return false
		}
	}
	return true
}

func featureAt(data EntityData, idx int) float64 {
	if idx < len(data.Features) {
		return data.Features[idx]
	}
	return 0
}

func populationFeatureMean(entities map[string]EntityData, idx int) float64 {
	sum := 0.0
	count := 0
	for _, data := range entities {
		if idx < len(data.Features) {
			sum += data.Features[idx]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

func populationMeanVector(entities map[string]EntityData, indices []int) []float64 {
	sums := make([]float64, len(indices))
	if len(entities) == 0 {
		return sums
	}
	for _, data := range entities {
		for j, idx := range indices {
			sums[j] += featureAt(data, idx)
		}
	}
	n := float64(len(entities))
	for j := range sums {
		sums[j] /= n
	}
	return sums
}

// cosineDistance is 1 - cosine similarity, or 1 for zero-magnitude inputs.
func cosineDistance(a, b []float64) float64 {
	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}
	denom := math.Sqrt(magA) * math.Sqrt(magB)
	if denom < floatEpsilon {
		return 1
	}
	return 1 - dot/denom
}

func euclideanDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
