package rules

import (
	"strings"
	"testing"
)

const validAnomalyYAML = `
apiVersion: v1
kind: AnomalyRule
metadata:
  id: test-rule
  name: Test Rule
  enabled: true
schedule:
  cron: "*/15 * * * *"
  timezone: UTC
detection:
  template: spike
  params:
    feature: login_count_7d
    multiplier: 3.0
notifications:
  - channel: webhook
    url: "https://hooks.example.com/alerts"
    on: [trigger]
`

func mustParseAnomaly(t *testing.T, data string) *AnomalyRule {
	t.Helper()
	doc, err := ParseDocument([]byte(data))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rule, ok := doc.(*AnomalyRule)
	if !ok {
		t.Fatalf("expected *AnomalyRule, got %T", doc)
	}
	return rule
}

func TestParseAnomalyRule(t *testing.T) {
	rule := mustParseAnomaly(t, validAnomalyYAML)
	if rule.Metadata.ID != "test-rule" {
		t.Fatalf("id: got %q", rule.Metadata.ID)
	}
	if rule.DocKind() != KindAnomalyRule {
		t.Fatalf("kind: got %q", rule.DocKind())
	}
	if rule.Detection.Template != TemplateSpike {
		t.Fatalf("template: got %q", rule.Detection.Template)
	}
	var p SpikeParams
	if err := rule.Detection.decodeParams(&p); err != nil {
		t.Fatalf("decode params: %v", err)
	}
	if p.Feature != "login_count_7d" || p.Multiplier != 3.0 {
		t.Fatalf("params: got %+v", p)
	}
	if !rule.Metadata.IsEnabled() {
		t.Fatal("expected enabled")
	}
}

func TestParseUnknownKind(t *testing.T) {
	_, err := ParseDocument([]byte(`
apiVersion: v1
kind: Alert
metadata:
  id: test-rule
  name: Test
`))
	if err == nil || !strings.Contains(err.Error(), "unknown rule kind") {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestParseMissingID(t *testing.T) {
	_, err := ParseDocument([]byte(`
apiVersion: v1
kind: AnomalyRule
metadata:
  name: No ID
`))
	if err == nil || !strings.Contains(err.Error(), "metadata.id") {
		t.Fatalf("expected missing id error, got %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := ParseDocument([]byte(validAnomalyYAML + "\nbogus_field: true\n"))
	if err == nil {
		t.Fatal("expected strict decode to reject unknown top-level field")
	}
}

func TestEnabledDefaultsToTrue(t *testing.T) {
	rule := mustParseAnomaly(t, `
apiVersion: v1
kind: AnomalyRule
metadata:
  id: no-enabled
  name: No Enabled Field
schedule:
  cron: "* * * * *"
detection:
  template: threshold
  params:
    feature: login_count_7d
    operator: gt
    value: 1.0
notifications:
  - channel: webhook
    url: "https://example.com/hook"
`)
	if !rule.Metadata.IsEnabled() {
		t.Fatal("missing enabled should default to true")
	}
}

func TestParseComposeRule(t *testing.T) {
	rule := mustParseAnomaly(t, `
apiVersion: v1
kind: AnomalyRule
metadata:
  id: multi-signal
  name: Multi Signal
schedule:
  cron: "*/30 * * * *"
detection:
  compose:
    operator: and
    conditions:
      - signal: z_score
        threshold: 2.0
      - operator: or
        conditions:
          - signal: dbscan_noise
            threshold: 0.5
          - signal: graph_anomaly
            threshold: 0.5
notifications:
  - channel: webhook
    url: "https://example.com/hook"
`)
	comp := rule.Detection.Compose
	if comp == nil || comp.Operator != OpAnd {
		t.Fatalf("compose: got %+v", comp)
	}
	if len(comp.Conditions) != 2 {
		t.Fatalf("conditions: got %d", len(comp.Conditions))
	}
	if comp.Conditions[0].IsNested() {
		t.Fatal("first condition should be a leaf")
	}
	if !comp.Conditions[1].IsNested() {
		t.Fatal("second condition should be nested")
	}
	nested := comp.Conditions[1].Nested()
	if nested.Operator != OpOr || len(nested.Conditions) != 2 {
		t.Fatalf("nested: got %+v", nested)
	}
}

func TestParseConfigKinds(t *testing.T) {
	doc, err := ParseDocument([]byte(`
apiVersion: v1
kind: TrendConfig
metadata:
  id: trend-config
  name: Trend Detection Tuning
spec:
  default_window_size: 168
  min_data_points: 3
  z_score_trigger: 2.0
  direction_thresholds:
    up: 0.5
    down: 0.5
  severity_thresholds:
    notable: 2.0
    significant: 3.0
    critical: 4.0
`))
	if err != nil {
		t.Fatalf("parse trend config: %v", err)
	}
	tc, ok := doc.(*TrendConfigRule)
	if !ok {
		t.Fatalf("expected *TrendConfigRule, got %T", doc)
	}
	if tc.Spec.DefaultWindowSize != 168 {
		t.Fatalf("window size: got %d", tc.Spec.DefaultWindowSize)
	}

	doc, err = ParseDocument([]byte(`
apiVersion: v1
kind: PatternConfig
metadata:
  id: pattern-config
  name: Pattern Mining Defaults
spec:
  prefixspan_defaults:
    min_support: 0.01
    max_length: 10
    min_members: 50
  classification_rules:
    - category: ErrorChain
      condition:
        check: count_gte
        event_code: E
        min_count: 2
`))
	if err != nil {
		t.Fatalf("parse pattern config: %v", err)
	}
	pc := doc.(*PatternConfigRule)
	if pc.Spec.PrefixSpanDefaults.MinMembers != 50 {
		t.Fatalf("min members: got %d", pc.Spec.PrefixSpanDefaults.MinMembers)
	}
	if pc.Spec.ClassificationRules[0].Condition.Check != "count_gte" {
		t.Fatalf("check: got %q", pc.Spec.ClassificationRules[0].Condition.Check)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	rule := mustParseAnomaly(t, validAnomalyYAML)
	data, err := MarshalDocument(rule)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	again := mustParseAnomaly(t, string(data))
	if again.Metadata.ID != rule.Metadata.ID {
		t.Fatalf("round trip id: got %q", again.Metadata.ID)
	}
	if again.Schedule.Cron != rule.Schedule.Cron {
		t.Fatalf("round trip cron: got %q", again.Schedule.Cron)
	}
}

func TestFilterConditionMatches(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	tests := []struct {
		name  string
		cond  FilterCondition
		value float64
		want  bool
	}{
		{"gt pass", FilterCondition{Gt: f(5)}, 10, true},
		{"gt fail equal", FilterCondition{Gt: f(10)}, 10, false},
		{"gte pass equal", FilterCondition{Gte: f(10)}, 10, true},
		{"lt pass", FilterCondition{Lt: f(10)}, 5, true},
		{"lte fail", FilterCondition{Lte: f(10)}, 11, false},
		{"eq pass", FilterCondition{Eq: f(10)}, 10, true},
		{"eq fail", FilterCondition{Eq: f(10)}, 10.1, false},
		{"neq pass", FilterCondition{Neq: f(10)}, 10.1, true},
		{"neq fail", FilterCondition{Neq: f(10)}, 10, false},
		{"combined pass", FilterCondition{Gt: f(5), Lt: f(15)}, 10, true},
		{"combined fail", FilterCondition{Gt: f(5), Lt: f(15)}, 20, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cond.Matches(tt.value); got != tt.want {
				t.Fatalf("Matches(%v) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
