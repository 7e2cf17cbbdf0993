package rules

// Config rule kinds externalize dispatch tables and tuning constants that
// would otherwise be hardcoded: entity extraction, feature vector layout,
// anomaly scoring weights, trend thresholds, and pattern mining defaults.

// EntitySchemaRule defines entity types, edge types, field mappings, and
// per-event extraction plans.
type EntitySchemaRule struct {
	APIVersion string           `yaml:"apiVersion" json:"apiVersion"`
	Kind       string           `yaml:"kind" json:"kind"`
	Metadata   Metadata         `yaml:"metadata" json:"metadata"`
	Spec       EntitySchemaSpec `yaml:"spec" json:"spec"`
}

func (r *EntitySchemaRule) DocKind() Kind         { return KindEntitySchema }
func (r *EntitySchemaRule) DocMetadata() Metadata { return r.Metadata }

type EntitySchemaSpec struct {
	NullValues      []string                       `yaml:"null_values,omitempty" json:"null_values,omitempty"`
	EntityTypes     []EntityTypeDef                `yaml:"entity_types" json:"entity_types"`
	EdgeTypes       []EdgeTypeDef                  `yaml:"edge_types" json:"edge_types"`
	FieldMappings   []FieldMapping                 `yaml:"field_mappings" json:"field_mappings"`
	EventExtraction map[string]EventExtractionPlan `yaml:"event_extraction,omitempty" json:"event_extraction,omitempty"`
}

type EntityTypeDef struct {
	Name      string `yaml:"name" json:"name"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
}

type EdgeTypeDef struct {
	Name string `yaml:"name" json:"name"`
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

type FieldMapping struct {
	Field      string   `yaml:"field" json:"field"`
	Aliases    []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	EntityType string   `yaml:"entity_type" json:"entity_type"`
	KeyPrefix  string   `yaml:"key_prefix" json:"key_prefix"`
}

type EventExtractionPlan struct {
	Aliases  []string           `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Entities []EntityExtraction `yaml:"entities" json:"entities"`
	Edges    []EdgeExtraction   `yaml:"edges,omitempty" json:"edges,omitempty"`
}

type EntityExtraction struct {
	Field          string   `yaml:"field" json:"field"`
	EntityType     string   `yaml:"entity_type" json:"entity_type"`
	FallbackFields []string `yaml:"fallback_fields,omitempty" json:"fallback_fields,omitempty"`
}

type EdgeExtraction struct {
	FromField string `yaml:"from_field" json:"from_field"`
	ToField   string `yaml:"to_field" json:"to_field"`
	Edge      string `yaml:"edge" json:"edge"`
}

// FeatureConfigRule defines the feature vector layout, label encodings,
// and event compression codes.
type FeatureConfigRule struct {
	APIVersion string            `yaml:"apiVersion" json:"apiVersion"`
	Kind       string            `yaml:"kind" json:"kind"`
	Metadata   Metadata          `yaml:"metadata" json:"metadata"`
	Spec       FeatureConfigSpec `yaml:"spec" json:"spec"`
}

func (r *FeatureConfigRule) DocKind() Kind         { return KindFeatureConfig }
func (r *FeatureConfigRule) DocMetadata() Metadata { return r.Metadata }

type FeatureConfigSpec struct {
	Features            []FeatureDefinition             `yaml:"features" json:"features"`
	VipEncoding         map[string]float64              `yaml:"vip_encoding,omitempty" json:"vip_encoding,omitempty"`
	CurrencyEncoding    map[string]float64              `yaml:"currency_encoding,omitempty" json:"currency_encoding,omitempty"`
	EventClassification map[string][]string             `yaml:"event_classification,omitempty" json:"event_classification,omitempty"`
	MobileKeywords      []string                        `yaml:"mobile_keywords,omitempty" json:"mobile_keywords,omitempty"`
	EventCompression    map[string]EventCompressionRule `yaml:"event_compression,omitempty" json:"event_compression,omitempty"`
}

type FeatureDefinition struct {
	Name  string `yaml:"name" json:"name"`
	Index int    `yaml:"index" json:"index"`
}

type EventCompressionRule struct {
	Code         string `yaml:"code" json:"code"`
	SubtypeField string `yaml:"subtype_field,omitempty" json:"subtype_field,omitempty"`
}

// FeatureIndex resolves a feature name against the configured layout.
func (s FeatureConfigSpec) FeatureIndex(name string) (int, bool) {
	for _, f := range s.Features {
		if f.Name == name {
			return f.Index, true
		}
	}
	return 0, false
}

// ScoringConfigRule tunes the multi-signal anomaly scorer.
type ScoringConfigRule struct {
	APIVersion string            `yaml:"apiVersion" json:"apiVersion"`
	Kind       string            `yaml:"kind" json:"kind"`
	Metadata   Metadata          `yaml:"metadata" json:"metadata"`
	Spec       ScoringConfigSpec `yaml:"spec" json:"spec"`
}

func (r *ScoringConfigRule) DocKind() Kind         { return KindScoringConfig }
func (r *ScoringConfigRule) DocMetadata() Metadata { return r.Metadata }

type ScoringConfigSpec struct {
	MultiSignalWeights       MultiSignalWeights       `yaml:"multi_signal_weights" json:"multi_signal_weights"`
	ClassificationThresholds ClassificationThresholds `yaml:"classification_thresholds" json:"classification_thresholds"`
	ZScoreNormalization      ZScoreNormalization      `yaml:"z_score_normalization" json:"z_score_normalization"`
	GraphAnomaly             GraphAnomalyParams       `yaml:"graph_anomaly" json:"graph_anomaly"`
	DefaultAnomalyThreshold  float64                  `yaml:"default_anomaly_threshold,omitempty" json:"default_anomaly_threshold,omitempty"`
}

type MultiSignalWeights struct {
	Statistical float64 `yaml:"statistical" json:"statistical"`
	DBSCANNoise float64 `yaml:"dbscan_noise" json:"dbscan_noise"`
	Behavioral  float64 `yaml:"behavioral" json:"behavioral"`
	Graph       float64 `yaml:"graph" json:"graph"`
}

type ClassificationThresholds struct {
	Mild            float64 `yaml:"mild" json:"mild"`
	Anomalous       float64 `yaml:"anomalous" json:"anomalous"`
	HighlyAnomalous float64 `yaml:"highly_anomalous" json:"highly_anomalous"`
}

type ZScoreNormalization struct {
	Divisor float64 `yaml:"divisor" json:"divisor"`
}

type GraphAnomalyParams struct {
	NeighborMultiplier    float64 `yaml:"neighbor_multiplier" json:"neighbor_multiplier"`
	HighConnectivityScore float64 `yaml:"high_connectivity_score" json:"high_connectivity_score"`
	CommunityThreshold    int     `yaml:"community_threshold" json:"community_threshold"`
	MultiCommunityScore   float64 `yaml:"multi_community_score" json:"multi_community_score"`
}

// TrendConfigRule tunes the z-score trend detector.
type TrendConfigRule struct {
	APIVersion string          `yaml:"apiVersion" json:"apiVersion"`
	Kind       string          `yaml:"kind" json:"kind"`
	Metadata   Metadata        `yaml:"metadata" json:"metadata"`
	Spec       TrendConfigSpec `yaml:"spec" json:"spec"`
}

func (r *TrendConfigRule) DocKind() Kind         { return KindTrendConfig }
func (r *TrendConfigRule) DocMetadata() Metadata { return r.Metadata }

type TrendConfigSpec struct {
	DefaultWindowSize   int                 `yaml:"default_window_size" json:"default_window_size"`
	MinDataPoints       int                 `yaml:"min_data_points" json:"min_data_points"`
	ZScoreTrigger       float64             `yaml:"z_score_trigger" json:"z_score_trigger"`
	DirectionThresholds DirectionThresholds `yaml:"direction_thresholds" json:"direction_thresholds"`
	SeverityThresholds  SeverityThresholds  `yaml:"severity_thresholds" json:"severity_thresholds"`
}

type DirectionThresholds struct {
	Up   float64 `yaml:"up" json:"up"`
	Down float64 `yaml:"down" json:"down"`
}

type SeverityThresholds struct {
	Notable     float64 `yaml:"notable" json:"notable"`
	Significant float64 `yaml:"significant" json:"significant"`
	Critical    float64 `yaml:"critical" json:"critical"`
}

// PatternConfigRule tunes PrefixSpan defaults and declares pattern
// classification rules evaluated in order, first match wins.
type PatternConfigRule struct {
	APIVersion string            `yaml:"apiVersion" json:"apiVersion"`
	Kind       string            `yaml:"kind" json:"kind"`
	Metadata   Metadata          `yaml:"metadata" json:"metadata"`
	Spec       PatternConfigSpec `yaml:"spec" json:"spec"`
}

func (r *PatternConfigRule) DocKind() Kind         { return KindPatternConfig }
func (r *PatternConfigRule) DocMetadata() Metadata { return r.Metadata }

type PatternConfigSpec struct {
	PrefixSpanDefaults  PrefixSpanDefaults   `yaml:"prefixspan_defaults" json:"prefixspan_defaults"`
	ClassificationRules []ClassificationRule `yaml:"classification_rules,omitempty" json:"classification_rules,omitempty"`
}

type PrefixSpanDefaults struct {
	MinSupport float64 `yaml:"min_support" json:"min_support"`
	MaxLength  int     `yaml:"max_length" json:"max_length"`
	MinMembers int     `yaml:"min_members" json:"min_members"`
}

type ClassificationRule struct {
	Category  string                  `yaml:"category" json:"category"`
	Condition ClassificationCondition `yaml:"condition" json:"condition"`
}

// ClassificationCondition supports three check types: "count_gte" (at least
// MinCount events with the EventCode prefix), "sequence_match" (codes appear
// in order), and "has_then_absent" (PresentCode occurs with no AbsentCode
// after its last occurrence).
type ClassificationCondition struct {
	Check       string   `yaml:"check" json:"check"`
	EventCode   string   `yaml:"event_code,omitempty" json:"event_code,omitempty"`
	MinCount    int      `yaml:"min_count,omitempty" json:"min_count,omitempty"`
	Sequence    []string `yaml:"sequence,omitempty" json:"sequence,omitempty"`
	PresentCode string   `yaml:"present_code,omitempty" json:"present_code,omitempty"`
	AbsentCode  string   `yaml:"absent_code,omitempty" json:"absent_code,omitempty"`
}
