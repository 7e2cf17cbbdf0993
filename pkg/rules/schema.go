// Package rules implements the YAML rule DSL: multi-kind documents with a
// shared envelope, a filesystem loader with hot reload, validation with
// structured errors, and template/composition evaluation over anomaly
// signal scores.
package rules

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind discriminates the supported rule document kinds.
type Kind string

const (
	KindAnomalyRule   Kind = "AnomalyRule"
	KindEntitySchema  Kind = "EntitySchema"
	KindFeatureConfig Kind = "FeatureConfig"
	KindScoringConfig Kind = "ScoringConfig"
	KindTrendConfig   Kind = "TrendConfig"
	KindPatternConfig Kind = "PatternConfig"
)

// ParseKind parses a kind string from a document envelope.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindAnomalyRule, KindEntitySchema, KindFeatureConfig,
		KindScoringConfig, KindTrendConfig, KindPatternConfig:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown rule kind: '%s'", s)
}

// Metadata is the shared header for all rule kinds. Extends names a parent
// rule id whose raw YAML is deep-merged under this rule, child fields first.
type Metadata struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty" json:"tags,omitempty"`
	Enabled     *bool    `yaml:"enabled,omitempty" json:"enabled"`
	Extends     string   `yaml:"extends,omitempty" json:"extends,omitempty"`
}

// IsEnabled treats a missing enabled field as true.
func (m Metadata) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// Document is any fully parsed rule of a supported kind.
type Document interface {
	DocKind() Kind
	DocMetadata() Metadata
}

// envelope is the lightweight first pass: just enough to dispatch on kind.
type envelope struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
}

// ParseDocument parses YAML bytes in two passes: envelope first to read the
// kind, then a strict kind-specific decode that rejects unknown fields.
func ParseDocument(data []byte) (Document, error) {
	var env envelope
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if env.Metadata.ID == "" {
		return nil, fmt.Errorf("rule metadata.id must not be empty")
	}
	kind, err := ParseKind(env.Kind)
	if err != nil {
		return nil, err
	}

	doc, err := decodeByKind(kind, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule '%s': %w", env.Metadata.ID, err)
	}
	return doc, nil
}

func decodeByKind(kind Kind, data []byte) (Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	switch kind {
	case KindAnomalyRule:
		var r AnomalyRule
		if err := dec.Decode(&r); err != nil {
			return nil, err
		}
		return &r, nil
	case KindEntitySchema:
		var r EntitySchemaRule
		if err := dec.Decode(&r); err != nil {
			return nil, err
		}
		return &r, nil
	case KindFeatureConfig:
		var r FeatureConfigRule
		if err := dec.Decode(&r); err != nil {
			return nil, err
		}
		return &r, nil
	case KindScoringConfig:
		var r ScoringConfigRule
		if err := dec.Decode(&r); err != nil {
			return nil, err
		}
		return &r, nil
	case KindTrendConfig:
		var r TrendConfigRule
		if err := dec.Decode(&r); err != nil {
			return nil, err
		}
		return &r, nil
	case KindPatternConfig:
		var r PatternConfigRule
		if err := dec.Decode(&r); err != nil {
			return nil, err
		}
		return &r, nil
	}
	return nil, fmt.Errorf("unknown rule kind: '%s'", kind)
}

// MarshalDocument serializes a document back to YAML.
func MarshalDocument(doc Document) ([]byte, error) {
	return yaml.Marshal(doc)
}

// AnomalyRule is a declarative anomaly detection rule: a schedule, exactly
// one detection mode (template or compose), optional filters, and at least
// one notification channel.
type AnomalyRule struct {
	APIVersion    string                `yaml:"apiVersion" json:"apiVersion"`
	Kind          string                `yaml:"kind" json:"kind"`
	Metadata      Metadata              `yaml:"metadata" json:"metadata"`
	Schedule      Schedule              `yaml:"schedule" json:"schedule"`
	Detection     Detection             `yaml:"detection" json:"detection"`
	Filters       *Filters              `yaml:"filters,omitempty" json:"filters,omitempty"`
	Notifications []NotificationChannel `yaml:"notifications,omitempty" json:"notifications,omitempty"`
}

func (r *AnomalyRule) DocKind() Kind         { return KindAnomalyRule }
func (r *AnomalyRule) DocMetadata() Metadata { return r.Metadata }

// Schedule is a 5-field cron expression with timezone and optional cooldown.
type Schedule struct {
	Cron     string `yaml:"cron" json:"cron"`
	Timezone string `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	Cooldown string `yaml:"cooldown,omitempty" json:"cooldown,omitempty"`
}

// EffectiveTimezone defaults to UTC when the field is absent.
func (s Schedule) EffectiveTimezone() string {
	if s.Timezone == "" {
		return "UTC"
	}
	return s.Timezone
}

// Detection holds exactly one of Template (with Params) or Compose.
type Detection struct {
	Template Template     `yaml:"template,omitempty" json:"template,omitempty"`
	Params   *yaml.Node   `yaml:"params,omitempty" json:"-"`
	Compose  *Composition `yaml:"compose,omitempty" json:"compose,omitempty"`
}

// Template names a built-in detection evaluator.
type Template string

const (
	TemplateSpike     Template = "spike"
	TemplateDrift     Template = "drift"
	TemplateAbsence   Template = "absence"
	TemplateThreshold Template = "threshold"
)

// SpikeParams configures the spike template.
type SpikeParams struct {
	Feature    string  `yaml:"feature"`
	Multiplier float64 `yaml:"multiplier"`
	Baseline   string  `yaml:"baseline,omitempty"`
	MinSamples int     `yaml:"min_samples,omitempty"`
}

// DriftParams configures the drift template.
type DriftParams struct {
	Features       []string `yaml:"features"`
	Method         string   `yaml:"method,omitempty"`
	Threshold      float64  `yaml:"threshold"`
	Window         string   `yaml:"window,omitempty"`
	BaselineWindow string   `yaml:"baseline_window,omitempty"`
}

// AbsenceParams configures the absence template.
type AbsenceParams struct {
	Feature      string  `yaml:"feature"`
	Threshold    float64 `yaml:"threshold"`
	LookbackDays int     `yaml:"lookback_days"`
	CompareTo    string  `yaml:"compare_to,omitempty"`
}

// ThresholdParams configures the threshold template.
type ThresholdParams struct {
	Feature  string            `yaml:"feature"`
	Operator ThresholdOperator `yaml:"operator"`
	Value    float64           `yaml:"value"`
}

// ThresholdOperator is a comparison operator for threshold detection.
type ThresholdOperator string

const (
	OpGt  ThresholdOperator = "gt"
	OpGte ThresholdOperator = "gte"
	OpLt  ThresholdOperator = "lt"
	OpLte ThresholdOperator = "lte"
	OpEq  ThresholdOperator = "eq"
	OpNeq ThresholdOperator = "neq"
)

// decodeParams decodes the raw params node into a typed struct, strictly.
func (d Detection) decodeParams(out any) error {
	if d.Params == nil {
		return fmt.Errorf("template detection requires params")
	}
	return d.Params.Decode(out)
}

// LogicalOperator combines composition conditions.
type LogicalOperator string

const (
	OpAnd LogicalOperator = "and"
	OpOr  LogicalOperator = "or"
	OpNot LogicalOperator = "not"
)

// Composition is a boolean tree over signal conditions.
type Composition struct {
	Operator   LogicalOperator `yaml:"operator" json:"operator"`
	Conditions []Condition     `yaml:"conditions" json:"conditions"`
}

// Condition is either a signal leaf (Signal set) or a nested composition
// (Operator set). The two shapes share one struct so YAML decoding stays
// strict without a custom unmarshaler.
type Condition struct {
	Signal    SignalType `yaml:"signal,omitempty" json:"signal,omitempty"`
	Feature   string     `yaml:"feature,omitempty" json:"feature,omitempty"`
	Threshold float64    `yaml:"threshold,omitempty" json:"threshold,omitempty"`

	Operator   LogicalOperator `yaml:"operator,omitempty" json:"operator,omitempty"`
	Conditions []Condition     `yaml:"conditions,omitempty" json:"conditions,omitempty"`
}

// IsNested reports whether the condition is a nested composition node.
func (c Condition) IsNested() bool { return c.Operator != "" }

// Nested returns the condition as a composition.
func (c Condition) Nested() Composition {
	return Composition{Operator: c.Operator, Conditions: c.Conditions}
}

// SignalType names a per-entity anomaly signal produced by the pipeline.
type SignalType string

const (
	SignalZScore              SignalType = "z_score"
	SignalDBSCANNoise         SignalType = "dbscan_noise"
	SignalBehavioralDeviation SignalType = "behavioral_deviation"
	SignalGraphAnomaly        SignalType = "graph_anomaly"
)

// SignalTypes lists the valid composition signals.
var SignalTypes = []SignalType{
	SignalZScore,
	SignalDBSCANNoise,
	SignalBehavioralDeviation,
	SignalGraphAnomaly,
}

// Filters narrow which detected entities actually trigger a rule.
type Filters struct {
	EntityTypes     []string                   `yaml:"entity_types,omitempty" json:"entity_types,omitempty"`
	Classifications []string                   `yaml:"classifications,omitempty" json:"classifications,omitempty"`
	MinScore        *float64                   `yaml:"min_score,omitempty" json:"min_score,omitempty"`
	ExcludeKeys     []string                   `yaml:"exclude_keys,omitempty" json:"exclude_keys,omitempty"`
	Where           map[string]FilterCondition `yaml:"where,omitempty" json:"where,omitempty"`
}

// FilterCondition is a numeric comparison over an entity feature value.
type FilterCondition struct {
	Gt  *float64 `yaml:"gt,omitempty" json:"gt,omitempty"`
	Gte *float64 `yaml:"gte,omitempty" json:"gte,omitempty"`
	Lt  *float64 `yaml:"lt,omitempty" json:"lt,omitempty"`
	Lte *float64 `yaml:"lte,omitempty" json:"lte,omitempty"`
	Eq  *float64 `yaml:"eq,omitempty" json:"eq,omitempty"`
	Neq *float64 `yaml:"neq,omitempty" json:"neq,omitempty"`
}

// Matches checks a value against every set comparison.
func (c FilterCondition) Matches(value float64) bool {
	if c.Gt != nil && value <= *c.Gt {
		return false
	}
	if c.Gte != nil && value < *c.Gte {
		return false
	}
	if c.Lt != nil && value >= *c.Lt {
		return false
	}
	if c.Lte != nil && value > *c.Lte {
		return false
	}
	if c.Eq != nil && abs(value-*c.Eq) > floatEpsilon {
		return false
	}
	if c.Neq != nil && abs(value-*c.Neq) <= floatEpsilon {
		return false
	}
	return true
}

const floatEpsilon = 2.220446049250313e-16

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// ChannelType names a notification transport.
type ChannelType string

const (
	ChannelWebhook  ChannelType = "webhook"
	ChannelEmail    ChannelType = "email"
	ChannelTelegram ChannelType = "telegram"
)

// NotificationChannel configures a single alert destination. Fields beyond
// Channel are channel-specific; the validator enforces which are required.
type NotificationChannel struct {
	Channel  ChannelType `yaml:"channel" json:"channel"`
	On       []string    `yaml:"on,omitempty" json:"on,omitempty"`
	Template string      `yaml:"template,omitempty" json:"template,omitempty"`

	// Webhook
	URL          string            `yaml:"url,omitempty" json:"url,omitempty"`
	Method       string            `yaml:"method,omitempty" json:"method,omitempty"`
	Headers      map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	BodyTemplate string            `yaml:"body_template,omitempty" json:"body_template,omitempty"`

	// Email
	SMTPHost string   `yaml:"smtp_host,omitempty" json:"smtp_host,omitempty"`
	SMTPPort *int     `yaml:"smtp_port,omitempty" json:"smtp_port,omitempty"`
	TLS      *bool    `yaml:"tls,omitempty" json:"tls,omitempty"`
	From     string   `yaml:"from,omitempty" json:"from,omitempty"`
	To       []string `yaml:"to,omitempty" json:"to,omitempty"`
	Subject  string   `yaml:"subject,omitempty" json:"subject,omitempty"`

	// Telegram
	BotToken  string `yaml:"bot_token,omitempty" json:"bot_token,omitempty"`
	ChatID    string `yaml:"chat_id,omitempty" json:"chat_id,omitempty"`
	ParseMode string `yaml:"parse_mode,omitempty" json:"parse_mode,omitempty"`
}
