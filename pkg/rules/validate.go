package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/pkg/feature"
	"github.com/driftwatch/driftwatch/pkg/graph"
	"github.com/driftwatch/driftwatch/pkg/kernel"
)

// ValidationResult carries blocking errors and advisory warnings for one
// rule document. Errors block the save path; warnings do not.
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Errors   []ValidationError   `json:"errors"`
	Warnings []ValidationWarning `json:"warnings"`
}

// ValidationError is a blocking problem located by a JSON-path-like path.
type ValidationError struct {
	Path       string `json:"path"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidationWarning is a non-blocking advisory.
type ValidationWarning struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func newValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true, Errors: []ValidationError{}, Warnings: []ValidationWarning{}}
}

func (r *ValidationResult) errorf(path, format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) suggest(path, message, suggestion string) {
	r.Valid = false
	r.Errors = append(r.Errors, ValidationError{Path: path, Message: message, Suggestion: suggestion})
}

func (r *ValidationResult) warnf(path, format string, args ...any) {
	r.Warnings = append(r.Warnings, ValidationWarning{Path: path, Message: fmt.Sprintf(format, args...)})
}

var validClassifications = []string{
	string(kernel.AnomalyNormal),
	string(kernel.AnomalyMild),
	string(kernel.AnomalyAnomalous),
	string(kernel.AnomalyHighlyAnomalous),
}

func validEntityTypes() []string {
	out := make([]string, len(graph.EntityTypes))
	for i, t := range graph.EntityTypes {
		out[i] = string(t)
	}
	return out
}

// ValidateDocument validates any rule kind, dispatching to the appropriate
// checks.
func ValidateDocument(doc Document) *ValidationResult {
	result := newValidationResult()
	switch r := doc.(type) {
	case *AnomalyRule:
		validateAnomalySchema(r, result)
		validateDetection(r, result)
		validateSchedule(r, result)
		validateNotifications(r, result)
		validateFilters(r, result)
	case *EntitySchemaRule:
		validateEntitySchema(r, result)
	case *FeatureConfigRule:
		validateFeatureConfig(r, result)
	case *ScoringConfigRule:
		validateScoringConfig(r, result)
	case *TrendConfigRule:
		validateTrendConfig(r, result)
	case *PatternConfigRule:
		validatePatternConfig(r, result)
	}
	return result
}

// ValidateRule validates a parsed AnomalyRule.
func ValidateRule(rule *AnomalyRule) *ValidationResult {
	return ValidateDocument(rule)
}

// ValidateYAML parses raw YAML and validates the result. Parse errors are
// reported through the same result shape.
func ValidateYAML(data []byte) *ValidationResult {
	doc, err := ParseDocument(data)
	if err != nil {
		result := newValidationResult()
		result.errorf("", "YAML parse error: %v", err)
		return result
	}
	return ValidateDocument(doc)
}

func validateAnomalySchema(rule *AnomalyRule, result *ValidationResult) {
	if rule.APIVersion != "v1" {
		result.errorf("apiVersion", "apiVersion must be 'v1', got '%s'", rule.APIVersion)
	}
	if rule.Kind != string(KindAnomalyRule) {
		result.errorf("kind", "kind must be 'AnomalyRule', got '%s'", rule.Kind)
	}
	if !IsKebabCase(rule.Metadata.ID) {
		result.errorf("metadata.id", "id must be kebab-case (lowercase alphanumeric + hyphens), got '%s'", rule.Metadata.ID)
	}
}

func validateDetection(rule *AnomalyRule, result *ValidationResult) {
	det := rule.Detection
	hasTemplate := det.Template != ""
	hasCompose := det.Compose != nil
	switch {
	case hasTemplate && hasCompose:
		result.errorf("detection", "Exactly one of 'template' or 'compose' must be set, but both are present")
	case !hasTemplate && !hasCompose:
		result.errorf("detection", "Exactly one of 'template' or 'compose' must be set, but neither is present")
	case hasTemplate:
		validateTemplateParams(det, result)
	default:
		validateComposition(*det.Compose, "detection.compose", result)
	}
}

func validateTemplateParams(det Detection, result *ValidationResult) {
	switch det.Template {
	case TemplateSpike:
		var p SpikeParams
		if err := det.decodeParams(&p); err != nil {
			result.errorf("detection.params", "Invalid spike params: %v", err)
			return
		}
		validateFeatureName(p.Feature, "detection.params.feature", result)
	case TemplateDrift:
		var p DriftParams
		if err := det.decodeParams(&p); err != nil {
			result.errorf("detection.params", "Invalid drift params: %v", err)
			return
		}
		for i, f := range p.Features {
			validateFeatureName(f, fmt.Sprintf("detection.params.features[%d]", i), result)
		}
	case TemplateAbsence:
		var p AbsenceParams
		if err := det.decodeParams(&p); err != nil {
			result.errorf("detection.params", "Invalid absence params: %v", err)
			return
		}
		validateFeatureName(p.Feature, "detection.params.feature", result)
	case TemplateThreshold:
		var p ThresholdParams
		if err := det.decodeParams(&p); err != nil {
			result.errorf("detection.params", "Invalid threshold params: %v", err)
			return
		}
		switch p.Operator {
		case OpGt, OpGte, OpLt, OpLte, OpEq, OpNeq:
		default:
			result.errorf("detection.params.operator", "Unknown operator '%s'", p.Operator)
		}
		validateFeatureName(p.Feature, "detection.params.feature", result)
	default:
		result.errorf("detection.template", "Unknown template '%s', expected one of spike, drift, absence, threshold", det.Template)
	}
}

func validateComposition(comp Composition, path string, result *ValidationResult) {
	switch comp.Operator {
	case OpAnd, OpOr:
		if len(comp.Conditions) == 0 {
			result.errorf(path, "Composition must have at least 1 condition")
		}
	case OpNot:
		if len(comp.Conditions) != 1 {
			result.errorf(path, "NOT operator must have exactly 1 condition, got %d", len(comp.Conditions))
		}
	default:
		result.errorf(path+".operator", "Unknown operator '%s', expected and, or, not", comp.Operator)
	}

	for i, cond := range comp.Conditions {
		if cond.IsNested() {
			validateComposition(cond.Nested(), fmt.Sprintf("%s.conditions[%d]", path, i), result)
			continue
		}
		validSignal := false
		for _, s := range SignalTypes {
			if cond.Signal == s {
				validSignal = true
				break
			}
		}
		if !validSignal {
			result.errorf(fmt.Sprintf("%s.conditions[%d].signal", path, i), "Unknown signal '%s'", cond.Signal)
		}
		if cond.Feature != "" {
			validateFeatureName(cond.Feature, fmt.Sprintf("%s.conditions[%d].feature", path, i), result)
		}
	}
}

// validateFeatureName checks a feature reference against the canonical
// feature vector, suggesting the closest name on a miss.
func validateFeatureName(name, path string, result *ValidationResult) {
	if _, ok := feature.Index(name); ok {
		return
	}
	if match, ok := FuzzyMatch(name, feature.Names[:]); ok {
		result.suggest(path, fmt.Sprintf("Unknown feature '%s'", name), fmt.Sprintf("Did you mean '%s'?", match))
	} else {
		result.errorf(path, "Unknown feature '%s'", name)
	}
}

func validateSchedule(rule *AnomalyRule, result *ValidationResult) {
	validateCron(rule.Schedule.Cron, result)
	validateTimezone(rule.Schedule.EffectiveTimezone(), result)
	if rule.Schedule.Cooldown != "" {
		if _, err := ParseHumanDuration(rule.Schedule.Cooldown); err != nil {
			result.errorf("schedule.cooldown", "Invalid duration format '%s', expected e.g. '30m', '1h', '2h30m'", rule.Schedule.Cooldown)
		}
	}
}

// cronFieldRange holds the valid numeric range for one cron position.
type cronFieldRange struct {
	name string
	min  int
	max  int
}

var cronFieldRanges = []cronFieldRange{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 7},
}

func validateCron(expr string, result *ValidationResult) {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		result.errorf("schedule.cron", "Cron must have exactly 5 fields (min hour dom month dow), got %d", len(fields))
		return
	}
	for i, f := range fields {
		r := cronFieldRanges[i]
		if !validCronField(f, r.min, r.max) {
			result.errorf("schedule.cron", "Invalid cron %s field: '%s'", r.name, f)
		}
	}
}

// validCronField accepts *, N, N-M, */S, N-M/S, and comma-separated lists.
func validCronField(field string, min, max int) bool {
	for _, part := range strings.Split(field, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return false
		}

		rangePart := part
		if before, after, found := strings.Cut(part, "/"); found {
			step, err := strconv.Atoi(after)
			if err != nil || step <= 0 || step > max {
				return false
			}
			rangePart = before
		}

		if rangePart == "*" {
			continue
		}
		if startS, endS, found := strings.Cut(rangePart, "-"); found {
			start, err1 := strconv.Atoi(startS)
			end, err2 := strconv.Atoi(endS)
			if err1 != nil || err2 != nil || start < min || end > max || start > end {
				return false
			}
			continue
		}
		v, err := strconv.Atoi(rangePart)
		if err != nil || v < min || v > max {
			return false
		}
	}
	return true
}

func validateTimezone(tz string, result *ValidationResult) {
	if tz == "UTC" || tz == "GMT" {
		return
	}
	if !isIANATimezone(tz) {
		result.errorf("schedule.timezone", "Invalid timezone '%s', expected IANA format (e.g., 'Asia/Manila')", tz)
	}
}

// isIANATimezone accepts Area/Location with each segment starting uppercase.
func isIANATimezone(tz string) bool {
	parts := strings.Split(tz, "/")
	if len(parts) < 2 {
		return false
	}
	for _, part := range parts {
		if part == "" {
			return false
		}
		first := part[0]
		if first < 'A' || first > 'Z' {
			return false
		}
		for i := 0; i < len(part); i++ {
			c := part[i]
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_') {
				return false
			}
		}
	}
	return true
}

// ParseHumanDuration parses compound durations like "30m", "1h", "2h30m",
// "1d". Units: d, h, m, s.
func ParseHumanDuration(s string) (time.Duration, error) {
	var total time.Duration
	var numBuf strings.Builder
	hasUnit := false

	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			numBuf.WriteRune(ch)
			continue
		}
		n, err := strconv.ParseInt(numBuf.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration '%s'", s)
		}
		numBuf.Reset()
		switch ch {
		case 'd':
			total += time.Duration(n) * 24 * time.Hour
		case 'h':
			total += time.Duration(n) * time.Hour
		case 'm':
			total += time.Duration(n) * time.Minute
		case 's':
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid duration unit '%c' in '%s'", ch, s)
		}
		hasUnit = true
	}
	if numBuf.Len() > 0 {
		return 0, fmt.Errorf("trailing digits without unit in '%s'", s)
	}
	if !hasUnit || total <= 0 {
		return 0, fmt.Errorf("invalid duration '%s'", s)
	}
	return total, nil
}

func validateNotifications(rule *AnomalyRule, result *ValidationResult) {
	if len(rule.Notifications) == 0 {
		result.errorf("notifications", "At least one notification channel must be configured")
		return
	}

	for i, n := range rule.Notifications {
		path := fmt.Sprintf("notifications[%d]", i)
		switch n.Channel {
		case ChannelWebhook:
			if n.URL == "" {
				result.errorf(path+".url", "Webhook channel requires 'url'")
			} else if !strings.HasPrefix(n.URL, "http://") && !strings.HasPrefix(n.URL, "https://") {
				result.errorf(path+".url", "URL must start with http:// or https://, got '%s'", n.URL)
			}
		case ChannelEmail:
			if n.SMTPHost == "" {
				result.errorf(path+".smtp_host", "Email channel requires 'smtp_host'")
			}
			if n.SMTPPort == nil {
				result.errorf(path+".smtp_port", "Email channel requires 'smtp_port'")
			}
			if n.From == "" {
				result.errorf(path+".from", "Email channel requires 'from'")
			}
			if len(n.To) == 0 {
				result.errorf(path+".to", "Email channel requires 'to'")
			}
		case ChannelTelegram:
			if n.BotToken == "" {
				result.errorf(path+".bot_token", "Telegram channel requires 'bot_token'")
			}
			if n.ChatID == "" {
				result.errorf(path+".chat_id", "Telegram channel requires 'chat_id'")
			}
		default:
			result.errorf(path+".channel", "Unknown channel '%s', expected webhook, email, or telegram", n.Channel)
		}

		checkSecretValue(n.BotToken, path+".bot_token", result)
		checkSecretValue(n.URL, path+".url", result)
	}
}

func checkSecretValue(v, path string, result *ValidationResult) {
	if v != "" && !strings.HasPrefix(v, "${") && looksLikeSecret(v) {
		result.warnf(path, "Value looks like a raw secret. Consider using '${ENV_VAR}' syntax instead")
	}
}

// looksLikeSecret flags token-like strings: 20+ chars mixing letters,
// digits, and separator characters, excluding URLs.
func looksLikeSecret(v string) bool {
	if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
		return false
	}
	if len(v) < 20 {
		return false
	}
	var hasAlpha, hasDigit, hasSpecial bool
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch {
		case c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
			hasAlpha = true
		case c >= '0' && c <= '9':
			hasDigit = true
		case c == ':' || c == '_' || c == '-':
			hasSpecial = true
		}
	}
	return hasAlpha && hasDigit && hasSpecial
}

func validateFilters(rule *AnomalyRule, result *ValidationResult) {
	f := rule.Filters
	if f == nil {
		return
	}

	entityTypes := validEntityTypes()
	for i, t := range f.EntityTypes {
		if containsString(entityTypes, t) {
			continue
		}
		path := fmt.Sprintf("filters.entity_types[%d]", i)
		if match, ok := FuzzyMatch(t, entityTypes); ok {
			result.suggest(path, fmt.Sprintf("Unknown entity type '%s'", t), fmt.Sprintf("Did you mean '%s'?", match))
		} else {
			result.errorf(path, "Unknown entity type '%s'", t)
		}
	}

	for i, c := range f.Classifications {
		if containsString(validClassifications, c) {
			continue
		}
		path := fmt.Sprintf("filters.classifications[%d]", i)
		if match, ok := FuzzyMatch(c, validClassifications); ok {
			result.suggest(path, fmt.Sprintf("Unknown classification '%s'", c), fmt.Sprintf("Did you mean '%s'?", match))
		} else {
			result.errorf(path, "Unknown classification '%s'", c)
		}
	}

	if f.MinScore != nil && (*f.MinScore < 0 || *f.MinScore > 1) {
		result.errorf("filters.min_score", "min_score must be between 0.0 and 1.0, got %v", *f.MinScore)
	}

	for name := range f.Where {
		validateFeatureName(name, "filters.where."+name, result)
	}
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func validateCommonMetadata(meta Metadata, wantKind Kind, gotKind, apiVersion string, result *ValidationResult) {
	if apiVersion != "v1" {
		result.errorf("apiVersion", "apiVersion must be 'v1', got '%s'", apiVersion)
	}
	if gotKind != string(wantKind) {
		result.errorf("kind", "kind must be '%s', got '%s'", wantKind, gotKind)
	}
	if !IsKebabCase(meta.ID) {
		result.errorf("metadata.id", "id must be kebab-case (lowercase alphanumeric + hyphens), got '%s'", meta.ID)
	}
}

func validateEntitySchema(rule *EntitySchemaRule, result *ValidationResult) {
	validateCommonMetadata(rule.Metadata, KindEntitySchema, rule.Kind, rule.APIVersion, result)

	known := make(map[string]bool, len(rule.Spec.EntityTypes))
	for i, et := range rule.Spec.EntityTypes {
		if known[et.Name] {
			result.errorf(fmt.Sprintf("spec.entity_types[%d]", i), "duplicate entity type '%s'", et.Name)
		}
		known[et.Name] = true
	}
	for i, edge := range rule.Spec.EdgeTypes {
		if !known[edge.From] {
			result.errorf(fmt.Sprintf("spec.edge_types[%d].from", i), "unknown entity type '%s'", edge.From)
		}
		if !known[edge.To] {
			result.errorf(fmt.Sprintf("spec.edge_types[%d].to", i), "unknown entity type '%s'", edge.To)
		}
	}
	for i, fm := range rule.Spec.FieldMappings {
		if !known[fm.EntityType] {
			result.errorf(fmt.Sprintf("spec.field_mappings[%d].entity_type", i), "unknown entity type '%s'", fm.EntityType)
		}
	}
}

func validateFeatureConfig(rule *FeatureConfigRule, result *ValidationResult) {
	validateCommonMetadata(rule.Metadata, KindFeatureConfig, rule.Kind, rule.APIVersion, result)

	if len(rule.Spec.Features) == 0 {
		result.errorf("spec.features", "at least one feature must be defined")
		return
	}
	seen := make(map[int]string, len(rule.Spec.Features))
	for i, f := range rule.Spec.Features {
		if prev, ok := seen[f.Index]; ok {
			result.errorf(fmt.Sprintf("spec.features[%d]", i), "duplicate index %d (already used by '%s')", f.Index, prev)
		}
		seen[f.Index] = f.Name
	}
	for i := 0; i < len(rule.Spec.Features); i++ {
		if _, ok := seen[i]; !ok {
			result.errorf("spec.features", "feature indices must be contiguous from 0, missing index %d", i)
			break
		}
	}
}

func validateScoringConfig(rule *ScoringConfigRule, result *ValidationResult) {
	validateCommonMetadata(rule.Metadata, KindScoringConfig, rule.Kind, rule.APIVersion, result)

	w := rule.Spec.MultiSignalWeights
	sum := w.Statistical + w.DBSCANNoise + w.Behavioral + w.Graph
	if abs(sum-1.0) > 0.01 {
		result.warnf("spec.multi_signal_weights", "signal weights should sum to 1.0, got %.3f", sum)
	}

	t := rule.Spec.ClassificationThresholds
	if !(t.Mild < t.Anomalous && t.Anomalous < t.HighlyAnomalous) {
		result.errorf("spec.classification_thresholds", "thresholds must be strictly ascending (mild < anomalous < highly_anomalous)")
	}
}

func validateTrendConfig(rule *TrendConfigRule, result *ValidationResult) {
	validateCommonMetadata(rule.Metadata, KindTrendConfig, rule.Kind, rule.APIVersion, result)

	t := rule.Spec.SeverityThresholds
	if !(t.Notable < t.Significant && t.Significant < t.Critical) {
		result.errorf("spec.severity_thresholds", "severity thresholds must be strictly ascending (notable < significant < critical)")
	}
	if rule.Spec.MinDataPoints < 2 {
		result.warnf("spec.min_data_points", "fewer than 2 data points cannot produce a standard deviation")
	}
}

func validatePatternConfig(rule *PatternConfigRule, result *ValidationResult) {
	validateCommonMetadata(rule.Metadata, KindPatternConfig, rule.Kind, rule.APIVersion, result)

	d := rule.Spec.PrefixSpanDefaults
	if d.MinSupport <= 0 || d.MinSupport > 1 {
		result.errorf("spec.prefixspan_defaults.min_support", "min_support must be in (0, 1], got %v", d.MinSupport)
	}
	if d.MaxLength < 2 {
		result.warnf("spec.prefixspan_defaults.max_length", "patterns shorter than 2 events are never emitted")
	}
	for i, cr := range rule.Spec.ClassificationRules {
		switch cr.Condition.Check {
		case "count_gte", "sequence_match", "has_then_absent":
		default:
			result.errorf(fmt.Sprintf("spec.classification_rules[%d].condition.check", i), "unknown check '%s'", cr.Condition.Check)
		}
	}
}

var kebabPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// IsKebabCase reports whether s is lowercase alphanumeric with single
// hyphen separators.
func IsKebabCase(s string) bool {
	return kebabPattern.MatchString(s)
}

// FuzzyMatch finds the closest candidate by Levenshtein distance, rejecting
// matches whose edit distance exceeds half the longer string's length.
func FuzzyMatch(input string, candidates []string) (string, bool) {
	inputLower := strings.ToLower(input)
	best := ""
	bestDist := -1
	for _, c := range candidates {
		d := Levenshtein(inputLower, strings.ToLower(c))
		if bestDist == -1 || d < bestDist {
			best, bestDist = c, d
		}
	}
	if best == "" {
		return "", false
	}
	maxLen := len(input)
	if len(best) > maxLen {
		maxLen = len(best)
	}
	if bestDist <= maxLen/2 {
		return best, true
	}
	return "", false
}

// Levenshtein computes the edit distance between two strings.
func Levenshtein(a, b string) int {
	ar := []rune(a)
	br := []rune(b)
	n := len(br)

	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}

	for i := 1; i <= len(ar); i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			cost := 1
			if ar[i-1] == br[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[n]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
