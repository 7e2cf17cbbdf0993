package rules

import (
	"strings"
	"testing"

	"github.com/driftwatch/driftwatch/pkg/feature"
)

func hasErrorContaining(res *ValidationResult, substr string) bool {
	for _, e := range res.Errors {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

func hasSuggestionContaining(res *ValidationResult, substr string) bool {
	for _, e := range res.Errors {
		if strings.Contains(e.Suggestion, substr) {
			return true
		}
	}
	return false
}

func hasWarningContaining(res *ValidationResult, substr string) bool {
	for _, w := range res.Warnings {
		if strings.Contains(w.Message, substr) {
			return true
		}
	}
	return false
}

func TestValidateAcceptsGoodRule(t *testing.T) {
	res := ValidateYAML([]byte(validAnomalyYAML))
	if !res.Valid {
		t.Fatalf("expected valid, errors: %+v", res.Errors)
	}
	if len(res.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", res.Errors)
	}
}

func TestValidateYAMLParseError(t *testing.T) {
	res := ValidateYAML([]byte("metadata: [broken"))
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if !hasErrorContaining(res, "YAML parse error") {
		t.Fatalf("errors: %+v", res.Errors)
	}
}

func TestValidateCron(t *testing.T) {
	tests := []struct {
		expr  string
		valid bool
	}{
		{"*/15 * * * *", true},
		{"* * * * *", true},
		{"0,30 9-17 * * 1-5", true},
		{"0 0 1 1 0", true},
		{"5-10/2 * * * *", true},
		{"0 0 * * 7", true},
		{"60 * * * *", false},
		{"* 24 * * *", false},
		{"* * 0 * *", false},
		{"* * * 13 *", false},
		{"* * * * 8", false},
		{"* * * *", false},
		{"* * * * * *", false},
		{"*/0 * * * *", false},
		{"10-5 * * * *", false},
		{"abc * * * *", false},
	}
	for _, tt := range tests {
		res := newValidationResult()
		validateCron(tt.expr, res)
		if res.Valid != tt.valid {
			t.Errorf("cron %q: valid=%v, want %v (errors %+v)", tt.expr, res.Valid, tt.valid, res.Errors)
		}
	}
}

func TestValidateTimezone(t *testing.T) {
	tests := []struct {
		tz    string
		valid bool
	}{
		{"UTC", true},
		{"GMT", true},
		{"Asia/Manila", true},
		{"America/New_York", true},
		{"Etc/GMT", true},
		{"manila", false},
		{"asia/manila", false},
		{"Asia/", false},
		{"Asia/Man1la", false},
	}
	for _, tt := range tests {
		res := newValidationResult()
		validateTimezone(tt.tz, res)
		if res.Valid != tt.valid {
			t.Errorf("timezone %q: valid=%v, want %v", tt.tz, res.Valid, tt.valid)
		}
	}
}

func TestParseHumanDuration(t *testing.T) {
	valid := map[string]string{
		"30m":   "30m0s",
		"1h":    "1h0m0s",
		"2h30m": "2h30m0s",
		"1d":    "24h0m0s",
		"90s":   "1m30s",
	}
	for in, want := range valid {
		d, err := ParseHumanDuration(in)
		if err != nil {
			t.Errorf("%q: unexpected error %v", in, err)
			continue
		}
		if d.String() != want {
			t.Errorf("%q: got %s, want %s", in, d, want)
		}
	}
	for _, in := range []string{"banana", "30", "", "1x", "h", "-5m"} {
		if _, err := ParseHumanDuration(in); err == nil {
			t.Errorf("%q: expected error", in)
		}
	}
}

func TestIsKebabCase(t *testing.T) {
	tests := []struct {
		s    string
		want bool
	}{
		{"login-spike", true},
		{"a", true},
		{"rule-v2", true},
		{"Login-Spike", false},
		{"login_spike", false},
		{"-leading", false},
		{"trailing-", false},
		{"double--hyphen", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsKebabCase(tt.s); got != tt.want {
			t.Errorf("IsKebabCase(%q) = %v, want %v", tt.s, got, tt.want)
		}
	}
}

func TestFuzzyMatch(t *testing.T) {
	if match, ok := FuzzyMatch("login_count", feature.Names[:]); !ok || match != "login_count_7d" {
		t.Fatalf("got %q, %v", match, ok)
	}
	if match, ok := FuzzyMatch("Memer", []string{"Member", "Game", "Session"}); !ok || match != "Member" {
		t.Fatalf("got %q, %v", match, ok)
	}
	if _, ok := FuzzyMatch("zzzzzzzzzzzzz", feature.Names[:]); ok {
		t.Fatal("expected no match for noise input")
	}
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"login_count", "login_count_7d", 3},
		{"same", "same", 0},
	}
	for _, tt := range tests {
		if got := Levenshtein(tt.a, tt.b); got != tt.want {
			t.Errorf("Levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestValidateRejectsBadMetadata(t *testing.T) {
	rule := mustParseAnomaly(t, validAnomalyYAML)
	rule.APIVersion = "v2"
	rule.Metadata.ID = "Not_Kebab"
	res := ValidateRule(rule)
	if !hasErrorContaining(res, "apiVersion must be 'v1'") {
		t.Fatalf("errors: %+v", res.Errors)
	}
	if !hasErrorContaining(res, "kebab-case") {
		t.Fatalf("errors: %+v", res.Errors)
	}
}

func TestValidateDetectionExactlyOne(t *testing.T) {
	both := mustParseAnomaly(t, validAnomalyYAML)
	both.Detection.Compose = &Composition{Operator: OpAnd, Conditions: []Condition{{Signal: SignalZScore, Threshold: 2}}}
	res := ValidateRule(both)
	if !hasErrorContaining(res, "both are present") {
		t.Fatalf("errors: %+v", res.Errors)
	}

	neither := mustParseAnomaly(t, validAnomalyYAML)
	neither.Detection = Detection{}
	res = ValidateRule(neither)
	if !hasErrorContaining(res, "neither is present") {
		t.Fatalf("errors: %+v", res.Errors)
	}
}

func TestValidateCompositionArity(t *testing.T) {
	rule := mustParseAnomaly(t, validAnomalyYAML)
	rule.Detection = Detection{Compose: &Composition{
		Operator: OpNot,
		Conditions: []Condition{
			{Signal: SignalZScore, Threshold: 2},
			{Signal: SignalDBSCANNoise, Threshold: 0.5},
		},
	}}
	res := ValidateRule(rule)
	if !hasErrorContaining(res, "NOT operator must have exactly 1 condition, got 2") {
		t.Fatalf("errors: %+v", res.Errors)
	}

	rule.Detection = Detection{Compose: &Composition{Operator: OpAnd}}
	res = ValidateRule(rule)
	if !hasErrorContaining(res, "at least 1 condition") {
		t.Fatalf("errors: %+v", res.Errors)
	}

	rule.Detection = Detection{Compose: &Composition{
		Operator:   OpAnd,
		Conditions: []Condition{{Signal: "magic", Threshold: 1}},
	}}
	res = ValidateRule(rule)
	if !hasErrorContaining(res, "Unknown signal 'magic'") {
		t.Fatalf("errors: %+v", res.Errors)
	}
}

func TestValidateFeatureNameSuggestion(t *testing.T) {
	rule := mustParseAnomaly(t, strings.Replace(validAnomalyYAML, "login_count_7d", "login_count", 1))
	res := ValidateRule(rule)
	if res.Valid {
		t.Fatal("expected invalid")
	}
	if !hasSuggestionContaining(res, "login_count_7d") {
		t.Fatalf("errors: %+v", res.Errors)
	}
}

func TestValidateNotifications(t *testing.T) {
	rule := mustParseAnomaly(t, validAnomalyYAML)
	rule.Notifications = nil
	res := ValidateRule(rule)
	if !hasErrorContaining(res, "At least one notification channel") {
		t.Fatalf("errors: %+v", res.Errors)
	}

	rule.Notifications = []NotificationChannel{{Channel: ChannelTelegram, ChatID: "123"}}
	res = ValidateRule(rule)
	if !hasErrorContaining(res, "requires 'bot_token'") {
		t.Fatalf("errors: %+v", res.Errors)
	}

	rule.Notifications = []NotificationChannel{{Channel: ChannelWebhook, URL: "ftp://example.com"}}
	res = ValidateRule(rule)
	if !hasErrorContaining(res, "must start with http:// or https://") {
		t.Fatalf("errors: %+v", res.Errors)
	}
}

func TestSecretHeuristic(t *testing.T) {
	rule := mustParseAnomaly(t, validAnomalyYAML)
	rule.Notifications = []NotificationChannel{{
		Channel:  ChannelTelegram,
		BotToken: "1234567890:AAHrealLookingTokenValue",
		ChatID:   "-100123",
	}}
	res := ValidateRule(rule)
	if !hasWarningContaining(res, "raw secret") {
		t.Fatalf("warnings: %+v", res.Warnings)
	}

	rule.Notifications[0].BotToken = "${TELEGRAM_BOT_TOKEN}"
	res = ValidateRule(rule)
	if hasWarningContaining(res, "raw secret") {
		t.Fatalf("env placeholder should not warn: %+v", res.Warnings)
	}
}

func TestValidateFilters(t *testing.T) {
	rule := mustParseAnomaly(t, validAnomalyYAML)
	bad := 1.5
	rule.Filters = &Filters{
		EntityTypes: []string{"Memer"},
		MinScore:    &bad,
	}
	res := ValidateRule(rule)
	if !hasSuggestionContaining(res, "Member") {
		t.Fatalf("errors: %+v", res.Errors)
	}
	if !hasErrorContaining(res, "min_score must be between 0.0 and 1.0") {
		t.Fatalf("errors: %+v", res.Errors)
	}
}

func TestValidateScoringConfig(t *testing.T) {
	rule := &ScoringConfigRule{
		APIVersion: "v1",
		Kind:       string(KindScoringConfig),
		Metadata:   Metadata{ID: "scoring", Name: "Scoring"},
		Spec: ScoringConfigSpec{
			MultiSignalWeights: MultiSignalWeights{Statistical: 0.5, DBSCANNoise: 0.5, Behavioral: 0.5, Graph: 0.5},
			ClassificationThresholds: ClassificationThresholds{
				Mild: 0.5, Anomalous: 0.4, HighlyAnomalous: 0.8,
			},
		},
	}
	res := ValidateDocument(rule)
	if !hasWarningContaining(res, "sum to 1.0") {
		t.Fatalf("warnings: %+v", res.Warnings)
	}
	if !hasErrorContaining(res, "strictly ascending") {
		t.Fatalf("errors: %+v", res.Errors)
	}
}

func TestValidateTrendConfig(t *testing.T) {
	rule := &TrendConfigRule{
		APIVersion: "v1",
		Kind:       string(KindTrendConfig),
		Metadata:   Metadata{ID: "trend", Name: "Trend"},
		Spec: TrendConfigSpec{
			MinDataPoints: 5,
			SeverityThresholds: SeverityThresholds{
				Notable: 3.0, Significant: 2.0, Critical: 5.0,
			},
		},
	}
	res := ValidateDocument(rule)
	if !hasErrorContaining(res, "strictly ascending") {
		t.Fatalf("errors: %+v", res.Errors)
	}
}

func TestValidateFeatureConfigIndices(t *testing.T) {
	rule := &FeatureConfigRule{
		APIVersion: "v1",
		Kind:       string(KindFeatureConfig),
		Metadata:   Metadata{ID: "features", Name: "Features"},
		Spec: FeatureConfigSpec{
			Features: []FeatureDefinition{
				{Name: "a", Index: 0},
				{Name: "b", Index: 0},
				{Name: "c", Index: 3},
			},
		},
	}
	res := ValidateDocument(rule)
	if !hasErrorContaining(res, "duplicate index 0") {
		t.Fatalf("errors: %+v", res.Errors)
	}
	if !hasErrorContaining(res, "contiguous from 0") {
		t.Fatalf("errors: %+v", res.Errors)
	}
}
