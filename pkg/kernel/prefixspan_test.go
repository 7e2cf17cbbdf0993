package kernel

import (
	"math"
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/pkg/event"
)

func seqEvent(t *testing.T, eventType, member string, ts time.Time, fields map[string]string) event.Event {
	t.Helper()
	fv := map[string]event.FieldValue{}
	if member != "" {
		fv["memberCode"] = event.Text(member)
	}
	for k, v := range fields {
		fv[k] = event.Text(v)
	}
	return event.New(eventType, ts, fv)
}

func TestCompressEvent(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		eventType string
		fields    map[string]string
		want      string
	}{
		{"login", "Login", nil, "L"},
		{"game with name", "GameOpened", map[string]string{"game": "Sweet Bonanza"}, "G:Sweet"},
		{"grid click long game", "GridClick", map[string]string{"gameName": "MegaFortuneWheel"}, "G:MegaFort"},
		{"game without name", "GameOpened", nil, "G"},
		{"popup action", "PopupModule", map[string]string{"action": "click"}, "P:click"},
		{"popup type fallback", "PopUpModule", map[string]string{"popupType": "promotional"}, "P:promotio"},
		{"popup bare", "PopupModule", nil, "P"},
		{"error status code", "API Error", map[string]string{"statusCode": "500", "url": "/api/bets"}, "E:500"},
		{"error url only", "API Error", map[string]string{"url": "/api/v1/balance"}, "E:balance"},
		{"error bare", "API Error", nil, "E"},
		{"other type", "Deposit", nil, "Dep"},
		{"short other type", "Up", nil, "Up"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := seqEvent(t, tt.eventType, "M001", base, tt.fields)
			if got := CompressEvent(e); got != tt.want {
				t.Errorf("CompressEvent() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildSequencesGroupsByMember(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	events := []event.Event{
		seqEvent(t, "GameOpened", "M001", base.Add(time.Hour), map[string]string{"game": "slots"}),
		seqEvent(t, "Login", "M001", base, nil),
		seqEvent(t, "Login", "M002", base, nil),
		seqEvent(t, "Login", "", base, nil),
	}

	sequences := BuildSequences(events)
	if len(sequences) != 2 {
		t.Fatalf("expected 2 members, got %d", len(sequences))
	}
	m1 := sequences["M001"]
	if len(m1) != 2 {
		t.Fatalf("M001 should have 2 entries, got %d", len(m1))
	}
	if m1[0].Code != "L" || m1[1].Code != "G:slots" {
		t.Errorf("M001 sequence out of order: %q then %q", m1[0].Code, m1[1].Code)
	}
}

func TestPrefixSpanSupportScenario(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var events []event.Event
	for _, member := range []string{"M001", "M002", "M003"} {
		events = append(events,
			seqEvent(t, "Login", member, base, nil),
			seqEvent(t, "GameOpened", member, base.Add(10*time.Minute), map[string]string{"game": "slots"}),
		)
	}
	events = append(events, seqEvent(t, "API Error", "M004", base, map[string]string{"statusCode": "500"}))

	sequences := BuildSequences(events)
	patterns := PrefixSpan(sequences, PrefixSpanConfig{MinSupport: 0.5, MaxLength: 10, MinMembers: 1})

	if len(patterns) != 1 {
		t.Fatalf("expected exactly one pattern, got %d: %+v", len(patterns), patterns)
	}
	p := patterns[0]
	if p.Sequence[0] != "L" || p.Sequence[1] != "G:slots" {
		t.Errorf("unexpected sequence %v", p.Sequence)
	}
	if math.Abs(p.Support-0.75) > 1e-10 {
		t.Errorf("support = %f, want 0.75", p.Support)
	}
	if p.MemberCount != 3 {
		t.Errorf("member count = %d, want 3", p.MemberCount)
	}
	if p.Category != PatternFunnel {
		t.Errorf("category = %s, want funnel", p.Category)
	}
	if math.Abs(p.AvgDurationSecs-600) > 1e-10 {
		t.Errorf("avg duration = %f, want 600", p.AvgDurationSecs)
	}
}

func TestPrefixSpanMinCountFiltersRarePatterns(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var events []event.Event
	// Common pattern for 4 members, rare pattern for 1.
	for _, member := range []string{"M001", "M002", "M003", "M004"} {
		events = append(events,
			seqEvent(t, "Login", member, base, nil),
			seqEvent(t, "GameOpened", member, base.Add(time.Minute), map[string]string{"game": "slots"}),
		)
	}
	events = append(events,
		seqEvent(t, "Login", "M005", base, nil),
		seqEvent(t, "GameOpened", "M005", base.Add(time.Minute), map[string]string{"game": "poker"}),
	)

	sequences := BuildSequences(events)
	patterns := PrefixSpan(sequences, PrefixSpanConfig{MinSupport: 0.5, MaxLength: 10, MinMembers: 1})

	for _, p := range patterns {
		for _, code := range p.Sequence {
			if code == "G:poker" {
				t.Errorf("rare pattern should be filtered: %v", p.Sequence)
			}
		}
	}
}

func TestPrefixSpanEmptyInput(t *testing.T) {
	if patterns := PrefixSpan(nil, DefaultPrefixSpanConfig()); patterns != nil {
		t.Fatalf("expected nil, got %+v", patterns)
	}
}

func TestPrefixSpanSortedBySupport(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	var events []event.Event
	for _, member := range []string{"M001", "M002", "M003", "M004"} {
		events = append(events,
			seqEvent(t, "Login", member, base, nil),
			seqEvent(t, "GameOpened", member, base.Add(time.Minute), map[string]string{"game": "slots"}),
		)
	}
	// Only half the members continue to a second game.
	for _, member := range []string{"M001", "M002"} {
		events = append(events,
			seqEvent(t, "GameOpened", member, base.Add(2*time.Minute), map[string]string{"game": "slots"}),
		)
	}

	sequences := BuildSequences(events)
	patterns := PrefixSpan(sequences, PrefixSpanConfig{MinSupport: 0.25, MaxLength: 10, MinMembers: 1})

	if len(patterns) < 2 {
		t.Fatalf("expected multiple patterns, got %d", len(patterns))
	}
	for i := 1; i < len(patterns); i++ {
		if patterns[i].Support > patterns[i-1].Support {
			t.Errorf("patterns not sorted by support: %f after %f", patterns[i].Support, patterns[i-1].Support)
		}
	}
}

func TestClassifyPattern(t *testing.T) {
	tests := []struct {
		name     string
		sequence []string
		want     PatternCategory
	}{
		{"error chain", []string{"E:500", "E:502"}, PatternErrorChain},
		{"churn after error", []string{"L", "G:slots", "E:500"}, PatternChurn},
		{"recovery is not churn", []string{"E:500", "G:slots", "G:slots"}, PatternEngagement},
		{"funnel", []string{"L", "G:slots"}, PatternFunnel},
		{"engagement", []string{"G:slots", "G:poker"}, PatternEngagement},
		{"unknown", []string{"Dep", "P:click"}, PatternUnknown},
		{"game before login is not funnel", []string{"G:slots", "L"}, PatternUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyPattern(tt.sequence); got != tt.want {
				t.Errorf("ClassifyPattern(%v) = %s, want %s", tt.sequence, got, tt.want)
			}
		})
	}
}

func TestPatternIDDeterministic(t *testing.T) {
	a := PatternID([]string{"L", "G:slots"})
	b := PatternID([]string{"L", "G:slots"})
	if a != b {
		t.Errorf("same sequence should yield same id: %s vs %s", a, b)
	}
	if c := PatternID([]string{"G:slots", "L"}); c == a {
		t.Errorf("different sequences should yield different ids")
	}
	if len(a) != len("pat_")+16 {
		t.Errorf("unexpected id format %q", a)
	}
}
