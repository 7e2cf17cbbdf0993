package kernel

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/driftwatch/driftwatch/pkg/event"
	"github.com/driftwatch/driftwatch/pkg/logger"
)

// PatternCategory classifies a discovered temporal pattern.
type PatternCategory string

const (
	// PatternChurn leads to inactivity.
	PatternChurn PatternCategory = "churn"
	// PatternEngagement leads to increased activity.
	PatternEngagement PatternCategory = "engagement"
	// PatternErrorChain is a cascade of errors.
	PatternErrorChain PatternCategory = "error_chain"
	// PatternFunnel is a conversion sequence.
	PatternFunnel PatternCategory = "funnel"
	// PatternUnknown is everything else.
	PatternUnknown PatternCategory = "unknown"
)

// TemporalPattern is a sequential pattern discovered by PrefixSpan.
type TemporalPattern struct {
	ID              string          `json:"id"`
	Sequence        []string        `json:"sequence"`
	Support         float64         `json:"support"`
	MemberCount     int             `json:"member_count"`
	AvgDurationSecs float64         `json:"avg_duration_secs"`
	FirstSeen       time.Time       `json:"first_seen"`
	Category        PatternCategory `json:"category"`
}

// PrefixSpanConfig controls sequential pattern mining.
type PrefixSpanConfig struct {
	MinSupport float64
	MaxLength  int
	MinMembers int
}

// DefaultPrefixSpanConfig returns the standard mining thresholds.
func DefaultPrefixSpanConfig() PrefixSpanConfig {
	return PrefixSpanConfig{MinSupport: 0.01, MaxLength: 10, MinMembers: 50}
}

// SequenceEntry is one compressed event in a member's timeline.
type SequenceEntry struct {
	Timestamp time.Time
	Code      string
}

// CompressEvent reduces an event to a short sequence code:
// Login -> "L", GameOpened -> "G:slots", PopupModule -> "P:click",
// API Error -> "E:500", anything else -> first 3 chars of the type.
func CompressEvent(e event.Event) string {
	get := func(name string) string {
		s, _ := e.Text(name)
		return s
	}
	switch e.EventType {
	case "Login":
		return "L"
	case "GameOpened", "GridClick":
		game := get("game")
		if game == "" {
			game = get("gameName")
		}
		if game != "" {
			short := game
			if fields := strings.Fields(game); len(fields) > 0 {
				short = fields[0]
			}
			return "G:" + truncate(short, 8)
		}
		return "G"
	case "PopupModule", "PopUpModule":
		action := get("action")
		if action == "" {
			action = get("popupType")
		}
		if action != "" {
			return "P:" + truncate(action, 8)
		}
		return "P"
	case "API Error":
		if code := get("statusCode"); code != "" {
			return "E:" + code
		}
		if url := get("url"); url != "" {
			parts := strings.Split(url, "/")
			short := parts[len(parts)-1]
			if short == "" {
				short = "unknown"
			}
			return "E:" + truncate(short, 8)
		}
		return "E"
	default:
		return truncate(e.EventType, 3)
	}
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// BuildSequences groups events by member code into timestamp-sorted
// compressed sequences. Events without a member code are skipped.
func BuildSequences(events []event.Event) map[string][]SequenceEntry {
	sequences := make(map[string][]SequenceEntry)
	for _, e := range events {
		member, _ := e.Text("memberCode")
		if member == "" {
			continue
		}
		sequences[member] = append(sequences[member], SequenceEntry{
			Timestamp: e.Timestamp,
			Code:      CompressEvent(e),
		})
	}
	for _, seq := range sequences {
		sort.Slice(seq, func(i, j int) bool { return seq[i].Timestamp.Before(seq[j].Timestamp) })
	}
	return sequences
}

type projection struct {
	memberIdx int
	pos       int
}

// PrefixSpan mines frequent sequential patterns from member sequences.
// Patterns are returned sorted by support descending, ties broken by
// sequence length descending.
func PrefixSpan(sequences map[string][]SequenceEntry, config PrefixSpanConfig) []TemporalPattern {
	totalMembers := len(sequences)
	if totalMembers == 0 {
		return nil
	}

	minCount := int(math.Ceil(config.MinSupport * float64(totalMembers)))
	if minCount < config.MinMembers {
		minCount = config.MinMembers
	}

	members := make([]string, 0, totalMembers)
	for member := range sequences {
		members = append(members, member)
	}
	sort.Strings(members)

	db := make([][]string, totalMembers)
	for i, member := range members {
		seq := sequences[member]
		codes := make([]string, len(seq))
		for j, entry := range seq {
			codes[j] = entry.Code
		}
		db[i] = codes
	}

	type rawPattern struct {
		sequence []string
		count    int
		members  []int
	}
	var raw []rawPattern

	initial := make([]projection, totalMembers)
	for i := range initial {
		initial[i] = projection{memberIdx: i}
	}

	var mine func(prefix []string, projected []projection)
	mine = func(prefix []string, projected []projection) {
		if len(prefix) >= config.MaxLength {
			return
		}

		itemProjections := make(map[string][]projection)
		for _, p := range projected {
			seq := db[p.memberIdx]
			seen := make(map[string]struct{})
			for j := p.pos; j < len(seq); j++ {
				item := seq[j]
				if _, ok := seen[item]; ok {
					continue
				}
				seen[item] = struct{}{}
				itemProjections[item] = append(itemProjections[item], projection{p.memberIdx, j + 1})
			}
		}

		items := make([]string, 0, len(itemProjections))
		for item := range itemProjections {
			items = append(items, item)
		}
		sort.Strings(items)

		for _, item := range items {
			newProjected := itemProjections[item]
			uniqueMembers := make([]int, 0, len(newProjected))
			seen := make(map[int]struct{}, len(newProjected))
			for _, p := range newProjected {
				if _, ok := seen[p.memberIdx]; !ok {
					seen[p.memberIdx] = struct{}{}
					uniqueMembers = append(uniqueMembers, p.memberIdx)
				}
			}
			sort.Ints(uniqueMembers)
			if len(uniqueMembers) < minCount {
				continue
			}

			newPrefix := append(append([]string(nil), prefix...), item)
			if len(newPrefix) >= 2 {
				raw = append(raw, rawPattern{
					sequence: newPrefix,
					count:    len(uniqueMembers),
					members:  uniqueMembers,
				})
			}

			// Keep only the first projection per member before recursing.
			deduped := make([]projection, 0, len(uniqueMembers))
			seenMembers := make(map[int]struct{}, len(uniqueMembers))
			for _, p := range newProjected {
				if _, ok := seenMembers[p.memberIdx]; !ok {
					seenMembers[p.memberIdx] = struct{}{}
					deduped = append(deduped, p)
				}
			}
			mine(newPrefix, deduped)
		}
	}
	mine(nil, initial)

	now := time.Now().UTC()
	result := make([]TemporalPattern, 0, len(raw))
	for _, rp := range raw {
		result = append(result, TemporalPattern{
			ID:              PatternID(rp.sequence),
			Sequence:        rp.sequence,
			Support:         float64(rp.count) / float64(totalMembers),
			MemberCount:     rp.count,
			AvgDurationSecs: avgPatternDuration(rp.sequence, rp.members, members, sequences),
			FirstSeen:       now,
			Category:        ClassifyPattern(rp.sequence),
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Support != result[j].Support {
			return result[i].Support > result[j].Support
		}
		return len(result[i].Sequence) > len(result[j].Sequence)
	})

	logger.Debug("[PrefixSpan] Mining complete",
		"patterns", len(result), "total_members", totalMembers, "min_count", minCount)
	return result
}

func avgPatternDuration(pattern []string, memberIndices []int, members []string, sequences map[string][]SequenceEntry) float64 {
	if len(pattern) == 0 || len(memberIndices) == 0 {
		return 0
	}
	total := 0.0
	count := 0
	for _, idx := range memberIndices {
		events := sequences[members[idx]]
		if d, ok := patternDuration(pattern, events); ok {
			total += d
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// patternDuration measures the first subsequence occurrence of pattern
// in events and returns its time span in seconds.
func patternDuration(pattern []string, events []SequenceEntry) (float64, bool) {
	if len(pattern) == 0 || len(events) == 0 {
		return 0, false
	}
	idx := 0
	var first, last time.Time
	for _, entry := range events {
		if idx < len(pattern) && entry.Code == pattern[idx] {
			if idx == 0 {
				first = entry.Timestamp
			}
			last = entry.Timestamp
			idx++
			if idx == len(pattern) {
				break
			}
		}
	}
	if idx != len(pattern) {
		return 0, false
	}
	d := last.Sub(first).Seconds()
	if d < 0 {
		d = -d
	}
	return d, true
}

// ClassifyPattern buckets a sequence by what its codes suggest about
// member behavior.
func ClassifyPattern(sequence []string) PatternCategory {
	errorCount := 0
	lastErrorPos := -1
	hasLogin := false
	hasGame := false
	firstLogin := -1
	firstGame := -1
	gameCount := 0
	for i, code := range sequence {
		switch {
		case strings.HasPrefix(code, "E"):
			errorCount++
			lastErrorPos = i
		case code == "L":
			hasLogin = true
			if firstLogin == -1 {
				firstLogin = i
			}
		case strings.HasPrefix(code, "G"):
			hasGame = true
			gameCount++
			if firstGame == -1 {
				firstGame = i
			}
		}
	}

	if errorCount >= 2 {
		return PatternErrorChain
	}

	if errorCount > 0 {
		activityAfter := false
		for _, code := range sequence[lastErrorPos+1:] {
			if code == "L" || strings.HasPrefix(code, "G") {
				activityAfter = true
				break
			}
		}
		if !activityAfter {
			return PatternChurn
		}
	}

	if hasLogin && hasGame && firstLogin < firstGame {
		return PatternFunnel
	}

	if gameCount >= 2 {
		return PatternEngagement
	}

	return PatternUnknown
}

// PatternID derives a stable identifier from the sequence codes.
func PatternID(sequence []string) string {
	h := fnv.New64a()
	for _, code := range sequence {
		h.Write([]byte(code))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("pat_%016x", h.Sum64())
}
