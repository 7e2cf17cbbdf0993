package feature

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/driftwatch/driftwatch/pkg/event"
	"github.com/driftwatch/driftwatch/pkg/graph"
)

// Dim is the canonical feature vector width.
const Dim = 10

// Names lists the canonical feature names in vector order.
var Names = [Dim]string{
	"login_count_7d",
	"game_count_7d",
	"unique_games_7d",
	"error_count_7d",
	"popup_interaction_7d",
	"platform_mobile_ratio",
	"session_count_7d",
	"avg_session_gap_hours",
	"vip_group_numeric",
	"currency_encoded",
}

// Index resolves a canonical feature name to its vector position.
func Index(name string) (int, bool) {
	for i, n := range Names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// MemberNodeID maps a member code to the member's graph node id.
func MemberNodeID(code string) graph.NodeID {
	return graph.NewNodeID(graph.EntityMember, "member:"+code)
}

// accumulator holds the raw counters for one member.
type accumulator struct {
	loginCount        float64
	gameCount         float64
	uniqueGames       map[string]struct{}
	errorCount        float64
	popupCount        float64
	mobileEvents      float64
	totalEvents       float64
	sessionCount      float64
	sessionTimestamps []time.Time
	vipGroup          string
	currency          string
}

// Store accumulates per-member feature vectors from the event stream.
type Store struct {
	mu         sync.RWMutex
	features   map[graph.NodeID]*accumulator
	memberKeys map[graph.NodeID]string
}

func NewStore() *Store {
	return &Store{
		features:   make(map[graph.NodeID]*accumulator),
		memberKeys: make(map[graph.NodeID]string),
	}
}

// Update folds one event into its member's accumulator. Events without
// a member code are skipped.
func (s *Store) Update(e event.Event) {
	code, ok := e.Text("memberCode")
	if !ok || code == "" {
		return
	}
	id := MemberNodeID(code)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memberKeys[id]; !ok {
		s.memberKeys[id] = code
	}
	acc := s.features[id]
	if acc == nil {
		acc = &accumulator{uniqueGames: make(map[string]struct{})}
		s.features[id] = acc
	}

	acc.totalEvents++
	switch {
	case strings.Contains(e.EventType, "login") || strings.Contains(e.EventType, "Login"):
		acc.loginCount++
		acc.sessionCount++
		acc.sessionTimestamps = append(acc.sessionTimestamps, e.Timestamp)
	case strings.Contains(e.EventType, "game") || strings.Contains(e.EventType, "Game"):
		acc.gameCount++
		if game, ok := e.Text("gameName"); ok {
			acc.uniqueGames[game] = struct{}{}
		}
	case strings.Contains(e.EventType, "error") || strings.Contains(e.EventType, "Error"):
		acc.errorCount++
	case strings.Contains(e.EventType, "popup") || strings.Contains(e.EventType, "Popup"):
		acc.popupCount++
	}

	if platform, ok := e.Text("platform"); ok {
		lower := strings.ToLower(platform)
		if strings.Contains(lower, "mobile") || strings.Contains(lower, "android") || strings.Contains(lower, "ios") {
			acc.mobileEvents++
		}
	}
	if vip, ok := e.Text("vipGroup"); ok {
		acc.vipGroup = vip
	}
	if currency, ok := e.Text("currency"); ok {
		acc.currency = currency
	}
}

// Vector materializes the 10-dimensional feature vector for a member.
func (s *Store) Vector(id graph.NodeID) ([]float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.features[id]
	if !ok {
		return nil, false
	}
	return acc.vector(), true
}

func (acc *accumulator) vector() []float64 {
	mobileRatio := 0.0
	if acc.totalEvents > 0 {
		mobileRatio = acc.mobileEvents / acc.totalEvents
	}
	vipNumeric := 0.0
	if acc.vipGroup != "" {
		vipNumeric = EncodeVipGroup(acc.vipGroup)
	}
	currencyEncoded := 0.0
	if acc.currency != "" {
		currencyEncoded = EncodeCurrency(acc.currency)
	}
	return []float64{
		acc.loginCount,
		acc.gameCount,
		float64(len(acc.uniqueGames)),
		acc.errorCount,
		acc.popupCount,
		mobileRatio,
		acc.sessionCount,
		avgSessionGapHours(acc.sessionTimestamps),
		vipNumeric,
		currencyEncoded,
	}
}

// Members returns the ids of all observed members.
func (s *Store) Members() []graph.NodeID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]graph.NodeID, 0, len(s.features))
	for id := range s.features {
		ids = append(ids, id)
	}
	return ids
}

// MemberKey resolves a member node id back to the member code.
func (s *Store) MemberKey(id graph.NodeID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	code, ok := s.memberKeys[id]
	return code, ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.features)
}

// Matrix snapshots all feature vectors in a stable id order, for the
// batch kernels.
func (s *Store) Matrix() ([]graph.NodeID, [][]float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]graph.NodeID, 0, len(s.features))
	for id := range s.features {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	vectors := make([][]float64, len(ids))
	for i, id := range ids {
		vectors[i] = s.features[id].vector()
	}
	return ids, vectors
}

func avgSessionGapHours(timestamps []time.Time) float64 {
	if len(timestamps) < 2 {
		return 0
	}
	sorted := append([]time.Time(nil), timestamps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })
	total := 0.0
	for i := 1; i < len(sorted); i++ {
		total += sorted[i].Sub(sorted[i-1]).Abs().Hours()
	}
	return total / float64(len(sorted)-1)
}

// EncodeVipGroup maps the well-known tiers to 1..6 and hashes anything
// else into [0, 1).
func EncodeVipGroup(group string) float64 {
	switch strings.ToLower(group) {
	case "bronze":
		return 1
	case "silver":
		return 2
	case "gold":
		return 3
	case "platinum":
		return 4
	case "diamond":
		return 5
	case "vip":
		return 6
	default:
		return foldHash(group)
	}
}

// EncodeCurrency maps the common currencies to 1..10 and hashes
// anything else into [0, 1).
func EncodeCurrency(currency string) float64 {
	switch strings.ToUpper(currency) {
	case "USD":
		return 1
	case "EUR":
		return 2
	case "GBP":
		return 3
	case "CNY", "RMB":
		return 4
	case "JPY":
		return 5
	case "KRW":
		return 6
	case "THB":
		return 7
	case "VND":
		return 8
	case "IDR":
		return 9
	case "MYR":
		return 10
	default:
		return foldHash(currency)
	}
}

func foldHash(s string) float64 {
	var h uint32
	for i := 0; i < len(s); i++ {
		h = h*31 + uint32(s[i])
	}
	return float64(h%100) / 100
}
