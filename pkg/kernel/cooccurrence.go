package kernel

import (
	"math"
	"strings"

	"github.com/driftwatch/driftwatch/pkg/event"
	"github.com/driftwatch/driftwatch/pkg/graph"
	"github.com/driftwatch/driftwatch/pkg/logger"
)

// entityFields maps raw field names to the entity type they identify.
var entityFields = []struct {
	Field string
	Type  graph.EntityType
}{
	{"memberCode", graph.EntityMember},
	{"deviceId", graph.EntityDevice},
	{"gameName", graph.EntityGame},
	{"affiliateCode", graph.EntityAffiliate},
	{"currency", graph.EntityCurrency},
	{"vipGroup", graph.EntityVipGroup},
	{"errorCode", graph.EntityError},
	{"platform", graph.EntityPlatform},
	{"popupId", graph.EntityPopup},
	{"provider", graph.EntityProvider},
}

var entityOrder = func() map[graph.EntityType]int {
	m := make(map[graph.EntityType]int, len(graph.EntityTypes))
	for i, t := range graph.EntityTypes {
		m[t] = i
	}
	return m
}()

// TypePair identifies a co-occurrence matrix between two entity types.
// A always orders before B in the canonical entity order.
type TypePair struct {
	A graph.EntityType
	B graph.EntityType
}

func (p TypePair) String() string { return string(p.A) + "|" + string(p.B) }

// PairKey joins two entity keys into a matrix cell key.
func PairKey(a, b string) string { return a + "|" + b }

// SplitPairKey is the inverse of PairKey.
func SplitPairKey(key string) (string, string) {
	a, b, _ := strings.Cut(key, "|")
	return a, b
}

// CooccurrenceMatrix accumulates raw pair counts plus the marginals
// needed for pointwise mutual information.
type CooccurrenceMatrix struct {
	Counts    map[string]float64 `json:"counts"`
	PMI       map[string]float64 `json:"pmi"`
	Marginals map[string]float64 `json:"marginals"`
	TotalDocs float64            `json:"total_docs"`
}

// NewCooccurrenceMatrix returns an empty matrix.
func NewCooccurrenceMatrix() *CooccurrenceMatrix {
	return &CooccurrenceMatrix{
		Counts:    make(map[string]float64),
		PMI:       make(map[string]float64),
		Marginals: make(map[string]float64),
	}
}

// Cooccurrence holds one matrix per entity type pair.
type Cooccurrence map[TypePair]*CooccurrenceMatrix

// Update extracts entity values from each event and increments pair
// counts and marginals for every distinct pair found in the same event.
func (c Cooccurrence) Update(events []event.Event) {
	for _, e := range events {
		type entity struct {
			Type graph.EntityType
			Key  string
		}
		var entities []entity
		for _, ef := range entityFields {
			if val, _ := e.Text(ef.Field); val != "" {
				entities = append(entities, entity{ef.Type, val})
			}
		}

		for i := 0; i < len(entities); i++ {
			for j := i + 1; j < len(entities); j++ {
				a, b := entities[i], entities[j]
				if entityOrder[a.Type] > entityOrder[b.Type] {
					a, b = b, a
				}
				pair := TypePair{a.Type, b.Type}
				matrix, ok := c[pair]
				if !ok {
					matrix = NewCooccurrenceMatrix()
					c[pair] = matrix
				}
				matrix.Counts[PairKey(a.Key, b.Key)]++
				matrix.Marginals[a.Key]++
				matrix.Marginals[b.Key]++
				matrix.TotalDocs++
			}
		}
	}
}

// ComputePMI fills the PMI map from the current counts and marginals.
//
//	PMI(A,B) = log2(P(A,B) / (P(A) * P(B)))
func (m *CooccurrenceMatrix) ComputePMI() {
	if m.TotalDocs <= 0 {
		return
	}
	total := m.TotalDocs
	m.PMI = make(map[string]float64, len(m.Counts))
	for key, count := range m.Counts {
		keyA, keyB := SplitPairKey(key)
		marginalA := m.Marginals[keyA]
		marginalB := m.Marginals[keyB]
		if marginalA <= 0 || marginalB <= 0 {
			continue
		}
		pAB := count / total
		denominator := (marginalA / total) * (marginalB / total)
		if denominator <= 0 {
			continue
		}
		m.PMI[key] = math.Log2(pAB / denominator)
	}
	logger.Debug("[Cooccurrence] PMI computation complete", "pairs", len(m.PMI), "total_docs", total)
}

// ComputeAllPMI refreshes PMI scores for every matrix.
func (c Cooccurrence) ComputeAllPMI() {
	for _, matrix := range c {
		matrix.ComputePMI()
	}
}
