package catalog

import (
	"fmt"
	"sort"
	"strings"

	"github.com/driftwatch/driftwatch/pkg/graph"
	"github.com/driftwatch/driftwatch/pkg/logger"
)

const sampleKeyLimit = 5

// Entry describes one entity type discovered in the graph.
type Entry struct {
	EntityType string   `json:"entity_type"`
	NodeCount  int      `json:"node_count"`
	SampleKeys []string `json:"sample_keys"`
}

// EdgeSummary describes one edge type discovered in the graph.
type EdgeSummary struct {
	EdgeType    string   `json:"edge_type"`
	Count       int      `json:"count"`
	SourceTypes []string `json:"source_types"`
	TargetTypes []string `json:"target_types"`
}

// ExternalSource describes an external SQL-queryable source attached to
// the catalog (names and schemas only, queries run elsewhere).
type ExternalSource struct {
	Name         string             `json:"name"`
	Kind         string             `json:"kind"`
	ConnectionID string             `json:"connection_id"`
	Databases    []ExternalDatabase `json:"databases"`
}

type ExternalDatabase struct {
	Name   string          `json:"name"`
	Tables []ExternalTable `json:"tables"`
}

type ExternalTable struct {
	Name    string           `json:"name"`
	Columns []ExternalColumn `json:"columns"`
}

type ExternalColumn struct {
	Name     string `json:"name"`
	DataType string `json:"data_type"`
}

// Catalog summarizes the entity and edge types of the loaded graph.
type Catalog struct {
	EntityTypes     []Entry          `json:"entity_types"`
	EdgeTypes       []EdgeSummary    `json:"edge_types"`
	TotalNodes      int              `json:"total_nodes"`
	TotalEdges      int              `json:"total_edges"`
	ExternalSources []ExternalSource `json:"external_sources,omitempty"`
}

// Partial is one segment's contribution to the catalog.
type Partial struct {
	SegmentID   string        `json:"segment_id"`
	EntityTypes []Entry       `json:"entity_types"`
	EdgeTypes   []EdgeSummary `json:"edge_types"`
	NodeCount   int           `json:"node_count"`
	EdgeCount   int           `json:"edge_count"`
}

func buildEntries(typeKeys map[string][]string) []Entry {
	entries := make([]Entry, 0, len(typeKeys))
	for entityType, keys := range typeKeys {
		samples := keys
		if len(samples) > sampleKeyLimit {
			samples = samples[:sampleKeyLimit]
		}
		samples = append([]string(nil), samples...)
		sort.Strings(samples)
		entries = append(entries, Entry{
			EntityType: entityType,
			NodeCount:  len(keys),
			SampleKeys: samples,
		})
	}
	sortEntries(entries)
	return entries
}

func sortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].NodeCount != entries[j].NodeCount {
			return entries[i].NodeCount > entries[j].NodeCount
		}
		return entries[i].EntityType < entries[j].EntityType
	})
}

type edgeAgg struct {
	count   int
	sources map[string]struct{}
	targets map[string]struct{}
}

func buildEdgeSummaries(agg map[string]*edgeAgg) []EdgeSummary {
	summaries := make([]EdgeSummary, 0, len(agg))
	for edgeType, info := range agg {
		summaries = append(summaries, EdgeSummary{
			EdgeType:    edgeType,
			Count:       info.count,
			SourceTypes: sortedSet(info.sources),
			TargetTypes: sortedSet(info.targets),
		})
	}
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].Count != summaries[j].Count {
			return summaries[i].Count > summaries[j].Count
		}
		return summaries[i].EdgeType < summaries[j].EdgeType
	})
	return summaries
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// FromGraph inspects the graph and summarizes all entity and edge
// types.
func FromGraph(g *graph.Store) Catalog {
	typeKeys := make(map[string][]string)
	g.ForEachNode(func(n graph.Node) {
		typeKeys[string(n.EntityType)] = append(typeKeys[string(n.EntityType)], n.Key)
	})

	agg := make(map[string]*edgeAgg)
	g.ForEachEdge(func(e graph.Edge) {
		info := agg[string(e.EdgeType)]
		if info == nil {
			info = &edgeAgg{sources: make(map[string]struct{}), targets: make(map[string]struct{})}
			agg[string(e.EdgeType)] = info
		}
		info.count++
		if src, ok := g.Node(e.Source); ok {
			info.sources[string(src.EntityType)] = struct{}{}
		}
		if dst, ok := g.Node(e.Target); ok {
			info.targets[string(dst.EntityType)] = struct{}{}
		}
	})

	c := Catalog{
		EntityTypes: buildEntries(typeKeys),
		EdgeTypes:   buildEdgeSummaries(agg),
		TotalNodes:  g.NodeCount(),
		TotalEdges:  g.EdgeCount(),
	}
	logger.Info("[Catalog] Catalog built",
		"entity_types", len(c.EntityTypes),
		"edge_types", len(c.EdgeTypes),
		"nodes", c.TotalNodes,
		"edges", c.TotalEdges)
	return c
}

// PartialFromGraph extracts one segment's contribution. Nodes are
// included when their provenance contains segmentID, edges when they
// were first seen in segmentID.
func PartialFromGraph(g *graph.Store, segmentID string) Partial {
	typeKeys := make(map[string][]string)
	nodeCount := 0
	g.ForEachNode(func(n graph.Node) {
		if _, ok := n.SegmentRefs[segmentID]; !ok {
			return
		}
		nodeCount++
		typeKeys[string(n.EntityType)] = append(typeKeys[string(n.EntityType)], n.Key)
	})

	agg := make(map[string]*edgeAgg)
	edgeCount := 0
	g.ForEachEdge(func(e graph.Edge) {
		if e.SegmentID != segmentID {
			return
		}
		edgeCount++
		info := agg[string(e.EdgeType)]
		if info == nil {
			info = &edgeAgg{sources: make(map[string]struct{}), targets: make(map[string]struct{})}
			agg[string(e.EdgeType)] = info
		}
		info.count++
		if src, ok := g.Node(e.Source); ok {
			info.sources[string(src.EntityType)] = struct{}{}
		}
		if dst, ok := g.Node(e.Target); ok {
			info.targets[string(dst.EntityType)] = struct{}{}
		}
	})

	return Partial{
		SegmentID:   segmentID,
		EntityTypes: buildEntries(typeKeys),
		EdgeTypes:   buildEdgeSummaries(agg),
		NodeCount:   nodeCount,
		EdgeCount:   edgeCount,
	}
}

// FromPartials merges per-segment partials: entity counts are summed,
// sample keys merged up to the cap, edge source/target type sets
// unioned. Ordering matches FromGraph.
func FromPartials(partials []Partial) Catalog {
	typeCounts := make(map[string]int)
	typeSamples := make(map[string][]string)
	agg := make(map[string]*edgeAgg)
	totalNodes, totalEdges := 0, 0

	for _, partial := range partials {
		totalNodes += partial.NodeCount
		totalEdges += partial.EdgeCount

		for _, entry := range partial.EntityTypes {
			typeCounts[entry.EntityType] += entry.NodeCount
			samples := typeSamples[entry.EntityType]
			for _, key := range entry.SampleKeys {
				if len(samples) >= sampleKeyLimit || contains(samples, key) {
					continue
				}
				samples = append(samples, key)
			}
			typeSamples[entry.EntityType] = samples
		}

		for _, edge := range partial.EdgeTypes {
			info := agg[edge.EdgeType]
			if info == nil {
				info = &edgeAgg{sources: make(map[string]struct{}), targets: make(map[string]struct{})}
				agg[edge.EdgeType] = info
			}
			info.count += edge.Count
			for _, t := range edge.SourceTypes {
				info.sources[t] = struct{}{}
			}
			for _, t := range edge.TargetTypes {
				info.targets[t] = struct{}{}
			}
		}
	}

	entries := make([]Entry, 0, len(typeCounts))
	for entityType, count := range typeCounts {
		samples := append([]string(nil), typeSamples[entityType]...)
		sort.Strings(samples)
		entries = append(entries, Entry{
			EntityType: entityType,
			NodeCount:  count,
			SampleKeys: samples,
		})
	}
	sortEntries(entries)

	return Catalog{
		EntityTypes: entries,
		EdgeTypes:   buildEdgeSummaries(agg),
		TotalNodes:  totalNodes,
		TotalEdges:  totalEdges,
	}
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}

// WithExternalSources attaches external SQL source descriptors.
func (c Catalog) WithExternalSources(sources []ExternalSource) Catalog {
	c.ExternalSources = sources
	return c
}

// Describe renders the catalog as a human-readable schema summary.
func (c Catalog) Describe() string {
	var lines []string
	lines = append(lines, fmt.Sprintf("The graph contains %d nodes and %d edges.\n", c.TotalNodes, c.TotalEdges))

	lines = append(lines, "Entity types:")
	for _, entry := range c.EntityTypes {
		samples := ""
		if len(entry.SampleKeys) > 0 {
			samples = fmt.Sprintf(" (examples: %s)", strings.Join(entry.SampleKeys, ", "))
		}
		lines = append(lines, fmt.Sprintf("  - %s (%d nodes)%s", entry.EntityType, entry.NodeCount, samples))
	}

	lines = append(lines, "", "Edge types:")
	for _, edge := range c.EdgeTypes {
		lines = append(lines, fmt.Sprintf("  - %s (%d edges): %s → %s",
			edge.EdgeType,
			edge.Count,
			strings.Join(edge.SourceTypes, "|"),
			strings.Join(edge.TargetTypes, "|")))
	}

	if len(c.ExternalSources) > 0 {
		lines = append(lines, "", "External SQL sources:")
		for _, src := range c.ExternalSources {
			lines = append(lines, fmt.Sprintf("  %s (kind: %s, id: %s):", src.Name, src.Kind, src.ConnectionID))
			for _, db := range src.Databases {
				lines = append(lines, fmt.Sprintf("    database %s:", db.Name))
				for _, table := range db.Tables {
					cols := make([]string, 0, len(table.Columns))
					for _, col := range table.Columns {
						cols = append(cols, fmt.Sprintf("%s %s", col.Name, col.DataType))
					}
					lines = append(lines, fmt.Sprintf("      table %s (%s)", table.Name, strings.Join(cols, ", ")))
				}
			}
		}
	}

	return strings.Join(lines, "\n")
}
