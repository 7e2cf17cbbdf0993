package graph

import (
	"sync"
	"time"
)

type Node struct {
	ID          NodeID              `json:"id"`
	EntityType  EntityType          `json:"entity_type"`
	Key         string              `json:"key"`
	SegmentRefs map[string]struct{} `json:"-"`
	CreatedAt   time.Time           `json:"created_at"`
	LastSeen    time.Time           `json:"last_seen"`
}

type Edge struct {
	Source    NodeID    `json:"source"`
	Target    NodeID    `json:"target"`
	EdgeType  EdgeType  `json:"edge_type"`
	Weight    float64   `json:"weight"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	SegmentID string    `json:"segment_id"`
}

type edgeKey struct {
	source   NodeID
	target   NodeID
	edgeType EdgeType
}

type Stats struct {
	NodeCount   int            `json:"node_count"`
	EdgeCount   int            `json:"edge_count"`
	NodesByType map[string]int `json:"nodes_by_type"`
	EdgesByType map[string]int `json:"edges_by_type"`
}

// Store is the in-memory property graph. Writes are serialized, reads
// take a shared lock; the warm path works on View snapshots instead of
// holding the lock across a kernel run.
type Store struct {
	mu           sync.RWMutex
	nodes        map[NodeID]*Node
	edges        map[edgeKey]*Edge
	outgoing     map[NodeID][]edgeKey
	incoming     map[NodeID][]edgeKey
	segmentEdges map[string][]edgeKey
}

func NewStore() *Store {
	return &Store{
		nodes:        make(map[NodeID]*Node),
		edges:        make(map[edgeKey]*Edge),
		outgoing:     make(map[NodeID][]edgeKey),
		incoming:     make(map[NodeID][]edgeKey),
		segmentEdges: make(map[string][]edgeKey),
	}
}

// UpsertNode records an observation of (entityType, key) in segmentID
// and returns the node's stable id.
func (s *Store) UpsertNode(entityType EntityType, key, segmentID string) NodeID {
	id := NewNodeID(entityType, key)
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if node, ok := s.nodes[id]; ok {
		node.LastSeen = now
		node.SegmentRefs[segmentID] = struct{}{}
		return id
	}
	s.nodes[id] = &Node{
		ID:          id,
		EntityType:  entityType,
		Key:         key,
		SegmentRefs: map[string]struct{}{segmentID: {}},
		CreatedAt:   now,
		LastSeen:    now,
	}
	return id
}

// AddEdge adds or re-observes a (source, target, edgeType) edge. Weight
// starts at 1 and increments on every re-observation.
func (s *Store) AddEdge(source, target NodeID, edgeType EdgeType, segmentID string) {
	key := edgeKey{source: source, target: target, edgeType: edgeType}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if edge, ok := s.edges[key]; ok {
		edge.Weight++
		edge.LastSeen = now
		return
	}
	s.edges[key] = &Edge{
		Source:    source,
		Target:    target,
		EdgeType:  edgeType,
		Weight:    1,
		FirstSeen: now,
		LastSeen:  now,
		SegmentID: segmentID,
	}
	s.outgoing[source] = append(s.outgoing[source], key)
	s.incoming[target] = append(s.incoming[target], key)
	s.segmentEdges[segmentID] = append(s.segmentEdges[segmentID], key)
}

func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

func (s *Store) Node(id NodeID) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	node, ok := s.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *node, true
}

// NodeByKey resolves the natural key of an entity to its node.
func (s *Store) NodeByKey(entityType EntityType, key string) (Node, bool) {
	return s.Node(NewNodeID(entityType, key))
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{
		NodeCount:   len(s.nodes),
		EdgeCount:   len(s.edges),
		NodesByType: make(map[string]int),
		EdgesByType: make(map[string]int),
	}
	for _, node := range s.nodes {
		stats.NodesByType[string(node.EntityType)]++
	}
	for _, edge := range s.edges {
		stats.EdgesByType[string(edge.EdgeType)]++
	}
	return stats
}

// Neighbor is one adjacent node together with the connecting edge.
type Neighbor struct {
	Edge Edge
	Node Node
}

// Neighbors returns the adjacent nodes in both directions.
func (s *Store) Neighbors(id NodeID) []Neighbor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []Neighbor
	for _, key := range s.outgoing[id] {
		edge := s.edges[key]
		if node, ok := s.nodes[edge.Target]; ok {
			result = append(result, Neighbor{Edge: *edge, Node: *node})
		}
	}
	for _, key := range s.incoming[id] {
		edge := s.edges[key]
		if node, ok := s.nodes[edge.Source]; ok {
			result = append(result, Neighbor{Edge: *edge, Node: *node})
		}
	}
	return result
}

// View is a point-in-time copy of the graph for kernel runs.
type View struct {
	Nodes    map[NodeID]Node
	Edges    []Edge
	Outgoing map[NodeID][]NodeID
	Incoming map[NodeID][]NodeID
}

func (s *Store) View() *View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := &View{
		Nodes:    make(map[NodeID]Node, len(s.nodes)),
		Edges:    make([]Edge, 0, len(s.edges)),
		Outgoing: make(map[NodeID][]NodeID, len(s.outgoing)),
		Incoming: make(map[NodeID][]NodeID, len(s.incoming)),
	}
	for id, node := range s.nodes {
		v.Nodes[id] = *node
	}
	for _, edge := range s.edges {
		v.Edges = append(v.Edges, *edge)
		v.Outgoing[edge.Source] = append(v.Outgoing[edge.Source], edge.Target)
		v.Incoming[edge.Target] = append(v.Incoming[edge.Target], edge.Source)
	}
	return v
}

// NodesInSegment reports how many nodes reference the given segment.
func (s *Store) NodesInSegment(segmentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, node := range s.nodes {
		if _, ok := node.SegmentRefs[segmentID]; ok {
			count++
		}
	}
	return count
}

// EdgesInSegment reports how many edges were first seen in the segment.
func (s *Store) EdgesInSegment(segmentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.segmentEdges[segmentID])
}

// ForEachNode calls fn for every node under the read lock. fn must not
// call back into the store.
func (s *Store) ForEachNode(fn func(Node)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, node := range s.nodes {
		fn(*node)
	}
}

// ForEachEdge calls fn for every edge under the read lock. fn must not
// call back into the store.
func (s *Store) ForEachEdge(fn func(Edge)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, edge := range s.edges {
		fn(*edge)
	}
}
