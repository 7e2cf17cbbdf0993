package graph

import (
	"context"
	"math/rand"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/driftwatch/driftwatch/pkg/event"
	"github.com/driftwatch/driftwatch/pkg/segment"
)

func TestNodeIDDeterministic(t *testing.T) {
	a := NewNodeID(EntityMember, "member:M001")
	b := NewNodeID(EntityMember, "member:M001")
	if a != b {
		t.Fatal("same (type, key) must yield the same id")
	}
	if a == NewNodeID(EntityMember, "member:M002") {
		t.Fatal("different keys must yield different ids")
	}
	if a == NewNodeID(EntityDevice, "member:M001") {
		t.Fatal("different types must yield different ids")
	}
}

func TestNodeIDTextRoundTrip(t *testing.T) {
	a := NewNodeID(EntityGame, "game:Slots")
	text, err := a.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back NodeID
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != a {
		t.Fatalf("expected %s, got %s", a, back)
	}
	if err := back.UnmarshalText([]byte("abcd")); err == nil {
		t.Fatal("expected error for short id")
	}
}

func TestUpsertNodeAndEdgeWeight(t *testing.T) {
	s := NewStore()
	m := s.UpsertNode(EntityMember, "member:M001", "seg-a")
	d := s.UpsertNode(EntityDevice, "device:fp1", "seg-a")
	s.AddEdge(m, d, EdgeLoggedInFrom, "seg-a")
	s.AddEdge(m, d, EdgeLoggedInFrom, "seg-b")

	if s.NodeCount() != 2 || s.EdgeCount() != 1 {
		t.Fatalf("expected 2 nodes 1 edge, got %d/%d", s.NodeCount(), s.EdgeCount())
	}
	neighbors := s.Neighbors(m)
	if len(neighbors) != 1 {
		t.Fatalf("expected 1 neighbor, got %d", len(neighbors))
	}
	if neighbors[0].Edge.Weight != 2 {
		t.Fatalf("expected weight 2, got %v", neighbors[0].Edge.Weight)
	}

	again := s.UpsertNode(EntityMember, "member:M001", "seg-b")
	if again != m {
		t.Fatal("upsert must return the existing id")
	}
	if s.NodesInSegment("seg-b") != 1 {
		t.Fatalf("expected 1 node referencing seg-b, got %d", s.NodesInSegment("seg-b"))
	}
}

func loginEvent(member string, fields map[string]event.FieldValue) event.Event {
	all := map[string]event.FieldValue{"memberCode": event.Text(member)}
	for k, v := range fields {
		all[k] = v
	}
	return event.New("Login", time.Now(), all)
}

func TestExtractOps(t *testing.T) {
	tests := []struct {
		name string
		e    event.Event
		want []Op
	}{
		{
			name: "login with device and platform",
			e: loginEvent("M001", map[string]event.FieldValue{
				"fingerprint": event.Text("fp1"),
				"platform":    event.Text("mobile"),
			}),
			want: []Op{{
				EntityType: EntityMember,
				Key:        "member:M001",
				Edges: []OpEdge{
					{EntityDevice, "device:fp1", EdgeLoggedInFrom},
					{EntityPlatform, "platform:mobile", EdgePlaysOnPlatform},
				},
			}},
		},
		{
			name: "login with placeholder fields only",
			e: loginEvent("M001", map[string]event.FieldValue{
				"fingerprint": event.Text("None"),
				"platform":    event.Text(""),
			}),
			want: nil,
		},
		{
			name: "missing member code",
			e: event.New("Login", time.Now(), map[string]event.FieldValue{
				"fingerprint": event.Text("fp1"),
			}),
			want: nil,
		},
		{
			name: "game open with provider",
			e: event.New("GameOpened", time.Now(), map[string]event.FieldValue{
				"memberCode":           event.Text("M001"),
				"game":                 event.Text("Slots"),
				"gameTrackingProvider": event.Text("acme"),
			}),
			want: []Op{
				{
					EntityType: EntityGame,
					Key:        "game:Slots",
					Edges:      []OpEdge{{EntityProvider, "provider:acme", EdgeProvidedBy}},
				},
				{
					EntityType: EntityMember,
					Key:        "member:M001",
					Edges:      []OpEdge{{EntityGame, "game:Slots", EdgeOpenedGame}},
				},
			},
		},
		{
			name: "popup falls back to popup type",
			e: event.New("PopUpModule", time.Now(), map[string]event.FieldValue{
				"memberCode": event.Text("M001"),
				"popupType":  event.Text("bonus"),
			}),
			want: []Op{{
				EntityType: EntityMember,
				Key:        "member:M001",
				Edges:      []OpEdge{{EntityPopup, "popup:bonus", EdgeSawPopup}},
			}},
		},
		{
			name: "api error with url and status",
			e: event.New("API Error", time.Now(), map[string]event.FieldValue{
				"memberCode": event.Text("M001"),
				"url":        event.Text("/api/bet"),
				"statusCode": event.Text("401"),
			}),
			want: []Op{{
				EntityType: EntityMember,
				Key:        "member:M001",
				Edges:      []OpEdge{{EntityError, "error:401:/api/bet", EdgeHitError}},
			}},
		},
		{
			name: "api error with url only",
			e: event.New("API Error", time.Now(), map[string]event.FieldValue{
				"memberCode": event.Text("M001"),
				"url":        event.Text("/api/bet"),
			}),
			want: []Op{{
				EntityType: EntityMember,
				Key:        "member:M001",
				Edges:      []OpEdge{{EntityError, "error:/api/bet", EdgeHitError}},
			}},
		},
		{
			name: "unknown event type",
			e: event.New("Heartbeat", time.Now(), map[string]event.FieldValue{
				"memberCode": event.Text("M001"),
			}),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractOps(tt.e, nil)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("ops mismatch:\n got %+v\nwant %+v", got, tt.want)
			}
		})
	}
}

func TestOpsCommute(t *testing.T) {
	ops := []Op{
		{EntityType: EntityMember, Key: "member:M001", Edges: []OpEdge{
			{EntityDevice, "device:fp1", EdgeLoggedInFrom},
			{EntityGame, "game:Slots", EdgeOpenedGame},
		}},
		{EntityType: EntityMember, Key: "member:M002", Edges: []OpEdge{
			{EntityDevice, "device:fp1", EdgeLoggedInFrom},
		}},
		{EntityType: EntityMember, Key: "member:M001", Edges: []OpEdge{
			{EntityGame, "game:Slots", EdgeOpenedGame},
		}},
	}

	apply := func(order []int) Stats {
		s := NewStore()
		for _, i := range order {
			s.Apply(ops[i], "seg")
		}
		return s.Stats()
	}

	want := apply([]int{0, 1, 2})
	rng := rand.New(rand.NewSource(1))
	for trial := 0; trial < 10; trial++ {
		order := rng.Perm(len(ops))
		if got := apply(order); !reflect.DeepEqual(got, want) {
			t.Fatalf("order %v produced %+v, expected %+v", order, got, want)
		}
	}

	s := NewStore()
	for _, op := range ops {
		s.Apply(op, "seg")
	}
	m := NewNodeID(EntityMember, "member:M001")
	for _, n := range s.Neighbors(m) {
		if n.Node.Key == "game:Slots" && n.Edge.Weight != 2 {
			t.Fatalf("expected re-observed edge weight 2, got %v", n.Edge.Weight)
		}
	}
}

func TestBuild(t *testing.T) {
	store := segment.NewLocalStore(t.TempDir())
	ts := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	write := func(segmentID string, events []event.Event) {
		w, err := segment.NewWriter(store.Dir(segmentID), segmentID)
		if err != nil {
			t.Fatalf("writer: %v", err)
		}
		for _, e := range events {
			if err := w.Append(e); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
		if _, err := w.Finalize(); err != nil {
			t.Fatalf("finalize: %v", err)
		}
	}

	write("2025-03-14", []event.Event{
		loginEvent("M001", map[string]event.FieldValue{"fingerprint": event.Text("fp1")}),
		loginEvent("M002", map[string]event.FieldValue{"fingerprint": event.Text("fp1")}),
	})
	write("2025-03-15", []event.Event{
		event.New("GameOpened", ts, map[string]event.FieldValue{
			"memberCode": event.Text("M001"),
			"game":       event.Text("Slots"),
		}),
	})

	g := NewStore()
	var lastDone, lastTotal int
	docs, err := Build(context.Background(), store, []string{"2025-03-14", "2025-03-15", "missing"}, g, func(done, total int) {
		lastDone, lastTotal = done, total
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if docs != 3 {
		t.Fatalf("expected 3 documents, got %d", docs)
	}
	if lastTotal != 3 || lastDone != 2 {
		t.Fatalf("expected progress 2/3, got %d/%d", lastDone, lastTotal)
	}

	// M001, M002, fp1, Slots
	if g.NodeCount() != 4 {
		t.Fatalf("expected 4 nodes, got %d", g.NodeCount())
	}
	stats := g.Stats()
	if stats.NodesByType["Member"] != 2 || stats.EdgesByType["LoggedInFrom"] != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	keys := []string{}
	g.ForEachNode(func(n Node) { keys = append(keys, n.Key) })
	sort.Strings(keys)
	want := []string{"device:fp1", "game:Slots", "member:M001", "member:M002"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("expected keys %v, got %v", want, keys)
	}
}
