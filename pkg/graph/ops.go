package graph

import (
	"fmt"

	"github.com/driftwatch/driftwatch/pkg/event"
)

// Op is a lightweight graph operation extracted from one event. Reader
// goroutines emit ops; a single consumer replays them into the Store,
// so the fold over ops stays deterministic per segment.
type Op struct {
	EntityType EntityType
	Key        string
	Edges      []OpEdge
}

type OpEdge struct {
	TargetType EntityType
	TargetKey  string
	EdgeType   EdgeType
}

// ExtractOps projects one event into graph ops. Events without a
// usable member code, and event types without a projection, contribute
// nothing.
func ExtractOps(e event.Event, ops []Op) []Op {
	memberCode, ok := e.CleanedText("memberCode")
	if !ok {
		return ops
	}
	memberKey := "member:" + memberCode
	var edges []OpEdge

	switch e.EventType {
	case "Login":
		if fp, ok := e.CleanedText("fingerprint"); ok {
			edges = append(edges, OpEdge{EntityDevice, "device:" + fp, EdgeLoggedInFrom})
		}
		if p, ok := e.CleanedText("platform"); ok {
			edges = append(edges, OpEdge{EntityPlatform, "platform:" + p, EdgePlaysOnPlatform})
		}
		if c, ok := e.CleanedText("currency"); ok {
			edges = append(edges, OpEdge{EntityCurrency, "currency:" + c, EdgeUsesCurrency})
		}
		if g, ok := e.CleanedText("rGroup"); ok {
			edges = append(edges, OpEdge{EntityVipGroup, "vipgroup:" + g, EdgeBelongsToGroup})
		}
		if a, ok := firstCleanedText(e, "affiliateId", "affiliateid", "affiliateID"); ok {
			edges = append(edges, OpEdge{EntityAffiliate, "affiliate:" + a, EdgeReferredBy})
		}
	case "GameOpened", "GridClick":
		if g, ok := e.CleanedText("game"); ok {
			edges = append(edges, OpEdge{EntityGame, "game:" + g, EdgeOpenedGame})
			if p, ok := e.CleanedText("gameTrackingProvider"); ok {
				// The provider hangs off the game node, not the member.
				ops = append(ops, Op{
					EntityType: EntityGame,
					Key:        "game:" + g,
					Edges:      []OpEdge{{EntityProvider, "provider:" + p, EdgeProvidedBy}},
				})
			}
		}
		if p, ok := e.CleanedText("platform"); ok {
			edges = append(edges, OpEdge{EntityPlatform, "platform:" + p, EdgePlaysOnPlatform})
		}
		if c, ok := e.CleanedText("currency"); ok {
			edges = append(edges, OpEdge{EntityCurrency, "currency:" + c, EdgeUsesCurrency})
		}
	case "PopupModule", "PopUpModule":
		if pk, ok := firstCleanedText(e, "trackingId", "popupType"); ok {
			edges = append(edges, OpEdge{EntityPopup, "popup:" + pk, EdgeSawPopup})
		}
		if p, ok := e.CleanedText("platform"); ok {
			edges = append(edges, OpEdge{EntityPlatform, "platform:" + p, EdgePlaysOnPlatform})
		}
	case "API Error":
		errorKey := ""
		url, hasURL := e.CleanedText("url")
		code, hasCode := e.CleanedText("statusCode")
		switch {
		case hasURL && hasCode:
			errorKey = fmt.Sprintf("error:%s:%s", code, url)
		case hasURL:
			errorKey = "error:" + url
		default:
			if msg, ok := e.CleanedText("error"); ok {
				errorKey = "error:" + msg
			}
		}
		if errorKey != "" {
			edges = append(edges, OpEdge{EntityError, errorKey, EdgeHitError})
		}
		if p, ok := e.CleanedText("platform"); ok {
			edges = append(edges, OpEdge{EntityPlatform, "platform:" + p, EdgePlaysOnPlatform})
		}
	default:
		return ops
	}

	if len(edges) > 0 {
		ops = append(ops, Op{EntityType: EntityMember, Key: memberKey, Edges: edges})
	}
	return ops
}

func firstCleanedText(e event.Event, names ...string) (string, bool) {
	for _, name := range names {
		if v, ok := e.CleanedText(name); ok {
			return v, true
		}
	}
	return "", false
}

// Apply replays one op into the store.
func (s *Store) Apply(op Op, segmentID string) {
	sourceID := s.UpsertNode(op.EntityType, op.Key, segmentID)
	for _, edge := range op.Edges {
		targetID := s.UpsertNode(edge.TargetType, edge.TargetKey, segmentID)
		s.AddEdge(sourceID, targetID, edge.EdgeType, segmentID)
	}
}
