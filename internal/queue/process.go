package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/driftwatch/driftwatch/pkg/catalog"
	"github.com/driftwatch/driftwatch/pkg/event"
	"github.com/driftwatch/driftwatch/pkg/graph"
	"github.com/driftwatch/driftwatch/pkg/logger"
	"github.com/driftwatch/driftwatch/pkg/pipeline"
	"github.com/driftwatch/driftwatch/pkg/segment"
)

// SegmentCommittedMsg announces a freshly committed segment.
type SegmentCommittedMsg struct {
	SegmentID   string `json:"segment_id"`
	CommittedAt string `json:"committed_at,omitempty"`
	Documents   int    `json:"documents,omitempty"`
}

// SegmentRemoveMsg requests that a segment be dropped from the catalog.
type SegmentRemoveMsg struct {
	SegmentID string `json:"segment_id"`
}

// ProcessSegmentMessage handles one "segment committed" notification:
// ensure the segment is on local disk, stream its events through the hot
// pass, then fold its partial into the catalog. Errors bubble up so the
// caller can route the message to retry or the DLQ.
func ProcessSegmentMessage(
	ctx context.Context,
	src segment.Store,
	pipe *pipeline.Pipeline,
	g *graph.Store,
	catalogStore *catalog.Store,
	msg string,
) error {
	data := new(SegmentCommittedMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return fmt.Errorf("unmarshal segment message: %w", err)
	}
	if data.SegmentID == "" {
		return fmt.Errorf("segment message missing segment_id")
	}
	start := time.Now()

	dir, err := src.EnsureLocal(ctx, data.SegmentID)
	if err != nil {
		return fmt.Errorf("ensure segment %s local: %w", data.SegmentID, err)
	}

	r, err := segment.NewReader(dir, data.SegmentID)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", data.SegmentID, err)
	}
	defer r.Close()

	var events []event.Event
	err = r.ForEach(func(e event.Event) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		events = append(events, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("read segment %s: %w", data.SegmentID, err)
	}

	applied := pipe.HotConnect(data.SegmentID, events)

	partial := catalog.PartialFromGraph(g, data.SegmentID)
	if _, err := catalogStore.AddSegment(partial); err != nil {
		return fmt.Errorf("add segment %s to catalog: %w", data.SegmentID, err)
	}

	logger.Info("[Queue] Segment ingested",
		"segment", data.SegmentID,
		"events", applied,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// ProcessRemoveMessage drops a segment from the catalog and the local
// cache. The in-memory graph keeps the segment's projections until the
// next full rebuild; only the catalog view changes immediately.
func ProcessRemoveMessage(
	ctx context.Context,
	catalogStore *catalog.Store,
	removeCached func(segmentID string) error,
	msg string,
) error {
	data := new(SegmentRemoveMsg)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return fmt.Errorf("unmarshal remove message: %w", err)
	}
	if data.SegmentID == "" {
		return fmt.Errorf("remove message missing segment_id")
	}

	if _, err := catalogStore.RemoveSegment(data.SegmentID); err != nil {
		return fmt.Errorf("remove segment %s from catalog: %w", data.SegmentID, err)
	}
	if removeCached != nil {
		if err := removeCached(data.SegmentID); err != nil {
			logger.Warn("[Queue] Failed to drop cached segment", "segment", data.SegmentID, "err", err)
		}
	}

	logger.Info("[Queue] Segment removed", "segment", data.SegmentID)
	return nil
}
