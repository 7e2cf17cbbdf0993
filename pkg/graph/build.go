package graph

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/driftwatch/driftwatch/pkg/event"
	"github.com/driftwatch/driftwatch/pkg/logger"
	"github.com/driftwatch/driftwatch/pkg/segment"
)

// readerPoolSize bounds concurrent segment reads during a build.
const readerPoolSize = 4

type segmentOps struct {
	segmentID string
	ops       []Op
	docs      int64
}

// Build streams every listed segment through a bounded reader pool,
// extracts graph ops in parallel and applies them sequentially to g.
// Unreadable segments are logged and skipped. Returns the number of
// projected documents.
func Build(ctx context.Context, src segment.Store, segmentIDs []string, g *Store, onProgress func(done, total int)) (int64, error) {
	start := time.Now()
	logger.Info("[Graph] Building graph", "segments", len(segmentIDs))

	ids := make(chan string)
	// Capacity 1 keeps back-pressure on the readers while the consumer
	// applies the previous segment's ops.
	results := make(chan segmentOps, 1)
	var skipped atomic.Int64

	readers, rctx := errgroup.WithContext(ctx)
	readers.Go(func() error {
		defer close(ids)
		for _, id := range segmentIDs {
			select {
			case ids <- id:
			case <-rctx.Done():
				return rctx.Err()
			}
		}
		return nil
	})

	workers, wctx := errgroup.WithContext(rctx)
	for i := 0; i < readerPoolSize; i++ {
		workers.Go(func() error {
			for id := range ids {
				ops, docs, err := extractSegment(wctx, src, id)
				if err != nil {
					logger.Warn("[Graph] Skipping unreadable segment", "segment", id, "error", err)
					skipped.Add(1)
					continue
				}
				select {
				case results <- segmentOps{segmentID: id, ops: ops, docs: docs}:
				case <-wctx.Done():
					return wctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	var totalDocs int64
	done := 0
	for res := range results {
		for _, op := range res.ops {
			g.Apply(op, res.segmentID)
		}
		totalDocs += res.docs
		done++
		if onProgress != nil {
			onProgress(done, len(segmentIDs))
		}
		if done%5 == 0 || done == len(segmentIDs) {
			logger.Info("[Graph] Build progress",
				"segments", done,
				"total", len(segmentIDs),
				"documents", totalDocs,
				"elapsed", time.Since(start).Round(time.Millisecond))
		}
	}
	if err := workers.Wait(); err != nil {
		return totalDocs, err
	}
	if err := readers.Wait(); err != nil {
		return totalDocs, err
	}

	logger.Info("[Graph] Graph built",
		"documents", totalDocs,
		"segments", len(segmentIDs)-int(skipped.Load()),
		"skipped", skipped.Load(),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return totalDocs, nil
}

func extractSegment(ctx context.Context, src segment.Store, segmentID string) ([]Op, int64, error) {
	dir, err := src.EnsureLocal(ctx, segmentID)
	if err != nil {
		return nil, 0, err
	}
	r, err := segment.NewReader(dir, segmentID)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	var ops []Op
	var docs int64
	err = r.ForEach(func(e event.Event) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		ops = ExtractOps(e, ops)
		docs++
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return ops, docs, nil
}
