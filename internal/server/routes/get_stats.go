package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/driftwatch/driftwatch/internal/server/middleware"
	"github.com/driftwatch/driftwatch/pkg/graph"
	"github.com/driftwatch/driftwatch/pkg/knowledge"
	"github.com/driftwatch/driftwatch/pkg/pipeline"
	"github.com/driftwatch/driftwatch/pkg/scheduler"
)

// GetStatsHandler reports engine-wide counters: graph sizes, feature
// store size, pipeline throughput and scheduler task health.
func GetStatsHandler(c echo.Context) error {
	type statsResponse struct {
		Graph     graph.Stats                      `json:"graph"`
		Features  int                              `json:"features"`
		Segments  int                              `json:"segments"`
		Pipeline  pipeline.Metrics                 `json:"pipeline"`
		Scheduler map[string]scheduler.TaskMetrics `json:"scheduler"`
		Knowledge knowledge.Summary                `json:"knowledge"`
	}

	engine := c.(*middleware.AppContext).App.Engine

	segments := 0
	if manifest, ok, err := engine.Catalog.LoadManifest(); err == nil && ok {
		segments = len(manifest.SegmentIDs)
	}

	return c.JSON(http.StatusOK, statsResponse{
		Graph:     engine.Graph().Stats(),
		Features:  engine.Features().Len(),
		Segments:  segments,
		Pipeline:  engine.Pipeline().Metrics(),
		Scheduler: engine.Scheduler.Metrics(),
		Knowledge: engine.Knowledge.Summarize(),
	})
}
