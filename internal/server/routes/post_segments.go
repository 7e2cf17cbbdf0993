package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/driftwatch/driftwatch/internal/queue"
	"github.com/driftwatch/driftwatch/internal/server/middleware"
	"github.com/driftwatch/driftwatch/pkg/logger"
	"github.com/driftwatch/driftwatch/pkg/segment"
)

// RemoveSegmentHandler retires a segment: the engine rebuilds its state
// from the remaining segments and the worker is told to drop the cached
// copy. The path parameter uses the flattened segment id.
func RemoveSegmentHandler(c echo.Context) error {
	type removeParams struct {
		ID string `param:"id" validate:"required"`
	}
	type removeResponse struct {
		Message   string `json:"message"`
		SegmentID string `json:"segment_id,omitempty"`
	}

	params := new(removeParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, removeResponse{
			Message: "Missing segment id",
		})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, removeResponse{
			Message: "Missing segment id",
		})
	}
	segmentID := segment.Unflatten(params.ID)

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()

	if err := app.Engine.RemoveSegment(ctx, segmentID); err != nil {
		logger.Error("Failed to remove segment", "segment", segmentID, "err", err)
		return c.JSON(http.StatusInternalServerError, removeResponse{
			Message: "Internal server error",
		})
	}

	if app.Queue != nil {
		if err := queue.PublishSegmentRemove(app.Queue, segmentID); err != nil {
			logger.Error("Failed to publish to segment_remove_queue", "err", err)
		}
	}

	return c.JSON(http.StatusOK, removeResponse{
		Message:   "Segment removed successfully",
		SegmentID: segmentID,
	})
}
