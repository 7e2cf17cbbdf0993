package routes

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/driftwatch/driftwatch/internal/server/middleware"
	"github.com/driftwatch/driftwatch/pkg/graph"
	"github.com/driftwatch/driftwatch/pkg/kernel"
	"github.com/driftwatch/driftwatch/pkg/knowledge"
)

// GetKnowledgeSummaryHandler reports how much derived knowledge the
// warm pass has published.
func GetKnowledgeSummaryHandler(c echo.Context) error {
	engine := c.(*middleware.AppContext).App.Engine
	return c.JSON(http.StatusOK, engine.Knowledge.Summarize())
}

// GetAnomaliesHandler lists scored entities, highest score first.
func GetAnomaliesHandler(c echo.Context) error {
	type anomalyEntry struct {
		NodeID    graph.NodeID         `json:"node_id"`
		EntityKey string               `json:"entity_key,omitempty"`
		Result    kernel.AnomalyResult `json:"result"`
	}
	type anomaliesResponse struct {
		Anomalies []anomalyEntry `json:"anomalies"`
	}

	engine := c.(*middleware.AppContext).App.Engine

	anomalies := engine.Knowledge.Anomalies()
	entries := make([]anomalyEntry, 0, len(anomalies))
	for id, result := range anomalies {
		entry := anomalyEntry{NodeID: id, Result: result}
		if key, ok := engine.Features().MemberKey(id); ok {
			entry.EntityKey = key
		}
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Result.Score != entries[j].Result.Score {
			return entries[i].Result.Score > entries[j].Result.Score
		}
		return entries[i].NodeID.String() < entries[j].NodeID.String()
	})

	return c.JSON(http.StatusOK, anomaliesResponse{Anomalies: entries})
}

// GetPatternsHandler lists mined temporal patterns.
func GetPatternsHandler(c echo.Context) error {
	type patternsResponse struct {
		Patterns []kernel.TemporalPattern `json:"patterns"`
	}

	engine := c.(*middleware.AppContext).App.Engine
	patterns := engine.Knowledge.Patterns()
	if patterns == nil {
		patterns = []kernel.TemporalPattern{}
	}
	return c.JSON(http.StatusOK, patternsResponse{Patterns: patterns})
}

// GetTrendsHandler lists per-metric trends against their baselines.
func GetTrendsHandler(c echo.Context) error {
	type trendsResponse struct {
		Trends map[string]kernel.Trend `json:"trends"`
	}

	engine := c.(*middleware.AppContext).App.Engine
	return c.JSON(http.StatusOK, trendsResponse{Trends: engine.Knowledge.Trends()})
}

// GetCommunitiesHandler returns the node-to-community assignment.
func GetCommunitiesHandler(c echo.Context) error {
	type communitiesResponse struct {
		Communities map[graph.NodeID]int `json:"communities"`
	}

	engine := c.(*middleware.AppContext).App.Engine
	return c.JSON(http.StatusOK, communitiesResponse{Communities: engine.Knowledge.Communities()})
}

// GetPagerankHandler returns pagerank scores per node.
func GetPagerankHandler(c echo.Context) error {
	type pagerankResponse struct {
		Pagerank map[graph.NodeID]float64 `json:"pagerank"`
	}

	engine := c.(*middleware.AppContext).App.Engine
	return c.JSON(http.StatusOK, pagerankResponse{Pagerank: engine.Knowledge.Pagerank()})
}

// GetInsightsHandler returns the newest insights, capped by the limit
// query parameter.
func GetInsightsHandler(c echo.Context) error {
	type insightsParams struct {
		Limit int `query:"limit" validate:"omitempty,min=1,max=1000"`
	}
	type insightsResponse struct {
		Insights []knowledge.Insight `json:"insights"`
	}

	params := new(insightsParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid limit"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid limit"})
	}
	if params.Limit == 0 {
		params.Limit = 50
	}

	engine := c.(*middleware.AppContext).App.Engine
	insights := engine.Knowledge.Insights(params.Limit)
	if insights == nil {
		insights = []knowledge.Insight{}
	}
	return c.JSON(http.StatusOK, insightsResponse{Insights: insights})
}
