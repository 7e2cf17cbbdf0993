package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/driftwatch/driftwatch/internal/boot"
	"github.com/driftwatch/driftwatch/internal/server/middleware"
	"github.com/driftwatch/driftwatch/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health reports the loading phase; not ready yet means 503 so
	// orchestrators hold traffic until the initial load finishes.
	e.GET("/health", func(c echo.Context) error {
		engine := c.(*middleware.AppContext).App.Engine
		status := engine.Loading.Status()
		code := http.StatusOK
		if status.Phase != boot.PhaseReady {
			code = http.StatusServiceUnavailable
		}
		return c.JSON(code, status)
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Engine stats and catalog routes
	apiRoutes.GET("/stats", routes.GetStatsHandler)
	apiRoutes.GET("/catalog", routes.GetCatalogHandler, middleware.RequirePermission("catalog.view"))
	apiRoutes.GET("/catalog/external", routes.GetExternalSourcesHandler, middleware.RequirePermission("catalog.view"))

	// Knowledge routes
	apiRoutes.GET("/knowledge", routes.GetKnowledgeSummaryHandler)
	apiRoutes.GET("/knowledge/anomalies", routes.GetAnomaliesHandler, middleware.RequirePermission("knowledge.view"))
	apiRoutes.GET("/knowledge/patterns", routes.GetPatternsHandler, middleware.RequirePermission("knowledge.view"))
	apiRoutes.GET("/knowledge/trends", routes.GetTrendsHandler, middleware.RequirePermission("knowledge.view"))
	apiRoutes.GET("/knowledge/communities", routes.GetCommunitiesHandler, middleware.RequirePermission("knowledge.view"))
	apiRoutes.GET("/knowledge/pagerank", routes.GetPagerankHandler, middleware.RequirePermission("knowledge.view"))
	apiRoutes.GET("/knowledge/insights", routes.GetInsightsHandler, middleware.RequirePermission("knowledge.view"))

	// Rule routes
	apiRoutes.GET("/rules", routes.GetRulesHandler, middleware.RequirePermission("rules.view"))
	apiRoutes.GET("/rules/:id", routes.GetRuleHandler, middleware.RequirePermission("rules.view"))
	apiRoutes.POST("/rules", routes.CreateRuleHandler, middleware.RequirePermission("rules.create"))
	apiRoutes.POST("/rules/validate", routes.ValidateRuleHandler, middleware.RequirePermission("rules.view"))
	apiRoutes.DELETE("/rules/:id", routes.DeleteRuleHandler, middleware.RequirePermission("rules.delete"))

	// Segment routes
	apiRoutes.POST("/segments/:id/remove", routes.RemoveSegmentHandler, middleware.RequirePermission("segments.remove"))
}
