package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/driftwatch/driftwatch/internal/server/middleware"
	"github.com/driftwatch/driftwatch/pkg/logger"
)

// DeleteRuleHandler removes a rule document from disk and memory.
func DeleteRuleHandler(c echo.Context) error {
	id := c.Param("id")
	engine := c.(*middleware.AppContext).App.Engine

	if _, ok := engine.Rules.Document(id); !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Rule not found"})
	}

	if err := engine.Rules.DeleteRule(id); err != nil {
		logger.Error("Failed to delete rule", "rule", id, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
	}

	return c.JSON(http.StatusOK, map[string]string{"message": "Rule deleted successfully"})
}
