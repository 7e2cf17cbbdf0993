package routes

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/driftwatch/driftwatch/internal/server/middleware"
	"github.com/driftwatch/driftwatch/pkg/logger"
	"github.com/driftwatch/driftwatch/pkg/rules"
)

// CreateRuleHandler validates a YAML rule document and persists it into
// the rules directory. The body is raw YAML, not JSON.
func CreateRuleHandler(c echo.Context) error {
	type createRuleResponse struct {
		Message    string                  `json:"message"`
		ID         string                  `json:"id,omitempty"`
		Path       string                  `json:"path,omitempty"`
		Validation *rules.ValidationResult `json:"validation,omitempty"`
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil || len(body) == 0 {
		return c.JSON(http.StatusBadRequest, createRuleResponse{
			Message: "Invalid request body",
		})
	}

	result := rules.ValidateYAML(body)
	if !result.Valid {
		return c.JSON(http.StatusBadRequest, createRuleResponse{
			Message:    "Rule failed validation",
			Validation: result,
		})
	}

	doc, err := rules.ParseDocument(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, createRuleResponse{
			Message: "Invalid rule document",
		})
	}

	engine := c.(*middleware.AppContext).App.Engine
	path, err := engine.Rules.WriteDocument(doc)
	if err != nil {
		logger.Error("Failed to write rule", "rule", doc.DocMetadata().ID, "err", err)
		return c.JSON(http.StatusInternalServerError, createRuleResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusOK, createRuleResponse{
		Message:    "Rule saved successfully",
		ID:         doc.DocMetadata().ID,
		Path:       path,
		Validation: result,
	})
}

// ValidateRuleHandler dry-runs validation on a YAML rule document
// without persisting it.
func ValidateRuleHandler(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil || len(body) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	return c.JSON(http.StatusOK, rules.ValidateYAML(body))
}
