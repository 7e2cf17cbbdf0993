package routes

import (
	"net/http"
	"sort"

	"github.com/labstack/echo/v4"

	"github.com/driftwatch/driftwatch/internal/server/middleware"
	"github.com/driftwatch/driftwatch/pkg/rules"
)

// GetRulesHandler lists every loaded rule document grouped by kind.
func GetRulesHandler(c echo.Context) error {
	type ruleEntry struct {
		ID       string         `json:"id"`
		Kind     rules.Kind     `json:"kind"`
		Metadata rules.Metadata `json:"metadata"`
		Enabled  bool           `json:"enabled"`
	}
	type rulesResponse struct {
		Rules []ruleEntry `json:"rules"`
	}

	engine := c.(*middleware.AppContext).App.Engine

	docs := engine.Rules.Documents()
	entries := make([]ruleEntry, 0, len(docs))
	for id, doc := range docs {
		meta := doc.DocMetadata()
		entries = append(entries, ruleEntry{
			ID:       id,
			Kind:     doc.DocKind(),
			Metadata: meta,
			Enabled:  meta.IsEnabled(),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	return c.JSON(http.StatusOK, rulesResponse{Rules: entries})
}

// GetRuleHandler returns one rule document by id.
func GetRuleHandler(c echo.Context) error {
	id := c.Param("id")
	engine := c.(*middleware.AppContext).App.Engine

	doc, ok := engine.Rules.Document(id)
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Rule not found"})
	}
	return c.JSON(http.StatusOK, doc)
}
