package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/driftwatch/driftwatch/internal/server/middleware"
	"github.com/driftwatch/driftwatch/pkg/catalog"
	"github.com/driftwatch/driftwatch/pkg/logger"
)

// GetCatalogHandler returns the merged catalog with its manifest.
func GetCatalogHandler(c echo.Context) error {
	type catalogResponse struct {
		Message  string            `json:"message,omitempty"`
		Catalog  *catalog.Catalog  `json:"catalog,omitempty"`
		Manifest *catalog.Manifest `json:"manifest,omitempty"`
	}

	engine := c.(*middleware.AppContext).App.Engine

	current, ok, err := engine.Catalog.LoadCurrent()
	if err != nil {
		logger.Error("Failed to load catalog", "err", err)
		return c.JSON(http.StatusInternalServerError, catalogResponse{
			Message: "Internal server error",
		})
	}
	if !ok {
		return c.JSON(http.StatusNotFound, catalogResponse{
			Message: "Catalog not built yet",
		})
	}

	resp := catalogResponse{Catalog: &current}
	if manifest, ok, err := engine.Catalog.LoadManifest(); err == nil && ok {
		resp.Manifest = &manifest
	}
	return c.JSON(http.StatusOK, resp)
}

// GetExternalSourcesHandler lists the external source schemas synced
// into the catalog.
func GetExternalSourcesHandler(c echo.Context) error {
	type externalResponse struct {
		Message string                   `json:"message,omitempty"`
		Sources []catalog.ExternalSource `json:"sources"`
	}

	engine := c.(*middleware.AppContext).App.Engine

	sources, err := engine.Catalog.ListExternalSources()
	if err != nil {
		logger.Error("Failed to list external sources", "err", err)
		return c.JSON(http.StatusInternalServerError, externalResponse{
			Message: "Internal server error",
		})
	}
	if sources == nil {
		sources = []catalog.ExternalSource{}
	}
	return c.JSON(http.StatusOK, externalResponse{Sources: sources})
}
