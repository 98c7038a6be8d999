package server

import (
	"github.com/labstack/echo/v4"

	"github.com/graphfuse/backend/internal/server/middleware"
	"github.com/graphfuse/backend/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Ingestion routes
	apiRoutes.POST("/ingest", routes.IngestDocumentHandler)

	// Query routes
	apiRoutes.POST("/query", routes.QueryHandler)
	apiRoutes.GET("/sessions/:id", routes.GetSessionHandler)

	// Graph inspection routes
	apiRoutes.GET("/datasets", routes.GetDatasetsHandler)
	apiRoutes.GET("/entities/:id", routes.GetEntityHandler)
	apiRoutes.POST("/entities/:id/dedupe", routes.DedupeEntityHandler)
	apiRoutes.GET("/documents/:id", routes.GetDocumentHandler)
	apiRoutes.GET("/claims/:id/relations", routes.GetClaimRelationsHandler)
}
