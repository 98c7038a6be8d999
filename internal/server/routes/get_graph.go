package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphfuse/backend/internal/server/middleware"
	"github.com/graphfuse/backend/pkg/common"
)

func GetDatasetsHandler(c echo.Context) error {
	graphStore := c.(*middleware.AppContext).App.Store
	ctx := c.Request().Context()

	datasets, err := graphStore.ListDatasets(ctx)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string][]string{"datasets": datasets})
}

func GetEntityHandler(c echo.Context) error {
	type getEntityParams struct {
		EntityID string `param:"id" validate:"required"`
	}

	params := new(getEntityParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	graphStore := c.(*middleware.AppContext).App.Store
	ctx := c.Request().Context()

	entity, err := graphStore.GetEntity(ctx, params.EntityID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
		}
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, entity)
}

func GetDocumentHandler(c echo.Context) error {
	type getDocumentParams struct {
		DocumentID string `param:"id" validate:"required"`
	}

	params := new(getDocumentParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	graphStore := c.(*middleware.AppContext).App.Store
	ctx := c.Request().Context()

	doc, err := graphStore.GetDocument(ctx, params.DocumentID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Document not found"})
		}
		return c.String(http.StatusInternalServerError, err.Error())
	}

	edges, err := graphStore.LiveDocumentEntities(ctx, params.DocumentID)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusOK, map[string]any{
		"document": doc,
		"entities": edges,
	})
}
