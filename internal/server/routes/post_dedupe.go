package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphfuse/backend/internal/server/middleware"
	"github.com/graphfuse/backend/pkg/common"
)

// DedupeEntityHandler runs a judge-driven duplicate check for one entity
// and merges it into the confirmed duplicate. The losing entity is kept
// and redirected, never deleted.
func DedupeEntityHandler(c echo.Context) error {
	type dedupeParams struct {
		EntityID string `param:"id" validate:"required"`
	}

	params := new(dedupeParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	resolver := c.(*middleware.AppContext).App.Resolver
	ctx := c.Request().Context()

	winnerID, err := resolver.DedupeEntity(ctx, params.EntityID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "Entity not found"})
		}
		return c.String(http.StatusInternalServerError, err.Error())
	}

	if winnerID == "" {
		return c.JSON(http.StatusOK, map[string]any{
			"entity_id": params.EntityID,
			"merged":    false,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"entity_id":   params.EntityID,
		"merged":      true,
		"merged_into": winnerID,
	})
}
