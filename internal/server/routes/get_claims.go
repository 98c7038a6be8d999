package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphfuse/backend/internal/server/middleware"
)

// GetClaimRelationsHandler lists the conflict and duplicate edges of
// one claim.
func GetClaimRelationsHandler(c echo.Context) error {
	type getClaimParams struct {
		ClaimID string `param:"id" validate:"required"`
	}

	params := new(getClaimParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	graphStore := c.(*middleware.AppContext).App.Store
	ctx := c.Request().Context()

	relations, err := graphStore.GetClaimRelationships(ctx, params.ClaimID)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"claim_id": params.ClaimID, "relations": relations})
}
