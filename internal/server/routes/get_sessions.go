package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/graphfuse/backend/internal/server/middleware"
)

// GetSessionHandler returns the cached exchanges of one session,
// newest first.
func GetSessionHandler(c echo.Context) error {
	type getSessionParams struct {
		SessionID string `param:"id" validate:"required"`
		Limit     int    `query:"limit"`
	}

	params := new(getSessionParams)
	if err := c.Bind(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}
	if err := c.Validate(params); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	sessions := c.(*middleware.AppContext).App.Sessions
	ctx := c.Request().Context()

	entries, err := sessions.Recent(ctx, params.SessionID, params.Limit)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"session_id": params.SessionID,
		"entries":    entries,
	})
}
