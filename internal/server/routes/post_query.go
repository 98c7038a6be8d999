package routes

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/graphfuse/backend/internal/server/middleware"
	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/query"
)

func QueryHandler(c echo.Context) error {
	input := new(query.Input)
	if err := c.Bind(input); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := c.Validate(input); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
	}

	o := c.(*middleware.AppContext).App.Orchestrator
	ctx := c.Request().Context()

	result, err := o.Query(ctx, *input)
	if err != nil {
		var verr validator.ValidationErrors
		switch {
		case errors.As(err, &verr):
			return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
		case errors.Is(err, common.ErrNoRetrieverSucceeded):
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		default:
			return c.String(http.StatusInternalServerError, err.Error())
		}
	}

	return c.JSON(http.StatusOK, result)
}
