package routes

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/graphfuse/backend/internal/queue"
	"github.com/graphfuse/backend/internal/server/middleware"
	"github.com/graphfuse/backend/pkg/index"
)

// IngestDocumentHandler accepts one extraction payload and enqueues it.
// Indexing is asynchronous; the response only confirms acceptance.
func IngestDocumentHandler(c echo.Context) error {
	payload := new(index.IngestionPayload)
	if err := c.Bind(payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}
	if err := index.ValidatePayload(payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}

	correlationID := c.Request().Header.Get("X-Correlation-Id")
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	msg := queue.IngestMessage{
		CorrelationID: correlationID,
		Payload:       *payload,
	}
	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	ch := c.(*middleware.AppContext).App.Queue
	if err := queue.PublishFIFO(ch, queue.IngestQueue, msgBytes); err != nil {
		return c.String(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"document_id":    payload.DocumentID,
		"correlation_id": correlationID,
		"status":         "queued",
	})
}
