package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/index"
	"github.com/graphfuse/backend/pkg/leaselock"
	"github.com/graphfuse/backend/pkg/logger"
)

// IngestMessage is the wire format on the ingest and reindex queues.
// The payload is the extraction output of one document; re-indexing is
// the same operation, distinguished only for observability.
type IngestMessage struct {
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Payload       index.IngestionPayload `json:"payload"`
}

// ProcessIngestMessage runs one document through the ingestion
// coordinator. When a lock client is given, a lease on the document id
// is held for the duration of the write, serializing re-ingestions of
// the same document across worker replicas. Malformed payloads are a
// permanent failure: the caller must route them to the DLQ instead of
// retrying.
func ProcessIngestMessage(
	ctx context.Context,
	coordinator *index.Coordinator,
	locks *leaselock.Client,
	msg string,
) error {
	data := new(IngestMessage)
	if err := json.Unmarshal([]byte(msg), data); err != nil {
		return fmt.Errorf("%w: %s", common.ErrMalformedExtraction, err)
	}

	var result *index.IngestResult
	ingest := func(ctx context.Context) error {
		var err error
		result, err = coordinator.IngestDocument(ctx, &data.Payload)
		return err
	}

	var err error
	if locks != nil {
		err = locks.WithLease(ctx, "document:"+data.Payload.DocumentID, leaselock.Options{Wait: true}, ingest)
	} else {
		err = ingest(ctx)
	}
	if err != nil {
		return err
	}

	logger.Info("[Queue] Document indexed",
		"document_id", result.DocumentID,
		"correlation_id", data.CorrelationID,
		"entities", len(result.EntityIDs),
		"created", result.Created,
		"merged", result.Merged,
		"needs_review", result.NeedsReview,
		"claims", result.Claims,
		"claim_flags", result.ClaimFlags,
	)
	return nil
}

// IsPermanent reports whether a processing error can never succeed on
// retry, so the message belongs in the DLQ immediately.
func IsPermanent(err error) bool {
	return errors.Is(err, common.ErrMalformedExtraction) ||
		errors.Is(err, common.ErrProvenanceMissing)
}
