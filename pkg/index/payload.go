package index

import (
	"fmt"

	"github.com/go-playground/validator"

	"github.com/graphfuse/backend/pkg/common"
)

// IngestionPayload is the extraction collaborator's output for one
// document version. Entity references inside relationships and claims
// are by mention name; the coordinator maps them to resolved graph ids.
type IngestionPayload struct {
	DocumentID    string `json:"document_id" validate:"required"`
	Dataset       string `json:"dataset"`
	Title         string `json:"title"`
	ContentPath   string `json:"content_path"`
	ContentHash   string `json:"content_hash"`
	IngestionHash string `json:"ingestion_hash" validate:"required"`

	Entities      []EntityPayload       `json:"entities" validate:"dive"`
	Relationships []RelationshipPayload `json:"relationships" validate:"dive"`
	Claims        []ClaimPayload        `json:"claims" validate:"dive"`
	Chunks        []ChunkPayload        `json:"chunks" validate:"dive"`
	Summary       string                `json:"summary"`
}

// EntityPayload is one extracted mention.
type EntityPayload struct {
	Name        string  `json:"name" validate:"required"`
	Type        string  `json:"type" validate:"required"`
	Description string  `json:"description"`
	Snippet     string  `json:"snippet"`
	Start       int     `json:"start" validate:"gte=0"`
	End         int     `json:"end" validate:"gte=0"`
	Confidence  float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// RelationshipPayload is one extracted relationship, endpoints named by
// mention name.
type RelationshipPayload struct {
	Source     string  `json:"source" validate:"required"`
	Target     string  `json:"target" validate:"required"`
	Type       string  `json:"type" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

// ClaimPayload is one extracted claim, referencing mention names.
type ClaimPayload struct {
	Statement  string   `json:"statement" validate:"required"`
	Start      int      `json:"start" validate:"gte=0"`
	End        int      `json:"end" validate:"gte=0"`
	Entities   []string `json:"entities" validate:"required,min=1"`
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
}

// ChunkPayload is one contiguous text segment of the document.
type ChunkPayload struct {
	Start int    `json:"start" validate:"gte=0"`
	End   int    `json:"end" validate:"gte=0"`
	Text  string `json:"text" validate:"required"`
}

var validate = validator.New()

// ValidatePayload checks the payload schema before any graph write. A
// violation rejects the whole document, leaving its prior live state
// untouched.
func ValidatePayload(payload *IngestionPayload) error {
	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("%w: %w", common.ErrMalformedExtraction, err)
	}
	return nil
}
