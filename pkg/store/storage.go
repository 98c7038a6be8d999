package store

import (
	"context"
	"fmt"
	"math"

	"github.com/graphfuse/backend/pkg/common"
)

// EntityMatch is one candidate returned by similarity search, with the
// evidence the resolver hands to the merge judge.
type EntityMatch struct {
	Entity        common.Entity
	Similarity    float64
	DocumentCount int
}

// ChunkMatch is one chunk returned by semantic search.
type ChunkMatch struct {
	Chunk      common.Chunk
	Similarity float64
}

// SummaryMatch is one document summary returned by the summary lookup.
type SummaryMatch struct {
	Summary    common.DocumentSummary
	Similarity float64
}

// DocumentWrite is the full row set one ingestion produces for one
// document. ApplyDocumentWrite commits it atomically: live rows from a
// different ingestion generation are superseded and the new set is
// inserted in a single transaction. A failure anywhere leaves the prior
// live set untouched.
type DocumentWrite struct {
	Document       common.Document
	Edges          []common.DocumentEntity
	Relationships  []common.EntityRelationship
	Claims         []common.Claim
	ClaimRelations []common.ClaimRelationship
	Chunks         []common.Chunk
	Summary        *common.DocumentSummary
}

// ValidateWrite rejects malformed row sets before any store touches
// them: every relationship needs provenance and every claim needs a
// matching document and at least one entity.
func ValidateWrite(write DocumentWrite) error {
	if write.Document.ID == "" {
		return fmt.Errorf("%w: document id is empty", common.ErrMalformedExtraction)
	}
	if write.Document.IngestionHash == "" {
		return fmt.Errorf("%w: ingestion hash is empty", common.ErrMalformedExtraction)
	}
	for _, rel := range write.Relationships {
		if len(rel.SourceDocumentIDs) == 0 {
			return fmt.Errorf("relationship %s -[%s]-> %s: %w",
				rel.SourceID, rel.Type, rel.TargetID, common.ErrProvenanceMissing)
		}
	}
	for _, claim := range write.Claims {
		if claim.DocumentID == "" {
			return fmt.Errorf("claim %q: %w", claim.Statement, common.ErrProvenanceMissing)
		}
		if claim.DocumentID != write.Document.ID {
			return fmt.Errorf("%w: claim %q belongs to document %s, write is for %s",
				common.ErrMalformedExtraction, claim.Statement, claim.DocumentID, write.Document.ID)
		}
		if len(claim.EntityIDs) == 0 {
			return fmt.Errorf("%w: claim %q references no entities", common.ErrMalformedExtraction, claim.Statement)
		}
	}
	return nil
}

// GraphStore is the persistence interface for the knowledge graph. Two
// implementations exist: an in-memory arena used as the reference for
// invariant tests, and a PostgreSQL/pgvector store.
//
// Entities are global and versioned; everything keyed by a document and
// an ingestion hash moves through supersession, never deletion.
type GraphStore interface {
	// Entities. UpdateEntityCAS succeeds only when the stored version
	// equals baseVersion and advances it by one; otherwise it returns
	// common.ErrVersionConflict and leaves the record untouched.
	CreateEntity(ctx context.Context, entity *common.Entity) error
	GetEntity(ctx context.Context, id string) (*common.Entity, error)
	UpdateEntityCAS(ctx context.Context, entity *common.Entity, baseVersion int64) error
	// MarkEntityMerged points the losing entity at the winner and
	// redirects its live mentions. The redirect is one-directional:
	// a merged entity can never win a later merge.
	MarkEntityMerged(ctx context.Context, losingID, winningID string) error
	SearchSimilarEntities(ctx context.Context, entityType string, embedding []float32, limit int) ([]EntityMatch, error)
	FindEntitiesByName(ctx context.Context, dataset string, names []string) ([]common.Entity, error)

	// Documents and atomic per-document writes.
	GetDocument(ctx context.Context, id string) (*common.Document, error)
	GetDocuments(ctx context.Context, ids []string) ([]common.Document, error)
	ApplyDocumentWrite(ctx context.Context, write DocumentWrite) error
	GetLiveDocumentEntity(ctx context.Context, documentID, entityID string) (*common.DocumentEntity, error)
	LiveDocumentEntities(ctx context.Context, documentID string) ([]common.DocumentEntity, error)

	// Graph traversal and claim reads, over live rows only.
	TraverseFrom(ctx context.Context, entityIDs []string, maxDepth, maxEdges int) ([]common.Triplet, error)
	GetLiveClaimsForEntities(ctx context.Context, entityIDs []string) ([]common.Claim, error)
	GetClaimRelationships(ctx context.Context, claimID string) ([]common.ClaimRelationship, error)

	// Retrieval surfaces.
	SearchChunks(ctx context.Context, dataset string, embedding []float32, limit int) ([]ChunkMatch, error)
	SearchSummaries(ctx context.Context, dataset string, entityIDs []string, embedding []float32, limit int) ([]SummaryMatch, error)
	ListDatasets(ctx context.Context) ([]string, error)
}

// CosineSimilarity returns the cosine similarity of two vectors, or 0
// when either has zero magnitude or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
