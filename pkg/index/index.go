// Package index coordinates document ingestion: it validates the
// extraction payload, runs entity resolution and claim linking, and
// commits the document's new graph generation in one atomic write that
// supersedes the previous one.
package index

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphfuse/backend/internal/util"
	"github.com/graphfuse/backend/pkg/ai"
	"github.com/graphfuse/backend/pkg/claims"
	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/logger"
	"github.com/graphfuse/backend/pkg/resolve"
	"github.com/graphfuse/backend/pkg/store"
)

// Config tunes the coordinator's summary maintenance.
type Config struct {
	GenerateSummary bool
	SummaryTokens   int
}

// DefaultConfig returns the coordinator defaults.
func DefaultConfig() Config {
	return Config{GenerateSummary: true, SummaryTokens: 256}
}

// ConfigFromEnv loads the coordinator configuration from the environment.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.GenerateSummary = util.GetEnvBool("INDEX_GENERATE_SUMMARY", cfg.GenerateSummary)
	cfg.SummaryTokens = util.GetEnvInt("INDEX_SUMMARY_TOKENS", cfg.SummaryTokens)
	return cfg
}

// Coordinator owns the write path for one document at a time. Documents
// ingest independently; two coordinators (or two calls) for different
// documents never block each other.
type Coordinator struct {
	store    store.GraphStore
	resolver *resolve.Resolver
	linker   *claims.Linker
	client   ai.Client
	cfg      Config
}

// NewCoordinator wires the ingestion pipeline.
func NewCoordinator(
	graphStore store.GraphStore,
	resolver *resolve.Resolver,
	linker *claims.Linker,
	client ai.Client,
	cfg Config,
) *Coordinator {
	return &Coordinator{
		store:    graphStore,
		resolver: resolver,
		linker:   linker,
		client:   client,
		cfg:      cfg,
	}
}

// IngestResult reports what one ingestion produced.
type IngestResult struct {
	DocumentID    string   `json:"document_id"`
	EntityIDs     []string `json:"entity_ids"`
	ClaimIDs      []string `json:"claim_ids"`
	Created       int      `json:"created"`
	Merged        int      `json:"merged"`
	NeedsReview   int      `json:"needs_review"`
	Claims        int      `json:"claims"`
	ClaimFlags    int      `json:"claim_flags"`
	Relationships int      `json:"relationships"`
}

// IngestDocument validates and commits one extraction payload. The new
// row set and the supersession of the old one land in a single
// transaction; any failure before commit leaves the prior live
// generation intact.
func (c *Coordinator) IngestDocument(ctx context.Context, payload *IngestionPayload) (*IngestResult, error) {
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}

	mentions := make([]resolve.Mention, len(payload.Entities))
	for i, e := range payload.Entities {
		mentions[i] = resolve.Mention{
			Name:        e.Name,
			Type:        e.Type,
			Description: e.Description,
			Snippet: common.Snippet{
				Text:       e.Snippet,
				Start:      e.Start,
				End:        e.End,
				Confidence: e.Confidence,
			},
		}
	}
	batch, err := c.resolver.ResolveDocument(ctx, payload.DocumentID, mentions)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", payload.DocumentID, err)
	}

	entityIDByName := mentionIndex(mentions, batch.Resolutions)

	relationships, err := adaptRelationships(payload, entityIDByName)
	if err != nil {
		return nil, err
	}

	claimInputs, err := adaptClaims(payload, entityIDByName)
	if err != nil {
		return nil, err
	}
	claimRows, claimRelations, err := c.linker.LinkDocument(ctx, payload.DocumentID, claimInputs)
	if err != nil {
		return nil, fmt.Errorf("link claims for %s: %w", payload.DocumentID, err)
	}

	chunks, err := c.embedChunks(ctx, payload)
	if err != nil {
		return nil, err
	}

	summary, err := c.buildSummary(ctx, payload, batch.Edges)
	if err != nil {
		return nil, err
	}

	write := store.DocumentWrite{
		Document: common.Document{
			ID:            payload.DocumentID,
			Dataset:       payload.Dataset,
			Title:         payload.Title,
			ContentPath:   payload.ContentPath,
			ContentHash:   payload.ContentHash,
			IngestionHash: payload.IngestionHash,
		},
		Edges:          batch.Edges,
		Relationships:  relationships,
		Claims:         claimRows,
		ClaimRelations: claimRelations,
		Chunks:         chunks,
		Summary:        summary,
	}
	if err := c.store.ApplyDocumentWrite(ctx, write); err != nil {
		return nil, fmt.Errorf("commit %s: %w", payload.DocumentID, err)
	}

	result := &IngestResult{
		DocumentID:    payload.DocumentID,
		Claims:        len(claimRows),
		ClaimFlags:    len(claimRelations),
		Relationships: len(relationships),
	}
	for _, res := range batch.Resolutions {
		switch {
		case res.Created:
			result.Created++
		case res.Merged:
			result.Merged++
		}
		if res.NeedsReview {
			result.NeedsReview++
		}
	}
	for _, edge := range batch.Edges {
		result.EntityIDs = append(result.EntityIDs, edge.EntityID)
	}
	for _, claim := range claimRows {
		result.ClaimIDs = append(result.ClaimIDs, claim.ID)
	}

	logger.Info("Ingested document",
		"document", payload.DocumentID, "hash", payload.IngestionHash,
		"entities", len(result.EntityIDs), "claims", result.Claims,
		"relationships", result.Relationships)
	return result, nil
}

// mentionIndex maps each mention name (case-insensitive) to the entity
// it resolved to. The first resolution of a name wins; later duplicates
// of the same name resolve to the same entity anyway in practice.
func mentionIndex(mentions []resolve.Mention, resolutions []resolve.Resolution) map[string]string {
	byName := make(map[string]string, len(mentions))
	for i, m := range mentions {
		key := strings.ToLower(m.Name)
		if _, ok := byName[key]; !ok && resolutions[i].EntityID != "" {
			byName[key] = resolutions[i].EntityID
		}
	}
	return byName
}

func adaptRelationships(payload *IngestionPayload, entityIDByName map[string]string) ([]common.EntityRelationship, error) {
	seen := make(map[string]int)
	out := make([]common.EntityRelationship, 0, len(payload.Relationships))
	for _, rel := range payload.Relationships {
		sourceID, ok := entityIDByName[strings.ToLower(rel.Source)]
		if !ok {
			return nil, fmt.Errorf("%w: relationship source %q is not an extracted entity",
				common.ErrMalformedExtraction, rel.Source)
		}
		targetID, ok := entityIDByName[strings.ToLower(rel.Target)]
		if !ok {
			return nil, fmt.Errorf("%w: relationship target %q is not an extracted entity",
				common.ErrMalformedExtraction, rel.Target)
		}

		key := sourceID + "|" + rel.Type + "|" + targetID
		if idx, dup := seen[key]; dup {
			if rel.Confidence > out[idx].Confidence {
				out[idx].Confidence = rel.Confidence
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, common.EntityRelationship{
			SourceID:          sourceID,
			TargetID:          targetID,
			Type:              rel.Type,
			Confidence:        rel.Confidence,
			SourceDocumentIDs: []string{payload.DocumentID},
		})
	}
	return out, nil
}

func adaptClaims(payload *IngestionPayload, entityIDByName map[string]string) ([]claims.ExtractedClaim, error) {
	out := make([]claims.ExtractedClaim, 0, len(payload.Claims))
	for _, claim := range payload.Claims {
		entityIDs := make([]string, 0, len(claim.Entities))
		for _, name := range claim.Entities {
			id, ok := entityIDByName[strings.ToLower(name)]
			if !ok {
				return nil, fmt.Errorf("%w: claim %q references %q which is not an extracted entity",
					common.ErrMalformedExtraction, claim.Statement, name)
			}
			entityIDs = append(entityIDs, id)
		}
		out = append(out, claims.ExtractedClaim{
			Statement:  claim.Statement,
			Start:      claim.Start,
			End:        claim.End,
			EntityIDs:  entityIDs,
			Confidence: claim.Confidence,
		})
	}
	return out, nil
}

func (c *Coordinator) embedChunks(ctx context.Context, payload *IngestionPayload) ([]common.Chunk, error) {
	if len(payload.Chunks) == 0 {
		return nil, nil
	}

	inputs := make([][]byte, len(payload.Chunks))
	for i, chunk := range payload.Chunks {
		inputs[i] = []byte(chunk.Text)
	}
	embeddings, err := c.client.GenerateEmbeddings(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("embed chunks for %s: %w", payload.DocumentID, err)
	}

	chunks := make([]common.Chunk, len(payload.Chunks))
	for i, chunk := range payload.Chunks {
		chunks[i] = common.Chunk{
			DocumentID: payload.DocumentID,
			Start:      chunk.Start,
			End:        chunk.End,
			Text:       chunk.Text,
			Embedding:  embeddings[i],
		}
	}
	return chunks, nil
}

// buildSummary keeps the per-document summary current for the summary
// retriever. A supplied summary is used as-is; otherwise one is
// condensed from the chunk text when enabled.
func (c *Coordinator) buildSummary(
	ctx context.Context,
	payload *IngestionPayload,
	edges []common.DocumentEntity,
) (*common.DocumentSummary, error) {
	text := payload.Summary
	if text == "" {
		if !c.cfg.GenerateSummary || len(payload.Chunks) == 0 {
			return nil, nil
		}
		var full strings.Builder
		for _, chunk := range payload.Chunks {
			full.WriteString(chunk.Text)
			full.WriteString("\n")
		}
		condensed, err := ai.Summarize(ctx, c.client, full.String(), c.cfg.SummaryTokens)
		if err != nil {
			logger.Warn("Summary generation failed, keeping previous summary",
				"document", payload.DocumentID, "err", err)
			return nil, nil
		}
		text = condensed
	}

	embedding, err := c.client.GenerateEmbedding(ctx, []byte(text))
	if err != nil {
		return nil, fmt.Errorf("embed summary for %s: %w", payload.DocumentID, err)
	}

	entityIDs := make([]string, 0, len(edges))
	for _, edge := range edges {
		entityIDs = append(entityIDs, edge.EntityID)
	}
	return &common.DocumentSummary{
		DocumentID: payload.DocumentID,
		Summary:    text,
		EntityIDs:  entityIDs,
		Embedding:  embedding,
	}, nil
}
