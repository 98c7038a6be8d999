package resolve

import (
	"context"
	"fmt"
	"strings"

	"github.com/graphfuse/backend/pkg/ai"
	"github.com/graphfuse/backend/pkg/logger"
)

// DedupeEntity checks one live entity against its nearest neighbours of
// the same type and, when the judge confirms a duplicate with enough
// confidence, folds it into the winner. The losing entity keeps its
// identity and points at the winner; its live mentions, relationship
// endpoints and claim references move over. Returns the winning entity
// id, or "" when the entity stands on its own.
func (r *Resolver) DedupeEntity(ctx context.Context, entityID string) (string, error) {
	entity, err := r.store.GetEntity(ctx, entityID)
	if err != nil {
		return "", err
	}
	if entity.MergedInto != "" {
		return entity.MergedInto, nil
	}

	// One extra slot because the entity matches itself perfectly.
	matches, err := r.store.SearchSimilarEntities(ctx, entity.Type, entity.Embedding, r.cfg.limitFor(entity.Type)+1)
	if err != nil {
		return "", fmt.Errorf("search duplicates for %s: %w", entityID, err)
	}

	candidates := make([]ai.MergeCandidate, 0, len(matches))
	for _, m := range matches {
		if m.Entity.ID == entityID {
			continue
		}
		candidates = append(candidates, ai.MergeCandidate{
			EntityID:      m.Entity.ID,
			Name:          m.Entity.Name,
			Type:          m.Entity.Type,
			Aliases:       m.Entity.Aliases,
			Description:   m.Entity.Description,
			DocumentCount: m.DocumentCount,
			Similarity:    m.Similarity,
		})
	}
	if len(candidates) == 0 {
		return "", nil
	}

	entityText := fmt.Sprintf("Name: %s\nType: %s\nAliases: %s\nDescription: %s",
		entity.Name, entity.Type, strings.Join(entity.Aliases, ", "), entity.Description)
	decision, _, err := ai.CallMergeJudge(ctx, r.client, entityText, candidates, r.cfg.JudgeRetries)
	if err != nil {
		return "", fmt.Errorf("judge duplicates for %s: %w", entityID, err)
	}

	action := decision.Normalized(candidates)
	if action != ai.MergeActionMerge || decision.Confidence < r.cfg.AutoResolveThreshold {
		return "", nil
	}

	if err := r.store.MarkEntityMerged(ctx, entityID, decision.EntityID); err != nil {
		return "", err
	}
	logger.Info("Entity merged into duplicate",
		"loser", entityID, "winner", decision.EntityID, "confidence", decision.Confidence)
	return decision.EntityID, nil
}
