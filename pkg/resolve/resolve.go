// Package resolve decides whether candidate entity mentions refer to
// existing graph entities or new ones. Similarity search proposes
// candidates, a judge call decides, and merges apply through optimistic
// compare-and-swap so concurrent ingestions never clobber each other.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/graphfuse/backend/internal/util"
	"github.com/graphfuse/backend/pkg/ai"
	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/logger"
	"github.com/graphfuse/backend/pkg/store"
)

// Mention is one candidate entity occurrence extracted from a document.
type Mention struct {
	Name        string
	Type        string
	Description string
	Snippet     common.Snippet
	DocumentID  string
}

// Resolution is the outcome of resolving one mention.
type Resolution struct {
	EntityID    string
	Created     bool
	Merged      bool
	NeedsReview bool
}

// Resolver resolves mentions against the graph.
type Resolver struct {
	store   store.GraphStore
	client  ai.Client
	cfg     Config
	limiter *rate.Limiter
}

// NewResolver creates a resolver over the given store and judge client.
func NewResolver(graphStore store.GraphStore, client ai.Client, cfg Config) *Resolver {
	return &Resolver{
		store:   graphStore,
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(cfg.EmbeddingRate, cfg.EmbeddingBurst),
	}
}

// Resolve resolves one mention: embed, search candidates of the same
// type, ask the judge, then merge or create. A version conflict during
// merge re-runs resolution against the now-current entity state, up to
// the configured bound; exhausting the bound degrades to an ambiguous
// resolution instead of failing the mention.
func (r *Resolver) Resolve(ctx context.Context, mention Mention) (*Resolution, error) {
	if mention.Name == "" || mention.Type == "" {
		return nil, fmt.Errorf("%w: mention needs a name and a type", common.ErrMalformedExtraction)
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	embedding, err := r.client.GenerateEmbedding(ctx, []byte(mention.Name+"\n"+mention.Description))
	if err != nil {
		return nil, fmt.Errorf("embed mention %q: %w", mention.Name, err)
	}

	res, err := util.RetryIfWithContext(ctx, r.cfg.MaxVersionRetries,
		func(err error) bool { return errors.Is(err, common.ErrVersionConflict) },
		func(ctx context.Context) (*Resolution, error) {
			return r.resolveOnce(ctx, mention, embedding)
		})
	if errors.Is(err, common.ErrVersionConflict) {
		logger.Warn("Version conflicts exhausted, creating review entity",
			"mention", mention.Name, "retries", r.cfg.MaxVersionRetries)
		wrapped := fmt.Errorf("%w: %w", common.ErrResolutionAmbiguous, err)
		return r.createEntity(ctx, mention, embedding, true, &common.ResolutionTrace{
			Decision:   string(ai.MergeActionAmbiguous),
			RecordedAt: time.Now().UTC(),
		}, wrapped)
	}
	return res, err
}

func (r *Resolver) resolveOnce(ctx context.Context, mention Mention, embedding []float32) (*Resolution, error) {
	matches, err := r.store.SearchSimilarEntities(ctx, mention.Type, embedding, r.cfg.limitFor(mention.Type))
	if err != nil {
		return nil, fmt.Errorf("search candidates for %q: %w", mention.Name, err)
	}

	if len(matches) == 0 {
		return r.createEntity(ctx, mention, embedding, false, &common.ResolutionTrace{
			Decision:   string(ai.MergeActionCreate),
			RecordedAt: time.Now().UTC(),
		}, nil)
	}

	candidates := make([]ai.MergeCandidate, len(matches))
	for i, m := range matches {
		candidates[i] = ai.MergeCandidate{
			EntityID:      m.Entity.ID,
			Name:          m.Entity.Name,
			Type:          m.Entity.Type,
			Aliases:       m.Entity.Aliases,
			Description:   m.Entity.Description,
			DocumentCount: m.DocumentCount,
			Similarity:    m.Similarity,
		}
	}

	mentionText := fmt.Sprintf("Name: %s\nType: %s\nDescription: %s\nContext: %s",
		mention.Name, mention.Type, mention.Description, mention.Snippet.Text)
	decision, prompt, err := ai.CallMergeJudge(ctx, r.client, mentionText, candidates, r.cfg.JudgeRetries)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		logger.Warn("Merge judge failed, treating mention as ambiguous", "mention", mention.Name, "err", err)
		decision = &ai.MergeDecision{Action: string(ai.MergeActionAmbiguous)}
	}

	action := decision.Normalized(candidates)
	if action == ai.MergeActionMerge && decision.Confidence < r.cfg.AutoResolveThreshold {
		action = ai.MergeActionAmbiguous
	}

	trace := &common.ResolutionTrace{
		Prompt:     prompt,
		Decision:   string(action),
		Similarity: matches[0].Similarity,
		Confidence: decision.Confidence,
		RecordedAt: time.Now().UTC(),
	}

	switch action {
	case ai.MergeActionMerge:
		return r.applyMerge(ctx, mention, matches, decision.EntityID, trace)
	case ai.MergeActionCreate:
		return r.createEntity(ctx, mention, embedding, false, trace, nil)
	default:
		return r.createEntity(ctx, mention, embedding, true, trace, nil)
	}
}

// applyMerge folds the mention into the chosen entity via CAS on the
// version the candidate search observed. A conflict bubbles up so the
// caller re-runs the whole resolution against fresh state.
func (r *Resolver) applyMerge(
	ctx context.Context,
	mention Mention,
	matches []store.EntityMatch,
	entityID string,
	trace *common.ResolutionTrace,
) (*Resolution, error) {
	var target *common.Entity
	for i := range matches {
		if matches[i].Entity.ID == entityID {
			target = &matches[i].Entity
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: judge chose unknown entity %s", common.ErrResolutionAmbiguous, entityID)
	}

	base := target.Version
	updated := *target
	updated.Aliases = append([]string(nil), target.Aliases...)
	if !equalFoldAny(updated.Aliases, mention.Name) && !strings.EqualFold(updated.Name, mention.Name) {
		updated.Aliases = append(updated.Aliases, mention.Name)
	}
	updated.MentionCount++
	updated.Trace = trace

	if err := r.store.UpdateEntityCAS(ctx, &updated, base); err != nil {
		return nil, err
	}
	return &Resolution{EntityID: updated.ID, Merged: true}, nil
}

func (r *Resolver) createEntity(
	ctx context.Context,
	mention Mention,
	embedding []float32,
	needsReview bool,
	trace *common.ResolutionTrace,
	cause error,
) (*Resolution, error) {
	entity := &common.Entity{
		ID:           common.NewEntityID(),
		Name:         mention.Name,
		Type:         mention.Type,
		Description:  mention.Description,
		Embedding:    embedding,
		MentionCount: 1,
		NeedsReview:  needsReview,
		Trace:        trace,
	}
	if err := r.store.CreateEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("create entity for %q: %w", mention.Name, err)
	}
	if cause != nil {
		logger.Debug("Mention resolved by fallback create", "mention", mention.Name, "entity", entity.ID, "cause", cause)
	}
	return &Resolution{EntityID: entity.ID, Created: true, NeedsReview: needsReview}, nil
}

func equalFoldAny(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
