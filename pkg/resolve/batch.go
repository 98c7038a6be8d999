package resolve

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/logger"
)

// BatchResult is the outcome of resolving all mentions of one document:
// the per-mention resolutions in input order, and the document-entity
// edge set ready for the ingestion transaction.
type BatchResult struct {
	Resolutions []Resolution
	Edges       []common.DocumentEntity
}

// ResolveDocument resolves every mention of one document. Mentions run
// concurrently under the configured limit; edge accumulation follows
// mention input order, so "latest" is the document's last mention of an
// entity and "best" the highest-confidence one regardless of completion
// order.
func (r *Resolver) ResolveDocument(ctx context.Context, documentID string, mentions []Mention) (*BatchResult, error) {
	resolutions := make([]Resolution, len(mentions))

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(r.cfg.Concurrency)

	for i := range mentions {
		group.Go(func() error {
			mention := mentions[i]
			mention.DocumentID = documentID
			res, err := r.Resolve(groupCtx, mention)
			if err != nil {
				return err
			}
			mu.Lock()
			resolutions[i] = *res
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	edges := accumulateEdges(documentID, mentions, resolutions)

	reviews := 0
	for _, res := range resolutions {
		if res.NeedsReview {
			reviews++
		}
	}
	logger.Info("Resolved document mentions",
		"document", documentID, "mentions", len(mentions),
		"edges", len(edges), "needs_review", reviews)

	return &BatchResult{Resolutions: resolutions, Edges: edges}, nil
}

// accumulateEdges folds per-mention snippets into one edge per entity:
// mention counts sum, latest follows input order, best only advances on
// strictly higher confidence.
func accumulateEdges(documentID string, mentions []Mention, resolutions []Resolution) []common.DocumentEntity {
	byEntity := make(map[string]*common.DocumentEntity)
	for i, mention := range mentions {
		entityID := resolutions[i].EntityID
		if entityID == "" {
			continue
		}
		edge, ok := byEntity[entityID]
		if !ok {
			edge = &common.DocumentEntity{
				DocumentID: documentID,
				EntityID:   entityID,
				Latest:     mention.Snippet,
				Best:       mention.Snippet,
			}
			byEntity[entityID] = edge
		}
		edge.MentionCount++
		edge.Latest = mention.Snippet
		if mention.Snippet.Confidence > edge.Best.Confidence {
			edge.Best = mention.Snippet
		}
	}

	edges := make([]common.DocumentEntity, 0, len(byEntity))
	for _, edge := range byEntity {
		edges = append(edges, *edge)
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].EntityID < edges[j].EntityID })
	return edges
}
