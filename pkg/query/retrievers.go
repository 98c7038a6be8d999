package query

import (
	"context"
	"fmt"
	"sort"

	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/store"
)

// Retriever is one retrieval signal. Retrieve returns a ranked list,
// best first; an empty list is a valid outcome and distinct from an
// error.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, req Request) ([]Item, error)
}

// LexicalSearcher is the external collaborator the chunk retriever
// falls back to when semantic search returns too few results.
type LexicalSearcher interface {
	Search(ctx context.Context, dataset, query string, limit int) ([]common.Chunk, error)
}

// graphRetriever traverses live relationships from the query's matched
// entities and collects the claims reachable from them.
type graphRetriever struct {
	store store.GraphStore
	cfg   Config
}

func (r *graphRetriever) Name() string { return string(RetrieverGraph) }

func (r *graphRetriever) Retrieve(ctx context.Context, req Request) ([]Item, error) {
	if len(req.Entities) == 0 {
		return nil, nil
	}

	triplets, err := r.store.TraverseFrom(ctx, req.entityIDs(), r.cfg.TraversalDepth, r.cfg.TraversalMaxEdges)
	if err != nil {
		return nil, err
	}

	reached := make(map[string]struct{})
	for _, id := range req.entityIDs() {
		reached[id] = struct{}{}
	}
	items := make([]Item, 0, len(triplets))
	for i := range triplets {
		t := triplets[i]
		items = append(items, Item{
			ID:          t.Key(),
			Text:        tripletLine(t),
			Triplet:     &triplets[i],
			DocumentIDs: t.DocumentIDs,
		})
		reached[t.SourceID] = struct{}{}
		reached[t.TargetID] = struct{}{}
	}

	reachedIDs := make([]string, 0, len(reached))
	for id := range reached {
		reachedIDs = append(reachedIDs, id)
	}
	sort.Strings(reachedIDs)

	claims, err := r.store.GetLiveClaimsForEntities(ctx, reachedIDs)
	if err != nil {
		return nil, err
	}
	for _, claim := range claims {
		items = append(items, Item{
			ID:           claim.ID,
			Text:         claim.Statement,
			DocumentIDs:  []string{claim.DocumentID},
			Confidence:   claim.Confidence,
			SnippetStart: claim.Start,
		})
	}
	return items, nil
}

// chunkRetriever runs vector similarity over chunk embeddings, with a
// lexical fallback collaborator below the minimum result count.
type chunkRetriever struct {
	store   store.GraphStore
	lexical LexicalSearcher
	cfg     Config
}

func (r *chunkRetriever) Name() string { return string(RetrieverChunk) }

func (r *chunkRetriever) Retrieve(ctx context.Context, req Request) ([]Item, error) {
	matches, err := r.store.SearchChunks(ctx, req.Dataset, req.Embedding, r.cfg.ChunkLimit)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		items = append(items, Item{
			ID:           m.Chunk.ID,
			Text:         m.Chunk.Text,
			DocumentIDs:  []string{m.Chunk.DocumentID},
			Confidence:   m.Similarity,
			SnippetStart: m.Chunk.Start,
		})
		seen[m.Chunk.ID] = struct{}{}
	}

	if len(items) < r.cfg.MinChunkResults && r.lexical != nil {
		chunks, err := r.lexical.Search(ctx, req.Dataset, req.Text, r.cfg.ChunkLimit-len(items))
		if err != nil {
			return nil, fmt.Errorf("lexical fallback: %w", err)
		}
		for _, chunk := range chunks {
			if _, dup := seen[chunk.ID]; dup {
				continue
			}
			items = append(items, Item{
				ID:           chunk.ID,
				Text:         chunk.Text,
				DocumentIDs:  []string{chunk.DocumentID},
				SnippetStart: chunk.Start,
			})
		}
	}
	return items, nil
}

// summaryRetriever matches precomputed per-document summaries against
// the query's entities and topic embedding.
type summaryRetriever struct {
	store store.GraphStore
	cfg   Config
}

func (r *summaryRetriever) Name() string { return string(RetrieverSummary) }

func (r *summaryRetriever) Retrieve(ctx context.Context, req Request) ([]Item, error) {
	matches, err := r.store.SearchSummaries(ctx, req.Dataset, req.entityIDs(), req.Embedding, r.cfg.SummaryLimit)
	if err != nil {
		return nil, err
	}

	items := make([]Item, 0, len(matches))
	for _, m := range matches {
		items = append(items, Item{
			ID:          m.Summary.DocumentID,
			Text:        m.Summary.Summary,
			DocumentIDs: []string{m.Summary.DocumentID},
			Confidence:  m.Similarity,
		})
	}
	return items, nil
}

// claimRetriever ranks claims linked to the matched entities by a blend
// of stored confidence and similarity to the query.
type claimRetriever struct {
	store store.GraphStore
	cfg   Config
}

func (r *claimRetriever) Name() string { return string(RetrieverClaim) }

func (r *claimRetriever) Retrieve(ctx context.Context, req Request) ([]Item, error) {
	if len(req.Entities) == 0 {
		return nil, nil
	}

	claims, err := r.store.GetLiveClaimsForEntities(ctx, req.entityIDs())
	if err != nil {
		return nil, err
	}

	type scored struct {
		claim common.Claim
		score float64
	}
	ranked := make([]scored, 0, len(claims))
	for _, claim := range claims {
		similarity := store.CosineSimilarity(req.Embedding, claim.Embedding)
		score := r.cfg.ConfidenceWeight*claim.Confidence + (1-r.cfg.ConfidenceWeight)*similarity
		ranked = append(ranked, scored{claim: claim, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score == ranked[j].score {
			return ranked[i].claim.ID < ranked[j].claim.ID
		}
		return ranked[i].score > ranked[j].score
	})
	if r.cfg.ClaimLimit > 0 && len(ranked) > r.cfg.ClaimLimit {
		ranked = ranked[:r.cfg.ClaimLimit]
	}

	items := make([]Item, 0, len(ranked))
	for _, s := range ranked {
		items = append(items, Item{
			ID:           s.claim.ID,
			Text:         fmt.Sprintf("%q (confidence %.2f)", s.claim.Statement, s.claim.Confidence),
			DocumentIDs:  []string{s.claim.DocumentID},
			Confidence:   s.claim.Confidence,
			SnippetStart: s.claim.Start,
		})
	}
	return items, nil
}
