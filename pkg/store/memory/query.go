package memory

import (
	"context"
	"sort"

	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/store"
)

// TraverseFrom walks live relationships breadth-first from the seed
// entities, following edges in both directions, up to maxDepth hops and
// at most maxEdges collected triplets. Traversal order is deterministic:
// relationships are visited sorted by (source, type, target).
func (s *GraphMemoryStore) TraverseFrom(
	ctx context.Context,
	entityIDs []string,
	maxDepth int,
	maxEdges int,
) ([]common.Triplet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := make([]*common.EntityRelationship, 0, len(s.relationships))
	for _, rel := range s.relationships {
		if rel.SupersededAt == nil {
			live = append(live, rel)
		}
	}
	sort.Slice(live, func(i, j int) bool {
		a, b := live[i], live[j]
		if a.SourceID != b.SourceID {
			return a.SourceID < b.SourceID
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.TargetID < b.TargetID
	})

	adjacency := make(map[string][]*common.EntityRelationship)
	for _, rel := range live {
		adjacency[rel.SourceID] = append(adjacency[rel.SourceID], rel)
		adjacency[rel.TargetID] = append(adjacency[rel.TargetID], rel)
	}

	visited := make(map[string]struct{}, len(entityIDs))
	frontier := make([]string, 0, len(entityIDs))
	for _, id := range entityIDs {
		if _, dup := visited[id]; !dup {
			visited[id] = struct{}{}
			frontier = append(frontier, id)
		}
	}
	sort.Strings(frontier)

	emitted := make(map[string]struct{})
	out := make([]common.Triplet, 0)

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		next := make([]string, 0)
		for _, id := range frontier {
			for _, rel := range adjacency[id] {
				if maxEdges > 0 && len(out) >= maxEdges {
					return out, nil
				}
				key := rel.SourceID + "|" + rel.Type + "|" + rel.TargetID
				if _, dup := emitted[key]; dup {
					continue
				}
				emitted[key] = struct{}{}
				out = append(out, s.tripletLocked(rel))

				other := rel.TargetID
				if other == id {
					other = rel.SourceID
				}
				if _, seen := visited[other]; !seen {
					visited[other] = struct{}{}
					next = append(next, other)
				}
			}
		}
		sort.Strings(next)
		frontier = next
	}

	return out, nil
}

func (s *GraphMemoryStore) tripletLocked(rel *common.EntityRelationship) common.Triplet {
	t := common.Triplet{
		SourceID:    rel.SourceID,
		Type:        rel.Type,
		TargetID:    rel.TargetID,
		DocumentIDs: append([]string(nil), rel.SourceDocumentIDs...),
	}
	if e, ok := s.entities[rel.SourceID]; ok {
		t.SourceName = e.Name
	}
	if e, ok := s.entities[rel.TargetID]; ok {
		t.TargetName = e.Name
	}
	sort.Strings(t.DocumentIDs)
	return t
}

// GetLiveClaimsForEntities returns every live claim referencing at least
// one of the given entities, sorted by claim id.
func (s *GraphMemoryStore) GetLiveClaimsForEntities(ctx context.Context, entityIDs []string) ([]common.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = struct{}{}
	}

	out := make([]common.Claim, 0)
	for _, id := range s.claimOrder {
		claim := s.claims[id]
		if claim.SupersededAt != nil {
			continue
		}
		for _, eid := range claim.EntityIDs {
			if _, ok := wanted[eid]; ok {
				c := *claim
				c.EntityIDs = append([]string(nil), claim.EntityIDs...)
				c.Embedding = append([]float32(nil), claim.Embedding...)
				out = append(out, c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetClaimRelationships returns the conflict/duplicate edges touching a
// claim.
func (s *GraphMemoryStore) GetClaimRelationships(ctx context.Context, claimID string) ([]common.ClaimRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.ClaimRelationship, 0)
	for _, cr := range s.claimRels {
		if cr.ClaimA == claimID || cr.ClaimB == claimID {
			out = append(out, cr)
		}
	}
	return out, nil
}

// SearchChunks returns the chunks of the dataset's documents most
// similar to the query embedding.
func (s *GraphMemoryStore) SearchChunks(
	ctx context.Context,
	dataset string,
	embedding []float32,
	limit int,
) ([]store.ChunkMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]store.ChunkMatch, 0)
	for docID, chunks := range s.chunks {
		if dataset != "" {
			doc, ok := s.documents[docID]
			if !ok || doc.Dataset != dataset {
				continue
			}
		}
		for _, chunk := range chunks {
			matches = append(matches, store.ChunkMatch{
				Chunk:      chunk,
				Similarity: store.CosineSimilarity(embedding, chunk.Embedding),
			})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity == matches[j].Similarity {
			return matches[i].Chunk.ID < matches[j].Chunk.ID
		}
		return matches[i].Similarity > matches[j].Similarity
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// SearchSummaries returns document summaries ranked by embedding
// similarity, boosted when they cover any of the query's entities.
func (s *GraphMemoryStore) SearchSummaries(
	ctx context.Context,
	dataset string,
	entityIDs []string,
	embedding []float32,
	limit int,
) ([]store.SummaryMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		wanted[id] = struct{}{}
	}

	matches := make([]store.SummaryMatch, 0)
	for docID, summary := range s.summaries {
		if dataset != "" {
			doc, ok := s.documents[docID]
			if !ok || doc.Dataset != dataset {
				continue
			}
		}
		score := store.CosineSimilarity(embedding, summary.Embedding)
		for _, eid := range summary.EntityIDs {
			if _, ok := wanted[eid]; ok {
				score += 0.1
				break
			}
		}
		matches = append(matches, store.SummaryMatch{Summary: summary, Similarity: score})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity == matches[j].Similarity {
			return matches[i].Summary.DocumentID < matches[j].Summary.DocumentID
		}
		return matches[i].Similarity > matches[j].Similarity
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
