// Package memory provides the in-memory GraphStore: an arena of records
// keyed by stable public ids, with optimistic entity versioning and
// per-document write serialization. It is the reference implementation
// the graph invariant tests run against, and serves single-process
// deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/store"
)

// GraphMemoryStore implements store.GraphStore with plain maps. A single
// RWMutex guards the arena; per-document mutexes serialize document
// writes so two documents never block each other on ingestion.
type GraphMemoryStore struct {
	mu sync.RWMutex

	entities  map[string]*common.Entity
	documents map[string]common.Document

	// all generations, live and superseded
	docEntities   []*common.DocumentEntity
	relationships []*common.EntityRelationship
	claims        map[string]*common.Claim
	claimOrder    []string
	claimRels     []common.ClaimRelationship

	chunks    map[string][]common.Chunk // by document id
	summaries map[string]common.DocumentSummary

	docLocksMu sync.Mutex
	docLocks   map[string]*sync.Mutex
}

// NewGraphMemoryStore creates an empty in-memory graph store.
func NewGraphMemoryStore() *GraphMemoryStore {
	return &GraphMemoryStore{
		entities:  make(map[string]*common.Entity),
		documents: make(map[string]common.Document),
		claims:    make(map[string]*common.Claim),
		chunks:    make(map[string][]common.Chunk),
		summaries: make(map[string]common.DocumentSummary),
		docLocks:  make(map[string]*sync.Mutex),
	}
}

func (s *GraphMemoryStore) docLock(documentID string) *sync.Mutex {
	s.docLocksMu.Lock()
	defer s.docLocksMu.Unlock()
	l, ok := s.docLocks[documentID]
	if !ok {
		l = &sync.Mutex{}
		s.docLocks[documentID] = l
	}
	return l
}

func cloneEntity(e *common.Entity) *common.Entity {
	c := *e
	c.Aliases = append([]string(nil), e.Aliases...)
	c.Embedding = append([]float32(nil), e.Embedding...)
	if e.Trace != nil {
		t := *e.Trace
		c.Trace = &t
	}
	return &c
}

// CreateEntity stores a new entity at version 1. The id must be unused.
func (s *GraphMemoryStore) CreateEntity(ctx context.Context, entity *common.Entity) error {
	if entity.ID == "" {
		return fmt.Errorf("entity id is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[entity.ID]; exists {
		return fmt.Errorf("entity %s already exists", entity.ID)
	}

	entity.Version = 1
	s.entities[entity.ID] = cloneEntity(entity)
	return nil
}

// GetEntity returns a copy of the entity, or common.ErrNotFound.
func (s *GraphMemoryStore) GetEntity(ctx context.Context, id string) (*common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %s: %w", id, common.ErrNotFound)
	}
	return cloneEntity(e), nil
}

// UpdateEntityCAS replaces the stored entity only when its version still
// equals baseVersion, advancing the version by one. On a stale base it
// returns common.ErrVersionConflict without touching the record.
func (s *GraphMemoryStore) UpdateEntityCAS(ctx context.Context, entity *common.Entity, baseVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.entities[entity.ID]
	if !ok {
		return fmt.Errorf("entity %s: %w", entity.ID, common.ErrNotFound)
	}
	if current.Version != baseVersion {
		return fmt.Errorf("entity %s at version %d, caller held %d: %w",
			entity.ID, current.Version, baseVersion, common.ErrVersionConflict)
	}

	updated := cloneEntity(entity)
	updated.Version = baseVersion + 1
	s.entities[entity.ID] = updated
	entity.Version = updated.Version
	return nil
}

// MarkEntityMerged points the losing entity at the winner and redirects
// its live mentions, relationship endpoints and claim references. The
// winner must not itself be merged away, so redirects can never form a
// cycle.
func (s *GraphMemoryStore) MarkEntityMerged(ctx context.Context, losingID, winningID string) error {
	if losingID == winningID {
		return fmt.Errorf("cannot merge entity %s into itself", losingID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	losing, ok := s.entities[losingID]
	if !ok {
		return fmt.Errorf("entity %s: %w", losingID, common.ErrNotFound)
	}
	winning, ok := s.entities[winningID]
	if !ok {
		return fmt.Errorf("entity %s: %w", winningID, common.ErrNotFound)
	}
	if winning.MergedInto != "" {
		return fmt.Errorf("entity %s is already merged into %s and cannot win a merge", winningID, winning.MergedInto)
	}
	if losing.MergedInto != "" {
		return fmt.Errorf("entity %s is already merged into %s", losingID, losing.MergedInto)
	}

	losing.MergedInto = winningID

	// Redirect live document edges, folding into an existing edge of the
	// winner for the same (document, ingestion hash) when present. A
	// folded edge is superseded, not dropped, so the loser's mention
	// history stays auditable.
	now := time.Now().UTC()
	for _, edge := range s.docEntities {
		if edge.SupersededAt != nil || edge.EntityID != losingID {
			continue
		}
		target := s.findLiveEdgeLocked(edge.DocumentID, winningID, edge.IngestionHash)
		if target == nil {
			edge.EntityID = winningID
			continue
		}
		target.MentionCount += edge.MentionCount
		if edge.Best.Confidence > target.Best.Confidence {
			target.Best = edge.Best
		}
		ts := now
		edge.SupersededAt = &ts
	}

	for _, rel := range s.relationships {
		if rel.SupersededAt != nil {
			continue
		}
		if rel.SourceID == losingID {
			rel.SourceID = winningID
		}
		if rel.TargetID == losingID {
			rel.TargetID = winningID
		}
	}

	for _, claim := range s.claims {
		for i, id := range claim.EntityIDs {
			if id == losingID {
				claim.EntityIDs[i] = winningID
			}
		}
	}

	winning.MentionCount += losing.MentionCount
	for _, alias := range append([]string{losing.Name}, losing.Aliases...) {
		if !containsFold(winning.Aliases, alias) && !strings.EqualFold(winning.Name, alias) {
			winning.Aliases = append(winning.Aliases, alias)
		}
	}

	return nil
}

func (s *GraphMemoryStore) findLiveEdgeLocked(documentID, entityID, ingestionHash string) *common.DocumentEntity {
	for _, edge := range s.docEntities {
		if edge.SupersededAt == nil &&
			edge.DocumentID == documentID &&
			edge.EntityID == entityID &&
			edge.IngestionHash == ingestionHash {
			return edge
		}
	}
	return nil
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}

// SearchSimilarEntities returns the most similar unmerged entities of
// the given type by embedding cosine similarity, with live-document
// counts attached. limit <= 0 means no cap.
func (s *GraphMemoryStore) SearchSimilarEntities(
	ctx context.Context,
	entityType string,
	embedding []float32,
	limit int,
) ([]store.EntityMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docCounts := make(map[string]int)
	seenDocs := make(map[string]map[string]struct{})
	for _, edge := range s.docEntities {
		if edge.SupersededAt != nil {
			continue
		}
		docs, ok := seenDocs[edge.EntityID]
		if !ok {
			docs = make(map[string]struct{})
			seenDocs[edge.EntityID] = docs
		}
		if _, dup := docs[edge.DocumentID]; !dup {
			docs[edge.DocumentID] = struct{}{}
			docCounts[edge.EntityID]++
		}
	}

	matches := make([]store.EntityMatch, 0)
	for _, e := range s.entities {
		if e.MergedInto != "" || e.Type != entityType {
			continue
		}
		matches = append(matches, store.EntityMatch{
			Entity:        *cloneEntity(e),
			Similarity:    store.CosineSimilarity(embedding, e.Embedding),
			DocumentCount: docCounts[e.ID],
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity == matches[j].Similarity {
			return matches[i].Entity.ID < matches[j].Entity.ID
		}
		return matches[i].Similarity > matches[j].Similarity
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// FindEntitiesByName matches unmerged entities by canonical name or
// alias, case-insensitively. A non-empty dataset restricts matches to
// entities with a live edge into that dataset.
func (s *GraphMemoryStore) FindEntitiesByName(
	ctx context.Context,
	dataset string,
	names []string,
) ([]common.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var inDataset map[string]struct{}
	if dataset != "" {
		inDataset = make(map[string]struct{})
		for _, edge := range s.docEntities {
			if edge.SupersededAt != nil {
				continue
			}
			doc, ok := s.documents[edge.DocumentID]
			if !ok || doc.Dataset != dataset {
				continue
			}
			inDataset[edge.EntityID] = struct{}{}
		}
	}

	out := make([]common.Entity, 0)
	seen := make(map[string]struct{})
	for _, e := range s.entities {
		if e.MergedInto != "" {
			continue
		}
		if inDataset != nil {
			if _, ok := inDataset[e.ID]; !ok {
				continue
			}
		}
		for _, name := range names {
			if strings.EqualFold(e.Name, name) || containsFold(e.Aliases, name) {
				if _, dup := seen[e.ID]; !dup {
					seen[e.ID] = struct{}{}
					out = append(out, *cloneEntity(e))
				}
				break
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListDatasets returns the distinct dataset names of all known documents.
func (s *GraphMemoryStore) ListDatasets(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, doc := range s.documents {
		if doc.Dataset == "" {
			continue
		}
		if _, dup := seen[doc.Dataset]; !dup {
			seen[doc.Dataset] = struct{}{}
			out = append(out, doc.Dataset)
		}
	}
	sort.Strings(out)
	return out, nil
}
