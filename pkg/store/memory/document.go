package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/store"
)

// GetDocument returns the document record, or common.ErrNotFound.
func (s *GraphMemoryStore) GetDocument(ctx context.Context, id string) (*common.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return &doc, nil
}

// GetDocuments returns the known documents among ids, skipping misses.
func (s *GraphMemoryStore) GetDocuments(ctx context.Context, ids []string) ([]common.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Document, 0, len(ids))
	for _, id := range ids {
		if doc, ok := s.documents[id]; ok {
			out = append(out, doc)
		}
	}
	return out, nil
}

// ApplyDocumentWrite commits one ingestion generation for one document.
// Live rows carrying a different ingestion hash are superseded, then the
// new row set is inserted. Row identities are stable across idempotent
// re-application: an insert matching a live row's natural key under the
// same hash keeps the existing row and its id.
//
// Writes for the same document are mutually exclusive; writes for
// different documents proceed concurrently.
func (s *GraphMemoryStore) ApplyDocumentWrite(ctx context.Context, write store.DocumentWrite) error {
	if err := store.ValidateWrite(write); err != nil {
		return err
	}

	lock := s.docLock(write.Document.ID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	docID := write.Document.ID
	hash := write.Document.IngestionHash
	now := time.Now().UTC()

	s.documents[docID] = write.Document

	// Supersede prior generations.
	for _, edge := range s.docEntities {
		if edge.SupersededAt == nil && edge.DocumentID == docID && edge.IngestionHash != hash {
			ts := now
			edge.SupersededAt = &ts
		}
	}
	for _, rel := range s.relationships {
		if rel.SupersededAt != nil || rel.IngestionHash == hash {
			continue
		}
		for _, src := range rel.SourceDocumentIDs {
			if src == docID {
				ts := now
				rel.SupersededAt = &ts
				break
			}
		}
	}
	for _, claim := range s.claims {
		if claim.SupersededAt == nil && claim.DocumentID == docID && claim.IngestionHash != hash {
			ts := now
			claim.SupersededAt = &ts
		}
	}

	// Insert the new generation.
	for _, edge := range write.Edges {
		e := edge
		e.DocumentID = docID
		e.IngestionHash = hash
		e.SupersededAt = nil
		if existing := s.findLiveEdgeLocked(docID, e.EntityID, hash); existing != nil {
			*existing = e
			continue
		}
		s.docEntities = append(s.docEntities, &e)
	}

	for _, rel := range write.Relationships {
		r := rel
		r.IngestionHash = hash
		r.SupersededAt = nil
		if existing := s.findLiveRelationshipLocked(r.SourceID, r.TargetID, r.Type, hash); existing != nil {
			r.ID = existing.ID
			*existing = r
			continue
		}
		if r.ID == "" {
			r.ID = common.NewRelationshipID()
		}
		s.relationships = append(s.relationships, &r)
	}

	// Folding a claim onto a live row discards the incoming id, so
	// relation endpoints minted against it must follow the fold.
	claimIDs := make(map[string]string, len(write.Claims))
	for _, claim := range write.Claims {
		c := claim
		c.IngestionHash = hash
		c.SupersededAt = nil
		if existing := s.findLiveClaimLocked(docID, hash, c.Statement, c.Start); existing != nil {
			if c.ID != "" {
				claimIDs[c.ID] = existing.ID
			}
			c.ID = existing.ID
			*existing = c
			continue
		}
		if c.ID == "" {
			c.ID = common.NewClaimID()
		} else {
			claimIDs[claim.ID] = c.ID
		}
		s.claims[c.ID] = &c
		s.claimOrder = append(s.claimOrder, c.ID)
	}

	for _, cr := range write.ClaimRelations {
		if id, ok := claimIDs[cr.ClaimA]; ok {
			cr.ClaimA = id
		}
		if id, ok := claimIDs[cr.ClaimB]; ok {
			cr.ClaimB = id
		}
		if !s.hasClaimRelationLocked(cr) {
			s.claimRels = append(s.claimRels, cr)
		}
	}

	if len(write.Chunks) > 0 {
		existing := make(map[string]string) // natural key -> id
		for _, chunk := range s.chunks[docID] {
			existing[chunkKey(chunk)] = chunk.ID
		}
		chunks := make([]common.Chunk, 0, len(write.Chunks))
		for _, chunk := range write.Chunks {
			c := chunk
			c.DocumentID = docID
			if id, ok := existing[chunkKey(c)]; ok {
				c.ID = id
			} else if c.ID == "" {
				c.ID = common.NewChunkID()
			}
			chunks = append(chunks, c)
		}
		s.chunks[docID] = chunks
	}

	if write.Summary != nil {
		summary := *write.Summary
		summary.DocumentID = docID
		s.summaries[docID] = summary
	}

	return nil
}

func chunkKey(c common.Chunk) string {
	return fmt.Sprintf("%s|%d|%d", c.DocumentID, c.Start, c.End)
}

func (s *GraphMemoryStore) findLiveRelationshipLocked(sourceID, targetID, relType, hash string) *common.EntityRelationship {
	for _, rel := range s.relationships {
		if rel.SupersededAt == nil &&
			rel.SourceID == sourceID &&
			rel.TargetID == targetID &&
			rel.Type == relType &&
			rel.IngestionHash == hash {
			return rel
		}
	}
	return nil
}

func (s *GraphMemoryStore) findLiveClaimLocked(docID, hash, statement string, start int) *common.Claim {
	for _, id := range s.claimOrder {
		claim := s.claims[id]
		if claim.SupersededAt == nil &&
			claim.DocumentID == docID &&
			claim.IngestionHash == hash &&
			claim.Statement == statement &&
			claim.Start == start {
			return claim
		}
	}
	return nil
}

func (s *GraphMemoryStore) hasClaimRelationLocked(cr common.ClaimRelationship) bool {
	for _, existing := range s.claimRels {
		if existing.ClaimA == cr.ClaimA && existing.ClaimB == cr.ClaimB && existing.Kind == cr.Kind {
			return true
		}
	}
	return false
}

// GetLiveDocumentEntity returns the single live edge for a document and
// entity, or common.ErrNotFound.
func (s *GraphMemoryStore) GetLiveDocumentEntity(ctx context.Context, documentID, entityID string) (*common.DocumentEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, edge := range s.docEntities {
		if edge.SupersededAt == nil && edge.DocumentID == documentID && edge.EntityID == entityID {
			e := *edge
			return &e, nil
		}
	}
	return nil, fmt.Errorf("document entity (%s, %s): %w", documentID, entityID, common.ErrNotFound)
}

// LiveDocumentEntities returns all live edges of a document, sorted by
// entity id.
func (s *GraphMemoryStore) LiveDocumentEntities(ctx context.Context, documentID string) ([]common.DocumentEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.DocumentEntity, 0)
	for _, edge := range s.docEntities {
		if edge.SupersededAt == nil && edge.DocumentID == documentID {
			out = append(out, *edge)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}
