package pgx

import (
	"context"
	"sort"

	"github.com/pgvector/pgvector-go"

	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/store"
)

// TraverseFrom walks live relationships breadth-first from the seed
// entities, following edges in both directions, up to maxDepth hops and
// at most maxEdges collected triplets. Each hop is one indexed query
// over the frontier; ordering by (source, type, target) keeps the walk
// deterministic.
func (s *GraphDBStorage) TraverseFrom(
	ctx context.Context,
	entityIDs []string,
	maxDepth int,
	maxEdges int,
) ([]common.Triplet, error) {
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
		rows, err := s.conn.Query(ctx, `
			SELECT r.source_id, se.name, r.type, r.target_id, te.name, r.source_document_ids
			FROM entity_relationships r
			JOIN entities se ON se.id = r.source_id
			JOIN entities te ON te.id = r.target_id
			WHERE r.superseded_at IS NULL
			  AND (r.source_id = ANY($1) OR r.target_id = ANY($1))
			ORDER BY r.source_id, r.type, r.target_id`,
			frontier)
		if err != nil {
			return nil, err
		}

		inFrontier := make(map[string]struct{}, len(frontier))
		for _, id := range frontier {
			inFrontier[id] = struct{}{}
		}

		next := make([]string, 0)
		for rows.Next() {
			var t common.Triplet
			if err := rows.Scan(&t.SourceID, &t.SourceName, &t.Type, &t.TargetID, &t.TargetName, &t.DocumentIDs); err != nil {
				rows.Close()
				return nil, err
			}
			if maxEdges > 0 && len(out) >= maxEdges {
				rows.Close()
				return out, nil
			}
			if _, dup := emitted[t.Key()]; dup {
				continue
			}
			emitted[t.Key()] = struct{}{}
			sort.Strings(t.DocumentIDs)
			out = append(out, t)

			for _, endpoint := range []string{t.SourceID, t.TargetID} {
				if _, seen := visited[endpoint]; !seen {
					visited[endpoint] = struct{}{}
					next = append(next, endpoint)
				}
			}
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()

		sort.Strings(next)
		frontier = next
	}

	return out, nil
}

// GetLiveClaimsForEntities returns every live claim referencing at least
// one of the given entities, sorted by claim id.
func (s *GraphDBStorage) GetLiveClaimsForEntities(ctx context.Context, entityIDs []string) ([]common.Claim, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, statement, span_start, span_end, document_id, entity_ids,
			confidence, embedding, ingestion_hash
		FROM claims
		WHERE superseded_at IS NULL AND entity_ids && $1
		ORDER BY id`, entityIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.Claim, 0)
	for rows.Next() {
		var c common.Claim
		var embedding pgvector.Vector
		err := rows.Scan(
			&c.ID, &c.Statement, &c.Start, &c.End, &c.DocumentID,
			&c.EntityIDs, &c.Confidence, &embedding, &c.IngestionHash,
		)
		if err != nil {
			return nil, err
		}
		c.Embedding = embedding.Slice()
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetClaimRelationships returns the conflict/duplicate edges touching a
// claim.
func (s *GraphDBStorage) GetClaimRelationships(ctx context.Context, claimID string) ([]common.ClaimRelationship, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT claim_a, claim_b, kind, detected_at
		FROM claim_relationships
		WHERE claim_a = $1 OR claim_b = $1
		ORDER BY claim_a, claim_b, kind`, claimID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.ClaimRelationship, 0)
	for rows.Next() {
		var cr common.ClaimRelationship
		var kind string
		if err := rows.Scan(&cr.ClaimA, &cr.ClaimB, &kind, &cr.DetectedAt); err != nil {
			return nil, err
		}
		cr.Kind = common.ClaimRelationKind(kind)
		out = append(out, cr)
	}
	return out, rows.Err()
}

// SearchChunks returns the chunks of the dataset's documents most
// similar to the query embedding.
func (s *GraphDBStorage) SearchChunks(
	ctx context.Context,
	dataset string,
	embedding []float32,
	limit int,
) ([]store.ChunkMatch, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.conn.Query(ctx, `
		SELECT c.id, c.document_id, c.span_start, c.span_end, c.content,
			1 - (c.embedding <=> $1) AS similarity
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE $2 = '' OR d.dataset = $2
		ORDER BY c.embedding <=> $1, c.id
		LIMIT $3`,
		pgvector.NewVector(embedding), dataset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.ChunkMatch, 0, limit)
	for rows.Next() {
		var m store.ChunkMatch
		err := rows.Scan(
			&m.Chunk.ID, &m.Chunk.DocumentID, &m.Chunk.Start, &m.Chunk.End,
			&m.Chunk.Text, &m.Similarity,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SearchSummaries returns document summaries ranked by embedding
// similarity, boosted when they cover any of the query's entities.
func (s *GraphDBStorage) SearchSummaries(
	ctx context.Context,
	dataset string,
	entityIDs []string,
	embedding []float32,
	limit int,
) ([]store.SummaryMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := s.conn.Query(ctx, `
		SELECT s.document_id, s.summary, s.entity_ids,
			1 - (s.embedding <=> $1)
			+ CASE WHEN s.entity_ids && $3::text[] THEN 0.1 ELSE 0 END AS similarity
		FROM document_summaries s
		JOIN documents d ON d.id = s.document_id
		WHERE $2 = '' OR d.dataset = $2
		ORDER BY similarity DESC, s.document_id
		LIMIT $4`,
		pgvector.NewVector(embedding), dataset, entityIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]store.SummaryMatch, 0, limit)
	for rows.Next() {
		var m store.SummaryMatch
		err := rows.Scan(&m.Summary.DocumentID, &m.Summary.Summary, &m.Summary.EntityIDs, &m.Similarity)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
