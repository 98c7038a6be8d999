package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/store"
)

// GetDocument returns the document record, or common.ErrNotFound.
func (s *GraphDBStorage) GetDocument(ctx context.Context, id string) (*common.Document, error) {
	var doc common.Document
	err := s.conn.QueryRow(ctx, `
		SELECT id, dataset, title, content_path, content_hash, ingestion_hash
		FROM documents WHERE id = $1`, id).
		Scan(&doc.ID, &doc.Dataset, &doc.Title, &doc.ContentPath, &doc.ContentHash, &doc.IngestionHash)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// GetDocuments returns the known documents among ids, skipping misses.
func (s *GraphDBStorage) GetDocuments(ctx context.Context, ids []string) ([]common.Document, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, dataset, title, content_path, content_hash, ingestion_hash
		FROM documents WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.Document, 0, len(ids))
	for rows.Next() {
		var doc common.Document
		err := rows.Scan(&doc.ID, &doc.Dataset, &doc.Title, &doc.ContentPath, &doc.ContentHash, &doc.IngestionHash)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// ApplyDocumentWrite commits one ingestion generation for one document in
// a single transaction. Live rows of a different generation are
// superseded, and inserts matching a live row's natural key under the
// same hash keep the existing row and its id. Row locking on the
// document record serializes writes per document.
func (s *GraphDBStorage) ApplyDocumentWrite(ctx context.Context, write store.DocumentWrite) error {
	if err := store.ValidateWrite(write); err != nil {
		return err
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	docID := write.Document.ID
	hash := write.Document.IngestionHash

	_, err = tx.Exec(ctx, `
		INSERT INTO documents (id, dataset, title, content_path, content_hash, ingestion_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			dataset = EXCLUDED.dataset,
			title = EXCLUDED.title,
			content_path = EXCLUDED.content_path,
			content_hash = EXCLUDED.content_hash,
			ingestion_hash = EXCLUDED.ingestion_hash`,
		docID, write.Document.Dataset, write.Document.Title,
		write.Document.ContentPath, write.Document.ContentHash, hash)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `SELECT 1 FROM documents WHERE id = $1 FOR UPDATE`, docID)
	if err != nil {
		return err
	}

	// Supersede prior generations.
	_, err = tx.Exec(ctx, `
		UPDATE document_entities SET superseded_at = now()
		WHERE document_id = $1 AND superseded_at IS NULL AND ingestion_hash <> $2`,
		docID, hash)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE entity_relationships SET superseded_at = now()
		WHERE $1 = ANY(source_document_ids) AND superseded_at IS NULL AND ingestion_hash <> $2`,
		docID, hash)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE claims SET superseded_at = now()
		WHERE document_id = $1 AND superseded_at IS NULL AND ingestion_hash <> $2`,
		docID, hash)
	if err != nil {
		return err
	}

	// Insert the new generation.
	for _, edge := range write.Edges {
		latest, err := json.Marshal(edge.Latest)
		if err != nil {
			return err
		}
		best, err := json.Marshal(edge.Best)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO document_entities
				(document_id, entity_id, ingestion_hash, mention_count, latest, best)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (document_id, entity_id, ingestion_hash) WHERE superseded_at IS NULL
			DO UPDATE SET
				mention_count = EXCLUDED.mention_count,
				latest = EXCLUDED.latest,
				best = EXCLUDED.best`,
			docID, edge.EntityID, hash, edge.MentionCount, latest, best)
		if err != nil {
			return err
		}
	}

	for _, rel := range write.Relationships {
		id := rel.ID
		if id == "" {
			id = common.NewRelationshipID()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO entity_relationships
				(id, source_id, target_id, type, confidence, source_document_ids, ingestion_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (source_id, target_id, type, ingestion_hash) WHERE superseded_at IS NULL
			DO UPDATE SET
				confidence = EXCLUDED.confidence,
				source_document_ids = EXCLUDED.source_document_ids`,
			id, rel.SourceID, rel.TargetID, rel.Type, rel.Confidence,
			rel.SourceDocumentIDs, hash)
		if err != nil {
			return err
		}
	}

	// A conflicting insert folds onto the live row and keeps its id, so
	// relation endpoints minted against the incoming id must be remapped
	// to whatever id the row ended up with.
	claimIDs := make(map[string]string, len(write.Claims))
	for _, claim := range write.Claims {
		id := claim.ID
		if id == "" {
			id = common.NewClaimID()
		}
		var finalID string
		err = tx.QueryRow(ctx, `
			INSERT INTO claims
				(id, statement, span_start, span_end, document_id, entity_ids,
				 confidence, embedding, ingestion_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (document_id, ingestion_hash, statement, span_start) WHERE superseded_at IS NULL
			DO UPDATE SET
				span_end = EXCLUDED.span_end,
				entity_ids = EXCLUDED.entity_ids,
				confidence = EXCLUDED.confidence,
				embedding = EXCLUDED.embedding
			RETURNING id`,
			id, claim.Statement, claim.Start, claim.End, docID,
			claim.EntityIDs, claim.Confidence, pgvector.NewVector(claim.Embedding), hash).
			Scan(&finalID)
		if err != nil {
			return err
		}
		claimIDs[id] = finalID
	}

	for _, cr := range write.ClaimRelations {
		claimA, claimB := cr.ClaimA, cr.ClaimB
		if id, ok := claimIDs[claimA]; ok {
			claimA = id
		}
		if id, ok := claimIDs[claimB]; ok {
			claimB = id
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO claim_relationships (claim_a, claim_b, kind, detected_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (claim_a, claim_b, kind) DO NOTHING`,
			claimA, claimB, string(cr.Kind), cr.DetectedAt)
		if err != nil {
			return err
		}
	}

	if len(write.Chunks) > 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM chunks WHERE document_id = $1
			AND (span_start, span_end) NOT IN (
				SELECT s, e FROM unnest($2::int[], $3::int[]) AS u(s, e))`,
			docID, chunkStarts(write.Chunks), chunkEnds(write.Chunks))
		if err != nil {
			return err
		}
		for _, chunk := range write.Chunks {
			id := chunk.ID
			if id == "" {
				id = common.NewChunkID()
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO chunks (id, document_id, span_start, span_end, content, embedding)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (document_id, span_start, span_end) DO UPDATE SET
					content = EXCLUDED.content,
					embedding = EXCLUDED.embedding`,
				id, docID, chunk.Start, chunk.End, chunk.Text,
				pgvector.NewVector(chunk.Embedding))
			if err != nil {
				return err
			}
		}
	}

	if write.Summary != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO document_summaries (document_id, summary, entity_ids, embedding)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (document_id) DO UPDATE SET
				summary = EXCLUDED.summary,
				entity_ids = EXCLUDED.entity_ids,
				embedding = EXCLUDED.embedding`,
			docID, write.Summary.Summary, write.Summary.EntityIDs,
			pgvector.NewVector(write.Summary.Embedding))
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func chunkStarts(chunks []common.Chunk) []int {
	out := make([]int, len(chunks))
	for i, c := range chunks {
		out[i] = c.Start
	}
	return out
}

func chunkEnds(chunks []common.Chunk) []int {
	out := make([]int, len(chunks))
	for i, c := range chunks {
		out[i] = c.End
	}
	return out
}

const documentEntityColumns = `
	document_id, entity_id, ingestion_hash, mention_count, latest, best, superseded_at`

func scanDocumentEntity(row pgxv5.Row) (*common.DocumentEntity, error) {
	var edge common.DocumentEntity
	var latest, best []byte
	err := row.Scan(
		&edge.DocumentID, &edge.EntityID, &edge.IngestionHash,
		&edge.MentionCount, &latest, &best, &edge.SupersededAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(latest, &edge.Latest); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(best, &edge.Best); err != nil {
		return nil, err
	}
	return &edge, nil
}

// GetLiveDocumentEntity returns the single live edge for a document and
// entity, or common.ErrNotFound.
func (s *GraphDBStorage) GetLiveDocumentEntity(ctx context.Context, documentID, entityID string) (*common.DocumentEntity, error) {
	row := s.conn.QueryRow(ctx, `
		SELECT `+documentEntityColumns+`
		FROM document_entities
		WHERE document_id = $1 AND entity_id = $2 AND superseded_at IS NULL`,
		documentID, entityID)
	edge, err := scanDocumentEntity(row)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, fmt.Errorf("document entity (%s, %s): %w", documentID, entityID, common.ErrNotFound)
	}
	return edge, err
}

// LiveDocumentEntities returns all live edges of a document, sorted by
// entity id.
func (s *GraphDBStorage) LiveDocumentEntities(ctx context.Context, documentID string) ([]common.DocumentEntity, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+documentEntityColumns+`
		FROM document_entities
		WHERE document_id = $1 AND superseded_at IS NULL
		ORDER BY entity_id`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.DocumentEntity, 0)
	for rows.Next() {
		edge, err := scanDocumentEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *edge)
	}
	return out, rows.Err()
}
