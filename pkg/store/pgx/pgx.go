// Package pgx provides the PostgreSQL GraphStore backed by pgvector for
// similarity search. Entity updates use optimistic version guards and
// every document write runs in a single transaction.
package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"

	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/store"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// GraphDBStorage implements store.GraphStore on PostgreSQL.
type GraphDBStorage struct {
	conn pgxIConn
}

// NewGraphDBStorage creates a GraphDBStorage on an existing connection
// or pool. Migrations must already have been applied.
func NewGraphDBStorage(conn pgxIConn) *GraphDBStorage {
	return &GraphDBStorage{conn: conn}
}

func marshalTrace(trace *common.ResolutionTrace) ([]byte, error) {
	if trace == nil {
		return nil, nil
	}
	return json.Marshal(trace)
}

func unmarshalTrace(raw []byte) (*common.ResolutionTrace, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var trace common.ResolutionTrace
	if err := json.Unmarshal(raw, &trace); err != nil {
		return nil, err
	}
	return &trace, nil
}

// CreateEntity inserts a new entity at version 1.
func (s *GraphDBStorage) CreateEntity(ctx context.Context, entity *common.Entity) error {
	if entity.ID == "" {
		return fmt.Errorf("entity id is empty")
	}

	trace, err := marshalTrace(entity.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	entity.Version = 1
	_, err = s.conn.Exec(ctx, `
		INSERT INTO entities
			(id, name, type, aliases, description, embedding, version,
			 mention_count, merged_into, needs_review, trace)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7, NULL, $8, $9)`,
		entity.ID,
		entity.Name,
		entity.Type,
		entity.Aliases,
		entity.Description,
		pgvector.NewVector(entity.Embedding),
		entity.MentionCount,
		entity.NeedsReview,
		trace,
	)
	return err
}

const entityColumns = `
	id, name, type, aliases, description, embedding, version,
	mention_count, COALESCE(merged_into, ''), needs_review, trace`

func scanEntity(row pgxv5.Row) (*common.Entity, error) {
	var e common.Entity
	var embedding pgvector.Vector
	var trace []byte
	err := row.Scan(
		&e.ID, &e.Name, &e.Type, &e.Aliases, &e.Description, &embedding,
		&e.Version, &e.MentionCount, &e.MergedInto, &e.NeedsReview, &trace,
	)
	if err != nil {
		return nil, err
	}
	e.Embedding = embedding.Slice()
	e.Trace, err = unmarshalTrace(trace)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// GetEntity returns the entity, or common.ErrNotFound.
func (s *GraphDBStorage) GetEntity(ctx context.Context, id string) (*common.Entity, error) {
	row := s.conn.QueryRow(ctx,
		`SELECT `+entityColumns+` FROM entities WHERE id = $1`, id)
	e, err := scanEntity(row)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", id, common.ErrNotFound)
	}
	return e, err
}

// UpdateEntityCAS replaces the entity only when its stored version still
// equals baseVersion, advancing it by one. A stale base returns
// common.ErrVersionConflict.
func (s *GraphDBStorage) UpdateEntityCAS(ctx context.Context, entity *common.Entity, baseVersion int64) error {
	trace, err := marshalTrace(entity.Trace)
	if err != nil {
		return fmt.Errorf("marshal trace: %w", err)
	}

	tag, err := s.conn.Exec(ctx, `
		UPDATE entities SET
			name = $2, type = $3, aliases = $4, description = $5,
			embedding = $6, mention_count = $7, needs_review = $8,
			trace = $9, version = version + 1
		WHERE id = $1 AND version = $10 AND merged_into IS NULL`,
		entity.ID,
		entity.Name,
		entity.Type,
		entity.Aliases,
		entity.Description,
		pgvector.NewVector(entity.Embedding),
		entity.MentionCount,
		entity.NeedsReview,
		trace,
		baseVersion,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		entity.Version = baseVersion + 1
		return nil
	}

	current, err := s.GetEntity(ctx, entity.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("entity %s at version %d, caller held %d: %w",
		entity.ID, current.Version, baseVersion, common.ErrVersionConflict)
}

// MarkEntityMerged points the losing entity at the winner and redirects
// its live mentions, relationship endpoints and claim references, all in
// one transaction. The winner must not itself be merged away.
func (s *GraphDBStorage) MarkEntityMerged(ctx context.Context, losingID, winningID string) error {
	if losingID == winningID {
		return fmt.Errorf("cannot merge entity %s into itself", losingID)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var losingMergedInto, winningMergedInto *string
	var losingName string
	var losingAliases []string
	var losingMentions int
	err = tx.QueryRow(ctx, `
		SELECT merged_into, name, aliases, mention_count
		FROM entities WHERE id = $1 FOR UPDATE`, losingID).
		Scan(&losingMergedInto, &losingName, &losingAliases, &losingMentions)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return fmt.Errorf("entity %s: %w", losingID, common.ErrNotFound)
	}
	if err != nil {
		return err
	}
	err = tx.QueryRow(ctx,
		`SELECT merged_into FROM entities WHERE id = $1 FOR UPDATE`, winningID).
		Scan(&winningMergedInto)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return fmt.Errorf("entity %s: %w", winningID, common.ErrNotFound)
	}
	if err != nil {
		return err
	}
	if winningMergedInto != nil {
		return fmt.Errorf("entity %s is already merged into %s and cannot win a merge", winningID, *winningMergedInto)
	}
	if losingMergedInto != nil {
		return fmt.Errorf("entity %s is already merged into %s", losingID, *losingMergedInto)
	}

	// Fold the loser's live edges into the winner's where a live edge of
	// the same generation exists, then redirect the rest.
	_, err = tx.Exec(ctx, `
		UPDATE document_entities w SET
			mention_count = w.mention_count + l.mention_count,
			best = CASE
				WHEN (l.best->>'confidence')::float8 > (w.best->>'confidence')::float8
				THEN l.best ELSE w.best
			END
		FROM document_entities l
		WHERE w.entity_id = $2 AND w.superseded_at IS NULL
		  AND l.entity_id = $1 AND l.superseded_at IS NULL
		  AND l.document_id = w.document_id
		  AND l.ingestion_hash = w.ingestion_hash`,
		losingID, winningID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE document_entities l SET superseded_at = now()
		WHERE l.entity_id = $1 AND l.superseded_at IS NULL
		  AND EXISTS (
			SELECT 1 FROM document_entities w
			WHERE w.entity_id = $2 AND w.superseded_at IS NULL
			  AND w.document_id = l.document_id
			  AND w.ingestion_hash = l.ingestion_hash)`,
		losingID, winningID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE document_entities SET entity_id = $2
		WHERE entity_id = $1 AND superseded_at IS NULL`,
		losingID, winningID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE entity_relationships SET source_id = $2
		WHERE source_id = $1 AND superseded_at IS NULL`, losingID, winningID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE entity_relationships SET target_id = $2
		WHERE target_id = $1 AND superseded_at IS NULL`, losingID, winningID)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE claims SET entity_ids = array_replace(entity_ids, $1, $2)
		WHERE $1 = ANY(entity_ids)`, losingID, winningID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE entities SET
			mention_count = mention_count + $3,
			aliases = (
				SELECT array_agg(DISTINCT a) FROM unnest(aliases || $4::text[] || ARRAY[$5]::text[]) AS a
				WHERE lower(a) <> lower(name)
			),
			version = version + 1
		WHERE id = $2`,
		losingID, winningID, losingMentions, losingAliases, losingName)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx,
		`UPDATE entities SET merged_into = $2, version = version + 1 WHERE id = $1`,
		losingID, winningID)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// SearchSimilarEntities returns the most similar unmerged entities of a
// type by cosine similarity, with live-document counts attached.
func (s *GraphDBStorage) SearchSimilarEntities(
	ctx context.Context,
	entityType string,
	embedding []float32,
	limit int,
) ([]store.EntityMatch, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.conn.Query(ctx, `
		SELECT `+entityColumns+`,
			1 - (embedding <=> $2) AS similarity,
			(SELECT COUNT(DISTINCT de.document_id)
			 FROM document_entities de
			 WHERE de.entity_id = entities.id AND de.superseded_at IS NULL) AS document_count
		FROM entities
		WHERE type = $1 AND merged_into IS NULL
		ORDER BY embedding <=> $2, id
		LIMIT $3`,
		entityType, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	matches := make([]store.EntityMatch, 0, limit)
	for rows.Next() {
		var e common.Entity
		var emb pgvector.Vector
		var trace []byte
		var m store.EntityMatch
		err := rows.Scan(
			&e.ID, &e.Name, &e.Type, &e.Aliases, &e.Description, &emb,
			&e.Version, &e.MentionCount, &e.MergedInto, &e.NeedsReview, &trace,
			&m.Similarity, &m.DocumentCount,
		)
		if err != nil {
			return nil, err
		}
		e.Embedding = emb.Slice()
		e.Trace, err = unmarshalTrace(trace)
		if err != nil {
			return nil, err
		}
		m.Entity = e
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// FindEntitiesByName matches unmerged entities by canonical name or
// alias, case-insensitively, optionally restricted to entities with a
// live edge into the dataset.
func (s *GraphDBStorage) FindEntitiesByName(
	ctx context.Context,
	dataset string,
	names []string,
) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT `+entityColumns+`
		FROM entities e
		WHERE e.merged_into IS NULL
		  AND (
			lower(e.name) = ANY(SELECT lower(n) FROM unnest($1::text[]) AS n)
			OR EXISTS (
				SELECT 1 FROM unnest(e.aliases) AS a
				WHERE lower(a) = ANY(SELECT lower(n) FROM unnest($1::text[]) AS n))
		  )
		  AND ($2 = '' OR EXISTS (
			SELECT 1 FROM document_entities de
			JOIN documents d ON d.id = de.document_id
			WHERE de.entity_id = e.id AND de.superseded_at IS NULL AND d.dataset = $2))
		ORDER BY e.id`,
		names, dataset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]common.Entity, 0)
	for rows.Next() {
		var e common.Entity
		var emb pgvector.Vector
		var trace []byte
		err := rows.Scan(
			&e.ID, &e.Name, &e.Type, &e.Aliases, &e.Description, &emb,
			&e.Version, &e.MentionCount, &e.MergedInto, &e.NeedsReview, &trace,
		)
		if err != nil {
			return nil, err
		}
		e.Embedding = emb.Slice()
		e.Trace, err = unmarshalTrace(trace)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListDatasets returns the distinct dataset names of all documents.
func (s *GraphDBStorage) ListDatasets(ctx context.Context) ([]string, error) {
	rows, err := s.conn.Query(ctx,
		`SELECT DISTINCT dataset FROM documents WHERE dataset <> '' ORDER BY dataset`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var dataset string
		if err := rows.Scan(&dataset); err != nil {
			return nil, err
		}
		out = append(out, dataset)
	}
	return out, rows.Err()
}
