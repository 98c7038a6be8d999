package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/store"
)

func newEntity(id, name, entityType string) *common.Entity {
	return &common.Entity{
		ID:        id,
		Name:      name,
		Type:      entityType,
		Embedding: []float32{1, 0, 0},
	}
}

func edge(entityID string, mentions int, confidence float64) common.DocumentEntity {
	snippet := common.Snippet{Text: "...", Start: 0, End: 3, Confidence: confidence}
	return common.DocumentEntity{
		EntityID:     entityID,
		MentionCount: mentions,
		Latest:       snippet,
		Best:         snippet,
	}
}

func TestUpdateEntityCAS(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStore()

	e := newEntity("ent_a", "FastAPI", "technology")
	if err := s.CreateEntity(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}
	if e.Version != 1 {
		t.Fatalf("expected version 1 after create, got %d", e.Version)
	}

	e.Description = "web framework"
	if err := s.UpdateEntityCAS(ctx, e, 1); err != nil {
		t.Fatalf("cas at base 1: %v", err)
	}
	if e.Version != 2 {
		t.Fatalf("expected version 2 after cas, got %d", e.Version)
	}

	// A second writer holding the stale base must fail without touching
	// the record.
	stale := newEntity("ent_a", "FastAPI", "technology")
	stale.Description = "stale"
	err := s.UpdateEntityCAS(ctx, stale, 1)
	if !errors.Is(err, common.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
	got, err := s.GetEntity(ctx, "ent_a")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Description != "web framework" || got.Version != 2 {
		t.Fatalf("record changed by failed cas: %+v", got)
	}
}

func TestDocumentEntityBestIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStore()

	if err := s.CreateEntity(ctx, newEntity("ent_fastapi", "FastAPI", "technology")); err != nil {
		t.Fatalf("create: %v", err)
	}

	doc := common.Document{ID: "doc_1", Dataset: "eng", IngestionHash: "hash_1"}
	first := edge("ent_fastapi", 1, 0.95)
	if err := s.ApplyDocumentWrite(ctx, store.DocumentWrite{Document: doc, Edges: []common.DocumentEntity{first}}); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Second linking event in the same generation with lower confidence:
	// latest moves, best stays, mentions accumulate.
	live, err := s.GetLiveDocumentEntity(ctx, "doc_1", "ent_fastapi")
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	second := *live
	second.MentionCount++
	second.Latest = common.Snippet{Text: "later", Start: 40, End: 45, Confidence: 0.80}
	if second.Latest.Confidence > second.Best.Confidence {
		second.Best = second.Latest
	}
	if err := s.ApplyDocumentWrite(ctx, store.DocumentWrite{Document: doc, Edges: []common.DocumentEntity{second}}); err != nil {
		t.Fatalf("second write: %v", err)
	}

	live, err = s.GetLiveDocumentEntity(ctx, "doc_1", "ent_fastapi")
	if err != nil {
		t.Fatalf("get live: %v", err)
	}
	if live.MentionCount != 2 {
		t.Fatalf("expected 2 mentions, got %d", live.MentionCount)
	}
	if live.Best.Confidence != 0.95 {
		t.Fatalf("best confidence regressed to %v", live.Best.Confidence)
	}
	if live.Latest.Confidence != 0.80 {
		t.Fatalf("latest not updated, got %v", live.Latest.Confidence)
	}
}

func TestReindexSupersedesPriorGeneration(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStore()

	for _, e := range []*common.Entity{
		newEntity("ent_a", "A", "concept"),
		newEntity("ent_b", "B", "concept"),
		newEntity("ent_c", "C", "concept"),
	} {
		if err := s.CreateEntity(ctx, e); err != nil {
			t.Fatalf("create %s: %v", e.ID, err)
		}
	}

	doc := common.Document{ID: "doc_1", Dataset: "eng", IngestionHash: "hash_1"}
	first := store.DocumentWrite{
		Document: doc,
		Edges: []common.DocumentEntity{
			edge("ent_a", 3, 0.9),
			edge("ent_b", 1, 0.7),
		},
		Relationships: []common.EntityRelationship{{
			SourceID: "ent_a", TargetID: "ent_b", Type: "related_to",
			Confidence: 0.8, SourceDocumentIDs: []string{"doc_1"},
		}},
		Claims: []common.Claim{{
			Statement: "A relates to B", DocumentID: "doc_1",
			EntityIDs: []string{"ent_a", "ent_b"}, Confidence: 0.9,
		}},
	}
	if err := s.ApplyDocumentWrite(ctx, first); err != nil {
		t.Fatalf("first generation: %v", err)
	}

	// Re-index: B disappears, C appears, the relationship now points at C.
	doc.IngestionHash = "hash_2"
	second := store.DocumentWrite{
		Document: doc,
		Edges: []common.DocumentEntity{
			edge("ent_a", 2, 0.9),
			edge("ent_c", 1, 0.6),
		},
		Relationships: []common.EntityRelationship{{
			SourceID: "ent_a", TargetID: "ent_c", Type: "related_to",
			Confidence: 0.8, SourceDocumentIDs: []string{"doc_1"},
		}},
	}
	if err := s.ApplyDocumentWrite(ctx, second); err != nil {
		t.Fatalf("second generation: %v", err)
	}

	live, err := s.LiveDocumentEntities(ctx, "doc_1")
	if err != nil {
		t.Fatalf("live edges: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("expected 2 live edges, got %d", len(live))
	}
	for _, e := range live {
		if e.EntityID == "ent_b" {
			t.Fatalf("superseded edge for ent_b still live")
		}
		if e.IngestionHash != "hash_2" {
			t.Fatalf("live edge carries stale hash %s", e.IngestionHash)
		}
	}

	triplets, err := s.TraverseFrom(ctx, []string{"ent_a"}, 1, 0)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(triplets) != 1 || triplets[0].TargetID != "ent_c" {
		t.Fatalf("expected only the hash_2 relationship, got %+v", triplets)
	}

	claims, err := s.GetLiveClaimsForEntities(ctx, []string{"ent_a"})
	if err != nil {
		t.Fatalf("claims: %v", err)
	}
	if len(claims) != 0 {
		t.Fatalf("expected claim from hash_1 to be superseded, got %+v", claims)
	}
}

func TestReindexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStore()

	if err := s.CreateEntity(ctx, newEntity("ent_a", "A", "concept")); err != nil {
		t.Fatalf("create: %v", err)
	}

	doc := common.Document{ID: "doc_1", Dataset: "eng", IngestionHash: "hash_1"}
	write := store.DocumentWrite{
		Document: doc,
		Edges:    []common.DocumentEntity{edge("ent_a", 1, 0.9)},
		Relationships: []common.EntityRelationship{{
			SourceID: "ent_a", TargetID: "ent_a", Type: "self",
			Confidence: 0.5, SourceDocumentIDs: []string{"doc_1"},
		}},
		Claims: []common.Claim{{
			Statement: "A exists", Start: 10, DocumentID: "doc_1",
			EntityIDs: []string{"ent_a"}, Confidence: 0.9,
		}},
	}
	if err := s.ApplyDocumentWrite(ctx, write); err != nil {
		t.Fatalf("first apply: %v", err)
	}

	claimsBefore, _ := s.GetLiveClaimsForEntities(ctx, []string{"ent_a"})
	tripletsBefore, _ := s.TraverseFrom(ctx, []string{"ent_a"}, 1, 0)

	if err := s.ApplyDocumentWrite(ctx, write); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	claimsAfter, _ := s.GetLiveClaimsForEntities(ctx, []string{"ent_a"})
	tripletsAfter, _ := s.TraverseFrom(ctx, []string{"ent_a"}, 1, 0)

	if len(claimsAfter) != len(claimsBefore) {
		t.Fatalf("claim count changed: %d -> %d", len(claimsBefore), len(claimsAfter))
	}
	if claimsAfter[0].ID != claimsBefore[0].ID {
		t.Fatalf("claim id changed on re-apply: %s -> %s", claimsBefore[0].ID, claimsAfter[0].ID)
	}
	if len(tripletsAfter) != len(tripletsBefore) {
		t.Fatalf("triplet count changed: %d -> %d", len(tripletsBefore), len(tripletsAfter))
	}
}

func TestApplyDocumentWriteValidation(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStore()

	cases := []struct {
		name  string
		write store.DocumentWrite
		want  error
	}{
		{
			name: "relationship without provenance",
			write: store.DocumentWrite{
				Document: common.Document{ID: "doc_1", IngestionHash: "h"},
				Relationships: []common.EntityRelationship{{
					SourceID: "ent_a", TargetID: "ent_b", Type: "related_to",
				}},
			},
			want: common.ErrProvenanceMissing,
		},
		{
			name: "claim without entities",
			write: store.DocumentWrite{
				Document: common.Document{ID: "doc_1", IngestionHash: "h"},
				Claims: []common.Claim{{
					Statement: "orphan", DocumentID: "doc_1",
				}},
			},
			want: common.ErrMalformedExtraction,
		},
		{
			name: "claim from another document",
			write: store.DocumentWrite{
				Document: common.Document{ID: "doc_1", IngestionHash: "h"},
				Claims: []common.Claim{{
					Statement: "misfiled", DocumentID: "doc_2",
					EntityIDs: []string{"ent_a"},
				}},
			},
			want: common.ErrMalformedExtraction,
		},
		{
			name: "missing ingestion hash",
			write: store.DocumentWrite{
				Document: common.Document{ID: "doc_1"},
			},
			want: common.ErrMalformedExtraction,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.ApplyDocumentWrite(ctx, tc.write)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestMarkEntityMerged(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStore()

	winner := newEntity("ent_win", "PostgreSQL", "technology")
	winner.MentionCount = 5
	loser := newEntity("ent_lose", "Postgres", "technology")
	loser.Aliases = []string{"pg"}
	loser.MentionCount = 2
	third := newEntity("ent_other", "pgvector", "technology")
	for _, e := range []*common.Entity{winner, loser, third} {
		if err := s.CreateEntity(ctx, e); err != nil {
			t.Fatalf("create %s: %v", e.ID, err)
		}
	}

	doc := common.Document{ID: "doc_1", Dataset: "eng", IngestionHash: "hash_1"}
	write := store.DocumentWrite{
		Document: doc,
		Edges: []common.DocumentEntity{
			edge("ent_win", 1, 0.9),
			edge("ent_lose", 2, 0.95),
		},
		Relationships: []common.EntityRelationship{{
			SourceID: "ent_lose", TargetID: "ent_other", Type: "extends",
			Confidence: 0.8, SourceDocumentIDs: []string{"doc_1"},
		}},
		Claims: []common.Claim{{
			Statement: "Postgres stores vectors", DocumentID: "doc_1",
			EntityIDs: []string{"ent_lose", "ent_other"}, Confidence: 0.9,
		}},
	}
	if err := s.ApplyDocumentWrite(ctx, write); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := s.MarkEntityMerged(ctx, "ent_lose", "ent_win"); err != nil {
		t.Fatalf("merge: %v", err)
	}

	merged, _ := s.GetEntity(ctx, "ent_lose")
	if merged.MergedInto != "ent_win" {
		t.Fatalf("loser not redirected: %+v", merged)
	}
	win, _ := s.GetEntity(ctx, "ent_win")
	if win.MentionCount != 7 {
		t.Fatalf("mention counts not folded, got %d", win.MentionCount)
	}
	if !containsFold(win.Aliases, "Postgres") || !containsFold(win.Aliases, "pg") {
		t.Fatalf("aliases not unioned: %v", win.Aliases)
	}

	// The loser's edge folded into the winner's for the same generation.
	live, err := s.GetLiveDocumentEntity(ctx, "doc_1", "ent_win")
	if err != nil {
		t.Fatalf("winner edge: %v", err)
	}
	if live.MentionCount != 3 {
		t.Fatalf("edge mentions not folded, got %d", live.MentionCount)
	}
	if live.Best.Confidence != 0.95 {
		t.Fatalf("edge best not folded, got %v", live.Best.Confidence)
	}
	if _, err := s.GetLiveDocumentEntity(ctx, "doc_1", "ent_lose"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("loser edge still live")
	}

	// The folded loser edge stays on record superseded, never deleted.
	var folded *common.DocumentEntity
	for _, e := range s.docEntities {
		if e.EntityID == "ent_lose" && e.DocumentID == "doc_1" {
			folded = e
		}
	}
	if folded == nil {
		t.Fatal("folded loser edge was deleted")
	}
	if folded.SupersededAt == nil {
		t.Fatal("folded loser edge should be superseded")
	}

	// Relationships and claims now reference the winner.
	triplets, _ := s.TraverseFrom(ctx, []string{"ent_win"}, 1, 0)
	if len(triplets) != 1 || triplets[0].SourceID != "ent_win" {
		t.Fatalf("relationship not redirected: %+v", triplets)
	}
	claims, _ := s.GetLiveClaimsForEntities(ctx, []string{"ent_win"})
	if len(claims) != 1 {
		t.Fatalf("claim not redirected, got %d", len(claims))
	}

	// A merged entity can never win a later merge.
	if err := s.MarkEntityMerged(ctx, "ent_other", "ent_lose"); err == nil {
		t.Fatal("expected merge into a merged entity to fail")
	}
}

func TestTraverseFromIsDeterministicAndBounded(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStore()

	ids := []string{"ent_a", "ent_b", "ent_c", "ent_d"}
	for _, id := range ids {
		if err := s.CreateEntity(ctx, newEntity(id, id, "concept")); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	doc := common.Document{ID: "doc_1", Dataset: "eng", IngestionHash: "h"}
	rels := []common.EntityRelationship{
		{SourceID: "ent_a", TargetID: "ent_b", Type: "r1", Confidence: 1, SourceDocumentIDs: []string{"doc_1"}},
		{SourceID: "ent_b", TargetID: "ent_c", Type: "r2", Confidence: 1, SourceDocumentIDs: []string{"doc_1"}},
		{SourceID: "ent_c", TargetID: "ent_d", Type: "r3", Confidence: 1, SourceDocumentIDs: []string{"doc_1"}},
	}
	if err := s.ApplyDocumentWrite(ctx, store.DocumentWrite{Document: doc, Relationships: rels}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	// Depth 1 from a reaches only a-b.
	got, err := s.TraverseFrom(ctx, []string{"ent_a"}, 1, 0)
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	if len(got) != 1 || got[0].Key() != "ent_a|r1|ent_b" {
		t.Fatalf("depth 1: %+v", got)
	}

	// Depth 3 reaches the chain; maxEdges truncates.
	got, _ = s.TraverseFrom(ctx, []string{"ent_a"}, 3, 2)
	if len(got) != 2 {
		t.Fatalf("expected edge cap of 2, got %d", len(got))
	}

	// Traversal follows edges against their direction too.
	got, _ = s.TraverseFrom(ctx, []string{"ent_d"}, 1, 0)
	if len(got) != 1 || got[0].Key() != "ent_c|r3|ent_d" {
		t.Fatalf("reverse traversal: %+v", got)
	}

	// Same input, same output.
	first, _ := s.TraverseFrom(ctx, []string{"ent_a"}, 3, 0)
	for range 5 {
		again, _ := s.TraverseFrom(ctx, []string{"ent_a"}, 3, 0)
		if len(again) != len(first) {
			t.Fatalf("nondeterministic traversal length")
		}
		for i := range again {
			if again[i].Key() != first[i].Key() {
				t.Fatalf("nondeterministic order at %d: %s vs %s", i, again[i].Key(), first[i].Key())
			}
		}
	}
}

func TestSearchChunksFiltersDataset(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStore()

	write := func(docID, dataset string, emb []float32) {
		err := s.ApplyDocumentWrite(ctx, store.DocumentWrite{
			Document: common.Document{ID: docID, Dataset: dataset, IngestionHash: "h"},
			Chunks:   []common.Chunk{{DocumentID: docID, Start: 0, End: 10, Text: "x", Embedding: emb}},
		})
		if err != nil {
			t.Fatalf("apply %s: %v", docID, err)
		}
	}
	write("doc_eng", "eng", []float32{1, 0})
	write("doc_legal", "legal", []float32{1, 0})

	got, err := s.SearchChunks(ctx, "eng", []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Chunk.DocumentID != "doc_eng" {
		t.Fatalf("dataset filter leaked: %+v", got)
	}

	got, _ = s.SearchChunks(ctx, "", []float32{1, 0}, 10)
	if len(got) != 2 {
		t.Fatalf("expected both datasets without filter, got %d", len(got))
	}
}

func TestClaimRelationshipsSurvive(t *testing.T) {
	ctx := context.Background()
	s := NewGraphMemoryStore()

	if err := s.CreateEntity(ctx, newEntity("ent_a", "A", "concept")); err != nil {
		t.Fatalf("create: %v", err)
	}
	doc := common.Document{ID: "doc_1", Dataset: "eng", IngestionHash: "h"}
	write := store.DocumentWrite{
		Document: doc,
		Claims: []common.Claim{
			{ID: "clm_1", Statement: "A is fast", DocumentID: "doc_1", EntityIDs: []string{"ent_a"}},
			{ID: "clm_2", Statement: "A is slow", DocumentID: "doc_1", EntityIDs: []string{"ent_a"}},
		},
		ClaimRelations: []common.ClaimRelationship{{
			ClaimA: "clm_1", ClaimB: "clm_2", Kind: common.ClaimConflicts, DetectedAt: time.Now(),
		}},
	}
	if err := s.ApplyDocumentWrite(ctx, write); err != nil {
		t.Fatalf("apply: %v", err)
	}

	rels, err := s.GetClaimRelationships(ctx, "clm_1")
	if err != nil {
		t.Fatalf("claim rels: %v", err)
	}
	if len(rels) != 1 || rels[0].Kind != common.ClaimConflicts {
		t.Fatalf("expected one conflict edge, got %+v", rels)
	}

	// Re-applying the same write must not duplicate the edge.
	if err := s.ApplyDocumentWrite(ctx, write); err != nil {
		t.Fatalf("re-apply: %v", err)
	}
	rels, _ = s.GetClaimRelationships(ctx, "clm_1")
	if len(rels) != 1 {
		t.Fatalf("claim relation duplicated: %d", len(rels))
	}
}
