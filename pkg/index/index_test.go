package index

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/graphfuse/backend/pkg/ai"
	"github.com/graphfuse/backend/pkg/claims"
	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/resolve"
	"github.com/graphfuse/backend/pkg/store/memory"
)

// fakeClient always decides "create" for entity mentions and "none" for
// claim pairs, so ingestions are self-contained.
type fakeClient struct{}

func (f *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "summary", nil
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	var raw []byte
	switch name {
	case "merge_decision":
		raw, _ = json.Marshal(ai.MergeDecision{Action: "create", Confidence: 0.9})
	case "claim_relation":
		raw, _ = json.Marshal(ai.ClaimJudgment{Relation: "none"})
	default:
		raw = []byte(`{}`)
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return embeddingFor(string(input)), nil
}

func (f *fakeClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = embeddingFor(string(inputs[i]))
	}
	return out, nil
}

// embeddingFor spreads distinct texts across distinct directions so
// unrelated claims never read as duplicates.
func embeddingFor(text string) []float32 {
	v := make([]float32, 8)
	for i, r := range text {
		v[i%8] += float32(r%13) / 13
	}
	return v
}

func newTestCoordinator(s *memory.GraphMemoryStore) *Coordinator {
	client := &fakeClient{}
	rcfg := resolve.DefaultConfig()
	rcfg.EmbeddingRate = 1000
	rcfg.EmbeddingBurst = 1000
	resolver := resolve.NewResolver(s, client, rcfg)
	linker := claims.NewLinker(s, client, claims.DefaultConfig())
	return NewCoordinator(s, resolver, linker, client, DefaultConfig())
}

func samplePayload(hash string) *IngestionPayload {
	return &IngestionPayload{
		DocumentID:    "doc_1",
		Dataset:       "eng",
		Title:         "Service architecture",
		IngestionHash: hash,
		Entities: []EntityPayload{
			{Name: "FastAPI", Type: "technology", Snippet: "built on FastAPI", Start: 10, End: 26, Confidence: 0.9},
			{Name: "PostgreSQL", Type: "technology", Snippet: "stores data in PostgreSQL", Start: 40, End: 65, Confidence: 0.85},
		},
		Relationships: []RelationshipPayload{
			{Source: "FastAPI", Target: "PostgreSQL", Type: "uses", Confidence: 0.8},
		},
		Claims: []ClaimPayload{
			{Statement: "The API stores data in PostgreSQL", Start: 30, End: 65, Entities: []string{"PostgreSQL"}, Confidence: 0.9},
		},
		Chunks: []ChunkPayload{
			{Start: 0, End: 65, Text: "The service is built on FastAPI and stores data in PostgreSQL."},
		},
		Summary: "A FastAPI service backed by PostgreSQL.",
	}
}

func TestIngestDocument(t *testing.T) {
	s := memory.NewGraphMemoryStore()
	c := newTestCoordinator(s)
	ctx := context.Background()

	result, err := c.IngestDocument(ctx, samplePayload("hash_1"))
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Created != 2 || result.Relationships != 1 || result.Claims != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}

	edges, err := s.LiveDocumentEntities(ctx, "doc_1")
	if err != nil {
		t.Fatalf("live edges: %v", err)
	}
	if len(edges) != 2 {
		t.Fatalf("expected 2 live edges, got %d", len(edges))
	}

	triplets, _ := s.TraverseFrom(ctx, result.EntityIDs, 1, 0)
	if len(triplets) != 1 || triplets[0].Type != "uses" {
		t.Fatalf("relationship not committed: %+v", triplets)
	}
	if len(triplets[0].DocumentIDs) != 1 || triplets[0].DocumentIDs[0] != "doc_1" {
		t.Fatalf("provenance missing: %+v", triplets[0])
	}

	doc, err := s.GetDocument(ctx, "doc_1")
	if err != nil {
		t.Fatalf("document: %v", err)
	}
	if doc.IngestionHash != "hash_1" {
		t.Fatalf("ingestion hash not recorded: %+v", doc)
	}
}

func TestIngestRejectsMalformedPayload(t *testing.T) {
	s := memory.NewGraphMemoryStore()
	c := newTestCoordinator(s)
	ctx := context.Background()

	// Establish a live generation first.
	if _, err := c.IngestDocument(ctx, samplePayload("hash_1")); err != nil {
		t.Fatalf("seed ingest: %v", err)
	}
	before, _ := s.LiveDocumentEntities(ctx, "doc_1")

	bad := samplePayload("hash_2")
	bad.Claims[0].Entities = nil
	_, err := c.IngestDocument(ctx, bad)
	if !errors.Is(err, common.ErrMalformedExtraction) {
		t.Fatalf("expected ErrMalformedExtraction, got %v", err)
	}

	// The prior live generation is untouched.
	after, _ := s.LiveDocumentEntities(ctx, "doc_1")
	if len(after) != len(before) {
		t.Fatalf("live state changed by rejected ingest: %d -> %d", len(before), len(after))
	}
	for i := range after {
		if after[i].IngestionHash != "hash_1" {
			t.Fatalf("live edge carries wrong hash: %+v", after[i])
		}
	}
}

func TestIngestRejectsUnknownRelationshipEndpoint(t *testing.T) {
	s := memory.NewGraphMemoryStore()
	c := newTestCoordinator(s)

	bad := samplePayload("hash_1")
	bad.Relationships = append(bad.Relationships, RelationshipPayload{
		Source: "FastAPI", Target: "Redis", Type: "caches_in", Confidence: 0.7,
	})
	_, err := c.IngestDocument(context.Background(), bad)
	if !errors.Is(err, common.ErrMalformedExtraction) {
		t.Fatalf("expected ErrMalformedExtraction for unknown endpoint, got %v", err)
	}
}

func TestReingestSupersedesPreviousGeneration(t *testing.T) {
	s := memory.NewGraphMemoryStore()
	c := newTestCoordinator(s)
	ctx := context.Background()

	if _, err := c.IngestDocument(ctx, samplePayload("hash_1")); err != nil {
		t.Fatalf("first ingest: %v", err)
	}

	// Second generation drops PostgreSQL entirely.
	second := samplePayload("hash_2")
	second.Entities = second.Entities[:1]
	second.Relationships = nil
	second.Claims = nil
	result, err := c.IngestDocument(ctx, second)
	if err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	edges, _ := s.LiveDocumentEntities(ctx, "doc_1")
	if len(edges) != 1 {
		t.Fatalf("expected 1 live edge after re-ingest, got %d", len(edges))
	}
	if edges[0].IngestionHash != "hash_2" {
		t.Fatalf("live edge carries stale hash: %+v", edges[0])
	}

	triplets, _ := s.TraverseFrom(ctx, result.EntityIDs, 2, 0)
	if len(triplets) != 0 {
		t.Fatalf("superseded relationship still traversable: %+v", triplets)
	}
}
