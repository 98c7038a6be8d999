package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/graphfuse/backend/pkg/ai"
	"github.com/graphfuse/backend/pkg/claims"
	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/index"
	"github.com/graphfuse/backend/pkg/resolve"
	"github.com/graphfuse/backend/pkg/store/memory"
)

type fakeClient struct{}

func (c *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "summary", nil
}

func (c *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	var raw []byte
	switch name {
	case "merge_decision":
		raw, _ = json.Marshal(map[string]any{"action": "create", "confidence": 0.9})
	case "claim_relation":
		raw, _ = json.Marshal(map[string]any{"relation": "none", "confidence": 0.9})
	default:
		raw = []byte(`{}`)
	}
	return json.Unmarshal(raw, out)
}

func (c *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	emb := make([]float32, 8)
	for i, b := range input {
		emb[i%8] += float32(b) / 100
	}
	return emb, nil
}

func (c *fakeClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i], _ = c.GenerateEmbedding(ctx, in)
	}
	return out, nil
}

func newTestCoordinator() (*index.Coordinator, *memory.GraphMemoryStore) {
	graphStore := memory.NewGraphMemoryStore()
	client := &fakeClient{}
	resolver := resolve.NewResolver(graphStore, client, resolve.DefaultConfig())
	linker := claims.NewLinker(graphStore, client, claims.DefaultConfig())
	coordinator := index.NewCoordinator(graphStore, resolver, linker, client, index.DefaultConfig())
	return coordinator, graphStore
}

func TestProcessIngestMessage(t *testing.T) {
	coordinator, graphStore := newTestCoordinator()

	msg := IngestMessage{
		CorrelationID: "corr-1",
		Payload: index.IngestionPayload{
			DocumentID:    "doc-1",
			Dataset:       "kb",
			Title:         "Notes",
			IngestionHash: "h1",
			Entities: []index.EntityPayload{
				{Name: "FastAPI", Type: "technology", Confidence: 0.9},
			},
		},
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshaling message: %v", err)
	}

	if err := ProcessIngestMessage(context.Background(), coordinator, nil, string(raw)); err != nil {
		t.Fatalf("processing failed: %v", err)
	}
	doc, err := graphStore.GetDocument(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("document not written: %v", err)
	}
	if doc.IngestionHash != "h1" {
		t.Fatalf("unexpected ingestion hash %q", doc.IngestionHash)
	}
}

func TestProcessIngestMessageRejectsGarbage(t *testing.T) {
	coordinator, _ := newTestCoordinator()

	err := ProcessIngestMessage(context.Background(), coordinator, nil, "{not json")
	if !errors.Is(err, common.ErrMalformedExtraction) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if !IsPermanent(err) {
		t.Fatalf("malformed messages must be permanent failures")
	}
}

func TestIsPermanent(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"malformed", common.ErrMalformedExtraction, true},
		{"provenance", common.ErrProvenanceMissing, true},
		{"transient", errors.New("connection reset"), false},
		{"conflict", common.ErrVersionConflict, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsPermanent(tc.err); got != tc.want {
				t.Fatalf("IsPermanent(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
