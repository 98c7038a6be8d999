package resolve

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/graphfuse/backend/pkg/ai"
	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/store"
	"github.com/graphfuse/backend/pkg/store/memory"
)

// fakeClient scripts judge decisions and returns fixed embeddings.
type fakeClient struct {
	decision  ai.MergeDecision
	judgeErr  error
	embedding []float32
	calls     atomic.Int64
}

func (f *fakeClient) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", nil
}

func (f *fakeClient) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	f.calls.Add(1)
	if f.judgeErr != nil {
		return f.judgeErr
	}
	raw, err := json.Marshal(f.decision)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return f.embedding, nil
}

func (f *fakeClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = f.embedding
	}
	return out, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.EmbeddingRate = 1000
	cfg.EmbeddingBurst = 1000
	return cfg
}

func seedEntity(t *testing.T, s store.GraphStore, id, name string) {
	t.Helper()
	err := s.CreateEntity(context.Background(), &common.Entity{
		ID: id, Name: name, Type: "technology",
		Embedding: []float32{1, 0, 0}, MentionCount: 1,
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestResolveCreatesEntityWhenNoCandidates(t *testing.T) {
	s := memory.NewGraphMemoryStore()
	client := &fakeClient{embedding: []float32{1, 0, 0}}
	r := NewResolver(s, client, testConfig())

	res, err := r.Resolve(context.Background(), Mention{Name: "FastAPI", Type: "technology"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Created || res.NeedsReview {
		t.Fatalf("expected confident create, got %+v", res)
	}
	if client.calls.Load() != 0 {
		t.Fatalf("judge consulted with no candidates")
	}

	e, err := s.GetEntity(context.Background(), res.EntityID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if e.Trace == nil || e.Trace.Decision != string(ai.MergeActionCreate) {
		t.Fatalf("resolution trace not recorded: %+v", e.Trace)
	}
}

func TestResolveMergesIntoChosenEntity(t *testing.T) {
	s := memory.NewGraphMemoryStore()
	seedEntity(t, s, "ent_fastapi", "FastAPI")

	client := &fakeClient{
		embedding: []float32{1, 0, 0},
		decision:  ai.MergeDecision{Action: "merge", EntityID: "ent_fastapi", Confidence: 0.95},
	}
	r := NewResolver(s, client, testConfig())

	res, err := r.Resolve(context.Background(), Mention{Name: "Fast API", Type: "technology"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Merged || res.EntityID != "ent_fastapi" {
		t.Fatalf("expected merge into ent_fastapi, got %+v", res)
	}

	e, _ := s.GetEntity(context.Background(), "ent_fastapi")
	if e.MentionCount != 2 {
		t.Fatalf("mention count not bumped, got %d", e.MentionCount)
	}
	if len(e.Aliases) != 1 || e.Aliases[0] != "Fast API" {
		t.Fatalf("alias not appended: %v", e.Aliases)
	}
	if e.Version != 2 {
		t.Fatalf("version not advanced by cas, got %d", e.Version)
	}
	if e.Trace == nil || e.Trace.Prompt == "" {
		t.Fatalf("merge prompt not recorded for replay")
	}
}

func TestResolveLowConfidenceMergeNeedsReview(t *testing.T) {
	s := memory.NewGraphMemoryStore()
	seedEntity(t, s, "ent_fastapi", "FastAPI")

	client := &fakeClient{
		embedding: []float32{1, 0, 0},
		decision:  ai.MergeDecision{Action: "merge", EntityID: "ent_fastapi", Confidence: 0.4},
	}
	r := NewResolver(s, client, testConfig())

	res, err := r.Resolve(context.Background(), Mention{Name: "FastAPI v2", Type: "technology"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Created || !res.NeedsReview {
		t.Fatalf("expected review entity below auto-resolve threshold, got %+v", res)
	}

	// The original entity is untouched.
	e, _ := s.GetEntity(context.Background(), "ent_fastapi")
	if e.MentionCount != 1 || e.Version != 1 {
		t.Fatalf("entity mutated by rejected merge: %+v", e)
	}
}

func TestResolveMalformedDecisionIsAmbiguous(t *testing.T) {
	s := memory.NewGraphMemoryStore()
	seedEntity(t, s, "ent_fastapi", "FastAPI")

	// Judge names an entity that was never a candidate.
	client := &fakeClient{
		embedding: []float32{1, 0, 0},
		decision:  ai.MergeDecision{Action: "merge", EntityID: "ent_unknown", Confidence: 0.99},
	}
	r := NewResolver(s, client, testConfig())

	res, err := r.Resolve(context.Background(), Mention{Name: "FastAPI", Type: "technology"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Created || !res.NeedsReview {
		t.Fatalf("malformed decision should create review entity, got %+v", res)
	}
}

func TestResolveDocumentAccumulatesEdges(t *testing.T) {
	s := memory.NewGraphMemoryStore()
	seedEntity(t, s, "ent_fastapi", "FastAPI")

	client := &fakeClient{
		embedding: []float32{1, 0, 0},
		decision:  ai.MergeDecision{Action: "merge", EntityID: "ent_fastapi", Confidence: 0.95},
	}
	r := NewResolver(s, client, testConfig())

	mentions := []Mention{
		{Name: "FastAPI", Type: "technology", Snippet: common.Snippet{Text: "first", Start: 0, End: 5, Confidence: 0.80}},
		{Name: "FastAPI", Type: "technology", Snippet: common.Snippet{Text: "second", Start: 40, End: 46, Confidence: 0.95}},
		{Name: "FastAPI", Type: "technology", Snippet: common.Snippet{Text: "third", Start: 90, End: 95, Confidence: 0.70}},
	}
	batch, err := r.ResolveDocument(context.Background(), "doc_1", mentions)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(batch.Edges) != 1 {
		t.Fatalf("expected one edge, got %d", len(batch.Edges))
	}

	e := batch.Edges[0]
	if e.MentionCount != 3 {
		t.Fatalf("expected 3 mentions, got %d", e.MentionCount)
	}
	if e.Best.Confidence != 0.95 {
		t.Fatalf("best should keep the 0.95 snippet, got %v", e.Best.Confidence)
	}
	if e.Latest.Text != "third" {
		t.Fatalf("latest should follow input order, got %q", e.Latest.Text)
	}
}

func TestAccumulateEdgesBestNeverRegresses(t *testing.T) {
	mentions := []Mention{
		{Snippet: common.Snippet{Confidence: 0.95}},
		{Snippet: common.Snippet{Confidence: 0.80}},
	}
	resolutions := []Resolution{{EntityID: "ent_a"}, {EntityID: "ent_a"}}

	edges := accumulateEdges("doc_1", mentions, resolutions)
	if len(edges) != 1 {
		t.Fatalf("expected one edge, got %d", len(edges))
	}
	if edges[0].Best.Confidence != 0.95 {
		t.Fatalf("best regressed to %v", edges[0].Best.Confidence)
	}
	if edges[0].Latest.Confidence != 0.80 {
		t.Fatalf("latest should track the last mention, got %v", edges[0].Latest.Confidence)
	}
}

func TestParseCandidateLimits(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want map[string]int
	}{
		{"empty", "", map[string]int{}},
		{"single", "person=10", map[string]int{"person": 10}},
		{"multiple", "person=10, Technology=25", map[string]int{"person": 10, "technology": 25}},
		{"malformed entries skipped", "person=x,=5,tech=3", map[string]int{"tech": 3}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := parseCandidateLimits(tc.raw)
			if len(got) != len(tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
			for k, v := range tc.want {
				if got[k] != v {
					t.Fatalf("expected %s=%d, got %d", k, v, got[k])
				}
			}
		})
	}
}

func TestDedupeEntityMergesConfirmedDuplicate(t *testing.T) {
	s := memory.NewGraphMemoryStore()
	seedEntity(t, s, "ent_win", "PostgreSQL")
	seedEntity(t, s, "ent_lose", "Postgres")

	client := &fakeClient{
		embedding: []float32{1, 0, 0},
		decision:  ai.MergeDecision{Action: "merge", EntityID: "ent_win", Confidence: 0.9},
	}
	r := NewResolver(s, client, testConfig())

	winner, err := r.DedupeEntity(context.Background(), "ent_lose")
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if winner != "ent_win" {
		t.Fatalf("expected merge into ent_win, got %q", winner)
	}

	lose, _ := s.GetEntity(context.Background(), "ent_lose")
	if lose.MergedInto != "ent_win" {
		t.Fatalf("loser not redirected: %+v", lose)
	}
	win, _ := s.GetEntity(context.Background(), "ent_win")
	if win.MentionCount != 2 {
		t.Fatalf("mention counts not folded, got %d", win.MentionCount)
	}

	// A merged entity reports its winner without another judge call.
	calls := client.calls.Load()
	again, err := r.DedupeEntity(context.Background(), "ent_lose")
	if err != nil || again != "ent_win" {
		t.Fatalf("re-dedupe: %q, %v", again, err)
	}
	if client.calls.Load() != calls {
		t.Fatal("judge consulted for an already-merged entity")
	}
}

func TestDedupeEntityKeepsLowConfidencePair(t *testing.T) {
	s := memory.NewGraphMemoryStore()
	seedEntity(t, s, "ent_a", "Redis")
	seedEntity(t, s, "ent_b", "Redis Cluster")

	client := &fakeClient{
		embedding: []float32{1, 0, 0},
		decision:  ai.MergeDecision{Action: "merge", EntityID: "ent_b", Confidence: 0.4},
	}
	r := NewResolver(s, client, testConfig())

	winner, err := r.DedupeEntity(context.Background(), "ent_a")
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if winner != "" {
		t.Fatalf("low-confidence judgment must not merge, got %q", winner)
	}
	a, _ := s.GetEntity(context.Background(), "ent_a")
	if a.MergedInto != "" {
		t.Fatalf("entity merged despite low confidence: %+v", a)
	}
}

func TestDedupeEntityWithoutNeighbours(t *testing.T) {
	s := memory.NewGraphMemoryStore()
	seedEntity(t, s, "ent_solo", "RabbitMQ")

	client := &fakeClient{embedding: []float32{1, 0, 0}}
	r := NewResolver(s, client, testConfig())

	winner, err := r.DedupeEntity(context.Background(), "ent_solo")
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	if winner != "" {
		t.Fatalf("expected no merge, got %q", winner)
	}
	if client.calls.Load() != 0 {
		t.Fatal("judge consulted with no candidates")
	}
}
