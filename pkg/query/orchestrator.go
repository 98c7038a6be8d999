package query

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator"

	"github.com/graphfuse/backend/pkg/ai"
	"github.com/graphfuse/backend/pkg/common"
	"github.com/graphfuse/backend/pkg/logger"
	"github.com/graphfuse/backend/pkg/session"
	"github.com/graphfuse/backend/pkg/store"
)

var validate = validator.New()

// Orchestrator answers queries: it matches entities, fans retrievers
// out per dataset, expands the graph through hypothesis rounds, fuses
// the ranked lists and renders the context block.
type Orchestrator struct {
	store    store.GraphStore
	client   ai.Client
	sessions session.Store
	lexical  LexicalSearcher
	cfg      Config
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSessionStore wires a session cache; queries carrying a session id
// consult it for entity hints and record their outcome into it.
func WithSessionStore(s session.Store) Option {
	return func(o *Orchestrator) { o.sessions = s }
}

// WithLexicalSearcher wires the chunk retriever's keyword fallback.
func WithLexicalSearcher(s LexicalSearcher) Option {
	return func(o *Orchestrator) { o.lexical = s }
}

// WithConfig overrides the default configuration.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

func NewOrchestrator(graphStore store.GraphStore, client ai.Client, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  graphStore,
		client: client,
		cfg:    DefaultConfig(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// retrieverRun is one retriever's outcome for one dataset.
type retrieverRun struct {
	name  string
	items []Item
	skip  *SkippedRetriever
}

// Query answers one request. Every retriever failure is recorded in the
// stats rather than failing the query; only zero successes across all
// retrievers and datasets is an error.
func (o *Orchestrator) Query(ctx context.Context, req Input) (*CombinedSearchResult, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("invalid query input: %w", err)
	}
	if req.RetrieverType == "" {
		req.RetrieverType = o.cfg.DefaultQueryType
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = o.cfg.MaxTokensPerContext
	}
	if req.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Deadline)
		defer cancel()
	}

	hints, cached, err := o.consultSession(ctx, req)
	if err != nil {
		logger.Warn("session consult failed, continuing without hints", "error", err)
	}
	if cached != nil {
		return cached, nil
	}

	embedding, err := o.client.GenerateEmbedding(ctx, []byte(req.QueryText))
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	datasets, err := o.resolveDatasets(ctx, req)
	if err != nil {
		return nil, err
	}

	result := &CombinedSearchResult{Datasets: datasets}
	perDataset := make([][]Item, 0, len(datasets))
	succeeded := 0

	for _, dataset := range datasets {
		entities, err := matchEntities(ctx, o.store, dataset, req.QueryText, hints)
		if err != nil {
			return nil, fmt.Errorf("matching entities in %q: %w", dataset, err)
		}
		dreq := Request{Text: req.QueryText, Dataset: dataset, Embedding: embedding, Entities: entities}

		runs := o.runRetrievers(ctx, dreq, req.RetrieverType)

		lists := make([][]Item, 0, len(runs))
		var seed []common.Triplet
		for _, run := range runs {
			if run.skip != nil {
				result.Stats.RetrieversSkipped = append(result.Stats.RetrieversSkipped, *run.skip)
				continue
			}
			succeeded++
			if run.name == string(RetrieverGraph) {
				// Triplets re-enter fusion after expansion; only the
				// reachable claims rank from the raw graph pass.
				seed = tripletsOf(run.items)
				run.items = nonTripletItems(run.items)
			}
			lists = append(lists, run.items)
		}

		if len(seed) > 0 || (expandsGraph(req.RetrieverType) && len(entities) > 0) {
			expanded, err := o.expandDataset(ctx, dreq, seed, req.MaxRounds)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, common.ErrBudgetExceeded) {
					result.Stats.Partial = true
				} else {
					logger.Warn("graph expansion failed", "dataset", dataset, "error", err)
				}
			} else {
				if expanded.RoundsRun > result.Stats.RoundsRun {
					result.Stats.RoundsRun = expanded.RoundsRun
				}
				result.Stats.TripletsAdded += expanded.TripletsAdded
				seed = expanded.Triplets
			}
		}

		if len(seed) > 0 {
			result.Graphs = append(result.Graphs, Subgraph{Dataset: dataset, Triplets: seed})
			lists = append(lists, tripletItems(seed))
		}
		if len(lists) > 0 {
			perDataset = append(perDataset, fuseRRF(lists, o.cfg.RRFK))
		}
	}

	if succeeded == 0 {
		return nil, fmt.Errorf("%w: %d retrievers skipped", common.ErrNoRetrieverSucceeded, len(result.Stats.RetrieversSkipped))
	}

	fused := fuseRRF(perDataset, o.cfg.RRFK)
	for _, item := range fused {
		result.ContextTexts = append(result.ContextTexts, item.Text)
	}

	citations, err := o.buildCitations(ctx, fused)
	if err != nil {
		logger.Warn("citation lookup failed", "error", err)
	}
	result.Citations = citations

	retrieverNames := retrieverNamesFor(req.RetrieverType)
	text, err := formatContext(ctx, o.client, req, result.Graphs, fused, citations, retrieverNames, req.MaxTokens)
	if err != nil {
		return nil, err
	}
	result.ResultText = text

	o.recordSession(ctx, req, result)
	logger.Info("query answered",
		"datasets", len(datasets),
		"rounds", result.Stats.RoundsRun,
		"skipped", len(result.Stats.RetrieversSkipped),
		"partial", result.Stats.Partial)
	return result, nil
}

// runRetrievers fans the selected retrievers out concurrently, each
// under its own timeout. A retriever that times out or errors becomes a
// skip record; its failure never cancels the others.
func (o *Orchestrator) runRetrievers(ctx context.Context, req Request, kind RetrieverType) []retrieverRun {
	retrievers := o.retrieversFor(kind)
	runs := make([]retrieverRun, len(retrievers))

	var wg sync.WaitGroup
	for i, r := range retrievers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rctx, cancel := context.WithTimeout(ctx, o.cfg.RetrieverTimeout)
			defer cancel()

			items, err := r.Retrieve(rctx, req)
			run := retrieverRun{name: r.Name()}
			switch {
			case err == nil:
				run.items = items
			case errors.Is(err, context.DeadlineExceeded):
				run.skip = &SkippedRetriever{Name: r.Name(), Reason: SkipTimeout}
				logger.Warn("retriever timed out", "retriever", r.Name())
			default:
				run.skip = &SkippedRetriever{Name: r.Name(), Reason: SkipUnavailable}
				logger.Warn("retriever unavailable", "retriever", r.Name(), "error", err)
			}
			runs[i] = run
		}()
	}
	wg.Wait()
	return runs
}

func (o *Orchestrator) retrieversFor(kind RetrieverType) []Retriever {
	graph := &graphRetriever{store: o.store, cfg: o.cfg}
	chunk := &chunkRetriever{store: o.store, lexical: o.lexical, cfg: o.cfg}
	summary := &summaryRetriever{store: o.store, cfg: o.cfg}
	claim := &claimRetriever{store: o.store, cfg: o.cfg}

	switch kind {
	case RetrieverGraph:
		return []Retriever{graph}
	case RetrieverChunk:
		return []Retriever{chunk}
	case RetrieverSummary:
		return []Retriever{summary}
	case RetrieverClaim:
		return []Retriever{claim}
	default:
		return []Retriever{graph, chunk, summary, claim}
	}
}

func retrieverNamesFor(kind RetrieverType) []string {
	switch kind {
	case RetrieverGraph, RetrieverChunk, RetrieverSummary, RetrieverClaim:
		return []string{string(kind)}
	default:
		return []string{
			string(RetrieverGraph),
			string(RetrieverChunk),
			string(RetrieverSummary),
			string(RetrieverClaim),
		}
	}
}

func expandsGraph(kind RetrieverType) bool {
	return kind == RetrieverGraph || kind == RetrieverCombined || kind == ""
}

func (o *Orchestrator) expandDataset(ctx context.Context, req Request, seed []common.Triplet, maxRounds int) (expansionResult, error) {
	e := &expander{store: o.store, client: o.client, cfg: o.cfg}
	return e.expand(ctx, req, seed, maxRounds)
}

// resolveDatasets returns the query's dataset scope, defaulting to
// every known dataset when the request names none.
func (o *Orchestrator) resolveDatasets(ctx context.Context, req Input) ([]string, error) {
	if len(req.DatasetScope) > 0 {
		scoped := make([]string, len(req.DatasetScope))
		copy(scoped, req.DatasetScope)
		sort.Strings(scoped)
		return scoped, nil
	}
	datasets, err := o.store.ListDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	if len(datasets) == 0 {
		datasets = []string{""}
	}
	return datasets, nil
}

// consultSession returns prior questions as additive entity hints, or a
// full cached result when the exact question was asked before.
func (o *Orchestrator) consultSession(ctx context.Context, req Input) ([]string, *CombinedSearchResult, error) {
	if o.sessions == nil || req.SessionID == "" {
		return nil, nil, nil
	}
	entries, err := o.sessions.Recent(ctx, req.SessionID, 0)
	if err != nil {
		return nil, nil, err
	}
	hints := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.EqualFold(strings.TrimSpace(entry.Question), strings.TrimSpace(req.QueryText)) {
			logger.Debug("session cache hit", "session", req.SessionID)
			return nil, &CombinedSearchResult{
				ResultText: entry.ContextSummary,
				Stats:      Stats{CacheHit: true},
			}, nil
		}
		hints = append(hints, candidateNames(entry.Question, nil)...)
	}
	return hints, nil, nil
}

func (o *Orchestrator) recordSession(ctx context.Context, req Input, result *CombinedSearchResult) {
	if o.sessions == nil || req.SessionID == "" {
		return
	}
	entry := session.Entry{
		Question:       req.QueryText,
		ContextSummary: result.ResultText,
		Timestamp:      time.Now().UTC(),
	}
	if err := o.sessions.Append(ctx, req.SessionID, entry); err != nil {
		logger.Warn("session append failed", "session", req.SessionID, "error", err)
	}
}

func (o *Orchestrator) buildCitations(ctx context.Context, items []Item) ([]common.Citation, error) {
	// The snippet offset of a citation comes from the best-ranked item
	// that cites the document with a concrete span.
	starts := make(map[string]int)
	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, item := range items {
		for _, doc := range item.DocumentIDs {
			if _, dup := seen[doc]; !dup {
				seen[doc] = struct{}{}
				ids = append(ids, doc)
			}
			if _, ok := starts[doc]; !ok && item.Triplet == nil {
				starts[doc] = item.SnippetStart
			}
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	sort.Strings(ids)

	docs, err := o.store.GetDocuments(ctx, ids)
	if err != nil {
		return nil, err
	}
	citations := make([]common.Citation, 0, len(docs))
	for _, doc := range docs {
		citations = append(citations, common.Citation{
			DocumentID:   doc.ID,
			Title:        doc.Title,
			ContentPath:  doc.ContentPath,
			SnippetStart: starts[doc.ID],
		})
	}
	return citations, nil
}

func tripletsOf(items []Item) []common.Triplet {
	triplets := make([]common.Triplet, 0, len(items))
	for _, item := range items {
		if item.Triplet != nil {
			triplets = append(triplets, *item.Triplet)
		}
	}
	return triplets
}

func nonTripletItems(items []Item) []Item {
	kept := make([]Item, 0, len(items))
	for _, item := range items {
		if item.Triplet == nil {
			kept = append(kept, item)
		}
	}
	return kept
}

func tripletItems(triplets []common.Triplet) []Item {
	items := make([]Item, 0, len(triplets))
	for i := range triplets {
		t := triplets[i]
		items = append(items, Item{
			ID:          t.Key(),
			Text:        tripletLine(t),
			Triplet:     &triplets[i],
			DocumentIDs: t.DocumentIDs,
		})
	}
	return items
}
