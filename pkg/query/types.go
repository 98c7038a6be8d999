// Package query answers natural-language queries over the knowledge
// graph. It fans retrievers out concurrently, expands graph context
// through hypothesis rounds, fuses ranked lists with reciprocal rank
// fusion, and renders a deterministic citation-bearing context block.
package query

import (
	"time"

	"github.com/graphfuse/backend/pkg/common"
)

// RetrieverType selects which retrieval signals serve a query.
type RetrieverType string

const (
	RetrieverGraph    RetrieverType = "graph"
	RetrieverChunk    RetrieverType = "chunk-semantic"
	RetrieverSummary  RetrieverType = "summary"
	RetrieverClaim    RetrieverType = "claim"
	RetrieverCombined RetrieverType = "combined"
)

// Input is one query request.
type Input struct {
	QueryText     string        `json:"query_text" validate:"required"`
	DatasetScope  []string      `json:"dataset_scope,omitempty"`
	SessionID     string        `json:"session_id,omitempty"`
	RetrieverType RetrieverType `json:"retriever_type,omitempty"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	MaxRounds     int           `json:"max_rounds,omitempty"`
	Deadline      time.Duration `json:"deadline,omitempty"`
}

// Item is one ranked result from a retriever. The ID is stable across
// retrievers so fusion can union evidence: triplet keys for graph
// results, chunk/claim ids, document ids for summaries.
type Item struct {
	ID          string
	Text        string
	Triplet     *common.Triplet
	DocumentIDs []string
	Confidence  float64
	// SnippetStart is the character offset of the supporting text in
	// its source document, when the item maps to one span.
	SnippetStart int
}

// SkipReason distinguishes why a retriever contributed nothing.
// Timeouts and unavailability are never conflated with empty results.
type SkipReason string

const (
	SkipTimeout     SkipReason = "timeout"
	SkipUnavailable SkipReason = "unavailable"
)

// SkippedRetriever records one excluded retriever in the result stats.
type SkippedRetriever struct {
	Name   string     `json:"name"`
	Reason SkipReason `json:"reason"`
}

// Stats reports how a result was assembled.
type Stats struct {
	RoundsRun         int                `json:"rounds_run"`
	TripletsAdded     int                `json:"triplets_added"`
	RetrieversSkipped []SkippedRetriever `json:"retrievers_skipped"`
	CacheHit          bool               `json:"cache_hit"`
	Partial           bool               `json:"partial"`
}

// Subgraph is the triplet set retrieved for one dataset.
type Subgraph struct {
	Dataset  string           `json:"dataset"`
	Triplets []common.Triplet `json:"triplets"`
}

// CombinedSearchResult is the query output: the formatted context block,
// the raw context texts behind it, the retrieved subgraphs, and a
// machine-readable citation list.
type CombinedSearchResult struct {
	ResultText   string            `json:"result_text"`
	ContextTexts []string          `json:"context_texts"`
	Graphs       []Subgraph        `json:"graphs"`
	Datasets     []string          `json:"datasets"`
	Citations    []common.Citation `json:"citations"`
	Stats        Stats             `json:"stats"`
}
