package query

import (
	"time"

	"github.com/graphfuse/backend/internal/util"
)

// Config is the recognized query configuration surface.
type Config struct {
	DefaultQueryType    RetrieverType
	MaxTokensPerContext int
	MaxRounds           int
	MarginalGainRatio   float64
	RRFK                int

	RetrieverTimeout  time.Duration
	MinChunkResults   int
	ChunkLimit        int
	SummaryLimit      int
	ClaimLimit        int
	TraversalDepth    int
	TraversalMaxEdges int

	// ConfidenceWeight blends claim confidence against embedding
	// similarity in the claim retriever.
	ConfidenceWeight float64

	JudgeRetries int
}

// DefaultConfig returns the query defaults.
func DefaultConfig() Config {
	return Config{
		DefaultQueryType:    RetrieverCombined,
		MaxTokensPerContext: 4000,
		MaxRounds:           3,
		MarginalGainRatio:   0.1,
		RRFK:                60,
		RetrieverTimeout:    15 * time.Second,
		MinChunkResults:     3,
		ChunkLimit:          20,
		SummaryLimit:        10,
		ClaimLimit:          20,
		TraversalDepth:      2,
		TraversalMaxEdges:   200,
		ConfidenceWeight:    0.4,
		JudgeRetries:        3,
	}
}

// ConfigFromEnv loads the query configuration from the environment,
// falling back to defaults for unset keys.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.DefaultQueryType = RetrieverType(util.GetEnvString("DEFAULT_QUERY_TYPE", string(cfg.DefaultQueryType)))
	cfg.MaxTokensPerContext = util.GetEnvInt("MAX_TOKENS_PER_CONTEXT", cfg.MaxTokensPerContext)
	cfg.MaxRounds = util.GetEnvInt("MAX_ROUNDS", cfg.MaxRounds)
	cfg.MarginalGainRatio = util.GetEnvNumeric("MARGINAL_GAIN_RATIO", cfg.MarginalGainRatio)
	cfg.RRFK = util.GetEnvInt("RRF_K", cfg.RRFK)
	cfg.RetrieverTimeout = util.GetEnvDuration("RETRIEVER_TIMEOUT", cfg.RetrieverTimeout)
	cfg.MinChunkResults = util.GetEnvInt("MIN_CHUNK_RESULTS", cfg.MinChunkResults)
	cfg.ChunkLimit = util.GetEnvInt("CHUNK_LIMIT", cfg.ChunkLimit)
	cfg.SummaryLimit = util.GetEnvInt("SUMMARY_LIMIT", cfg.SummaryLimit)
	cfg.ClaimLimit = util.GetEnvInt("CLAIM_LIMIT", cfg.ClaimLimit)
	cfg.TraversalDepth = util.GetEnvInt("TRAVERSAL_DEPTH", cfg.TraversalDepth)
	cfg.TraversalMaxEdges = util.GetEnvInt("TRAVERSAL_MAX_EDGES", cfg.TraversalMaxEdges)
	cfg.ConfidenceWeight = util.GetEnvNumeric("CLAIM_CONFIDENCE_WEIGHT", cfg.ConfidenceWeight)
	cfg.JudgeRetries = util.GetEnvInt("QUERY_JUDGE_RETRIES", cfg.JudgeRetries)
	return cfg
}
