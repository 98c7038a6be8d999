package resolve

import (
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/graphfuse/backend/internal/util"
)

// Config tunes the resolver. The auto-resolve threshold decides when a
// merge judgment is confident enough to apply without review; it is
// deliberately a parameter, not a constant.
type Config struct {
	// CandidateLimits bounds similarity-search candidates per entity
	// type. Types without an entry use DefaultCandidateLimit.
	CandidateLimits       map[string]int
	DefaultCandidateLimit int

	AutoResolveThreshold float64
	MaxVersionRetries    int
	JudgeRetries         int

	// Concurrency bounds batch resolution; EmbeddingRate bounds
	// embedding calls per second across the whole batch.
	Concurrency    int
	EmbeddingRate  rate.Limit
	EmbeddingBurst int
}

// DefaultConfig returns the resolver defaults used when no environment
// overrides are present.
func DefaultConfig() Config {
	return Config{
		CandidateLimits:       map[string]int{},
		DefaultCandidateLimit: 10,
		AutoResolveThreshold:  0.75,
		MaxVersionRetries:     3,
		JudgeRetries:          3,
		Concurrency:           4,
		EmbeddingRate:         rate.Limit(10),
		EmbeddingBurst:        10,
	}
}

// ConfigFromEnv loads the resolver configuration from the environment,
// falling back to defaults for unset keys.
//
// RESOLVER_CANDIDATE_LIMITS is a comma-separated list of type=limit
// pairs, e.g. "person=10,technology=25".
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.DefaultCandidateLimit = util.GetEnvInt("RESOLVER_CANDIDATE_LIMIT", cfg.DefaultCandidateLimit)
	cfg.AutoResolveThreshold = util.GetEnvNumeric("RESOLVER_AUTO_RESOLVE_THRESHOLD", cfg.AutoResolveThreshold)
	cfg.MaxVersionRetries = util.GetEnvInt("RESOLVER_VERSION_RETRIES", cfg.MaxVersionRetries)
	cfg.JudgeRetries = util.GetEnvInt("RESOLVER_JUDGE_RETRIES", cfg.JudgeRetries)
	cfg.Concurrency = util.GetEnvInt("RESOLVER_CONCURRENCY", cfg.Concurrency)
	cfg.EmbeddingRate = rate.Limit(util.GetEnvNumeric("EMBEDDING_RATE_LIMIT", float64(cfg.EmbeddingRate)))
	cfg.EmbeddingBurst = util.GetEnvInt("EMBEDDING_RATE_BURST", cfg.EmbeddingBurst)
	cfg.CandidateLimits = parseCandidateLimits(util.GetEnvString("RESOLVER_CANDIDATE_LIMITS", ""))
	return cfg
}

func parseCandidateLimits(raw string) map[string]int {
	limits := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(pair), "=")
		if !found {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n <= 0 {
			continue
		}
		limits[strings.ToLower(strings.TrimSpace(key))] = n
	}
	return limits
}

func (c Config) limitFor(entityType string) int {
	if n, ok := c.CandidateLimits[strings.ToLower(entityType)]; ok {
		return n
	}
	return c.DefaultCandidateLimit
}
