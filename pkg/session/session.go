// Package session caches recent query/context/answer triples per
// session, so follow-up queries can bias entity resolution with prior
// context. Consultation is opt-in and additive, never an override of
// the explicit query.
package session

import (
	"context"
	"time"

	"github.com/graphfuse/backend/internal/util"
)

// Entry is one cached exchange.
type Entry struct {
	Question       string    `json:"question"`
	ContextSummary string    `json:"context_summary"`
	Answer         string    `json:"answer"`
	Timestamp      time.Time `json:"timestamp"`
}

// Store is the session cache surface. Append keeps at most the
// configured number of entries per session; Recent returns entries
// newest-first.
type Store interface {
	Append(ctx context.Context, sessionID string, entry Entry) error
	Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error)
}

// Config bounds the cache.
type Config struct {
	MaxEntries int
	TTL        time.Duration
}

// DefaultConfig returns the session cache defaults.
func DefaultConfig() Config {
	return Config{MaxEntries: 20, TTL: 30 * time.Minute}
}

// ConfigFromEnv loads the session cache configuration from the
// environment.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.MaxEntries = util.GetEnvInt("SESSION_MAX_ENTRIES", cfg.MaxEntries)
	cfg.TTL = util.GetEnvDuration("SESSION_TTL", cfg.TTL)
	return cfg
}
