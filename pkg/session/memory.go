package session

import (
	"context"
	"sync"
	"time"
)

type sessionState struct {
	mu        sync.Mutex
	entries   []Entry
	expiresAt time.Time
}

// MemoryStore is the in-process session cache. Sessions lock
// independently; the outer map lock is held only for lookup.
type MemoryStore struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewMemoryStore creates an empty in-memory session cache.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		cfg:      cfg,
		now:      time.Now,
		sessions: make(map[string]*sessionState),
	}
}

func (s *MemoryStore) state(sessionID string, create bool) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		if !create {
			return nil
		}
		state = &sessionState{}
		s.sessions[sessionID] = state
	}
	return state
}

// Append adds an entry, evicting the oldest beyond the entry bound and
// refreshing the session's TTL.
func (s *MemoryStore) Append(ctx context.Context, sessionID string, entry Entry) error {
	state := s.state(sessionID, true)
	state.mu.Lock()
	defer state.mu.Unlock()

	now := s.now()
	if !state.expiresAt.IsZero() && now.After(state.expiresAt) {
		state.entries = nil
	}
	state.expiresAt = now.Add(s.cfg.TTL)

	state.entries = append(state.entries, entry)
	if s.cfg.MaxEntries > 0 && len(state.entries) > s.cfg.MaxEntries {
		state.entries = state.entries[len(state.entries)-s.cfg.MaxEntries:]
	}
	return nil
}

// Recent returns up to limit entries, newest first. An expired or
// unknown session yields no entries.
func (s *MemoryStore) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	state := s.state(sessionID, false)
	if state == nil {
		return nil, nil
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.expiresAt.IsZero() && s.now().After(state.expiresAt) {
		state.entries = nil
		return nil, nil
	}

	n := len(state.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, state.entries[i])
	}
	return out, nil
}
