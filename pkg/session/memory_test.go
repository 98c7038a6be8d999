package session

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryStoreBoundsEntries(t *testing.T) {
	cfg := Config{MaxEntries: 3, TTL: time.Hour}
	s := NewMemoryStore(cfg)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := s.Append(ctx, "sess_1", Entry{Question: fmt.Sprintf("q%d", i)})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	entries, err := s.Recent(ctx, "sess_1", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected bound of 3 entries, got %d", len(entries))
	}
	// Newest first, oldest evicted.
	if entries[0].Question != "q4" || entries[2].Question != "q2" {
		t.Fatalf("unexpected order: %+v", entries)
	}
}

func TestMemoryStoreTTLEviction(t *testing.T) {
	cfg := Config{MaxEntries: 10, TTL: time.Minute}
	s := NewMemoryStore(cfg)
	ctx := context.Background()

	now := time.Unix(1000, 0)
	s.now = func() time.Time { return now }

	if err := s.Append(ctx, "sess_1", Entry{Question: "q1"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	now = now.Add(30 * time.Second)
	entries, _ := s.Recent(ctx, "sess_1", 0)
	if len(entries) != 1 {
		t.Fatalf("entry evicted before ttl: %d", len(entries))
	}

	now = now.Add(2 * time.Minute)
	entries, _ = s.Recent(ctx, "sess_1", 0)
	if len(entries) != 0 {
		t.Fatalf("entry survived ttl: %d", len(entries))
	}

	// Appending after expiry starts a fresh session.
	if err := s.Append(ctx, "sess_1", Entry{Question: "q2"}); err != nil {
		t.Fatalf("append after expiry: %v", err)
	}
	entries, _ = s.Recent(ctx, "sess_1", 0)
	if len(entries) != 1 || entries[0].Question != "q2" {
		t.Fatalf("stale entries leaked past expiry: %+v", entries)
	}
}

func TestMemoryStoreSessionsAreIndependent(t *testing.T) {
	s := NewMemoryStore(DefaultConfig())
	ctx := context.Background()

	if err := s.Append(ctx, "sess_a", Entry{Question: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, _ := s.Recent(ctx, "sess_b", 0)
	if len(entries) != 0 {
		t.Fatalf("session leak: %+v", entries)
	}
}

func TestMemoryStoreRecentLimit(t *testing.T) {
	s := NewMemoryStore(DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = s.Append(ctx, "sess_1", Entry{Question: fmt.Sprintf("q%d", i)})
	}
	entries, _ := s.Recent(ctx, "sess_1", 2)
	if len(entries) != 2 || entries[0].Question != "q4" || entries[1].Question != "q3" {
		t.Fatalf("limit not honored newest-first: %+v", entries)
	}
}
