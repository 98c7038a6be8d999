package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the shared session cache for multi-instance
// deployments. Entries live in a per-session list; LTRIM bounds the
// list and EXPIRE handles the TTL, so no per-session lock is needed on
// this side.
type RedisStore struct {
	rdb *redis.Client
	cfg Config
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(addr string, cfg Config) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisStore{rdb: rdb, cfg: cfg}, nil
}

func sessionKey(sessionID string) string {
	return "session:" + sessionID
}

// Append pushes the entry, trims the list to the entry bound and
// refreshes the TTL, in one pipeline.
func (s *RedisStore) Append(ctx context.Context, sessionID string, entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	key := sessionKey(sessionID)
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, raw)
	if s.cfg.MaxEntries > 0 {
		pipe.LTrim(ctx, key, 0, int64(s.cfg.MaxEntries-1))
	}
	pipe.Expire(ctx, key, s.cfg.TTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Recent returns up to limit entries, newest first.
func (s *RedisStore) Recent(ctx context.Context, sessionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = s.cfg.MaxEntries
	}

	raws, err := s.rdb.LRange(ctx, sessionKey(sessionID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(raws))
	for _, raw := range raws {
		var entry Entry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Close releases the redis connection.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
