// internal/cache/cache.go

// Package cache is a best-effort, short-TTL response cache for hot read
// paths (leaderboard pages, invite summaries). Every method degrades to a
// miss on error; correctness never depends on it.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// ResponseCache wraps a redis client. A nil *ResponseCache is valid and
// behaves as an always-miss cache, so callers need no nil checks.
type ResponseCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// Connect dials redis and verifies the connection.
func Connect(addr string, db int, ttl time.Duration) (*ResponseCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &ResponseCache{rdb: rdb, ttl: ttl}, nil
}

// NewWithClient wraps an existing client. Used by tests.
func NewWithClient(rdb *redis.Client, ttl time.Duration) *ResponseCache {
	return &ResponseCache{rdb: rdb, ttl: ttl}
}

// GetJSON loads key into v and reports a hit.
func (c *ResponseCache) GetJSON(ctx context.Context, key string, v any) bool {
	if c == nil {
		return false
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.WithError(err).WithField("key", key).Debug("cache: discarding undecodable entry")
		return false
	}
	return true
}

// SetJSON stores v under key for the cache's TTL. Failures are logged and
// ignored.
func (c *ResponseCache) SetJSON(ctx context.Context, key string, v any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.WithError(err).WithField("key", key).Debug("cache: set failed")
	}
}

// Invalidate drops keys. Failures are ignored.
func (c *ResponseCache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		log.WithError(err).Debug("cache: invalidate failed")
	}
}

// InvalidatePrefix drops every key under prefix, e.g. all leaderboard pages
// regardless of their limit. SCAN-based, so it never blocks a shared redis;
// failures are ignored.
func (c *ResponseCache) InvalidatePrefix(ctx context.Context, prefix string) {
	if c == nil || prefix == "" {
		return
	}
	iter := c.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.rdb.Del(ctx, iter.Val()).Err(); err != nil {
			log.WithError(err).WithField("key", iter.Val()).Debug("cache: invalidate failed")
		}
	}
	if err := iter.Err(); err != nil {
		log.WithError(err).WithField("prefix", prefix).Debug("cache: scan failed")
	}
}
