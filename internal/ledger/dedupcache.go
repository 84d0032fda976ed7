// Copyright 2025 James Ross
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupCache answers the single question the driver needs for
// --resume/--force decisions: has this (adapter, doc_id) already
// reached Completed? It is always additive — the ledger file is the
// only source of truth; a cache miss or a cache unavailable simply
// means the driver falls back to the ledger's own in-memory index.
type DedupCache interface {
	MarkCompleted(ctx context.Context, adapter, docID string) error
	IsCompleted(ctx context.Context, adapter, docID string) (bool, error)
}

// MemoryDedupCache is the default backend: an in-process map rebuilt
// from the ledger's own replay at startup. No external service
// required for the common single-process case.
type MemoryDedupCache struct {
	mu        sync.RWMutex
	completed map[string]bool
}

// NewMemoryDedupCache constructs an empty cache; Ledger.New populates it
// from replayed entries.
func NewMemoryDedupCache() *MemoryDedupCache {
	return &MemoryDedupCache{completed: make(map[string]bool)}
}

func (c *MemoryDedupCache) MarkCompleted(_ context.Context, adapter, docID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed[key(docID, adapter)] = true
	return nil
}

func (c *MemoryDedupCache) IsCompleted(_ context.Context, adapter, docID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completed[key(docID, adapter)], nil
}

// RedisDedupCache is an optional backend for operators running more
// than one ingestion process against a shared dataset, so --resume
// filtering is consistent across processes without requiring a shared
// filesystem for the ledger file itself. It is never the system of
// record: a Redis outage degrades --resume to "re-check everything",
// not data loss, since the ledger file underneath is untouched.
type RedisDedupCache struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisDedupCache constructs a cache backed by addr. ttl of zero
// means entries never expire.
func NewRedisDedupCache(addr string, ttl time.Duration) *RedisDedupCache {
	return &RedisDedupCache{
		rdb:    redis.NewClient(&redis.Options{Addr: addr}),
		prefix: "ingestcore:dedup:",
		ttl:    ttl,
	}
}

func (c *RedisDedupCache) redisKey(adapter, docID string) string {
	return c.prefix + adapter + ":" + docID
}

func (c *RedisDedupCache) MarkCompleted(ctx context.Context, adapter, docID string) error {
	return c.rdb.Set(ctx, c.redisKey(adapter, docID), "1", c.ttl).Err()
}

func (c *RedisDedupCache) IsCompleted(ctx context.Context, adapter, docID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, c.redisKey(adapter, docID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the underlying Redis connection pool.
func (c *RedisDedupCache) Close() error { return c.rdb.Close() }
