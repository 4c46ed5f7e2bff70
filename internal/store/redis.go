package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/grantscope/grantscope/internal/fault"
)

// RedisResultCache is an optional hot layer for the tool-result cache,
// shared across processes. It implements ResultCache only; filings,
// triage, and checkpoints stay in Postgres or memory.
type RedisResultCache struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedisResultCache wraps an existing Redis client.
func NewRedisResultCache(rdb redis.UniversalClient, prefix string) *RedisResultCache {
	if prefix == "" {
		prefix = "grantscope:result:"
	}
	return &RedisResultCache{rdb: rdb, prefix: prefix}
}

func (c *RedisResultCache) Get(ctx context.Context, fingerprint string) (ToolResult, bool, error) {
	data, err := c.rdb.Get(ctx, c.prefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return ToolResult{}, false, nil
	}
	if err != nil {
		return ToolResult{}, false, fault.Wrap(fault.KindTransient, err, "redis get")
	}
	var res ToolResult
	if err := json.Unmarshal(data, &res); err != nil {
		// Treat a corrupt entry as a miss; it will be overwritten.
		return ToolResult{}, false, nil
	}
	return res, true, nil
}

func (c *RedisResultCache) Put(ctx context.Context, res ToolResult, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fault.Wrap(fault.KindInvalidArguments, err, "marshal result")
	}
	if err := c.rdb.Set(ctx, c.prefix+res.Fingerprint, data, ttl).Err(); err != nil {
		return fault.Wrap(fault.KindTransient, err, "redis set")
	}
	return nil
}

var _ ResultCache = (*RedisResultCache)(nil)

// Tiered chains a hot cache in front of a durable one. Reads fall
// through and backfill; writes go to both.
type Tiered struct {
	Hot  ResultCache
	Cold ResultCache
}

func (t *Tiered) Get(ctx context.Context, fingerprint string) (ToolResult, bool, error) {
	if res, ok, err := t.Hot.Get(ctx, fingerprint); err == nil && ok {
		return res, true, nil
	}
	res, ok, err := t.Cold.Get(ctx, fingerprint)
	if err != nil || !ok {
		return ToolResult{}, false, err
	}
	_ = t.Hot.Put(ctx, res, time.Hour)
	return res, true, nil
}

func (t *Tiered) Put(ctx context.Context, res ToolResult, ttl time.Duration) error {
	if err := t.Cold.Put(ctx, res, ttl); err != nil {
		return err
	}
	return t.Hot.Put(ctx, res, ttl)
}

var _ ResultCache = (*Tiered)(nil)
