// Package cache implements the two-tier result cache: a small in-process LRU
// tier in front of a shared Redis tier. Reads check the memory tier first and
// promote Redis hits into it; writes go through to both tiers synchronously.
// The Redis tier is optional at runtime: when it is down or absent the cache
// degrades to memory-only operation rather than failing requests.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/omnisource/ingest/internal/source"
	"github.com/omnisource/ingest/pkg/config"
	"github.com/omnisource/ingest/pkg/metrics"
	pkgredis "github.com/omnisource/ingest/pkg/redis"
)

const keyPrefix = "ingest:"

// Entry is one immutable cached result set. Entries are replaced, never
// mutated in place.
type Entry struct {
	Results   []source.Result `json:"results"`
	CreatedAt time.Time       `json:"created_at"`
	TTL       time.Duration   `json:"ttl"`
}

type tierOneEntry struct {
	entry     Entry
	expiresAt time.Time
}

// TieredCache is safe for concurrent use. Per-key operations are
// linearizable per tier; concurrent writers race benignly with last writer
// winning.
type TieredCache struct {
	tierOne    *lru.Cache[string, tierOneEntry]
	tierTwo    *pkgredis.Client // nil when Redis is not configured
	maxT1TTL   time.Duration
	metrics    *metrics.Metrics // optional
	logger     *slog.Logger
	memHits    atomic.Int64
	redisHits  atomic.Int64
	misses     atomic.Int64
	tier2Fails atomic.Int64
	now        func() time.Time
}

// New creates a TieredCache. tierTwo may be nil for memory-only operation
// and m may be nil to disable metrics.
func New(cfg config.CacheConfig, tierTwo *pkgredis.Client, m *metrics.Metrics) (*TieredCache, error) {
	size := cfg.TierOneSize
	if size <= 0 {
		size = 1024
	}
	l, err := lru.New[string, tierOneEntry](size)
	if err != nil {
		return nil, err
	}
	maxT1 := cfg.TierOneMaxTTL
	if maxT1 <= 0 {
		maxT1 = time.Minute
	}
	return &TieredCache{
		tierOne:  l,
		tierTwo:  tierTwo,
		maxT1TTL: maxT1,
		metrics:  m,
		logger:   slog.Default().With("component", "tiered-cache"),
		now:      time.Now,
	}, nil
}

// Get returns the entry for key if present in either tier. A Redis hit is
// promoted into the memory tier with a TTL capped by the entry's remaining
// Redis lifetime, so tier one stays a strict subset view of tier two.
func (c *TieredCache) Get(ctx context.Context, key string) (*Entry, bool) {
	if t1, ok := c.tierOne.Get(key); ok {
		if c.now().Before(t1.expiresAt) {
			c.memHits.Add(1)
			c.countHit("memory")
			return &t1.entry, true
		}
		c.tierOne.Remove(key)
	}

	if c.tierTwo == nil {
		c.miss()
		return nil, false
	}

	data, err := c.tierTwo.Get(ctx, keyPrefix+key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.tier2Fails.Add(1)
			c.logger.Warn("cache tier-2 get failed, continuing without it", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.miss()
		return nil, false
	}

	c.promote(ctx, key, entry)
	c.redisHits.Add(1)
	c.countHit("redis")
	return &entry, true
}

// Set writes the entry to both tiers. Tier-2 unavailability is a soft
// failure: it is logged and counted but never surfaced to the caller.
func (c *TieredCache) Set(ctx context.Context, key string, results []source.Result, ttl time.Duration) {
	entry := Entry{
		Results:   results,
		CreatedAt: c.now().UTC(),
		TTL:       ttl,
	}

	c.tierOne.Add(key, tierOneEntry{
		entry:     entry,
		expiresAt: c.now().Add(c.capTTL(ttl)),
	})

	if c.tierTwo == nil {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.tierTwo.Set(ctx, keyPrefix+key, data, ttl); err != nil {
		c.tier2Fails.Add(1)
		c.logger.Warn("cache tier-2 set failed, entry kept in tier 1 only", "key", key, "error", err)
	}
}

// Invalidate removes one key from both tiers.
func (c *TieredCache) Invalidate(ctx context.Context, key string) {
	c.tierOne.Remove(key)
	if c.tierTwo == nil {
		return
	}
	if err := c.tierTwo.Del(ctx, keyPrefix+key); err != nil {
		c.tier2Fails.Add(1)
		c.logger.Warn("cache tier-2 delete failed", "key", key, "error", err)
	}
}

// InvalidateAll purges the memory tier and deletes every pipeline key from
// Redis, returning the number of Redis keys removed.
func (c *TieredCache) InvalidateAll(ctx context.Context) (int64, error) {
	c.tierOne.Purge()
	if c.tierTwo == nil {
		return 0, nil
	}
	deleted, err := c.tierTwo.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return deleted, err
	}
	c.logger.Info("cache invalidated", "redis_keys_deleted", deleted)
	return deleted, nil
}

// Stats returns hit/miss counters: memory-tier hits, Redis-tier hits, total
// misses, and soft tier-2 failures.
func (c *TieredCache) Stats() (memHits, redisHits, misses, tier2Failures int64) {
	return c.memHits.Load(), c.redisHits.Load(), c.misses.Load(), c.tier2Fails.Load()
}

// promote copies a tier-2 hit into tier 1, capping the tier-1 TTL at the
// entry's remaining tier-2 lifetime so tier 1 never outlives tier 2.
func (c *TieredCache) promote(ctx context.Context, key string, entry Entry) {
	ttl := c.capTTL(entry.TTL)
	if remaining, err := c.tierTwo.TTL(ctx, keyPrefix+key); err == nil && remaining > 0 && remaining < ttl {
		ttl = remaining
	}
	c.tierOne.Add(key, tierOneEntry{
		entry:     entry,
		expiresAt: c.now().Add(ttl),
	})
}

func (c *TieredCache) countHit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (c *TieredCache) miss() {
	c.misses.Add(1)
	if c.metrics != nil {
		c.metrics.CacheMissesTotal.Inc()
	}
}

func (c *TieredCache) capTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > c.maxT1TTL {
		return c.maxT1TTL
	}
	return ttl
}
