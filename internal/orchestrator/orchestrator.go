// Package orchestrator coordinates one ingestion request end to end: cache
// lookup, concurrent fan-out to the selected source adapters through their
// circuit breakers, merge, deduplication, ranking, and cache write-through.
// All state here is request-scoped; cross-request state lives in the cache
// and the breakers.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/omnisource/ingest/internal/cache"
	"github.com/omnisource/ingest/internal/dedup"
	"github.com/omnisource/ingest/internal/source"
	"github.com/omnisource/ingest/pkg/config"
	pkgerrors "github.com/omnisource/ingest/pkg/errors"
	"github.com/omnisource/ingest/pkg/logger"
	"github.com/omnisource/ingest/pkg/metrics"
	"github.com/omnisource/ingest/pkg/resilience"
	"github.com/omnisource/ingest/pkg/tracing"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/sync/singleflight"
)

const minAdapterBudget = 50 * time.Millisecond

// Orchestrator is the top-level ingestion coordinator. It owns no
// per-request mutable state and is safe for concurrent use.
type Orchestrator struct {
	registry *source.Registry
	cache    *cache.TieredCache
	dedup    *dedup.Engine
	cfg      config.IngestConfig
	cacheCfg config.CacheConfig
	metrics  *metrics.Metrics // optional
	pool     *ants.Pool
	group    singleflight.Group
	logger   *slog.Logger
}

// New creates an Orchestrator backed by a fixed-size worker pool for adapter
// fan-out. m may be nil to disable metrics.
func New(
	registry *source.Registry,
	tiered *cache.TieredCache,
	engine *dedup.Engine,
	cfg config.IngestConfig,
	cacheCfg config.CacheConfig,
	m *metrics.Metrics,
) (*Orchestrator, error) {
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 16
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, fmt.Errorf("creating fan-out pool: %w", err)
	}
	return &Orchestrator{
		registry: registry,
		cache:    tiered,
		dedup:    engine,
		cfg:      cfg,
		cacheCfg: cacheCfg,
		metrics:  m,
		pool:     pool,
		logger:   slog.Default().With("component", "orchestrator"),
	}, nil
}

// Close releases the fan-out worker pool.
func (o *Orchestrator) Close() {
	o.pool.Release()
}

// Ingest executes one request: cache hit short-circuits, otherwise the
// selected adapters are invoked concurrently and the merged, deduplicated,
// ranked result set is written through the cache. Per-adapter failures are
// recorded in metadata and never fail the request; only an empty available
// source set does.
func (o *Orchestrator) Ingest(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	o.applyDefaults(&req)

	ctx, cancel := context.WithTimeout(ctx, req.Deadline)
	defer cancel()
	log := logger.FromContext(ctx)

	key := req.CacheKey()
	if entry, ok := o.cache.Get(ctx, key); ok {
		elapsed := time.Since(start)
		o.observe("hit", "hit", elapsed, len(entry.Results))
		log.Debug("cache hit", "query", req.Query, "key", key)
		return &Response{
			Results: entry.Results,
			Metadata: Metadata{
				CacheHit: true,
				TotalMs:  elapsed.Milliseconds(),
			},
		}, nil
	}

	selected, err := o.registry.Resolve(req.Sources)
	if err != nil {
		o.countOutcome("error")
		return nil, err
	}
	available := make([]*source.Entry, 0, len(selected))
	for _, e := range selected {
		if e.Breaker == nil || e.Breaker.Available() {
			available = append(available, e)
		}
	}
	if len(available) == 0 {
		o.countOutcome("error")
		return nil, fmt.Errorf("%w: all %d requested sources have open breakers",
			pkgerrors.ErrNoAvailableSources, len(selected))
	}

	// Concurrent identical cold keys collapse into one fan-out per process.
	// Distinct processes may still duplicate the work; that is bounded and
	// cheaper than a distributed lock.
	v, err, _ := o.group.Do(key, func() (any, error) {
		return o.fanOut(ctx, req, available, key)
	})
	if err != nil {
		o.countOutcome("error")
		return nil, err
	}

	resp := *(v.(*Response))
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()

	outcome := "miss"
	if resp.Metadata.DeadlineTruncated {
		outcome = "partial"
	}
	o.observe(outcome, "miss", time.Since(start), len(resp.Results))
	return &resp, nil
}

type fetchOutcome struct {
	idx     int
	meta    SourceMetadata
	results []source.Result
}

// fanOut runs the selected adapters concurrently and assembles the response.
// The fan-in barrier waits for all adapters or the request deadline,
// whichever comes first; results arriving after the deadline are discarded.
func (o *Orchestrator) fanOut(ctx context.Context, req Request, entries []*source.Entry, key string) (*Response, error) {
	ctx, trace := tracing.StartFanOut(ctx, logger.RequestID(ctx), req.Query)

	budget := resilience.SubBudget(ctx, o.cfg.SafetyMargin, minAdapterBudget)

	// Buffered so abandoned workers can still deliver and exit.
	results := make(chan fetchOutcome, len(entries))
	for i, e := range entries {
		idx, entry := i, e
		if err := o.pool.Submit(func() {
			results <- o.fetchOne(ctx, idx, entry, req.Query, req.Limit, budget)
		}); err != nil {
			results <- fetchOutcome{
				idx: idx,
				meta: SourceMetadata{
					Source: entry.Adapter.Name(),
					Status: StatusError,
					Error:  err.Error(),
				},
			}
		}
	}

	outcomes := make([]*fetchOutcome, len(entries))
	truncated := false
	pending := len(entries)
	for pending > 0 {
		select {
		case oc := <-results:
			outcomes[oc.idx] = &oc
			pending--
		case <-ctx.Done():
			truncated = true
			pending = 0
		}
	}

	// Merge in adapter invocation order, not completion order, so
	// dedup tie-breaking is deterministic under network jitter.
	merged := make([]source.Result, 0, 64)
	perSource := make([]SourceMetadata, 0, len(entries))
	anySuccess := false
	for i, e := range entries {
		oc := outcomes[i]
		if oc == nil {
			perSource = append(perSource, SourceMetadata{
				Source: e.Adapter.Name(),
				Status: StatusTimeout,
				Error:  "abandoned at request deadline",
			})
			continue
		}
		perSource = append(perSource, oc.meta)
		if oc.meta.Status == StatusSuccess {
			anySuccess = true
			merged = append(merged, oc.results...)
		}
	}

	if !req.Filters.empty() {
		kept := merged[:0]
		for _, r := range merged {
			if req.Filters.keep(r) {
				kept = append(kept, r)
			}
		}
		merged = kept
	}

	deduped, stats := o.dedup.Run(merged)
	o.countDedup(stats)
	ranked := rank(deduped, req.Limit)

	// Write-through, but never cache a deadline-truncated or all-failed
	// fan-out: a later request should get a real attempt.
	if anySuccess && !truncated {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		o.cache.Set(writeCtx, key, ranked, o.ttlFor(entries))
	}

	trace.Finish(len(ranked), truncated)

	return &Response{
		Results: ranked,
		Metadata: Metadata{
			PerSource:         perSource,
			DeadlineTruncated: truncated,
			DuplicatesDropped: stats.ExactDropped + stats.NearDropped,
		},
	}, nil
}

// fetchOne invokes a single adapter through its circuit breaker, bounded by
// the smaller of the adapter's own timeout and the request's remaining
// budget.
func (o *Orchestrator) fetchOne(ctx context.Context, idx int, e *source.Entry, query string, limit int, budget time.Duration) fetchOutcome {
	name := e.Adapter.Name()
	fetch := tracing.StartFetch(ctx, name)

	timeout := e.Config.Timeout
	if budget > 0 && (timeout <= 0 || budget < timeout) {
		timeout = budget
	}

	start := time.Now()
	var fetched []source.Result
	call := func() error {
		return resilience.WithTimeout(ctx, timeout, name, func(callCtx context.Context) error {
			rs, ferr := e.Adapter.Fetch(callCtx, query, limit)
			if ferr != nil {
				return ferr
			}
			fetched = rs
			return nil
		})
	}
	var err error
	if e.Breaker != nil {
		err = e.Breaker.Execute(call)
	} else {
		err = call()
	}
	latency := time.Since(start)

	meta := SourceMetadata{
		Source:    name,
		LatencyMs: latency.Milliseconds(),
		Count:     len(fetched),
	}
	switch {
	case err == nil:
		meta.Status = StatusSuccess
	case errors.Is(err, resilience.ErrCircuitOpen):
		meta.Status = StatusRejected
		meta.Error = err.Error()
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		meta.Status = StatusTimeout
		meta.Error = err.Error()
	default:
		meta.Status = StatusError
		meta.Error = err.Error()
	}
	if meta.Status != StatusSuccess {
		meta.Count = 0
		fetched = nil
		logger.FromContext(ctx).Warn("source fetch failed",
			"source", name,
			"status", meta.Status,
			"latency_ms", meta.LatencyMs,
			"error", err,
		)
	}

	fetch.Finish(meta.Status, meta.Count)
	if o.metrics != nil {
		o.metrics.SourceFetchesTotal.WithLabelValues(name, meta.Status).Inc()
		o.metrics.SourceFetchLatency.WithLabelValues(name).Observe(latency.Seconds())
	}
	return fetchOutcome{idx: idx, meta: meta, results: fetched}
}

// ttlFor picks the cache TTL matching the most volatile source involved, so
// an entry never outlives the freshness expectations of its fastest-moving
// contributor.
func (o *Orchestrator) ttlFor(entries []*source.Entry) time.Duration {
	ttl := time.Duration(0)
	for _, e := range entries {
		classTTL := o.cacheCfg.TTLFor(e.Config.Volatility)
		if ttl == 0 || (classTTL > 0 && classTTL < ttl) {
			ttl = classTTL
		}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return ttl
}

func (o *Orchestrator) applyDefaults(req *Request) {
	if req.Limit <= 0 {
		req.Limit = o.cfg.DefaultLimit
	}
	if o.cfg.MaxLimit > 0 && req.Limit > o.cfg.MaxLimit {
		req.Limit = o.cfg.MaxLimit
	}
	if req.Deadline <= 0 {
		req.Deadline = o.cfg.DefaultDeadline
	}
}

func (o *Orchestrator) countOutcome(outcome string) {
	if o.metrics != nil {
		o.metrics.IngestRequestsTotal.WithLabelValues(outcome).Inc()
	}
}

func (o *Orchestrator) countDedup(stats dedup.Stats) {
	if o.metrics == nil {
		return
	}
	if stats.ExactDropped > 0 {
		o.metrics.DedupDroppedTotal.WithLabelValues("exact").Add(float64(stats.ExactDropped))
	}
	if stats.NearDropped > 0 {
		o.metrics.DedupDroppedTotal.WithLabelValues("near").Add(float64(stats.NearDropped))
	}
}

func (o *Orchestrator) observe(outcome, cacheStatus string, elapsed time.Duration, count int) {
	if o.metrics == nil {
		return
	}
	o.metrics.IngestRequestsTotal.WithLabelValues(outcome).Inc()
	o.metrics.IngestLatency.WithLabelValues(cacheStatus).Observe(elapsed.Seconds())
	o.metrics.IngestResultsCount.Observe(float64(count))
}
