// Package tracing times the stages of an ingest fan-out. A FanOut covers
// one request's concurrent adapter phase; each adapter call is recorded as
// a Fetch beneath it. The finished trace is emitted as a single structured
// slog record keyed by request id, with one attribute group per source.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type contextKey struct{}

// FanOut aggregates timing for one ingest fan-out.
type FanOut struct {
	RequestID string
	Query     string
	start     time.Time

	mu      sync.Mutex
	fetches []*Fetch
}

// Fetch times a single adapter call within a fan-out.
type Fetch struct {
	Source string
	start  time.Time

	mu       sync.Mutex
	duration time.Duration
	status   string
	count    int
}

// StartFanOut begins a fan-out trace and stores it in the returned context
// so adapter workers can attach their fetches to it.
func StartFanOut(ctx context.Context, requestID, query string) (context.Context, *FanOut) {
	f := &FanOut{RequestID: requestID, Query: query, start: time.Now()}
	return context.WithValue(ctx, contextKey{}, f), f
}

// StartFetch begins timing one adapter call under the fan-out in ctx. When
// ctx carries no fan-out the fetch is still timed but never emitted.
func StartFetch(ctx context.Context, source string) *Fetch {
	fe := &Fetch{Source: source, start: time.Now()}
	if fo, ok := ctx.Value(contextKey{}).(*FanOut); ok {
		fo.mu.Lock()
		fo.fetches = append(fo.fetches, fe)
		fo.mu.Unlock()
	}
	return fe
}

// Finish records the adapter outcome and stops the fetch timer. A fetch
// abandoned at the request deadline is never finished and is emitted with
// a zero duration and empty status.
func (f *Fetch) Finish(status string, count int) {
	f.mu.Lock()
	f.duration = time.Since(f.start)
	f.status = status
	f.count = count
	f.mu.Unlock()
}

// FanOutFromContext extracts the current FanOut from ctx, or nil if none.
func FanOutFromContext(ctx context.Context) *FanOut {
	if fo, ok := ctx.Value(contextKey{}).(*FanOut); ok {
		return fo
	}
	return nil
}

// Finish stops the trace and logs it. Fetch groups appear in adapter start
// order, which matches the registry's invocation order.
func (f *FanOut) Finish(results int, truncated bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	attrs := []any{
		"request_id", f.RequestID,
		"query", f.Query,
		"duration_ms", time.Since(f.start).Milliseconds(),
		"results", results,
		"truncated", truncated,
	}
	for _, fe := range f.fetches {
		fe.mu.Lock()
		attrs = append(attrs, slog.Group(fe.Source,
			"status", fe.status,
			"count", fe.count,
			"duration_ms", fe.duration.Milliseconds(),
		))
		fe.mu.Unlock()
	}
	slog.Info("fanout trace", attrs...)
}
