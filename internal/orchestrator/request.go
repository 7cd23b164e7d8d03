package orchestrator

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/omnisource/ingest/internal/source"
)

// Request is one immutable ingestion request. It is owned by the call stack
// that issues it and discarded after Ingest returns.
type Request struct {
	Query    string
	Sources  []string
	Limit    int
	Filters  Filters
	Deadline time.Duration
}

// Filters narrows results after merge. Zero values disable a filter.
type Filters struct {
	// Since drops results published before this instant. Results without a
	// known publication date pass through.
	Since time.Time
	// MinScore drops results whose source-native score is below this value.
	MinScore float64
}

func (f Filters) empty() bool {
	return f.Since.IsZero() && f.MinScore == 0
}

func (f Filters) keep(r source.Result) bool {
	if !f.Since.IsZero() && !r.PublishedAt.IsZero() && r.PublishedAt.Before(f.Since) {
		return false
	}
	if f.MinScore > 0 && r.Score < f.MinScore {
		return false
	}
	return true
}

// CacheKey derives the content-addressed cache key: identical logical
// queries map to the same key regardless of argument order or whitespace.
func (r Request) CacheKey() string {
	normalized := normalizeQuery(r.Query)
	sources := append([]string(nil), r.Sources...)
	sort.Strings(sources)

	var b strings.Builder
	b.WriteString(normalized)
	b.WriteString("|sources=")
	b.WriteString(strings.Join(sources, ","))
	fmt.Fprintf(&b, "|limit=%d", r.Limit)
	if !r.Filters.empty() {
		fmt.Fprintf(&b, "|since=%d|minscore=%g", r.Filters.Since.Unix(), r.Filters.MinScore)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return fmt.Sprintf("%x", sum[:16])
}

func normalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Per-source status values reported in response metadata.
const (
	StatusSuccess  = "success"
	StatusTimeout  = "timeout"
	StatusRejected = "rejected" // circuit breaker refused the call
	StatusError    = "upstream_error"
)

// SourceMetadata describes one adapter's contribution to a request.
type SourceMetadata struct {
	Source    string `json:"source"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Count     int    `json:"count"`
	Error     string `json:"error,omitempty"`
}

// Metadata is the per-request provenance and timing summary.
type Metadata struct {
	CacheHit          bool             `json:"cache_hit"`
	PerSource         []SourceMetadata `json:"per_source"`
	TotalMs           int64            `json:"total_ms"`
	DeadlineTruncated bool             `json:"deadline_truncated,omitempty"`
	DuplicatesDropped int              `json:"duplicates_dropped,omitempty"`
}

// Response is the unified result set for one request. Results may be empty;
// that is a valid non-error outcome.
type Response struct {
	Results  []source.Result `json:"results"`
	Metadata Metadata        `json:"metadata"`
}
