// Package source defines the common contract every upstream content source is
// normalized into: one Result shape, one Fetch signature, and a small shared
// error taxonomy. Adapters translate their upstream's native request/response
// format and nothing else; retry and failure policy live with the caller.
package source

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	pkgerrors "github.com/omnisource/ingest/pkg/errors"
)

// Result is one normalized item from one adapter. It is immutable once
// constructed.
type Result struct {
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Excerpt     string    `json:"excerpt"`
	Source      string    `json:"source"`
	PublishedAt time.Time `json:"published_at,omitempty"`
	RetrievedAt time.Time `json:"retrieved_at"`
	// Score is the source-native relevance score. Scales differ across
	// sources; it is only meaningful for ranking within a merged set.
	Score float64 `json:"score"`
	// Raw preserves the upstream payload fragment for provenance.
	Raw json.RawMessage `json:"raw,omitempty"`
}

// Adapter fetches and normalizes results from one upstream source.
// Implementations must honor ctx cancellation and must not retry internally.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, query string, limit int) ([]Result, error)
}

// MapHTTPStatus translates an upstream HTTP status into the shared error
// taxonomy. A 2xx status maps to nil.
func MapHTTPStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return pkgerrors.ErrRateLimited
	case status == http.StatusNotFound:
		return pkgerrors.ErrNotFound
	case status >= 500:
		return pkgerrors.ErrUpstreamUnavailable
	default:
		return pkgerrors.ErrUpstreamUnavailable
	}
}
