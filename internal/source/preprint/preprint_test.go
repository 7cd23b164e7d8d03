package preprint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnisource/ingest/pkg/config"
	pkgerrors "github.com/omnisource/ingest/pkg/errors"
)

const atomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>query results</title>
  <entry>
    <id>http://export.example.org/abs/2501.00001</id>
    <title>Sparse attention at scale</title>
    <link href="http://export.example.org/abs/2501.00001"/>
    <summary>We study sparse attention.</summary>
    <published>2025-01-15T00:00:00Z</published>
  </entry>
  <entry>
    <id>http://export.example.org/abs/2501.00002</id>
    <title>  Mixture models revisited  </title>
    <link href="http://export.example.org/abs/2501.00002"/>
    <summary>A second abstract.</summary>
    <updated>2025-02-01T00:00:00Z</updated>
  </entry>
  <entry>
    <id>http://export.example.org/abs/2501.00003</id>
    <title>Third paper</title>
    <link href="http://export.example.org/abs/2501.00003"/>
    <summary>A third abstract.</summary>
    <published>2025-03-01T00:00:00Z</published>
  </entry>
</feed>`

func newTestAdapter(baseURL string) *Adapter {
	return New(config.SourceConfig{
		Name:    "preprint",
		Kind:    "preprint",
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	})
}

func TestFetch_ParsesAtomFeed(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"search_query": q.Get("search_query"),
			"max_results":  q.Get("max_results"),
			"sortBy":       q.Get("sortBy"),
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		w.Write([]byte(atomFeed))
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	results, err := a.Fetch(context.Background(), "sparse attention", 10)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"search_query": "all:sparse attention",
		"max_results":  "10",
		"sortBy":       "relevance",
	}, gotQuery)

	require.Len(t, results, 3)
	assert.Equal(t, "Sparse attention at scale", results[0].Title)
	assert.Equal(t, "http://export.example.org/abs/2501.00001", results[0].URL)
	assert.Equal(t, "We study sparse attention.", results[0].Excerpt)
	assert.Equal(t, "preprint", results[0].Source)
	assert.Equal(t, time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), results[0].PublishedAt.UTC())

	// Whitespace around titles is trimmed; updated substitutes for a
	// missing published timestamp.
	assert.Equal(t, "Mixture models revisited", results[1].Title)
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), results[1].PublishedAt.UTC())

	// Feed order is the source's relevance order, so scores decrease.
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Greater(t, results[1].Score, results[2].Score)
}

func TestFetch_RespectsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(atomFeed))
	}))
	defer srv.Close()

	results, err := newTestAdapter(srv.URL).Fetch(context.Background(), "q", 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestFetch_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"rate limited", http.StatusTooManyRequests, "", pkgerrors.ErrRateLimited},
		{"upstream down", http.StatusServiceUnavailable, "", pkgerrors.ErrUpstreamUnavailable},
		{"not a feed", http.StatusOK, "<html>nope</html>", pkgerrors.ErrMalformedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestAdapter(srv.URL).Fetch(context.Background(), "q", 5)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}
