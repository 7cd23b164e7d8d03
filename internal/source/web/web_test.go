package web

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

func newTestAdapter(baseURL string) *Adapter {
	return New(config.SourceConfig{
		Name:     "web",
		Kind:     "web",
		BaseURL:  baseURL,
		APIKey:   "test-key",
		EngineID: "test-cx",
		Timeout:  2 * time.Second,
	})
}

func TestFetch_NormalizesItems(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"key": q.Get("key"),
			"cx":  q.Get("cx"),
			"q":   q.Get("q"),
			"num": q.Get("num"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"items":[
			{"title":"Official CDC guidance","link":"https://cdc.gov/page","snippet":"guidance text","mime":"text/html"},
			{"title":"Some PDF","link":"https://example.com/doc.pdf","snippet":"skip me","mime":"application/pdf"},
			{"title":"Blog post","link":"https://blog.example.com/post","snippet":"body text"}
		]}`))
	}))
	defer srv.Close()

	a := newTestAdapter(srv.URL)
	results, err := a.Fetch(context.Background(), "vaccine guidance", 10)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"key": "test-key",
		"cx":  "test-cx",
		"q":   "vaccine guidance",
		"num": "10",
	}, gotQuery)

	// The PDF item is skipped.
	require.Len(t, results, 2)
	assert.Equal(t, "Official CDC guidance", results[0].Title)
	assert.Equal(t, "https://cdc.gov/page", results[0].URL)
	assert.Equal(t, "guidance text", results[0].Excerpt)
	assert.Equal(t, "web", results[0].Source)
	assert.False(t, results[0].RetrievedAt.IsZero())
	assert.NotEmpty(t, results[0].Raw)

	// .gov plus "official" in the title outranks a plain blog post.
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestFetch_RespectsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"items":[
			{"title":"a","link":"https://a.example"},
			{"title":"b","link":"https://b.example"},
			{"title":"c","link":"https://c.example"}
		]}`))
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
		{"server error", http.StatusInternalServerError, "", pkgerrors.ErrUpstreamUnavailable},
		{"malformed body", http.StatusOK, "not json", pkgerrors.ErrMalformedResponse},
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

func TestFetch_UnreachableUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	_, err := newTestAdapter(srv.URL).Fetch(context.Background(), "q", 5)
	require.ErrorIs(t, err, pkgerrors.ErrUpstreamUnavailable)
}

func TestFetch_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := newTestAdapter(srv.URL).Fetch(ctx, "q", 5)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
