// Package biomed adapts a biomedical citation database API (NCBI
// eutils-shaped: a JSON esearch for IDs followed by an esummary for
// metadata) into the common source contract.
package biomed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/omnisource/ingest/internal/source"
	"github.com/omnisource/ingest/pkg/config"
	pkgerrors "github.com/omnisource/ingest/pkg/errors"
)

// Adapter fetches citation metadata in two upstream calls: search for IDs,
// then summarize them.
type Adapter struct {
	cfg    config.SourceConfig
	client *http.Client
	logger *slog.Logger
}

// New creates a biomedical literature adapter from its source config.
func New(cfg config.SourceConfig) *Adapter {
	return &Adapter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: slog.Default().With("component", "source-adapter", "source", cfg.Name),
	}
}

// Name returns the configured source name.
func (a *Adapter) Name() string {
	return a.cfg.Name
}

type esearchResponse struct {
	ESearchResult struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

type summaryDoc struct {
	UID             string `json:"uid"`
	Title           string `json:"title"`
	FullJournalName string `json:"fulljournalname"`
	PubDate         string `json:"pubdate"`
	ELocationID     string `json:"elocationid"`
}

// Fetch runs the search+summary round trips and returns up to limit
// normalized results, scored by citation-database rank order.
func (a *Adapter) Fetch(ctx context.Context, query string, limit int) ([]source.Result, error) {
	ids, err := a.search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	docs, err := a.summarize(ctx, ids)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	results := make([]source.Result, 0, len(ids))
	for i, id := range ids {
		doc, ok := docs[id]
		if !ok {
			continue
		}
		raw, _ := json.Marshal(doc)
		results = append(results, source.Result{
			Title:       strings.TrimSpace(doc.Title),
			URL:         a.articleURL(id),
			Excerpt:     excerpt(doc),
			Source:      a.cfg.Name,
			RetrievedAt: now,
			Score:       1.0 - float64(i)/float64(limit+1),
			Raw:         raw,
		})
	}
	a.logger.Debug("biomed fetch completed", "query", query, "results", len(results))
	return results, nil
}

func (a *Adapter) search(ctx context.Context, query string, limit int) ([]string, error) {
	params := url.Values{}
	params.Add("db", "pubmed")
	params.Add("term", query)
	params.Add("retmax", fmt.Sprintf("%d", limit))
	params.Add("retmode", "json")
	params.Add("sort", "relevance")
	if a.cfg.APIKey != "" {
		params.Add("api_key", a.cfg.APIKey)
	}

	var parsed esearchResponse
	if err := a.getJSON(ctx, a.endpoint("esearch.fcgi", params), &parsed); err != nil {
		return nil, err
	}
	return parsed.ESearchResult.IDList, nil
}

func (a *Adapter) summarize(ctx context.Context, ids []string) (map[string]summaryDoc, error) {
	params := url.Values{}
	params.Add("db", "pubmed")
	params.Add("id", strings.Join(ids, ","))
	params.Add("retmode", "json")
	if a.cfg.APIKey != "" {
		params.Add("api_key", a.cfg.APIKey)
	}

	// The summary result is a map keyed by UID plus a "uids" index entry, so
	// it has to be decoded loosely before extracting the docs.
	var parsed struct {
		Result map[string]json.RawMessage `json:"result"`
	}
	if err := a.getJSON(ctx, a.endpoint("esummary.fcgi", params), &parsed); err != nil {
		return nil, err
	}

	docs := make(map[string]summaryDoc, len(ids))
	for uid, rawDoc := range parsed.Result {
		if uid == "uids" {
			continue
		}
		var doc summaryDoc
		if err := json.Unmarshal(rawDoc, &doc); err != nil {
			return nil, fmt.Errorf("%w: summary doc %s: %v", pkgerrors.ErrMalformedResponse, uid, err)
		}
		docs[uid] = doc
	}
	return docs, nil
}

func (a *Adapter) getJSON(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", pkgerrors.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if err := source.MapHTTPStatus(resp.StatusCode); err != nil {
		return fmt.Errorf("citation API returned %d: %w", resp.StatusCode, err)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", pkgerrors.ErrMalformedResponse, err)
	}
	return nil
}

func (a *Adapter) endpoint(path string, params url.Values) string {
	base := strings.TrimSuffix(a.cfg.BaseURL, "/")
	return base + "/" + path + "?" + params.Encode()
}

func (a *Adapter) articleURL(id string) string {
	return "https://pubmed.ncbi.nlm.nih.gov/" + id + "/"
}

func excerpt(doc summaryDoc) string {
	parts := make([]string, 0, 2)
	if doc.FullJournalName != "" {
		parts = append(parts, doc.FullJournalName)
	}
	if doc.PubDate != "" {
		parts = append(parts, doc.PubDate)
	}
	return strings.Join(parts, ", ")
}

var _ source.Adapter = (*Adapter)(nil)
