// Package api exposes the ingestion pipeline over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/omnisource/ingest/internal/analytics"
	"github.com/omnisource/ingest/internal/analytics/audit"
	"github.com/omnisource/ingest/internal/cache"
	"github.com/omnisource/ingest/internal/orchestrator"
	pkgerrors "github.com/omnisource/ingest/pkg/errors"
	"github.com/omnisource/ingest/pkg/logger"
)

// ingestRequest is the inbound JSON shape.
type ingestRequest struct {
	Query      string        `json:"query"`
	Sources    []string      `json:"sources"`
	Limit      int           `json:"limit"`
	Filters    ingestFilters `json:"filters"`
	DeadlineMs int           `json:"deadline_ms"`
}

type ingestFilters struct {
	Since    string  `json:"since,omitempty"` // RFC 3339
	MinScore float64 `json:"min_score,omitempty"`
}

// Handler serves the ingest API. collector and auditStore may be nil.
type Handler struct {
	orch       *orchestrator.Orchestrator
	cache      *cache.TieredCache
	collector  *analytics.Collector
	auditStore *audit.Store
	logger     *slog.Logger
}

// New creates a Handler.
func New(orch *orchestrator.Orchestrator, tiered *cache.TieredCache, collector *analytics.Collector, auditStore *audit.Store) *Handler {
	return &Handler{
		orch:       orch,
		cache:      tiered,
		collector:  collector,
		auditStore: auditStore,
		logger:     slog.Default().With("component", "ingest-handler"),
	}
}

// Ingest handles POST /api/v1/ingest.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	var in ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeAppError(w, pkgerrors.New(pkgerrors.ErrInvalidInput, http.StatusBadRequest, "invalid JSON body"))
		return
	}
	if in.Query == "" {
		h.writeAppError(w, pkgerrors.New(pkgerrors.ErrInvalidInput, http.StatusBadRequest, "query is required"))
		return
	}

	req := orchestrator.Request{
		Query:    in.Query,
		Sources:  in.Sources,
		Limit:    in.Limit,
		Deadline: time.Duration(in.DeadlineMs) * time.Millisecond,
	}
	if in.Filters.Since != "" {
		since, err := time.Parse(time.RFC3339, in.Filters.Since)
		if err != nil {
			h.writeAppError(w, pkgerrors.Newf(pkgerrors.ErrInvalidInput, http.StatusBadRequest, "filters.since must be RFC 3339: %v", err))
			return
		}
		req.Filters.Since = since
	}
	req.Filters.MinScore = in.Filters.MinScore

	resp, err := h.orch.Ingest(ctx, req)
	if err != nil {
		log.Error("ingest failed", "query", in.Query, "error", err)
		h.writeError(w, pkgerrors.HTTPStatusCode(err), err.Error())
		return
	}

	log.Info("ingest completed",
		"query", in.Query,
		"results", len(resp.Results),
		"cache_hit", resp.Metadata.CacheHit,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	h.trackEvent(ctx, in, resp)
	h.writeJSON(w, http.StatusOK, resp)
}

// CacheStats handles GET /api/v1/cache/stats.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	memHits, redisHits, misses, tier2Failures := h.cache.Stats()
	h.writeJSON(w, http.StatusOK, map[string]int64{
		"memory_hits":    memHits,
		"redis_hits":     redisHits,
		"misses":         misses,
		"tier2_failures": tier2Failures,
	})
}

// CacheInvalidate handles POST /api/v1/cache/invalidate.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.cache.InvalidateAll(r.Context())
	if err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int64{"keys_deleted": deleted})
}

// AuditRecent handles GET /api/v1/audit/recent.
func (h *Handler) AuditRecent(w http.ResponseWriter, r *http.Request) {
	if h.auditStore == nil {
		h.writeError(w, http.StatusNotFound, "audit trail not enabled")
		return
	}
	events, err := h.auditStore.Recent(r.Context(), 50)
	if err != nil {
		h.logger.Error("audit query failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	h.writeJSON(w, http.StatusOK, events)
}

// trackEvent emits the per-request analytics event and, when the audit trail
// is enabled, persists it off the request path.
func (h *Handler) trackEvent(ctx context.Context, in ingestRequest, resp *orchestrator.Response) {
	event := analytics.IngestEvent{
		Type:              analytics.EventIngest,
		RequestID:         logger.RequestID(ctx),
		Query:             in.Query,
		Sources:           in.Sources,
		ResultCount:       len(resp.Results),
		DuplicatesDropped: resp.Metadata.DuplicatesDropped,
		CacheHit:          resp.Metadata.CacheHit,
		DeadlineTruncated: resp.Metadata.DeadlineTruncated,
		LatencyMs:         resp.Metadata.TotalMs,
		Timestamp:         time.Now().UTC(),
	}
	if event.CacheHit {
		event.Type = analytics.EventCacheHit
	}
	for _, ps := range resp.Metadata.PerSource {
		event.PerSource = append(event.PerSource, analytics.SourceOutcome{
			Source:    ps.Source,
			Status:    ps.Status,
			LatencyMs: ps.LatencyMs,
			Count:     ps.Count,
		})
	}

	if h.collector != nil {
		h.collector.Track(event)
	}
	if h.auditStore != nil {
		go func() {
			saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.auditStore.Save(saveCtx, event); err != nil {
				h.logger.Error("audit save failed", "request_id", event.RequestID, "error", err)
			}
		}()
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeAppError(w http.ResponseWriter, err *pkgerrors.AppError) {
	h.writeError(w, pkgerrors.HTTPStatusCode(err), err.Message)
}
