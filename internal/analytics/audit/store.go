// Package audit persists a per-request audit trail of ingestion activity in
// PostgreSQL.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/omnisource/ingest/internal/analytics"
	"github.com/omnisource/ingest/pkg/postgres"
	"github.com/omnisource/ingest/pkg/resilience"
)

// Store writes ingestion audit rows.
//
// It requires an `ingest_audit` table:
//
//	CREATE TABLE ingest_audit (
//	    id          BIGSERIAL PRIMARY KEY,
//	    request_id  TEXT NOT NULL,
//	    query       TEXT NOT NULL,
//	    sources     TEXT NOT NULL,
//	    cache_hit   BOOLEAN NOT NULL,
//	    result_count INT NOT NULL,
//	    latency_ms  BIGINT NOT NULL,
//	    detail      JSONB NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
type Store struct {
	db     *postgres.Client
	retry  resilience.RetryConfig
	logger *slog.Logger
}

// NewStore creates an audit store.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db: db,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
		},
		logger: slog.Default().With("component", "audit-store"),
	}
}

// Save persists one audit row, retrying transient database failures.
func (s *Store) Save(ctx context.Context, event analytics.IngestEvent) error {
	detail, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit detail: %w", err)
	}

	err = resilience.Retry(ctx, "audit-save", s.retry, func() error {
		_, execErr := s.db.DB.ExecContext(ctx,
			`INSERT INTO ingest_audit
			    (request_id, query, sources, cache_hit, result_count, latency_ms, detail, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			event.RequestID,
			event.Query,
			strings.Join(event.Sources, ","),
			event.CacheHit,
			event.ResultCount,
			event.LatencyMs,
			detail,
			event.Timestamp.UTC(),
		)
		if ctx.Err() != nil {
			return resilience.Permanent(ctx.Err())
		}
		return execErr
	})
	if err != nil {
		return fmt.Errorf("saving audit row: %w", err)
	}
	return nil
}

// Recent returns the latest audit events, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]analytics.IngestEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.DB.QueryContext(ctx,
		`SELECT detail FROM ingest_audit ORDER BY created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit rows: %w", err)
	}
	defer rows.Close()

	var events []analytics.IngestEvent
	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("scanning audit row: %w", err)
		}
		var event analytics.IngestEvent
		if err := json.Unmarshal(detail, &event); err != nil {
			s.logger.Warn("skipping corrupt audit row", "error", err)
			continue
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
