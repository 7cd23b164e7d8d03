// Package analytics streams per-request ingestion events to Kafka for
// offline aggregation and optionally persists an audit trail in PostgreSQL.
package analytics

import "time"

type EventType string

const (
	EventIngest   EventType = "ingest"
	EventCacheHit EventType = "cache_hit"
)

// SourceOutcome summarizes one adapter's part in a request.
type SourceOutcome struct {
	Source    string `json:"source"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Count     int    `json:"count"`
}

// IngestEvent is emitted once per ingestion request.
type IngestEvent struct {
	Type              EventType       `json:"type"`
	RequestID         string          `json:"request_id"`
	Query             string          `json:"query"`
	Sources           []string        `json:"sources"`
	PerSource         []SourceOutcome `json:"per_source,omitempty"`
	ResultCount       int             `json:"result_count"`
	DuplicatesDropped int             `json:"duplicates_dropped"`
	CacheHit          bool            `json:"cache_hit"`
	DeadlineTruncated bool            `json:"deadline_truncated"`
	LatencyMs         int64           `json:"latency_ms"`
	Timestamp         time.Time       `json:"timestamp"`
}
