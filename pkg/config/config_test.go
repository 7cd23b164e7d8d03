package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 10, cfg.Ingest.DefaultLimit)
	assert.Equal(t, 50, cfg.Ingest.MaxLimit)
	assert.Equal(t, 5*time.Second, cfg.Ingest.DefaultDeadline)
	assert.Equal(t, 0.9, cfg.Dedup.SimilarityThreshold)
	assert.Equal(t, 60*time.Second, cfg.Cache.TierOneMaxTTL)
	assert.Equal(t, 5*time.Minute, cfg.Cache.TTLFor("web"))
	assert.Equal(t, 6*time.Hour, cfg.Cache.TTLFor("preprint"))
	assert.Equal(t, 12*time.Hour, cfg.Cache.TTLFor("biomed"))
	// Unknown classes fall back to the default TTL.
	assert.Equal(t, cfg.Cache.DefaultTTL, cfg.Cache.TTLFor("unknown"))
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9999
ingest:
  defaultLimit: 5
  maxLimit: 25
  defaultDeadline: 1500ms
cache:
  tierOneMaxTtl: 30s
sources:
  - name: web
    kind: web
    enabled: true
    baseUrl: https://search.example/v1
    timeout: 2s
    volatility: web
    breaker:
      failureThreshold: 3
      window: 10s
  - name: preprint
    kind: preprint
    enabled: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Ingest.DefaultLimit)
	assert.Equal(t, 1500*time.Millisecond, cfg.Ingest.DefaultDeadline)
	assert.Equal(t, 30*time.Second, cfg.Cache.TierOneMaxTTL)

	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, 2*time.Second, cfg.Sources[0].Timeout)
	assert.Equal(t, 3, cfg.Sources[0].Breaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, cfg.Sources[0].Breaker.Window)

	enabled := cfg.EnabledSources()
	require.Len(t, enabled, 1)
	assert.Equal(t, "web", enabled[0].Name)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("OSI_SERVER_PORT", "7070")
	t.Setenv("OSI_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("OSI_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("OSI_DEDUP_THRESHOLD", "0.75")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "redis.internal:6380", cfg.Redis.Addr)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 0.75, cfg.Dedup.SimilarityThreshold)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			"threshold out of range",
			"dedup:\n  similarityThreshold: 1.5\n",
		},
		{
			"default limit above max",
			"ingest:\n  defaultLimit: 100\n  maxLimit: 10\n",
		},
		{
			"duplicate source names",
			"sources:\n  - name: web\n    kind: web\n  - name: web\n    kind: biomed\n",
		},
		{
			"unnamed source",
			"sources:\n  - kind: web\n",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestPostgresDSN(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "db.internal",
		Port:     5433,
		User:     "svc",
		Password: "secret",
		Database: "ingest",
		SSLMode:  "require",
	}
	assert.Equal(t,
		"host=db.internal port=5433 user=svc password=secret dbname=ingest sslmode=require",
		cfg.DSN(),
	)
}
