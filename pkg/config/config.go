// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Redis, Kafka, Postgres, Sources, Cache, Dedup, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Sources   []SourceConfig  `yaml:"sources"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Cache     CacheConfig     `yaml:"cache"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// RedisConfig holds connection parameters for the distributed cache tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"poolSize"`
}

// KafkaConfig holds Kafka broker and topic settings for the analytics stream.
type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	IngestEvents string   `yaml:"ingestEvents"`
}

// PostgresConfig holds PostgreSQL connection parameters for the audit store.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// SourceConfig describes one upstream content source. The order of entries in
// the Sources list is the adapter invocation order used for deterministic
// merge tie-breaking.
type SourceConfig struct {
	Name       string        `yaml:"name"`
	Kind       string        `yaml:"kind"` // web | preprint | biomed
	Enabled    bool          `yaml:"enabled"`
	BaseURL    string        `yaml:"baseUrl"`
	APIKey     string        `yaml:"apiKey"`
	EngineID   string        `yaml:"engineId"` // web only
	Timeout    time.Duration `yaml:"timeout"`
	Volatility string        `yaml:"volatility"` // web | preprint | biomed TTL class
	Breaker    BreakerConfig `yaml:"breaker"`
}

// BreakerConfig controls the circuit breaker guarding one adapter. Zero
// values fall back to the resilience package defaults.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failureThreshold"`
	Window           time.Duration `yaml:"window"`
	Cooldown         time.Duration `yaml:"cooldown"`
	HalfOpenProbes   int           `yaml:"halfOpenProbes"`
}

// IngestConfig controls orchestrator limits and timing.
type IngestConfig struct {
	DefaultLimit    int           `yaml:"defaultLimit"`
	MaxLimit        int           `yaml:"maxLimit"`
	DefaultDeadline time.Duration `yaml:"defaultDeadline"`
	SafetyMargin    time.Duration `yaml:"safetyMargin"`
	PoolSize        int           `yaml:"poolSize"`
}

// CacheConfig controls the two cache tiers. TTLs holds one duration per
// source-volatility class; TierOneMaxTTL caps how long an entry may live in
// the in-process tier regardless of its class TTL.
type CacheConfig struct {
	TierOneSize   int                      `yaml:"tierOneSize"`
	TierOneMaxTTL time.Duration            `yaml:"tierOneMaxTtl"`
	TTLs          map[string]time.Duration `yaml:"ttls"`
	DefaultTTL    time.Duration            `yaml:"defaultTtl"`
}

// TTLFor returns the cache TTL for a source-volatility class.
func (c CacheConfig) TTLFor(class string) time.Duration {
	if ttl, ok := c.TTLs[class]; ok && ttl > 0 {
		return ttl
	}
	return c.DefaultTTL
}

// DedupConfig controls near-duplicate detection. SimilarityThreshold is in
// [0,1]; 1.0 means exact-digest matches only.
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarityThreshold"`
	ShingleSize         int     `yaml:"shingleSize"`
}

// AnalyticsConfig controls the ingestion event stream and audit trail.
type AnalyticsConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BufferSize    int           `yaml:"bufferSize"`
	AuditEnabled  bool          `yaml:"auditEnabled"`
	FlushInterval time.Duration `yaml:"flushInterval"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with sensible defaults for any
// missing values.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// EnabledSources returns the configured sources with Enabled set, preserving
// declaration order.
func (c *Config) EnabledSources() []SourceConfig {
	out := make([]SourceConfig, 0, len(c.Sources))
	for _, s := range c.Sources {
		if s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) validate() error {
	if c.Dedup.SimilarityThreshold < 0 || c.Dedup.SimilarityThreshold > 1 {
		return fmt.Errorf("dedup.similarityThreshold must be in [0,1], got %v", c.Dedup.SimilarityThreshold)
	}
	if c.Ingest.DefaultLimit > c.Ingest.MaxLimit {
		return fmt.Errorf("ingest.defaultLimit %d exceeds ingest.maxLimit %d", c.Ingest.DefaultLimit, c.Ingest.MaxLimit)
	}
	seen := make(map[string]struct{}, len(c.Sources))
	for _, s := range c.Sources {
		if s.Name == "" {
			return fmt.Errorf("source with kind %q has no name", s.Kind)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
		},
		Kafka: KafkaConfig{
			Brokers:      []string{"localhost:9092"},
			IngestEvents: "ingest-events",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "omnisource",
			User:            "omnisource",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Ingest: IngestConfig{
			DefaultLimit:    10,
			MaxLimit:        50,
			DefaultDeadline: 5 * time.Second,
			SafetyMargin:    150 * time.Millisecond,
			PoolSize:        16,
		},
		Cache: CacheConfig{
			TierOneSize:   1024,
			TierOneMaxTTL: 60 * time.Second,
			TTLs: map[string]time.Duration{
				"web":      5 * time.Minute,
				"preprint": 6 * time.Hour,
				"biomed":   12 * time.Hour,
			},
			DefaultTTL: 5 * time.Minute,
		},
		Dedup: DedupConfig{
			SimilarityThreshold: 0.9,
			ShingleSize:         3,
		},
		Analytics: AnalyticsConfig{
			Enabled:       true,
			BufferSize:    10000,
			AuditEnabled:  false,
			FlushInterval: time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads OSI_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OSI_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("OSI_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("OSI_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("OSI_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("OSI_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("OSI_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("OSI_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("OSI_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("OSI_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("OSI_DEDUP_THRESHOLD"); v != "" {
		if t, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Dedup.SimilarityThreshold = t
		}
	}
	if v := os.Getenv("OSI_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OSI_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
