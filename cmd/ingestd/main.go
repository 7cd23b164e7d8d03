package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/omnisource/ingest/internal/analytics"
	"github.com/omnisource/ingest/internal/analytics/audit"
	"github.com/omnisource/ingest/internal/api"
	"github.com/omnisource/ingest/internal/cache"
	"github.com/omnisource/ingest/internal/dedup"
	"github.com/omnisource/ingest/internal/orchestrator"
	"github.com/omnisource/ingest/internal/source"
	"github.com/omnisource/ingest/internal/source/biomed"
	"github.com/omnisource/ingest/internal/source/preprint"
	"github.com/omnisource/ingest/internal/source/web"
	"github.com/omnisource/ingest/pkg/config"
	"github.com/omnisource/ingest/pkg/health"
	"github.com/omnisource/ingest/pkg/kafka"
	"github.com/omnisource/ingest/pkg/logger"
	"github.com/omnisource/ingest/pkg/metrics"
	"github.com/omnisource/ingest/pkg/middleware"
	"github.com/omnisource/ingest/pkg/postgres"
	pkgredis "github.com/omnisource/ingest/pkg/redis"
	"github.com/omnisource/ingest/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingest service", "port", cfg.Server.Port, "sources", len(cfg.EnabledSources()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	var metricsShutdown func(context.Context) error
	if cfg.Metrics.Enabled {
		metricsShutdown = metrics.StartServer(cfg.Metrics.Port)
		slog.Info("metrics server started", "port", cfg.Metrics.Port)
	}

	var redisClient *pkgredis.Client
	redisClient, err = pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, cache runs memory-only", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
		slog.Info("distributed cache tier enabled", "addr", cfg.Redis.Addr)
	}

	tiered, err := cache.New(cfg.Cache, redisClient, m)
	if err != nil {
		slog.Error("failed to create cache", "error", err)
		os.Exit(1)
	}

	registry := source.NewRegistry()
	for _, sc := range cfg.EnabledSources() {
		adapter, err := newAdapter(sc)
		if err != nil {
			slog.Error("failed to create source adapter", "source", sc.Name, "error", err)
			os.Exit(1)
		}
		breaker := resilience.NewCircuitBreaker(sc.Name, resilience.CircuitBreakerConfig{
			FailureThreshold: sc.Breaker.FailureThreshold,
			Window:           sc.Breaker.Window,
			Cooldown:         sc.Breaker.Cooldown,
			HalfOpenProbes:   sc.Breaker.HalfOpenProbes,
		})
		breaker.OnStateChange(func(name string, s resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
		})
		if err := registry.Register(&source.Entry{Adapter: adapter, Config: sc, Breaker: breaker}); err != nil {
			slog.Error("failed to register source", "source", sc.Name, "error", err)
			os.Exit(1)
		}
		slog.Info("source registered", "source", sc.Name, "kind", sc.Kind, "timeout", sc.Timeout)
	}

	engine := dedup.New(cfg.Dedup)

	orch, err := orchestrator.New(registry, tiered, engine, cfg.Ingest, cfg.Cache, m)
	if err != nil {
		slog.Error("failed to create orchestrator", "error", err)
		os.Exit(1)
	}
	defer orch.Close()

	var collector *analytics.Collector
	if cfg.Analytics.Enabled {
		producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.IngestEvents)
		collector = analytics.NewCollector(producer, cfg.Analytics.BufferSize)
		collector.Start(ctx)
		defer collector.Close()
		slog.Info("analytics collector started", "topic", cfg.Kafka.IngestEvents)
	}

	var auditStore *audit.Store
	var pgClient *postgres.Client
	if cfg.Analytics.AuditEnabled {
		pgClient, err = postgres.New(cfg.Postgres)
		if err != nil {
			slog.Warn("postgres unavailable, audit trail disabled", "error", err)
		} else {
			defer pgClient.Close()
			auditStore = audit.NewStore(pgClient)
			slog.Info("audit trail enabled", "host", cfg.Postgres.Host)
		}
	}

	checker := health.NewChecker()
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})
	if pgClient != nil {
		checker.Register("postgres", func(ctx context.Context) health.ComponentHealth {
			if err := pgClient.Ping(ctx); err != nil {
				return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
			}
			return health.ComponentHealth{Status: health.StatusUp}
		})
	}
	checker.Register("sources", func(ctx context.Context) health.ComponentHealth {
		available := 0
		for _, entry := range registry.All() {
			if entry.Breaker.Available() {
				available++
			}
		}
		if available == 0 {
			return health.ComponentHealth{Status: health.StatusDown, Message: "all circuit breakers open"}
		}
		if available < len(registry.All()) {
			return health.ComponentHealth{
				Status:  health.StatusDegraded,
				Message: fmt.Sprintf("%d/%d sources available", available, len(registry.All())),
			}
		}
		return health.ComponentHealth{Status: health.StatusUp, Message: fmt.Sprintf("%d sources available", available)}
	})

	h := api.New(orch, tiered, collector, auditStore)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/ingest", h.Ingest)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/audit/recent", h.AuditRecent)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.WriteTimeout)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		if metricsShutdown != nil {
			if err := metricsShutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}
	}()

	slog.Info("ingest service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("ingest service stopped")
}

// newAdapter builds the concrete adapter for a configured source kind.
func newAdapter(sc config.SourceConfig) (source.Adapter, error) {
	switch sc.Kind {
	case "web":
		return web.New(sc), nil
	case "preprint":
		return preprint.New(sc), nil
	case "biomed":
		return biomed.New(sc), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", sc.Kind)
	}
}
