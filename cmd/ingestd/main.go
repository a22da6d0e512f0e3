// Command ingestd runs the news ingestion daemon.
//
// The daemon polls the configured news sources on a cron schedule, merges
// cross-source duplicates into the canonical PostgreSQL store, publishes the
// deduplicated articles to Kafka for sentiment analysis, and exposes an HTTP
// API for manually triggering runs plus liveness/readiness probes.
//
// Usage:
//
//	go run ./cmd/ingestd [-config configs/development.yaml]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/pulsewire/newsfuse/internal/fetch"
	"github.com/pulsewire/newsfuse/internal/quota"
	"github.com/pulsewire/newsfuse/internal/run"
	"github.com/pulsewire/newsfuse/internal/runmetrics"
	"github.com/pulsewire/newsfuse/internal/source"
	"github.com/pulsewire/newsfuse/internal/store"
	"github.com/pulsewire/newsfuse/internal/symbols"
	"github.com/pulsewire/newsfuse/pkg/config"
	apperrors "github.com/pulsewire/newsfuse/pkg/errors"
	"github.com/pulsewire/newsfuse/pkg/health"
	"github.com/pulsewire/newsfuse/pkg/kafka"
	"github.com/pulsewire/newsfuse/pkg/logger"
	"github.com/pulsewire/newsfuse/pkg/metrics"
	"github.com/pulsewire/newsfuse/pkg/middleware"
	"github.com/pulsewire/newsfuse/pkg/postgres"
	"github.com/pulsewire/newsfuse/pkg/redis"
	"github.com/pulsewire/newsfuse/pkg/resilience"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	// Source API keys usually live in a .env file during development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting ingestion daemon",
		"port", cfg.Server.Port,
		"sources", cfg.EnabledSources(),
		"workers", cfg.Orchestrator.Workers,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Dependencies may still be coming up when the daemon starts, so
	// connection attempts retry with backoff instead of failing fast.
	var db *postgres.Client
	err = resilience.Retry(ctx, "postgres-connect", resilience.RetryConfig{MaxAttempts: 5}, func() error {
		db, err = postgres.New(cfg.Postgres)
		return err
	})
	if err != nil {
		slog.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgres")

	var redisClient *redis.Client
	err = resilience.Retry(ctx, "redis-connect", resilience.RetryConfig{MaxAttempts: 5}, func() error {
		redisClient, err = redis.NewClient(cfg.Redis)
		return err
	})
	if err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	slog.Info("connected to redis")

	articleStore := store.New(db, cfg.Retention.ArticleTTL)
	if err := articleStore.EnsureSchema(ctx); err != nil {
		slog.Error("failed to ensure schema", "error", err)
		os.Exit(1)
	}

	articleProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.ArticleEvents)
	defer articleProducer.Close()
	metricsProducer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.RunMetrics)
	defer metricsProducer.Close()

	prom := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := shutdownMetrics(sctx); err != nil {
				slog.Error("metrics server shutdown error", "error", err)
			}
		}()
	}

	emitter := runmetrics.NewEmitter(metricsProducer, 16)
	emitter.Start(ctx)
	defer emitter.Close()

	adapters := make([]source.Adapter, 0, len(cfg.Sources))
	limits := make(map[string]int)
	timeouts := make(map[string]time.Duration)
	for _, name := range cfg.EnabledSources() {
		src := cfg.Sources[name]
		adapter, err := source.FromConfig(name, src)
		if err != nil {
			slog.Error("failed to build source adapter", "source", name, "error", err)
			os.Exit(1)
		}
		adapters = append(adapters, adapter)
		limits[name] = src.Quota
		if src.Timeout > 0 {
			timeouts[name] = src.Timeout
		}
	}

	tracker := quota.NewTracker(limits)
	breakers := resilience.NewBreakerGroup(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    cfg.Breaker.FailureWindow,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	})
	orchestrator := fetch.New(fetch.Config{
		Workers:        cfg.Orchestrator.Workers,
		Deadline:       cfg.Orchestrator.Deadline,
		SourceTimeouts: timeouts,
	}, tracker, breakers)
	registry := symbols.NewRegistry(redisClient, cfg.Redis.SymbolsKey)
	coordinator := run.New(adapters, orchestrator, articleStore, registry, articleProducer, emitter, prom)

	trigger := newRunTrigger(coordinator, breakers, prom, cfg.EnabledSources())

	scheduler := cron.New()
	if cfg.Scheduler.Enabled {
		if _, err := scheduler.AddFunc(cfg.Scheduler.RunSpec, func() {
			if _, err := trigger.Run(ctx); err != nil {
				slog.Error("scheduled ingestion run did not complete", "error", err)
			}
		}); err != nil {
			slog.Error("invalid run schedule", "spec", cfg.Scheduler.RunSpec, "error", err)
			os.Exit(1)
		}
		if _, err := scheduler.AddFunc(cfg.Scheduler.ExpirySpec, func() {
			deleted, err := articleStore.DeleteExpired(ctx)
			if err != nil {
				slog.Error("retention sweep failed", "error", err)
				return
			}
			if deleted > 0 {
				prom.ArticlesExpiredTotal.Add(float64(deleted))
				slog.Info("retention sweep removed expired articles", "deleted", deleted)
			}
		}); err != nil {
			slog.Error("invalid expiry schedule", "spec", cfg.Scheduler.ExpirySpec, "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
		slog.Info("scheduler started",
			"run_spec", cfg.Scheduler.RunSpec,
			"expiry_spec", cfg.Scheduler.ExpirySpec,
		)
	}

	checker := health.NewChecker()
	checker.Register("postgres", pingCheck(db.Ping))
	checker.Register("redis", pingCheck(redisClient.Ping))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/runs", trigger.Handler(ctx))
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	handler := middleware.Metrics(prom)(middleware.Timeout(cfg.Server.WriteTimeout)(mux))
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
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
	}()

	slog.Info("ingestion daemon listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("ingestion daemon stopped")
}

// runTrigger serialises run invocations: the scheduler and the HTTP API share
// one entry point, and a second trigger while a run is active is rejected
// rather than queued.
type runTrigger struct {
	mu          sync.Mutex
	coordinator *run.Coordinator
	breakers    *resilience.BreakerGroup
	prom        *metrics.Metrics
	sources     []string
}

func newRunTrigger(c *run.Coordinator, b *resilience.BreakerGroup, m *metrics.Metrics, sources []string) *runTrigger {
	return &runTrigger{coordinator: c, breakers: b, prom: m, sources: sources}
}

func (t *runTrigger) Run(ctx context.Context) (*run.Summary, error) {
	if !t.mu.TryLock() {
		return nil, apperrors.ErrRunInProgress
	}
	defer t.mu.Unlock()
	summary, err := t.coordinator.Run(ctx)
	for _, name := range t.sources {
		t.prom.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(t.breakers.StateOf(name)))
	}
	return summary, err
}

// Handler triggers a run in the background and returns 202 immediately; runs
// can outlive the HTTP write timeout. The run's outcome lands in the logs and
// the metrics topic.
func (t *runTrigger) Handler(daemonCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !t.mu.TryLock() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(apperrors.HTTPStatusCode(apperrors.ErrRunInProgress))
			json.NewEncoder(w).Encode(map[string]string{"error": apperrors.ErrRunInProgress.Error()})
			return
		}
		go func() {
			defer t.mu.Unlock()
			summary, err := t.coordinator.Run(daemonCtx)
			for _, name := range t.sources {
				t.prom.CircuitBreakerState.WithLabelValues(name).Set(breakerGauge(t.breakers.StateOf(name)))
			}
			if err != nil {
				slog.Error("triggered ingestion run did not complete", "error", err)
				return
			}
			slog.Info("triggered ingestion run finished",
				"run_id", summary.RunID,
				"articles_stored", summary.Metrics.ArticlesStored,
			)
		}()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
	}
}

func breakerGauge(s resilience.State) float64 {
	switch s {
	case resilience.StateOpen:
		return 1
	case resilience.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

func pingCheck(ping func(ctx context.Context) error) health.Check {
	return func(ctx context.Context) health.ComponentHealth {
		if err := ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDown, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	}
}
