// orbitd runs the core of the scheduled-event orchestrator: the REST admin
// surface, the Lease Poller, the Delivery Engine and Outcome Writer, and the
// Recovery and Retention loops. It owns no Kafka consumer group — ingestion
// is ingestd's job — but it does publish to the ingestion buffer on behalf
// of the Submit API, and it owns the partition-horizon maintenance job.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/relaydock/orbit/internal/api"
	"github.com/relaydock/orbit/internal/config"
	"github.com/relaydock/orbit/internal/delivery"
	"github.com/relaydock/orbit/internal/ingest"
	"github.com/relaydock/orbit/internal/observability"
	"github.com/relaydock/orbit/internal/poller"
	"github.com/relaydock/orbit/internal/recovery"
	"github.com/relaydock/orbit/internal/repository/postgres"
	"github.com/relaydock/orbit/internal/resilience"
	"github.com/relaydock/orbit/internal/retention"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration error", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	logger.Info("connected to database")

	if _, err := pool.Exec(ctx, postgres.Schema); err != nil {
		logger.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}

	eventRepo := postgres.NewEventRepository(pool).WithBatcher(postgres.DefaultBatcherConfig())
	defer func() { _ = eventRepo.Shutdown(context.Background()) }()

	partitionMgr := postgres.NewPartitionManager(pool, logger)
	if err := partitionMgr.EnsureHorizon(ctx, time.Now()); err != nil {
		logger.Error("failed to bootstrap partition horizon", "error", err)
		os.Exit(1)
	}
	go partitionMgr.Run(ctx, 6*time.Hour)

	var rateLimiter resilience.RateLimiter
	var circuitBreaker resilience.CircuitBreaker
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err == nil {
			client := redis.NewClient(opt)
			if err := client.Ping(ctx).Err(); err == nil {
				logger.Info("connected to redis", "url", cfg.RedisURL)
				rateLimiter = resilience.NewRedisRateLimiter(client, resilience.DefaultRedisRateLimiterConfig(), logger)
				circuitBreaker = resilience.NewRedisCircuitBreaker(client, resilience.DefaultRedisCircuitBreakerConfig(), logger)
			} else {
				logger.Warn("redis unavailable, using in-memory resilience", "error", err)
			}
		}
	}
	if rateLimiter == nil {
		rateLimiter = resilience.NewInMemoryRateLimiterAdapter(resilience.DefaultRateLimiterConfig())
		circuitBreaker = resilience.NewInMemoryCircuitBreakerAdapter(resilience.DefaultCircuitBreakerConfig())
	}

	brokerProducer := delivery.NewKafkaBrokerProducer(cfg.KafkaBrokers)
	defer func() { _ = brokerProducer.Close() }()

	metrics := observability.NewMetrics("orbit")

	engine := delivery.NewEngine(delivery.Config{
		ConnectTimeout: cfg.HTTPConnectTimeout,
		ReadTimeout:    cfg.HTTPReadTimeout,
	}, brokerProducer, logger).WithResilience(rateLimiter, circuitBreaker, 100).WithMetrics(metrics)

	writer := delivery.NewWriter(eventRepo, logger).WithMetrics(metrics)
	dispatcher := delivery.NewDispatcher(engine, writer)

	leasePoller := poller.New(eventRepo, dispatcher, poller.Config{
		PollInterval: cfg.PollInterval,
		BatchSize:    cfg.BatchSize,
		LeaseFor:     cfg.LeaseDuration,
	}, logger)
	leasePoller.Start(ctx)
	defer leasePoller.Stop()
	logger.Info("lease poller started", "worker_id", leasePoller.WorkerID())

	recoveryLoop := recovery.New(eventRepo, cfg.LeaseDuration/5, logger)
	go recoveryLoop.Run(ctx)

	retentionLoop := retention.New(eventRepo, retention.Config{
		RetentionPeriod: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		BatchSize:       cfg.CleanupBatchSize,
		CronSchedule:    cfg.CleanupCron,
	}, logger)
	if err := retentionLoop.Start(ctx); err != nil {
		logger.Error("failed to start retention loop", "error", err)
		os.Exit(1)
	}
	defer retentionLoop.Stop()

	producer := ingest.NewProducer(ingest.ProducerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.IngestionTopic,
	})
	defer func() { _ = producer.Close() }()

	healthHandler := observability.NewHealthHandler(pool)

	handler := api.NewHandler(producer, eventRepo, retentionLoop, cfg.MaxRetriesDefault, logger).WithMetrics(metrics)
	router := api.NewRouter(api.RouterConfig{
		Handler:       handler,
		HealthHandler: healthHandler,
		Metrics:       metrics,
		Logger:        logger,
	})

	healthHandler.SetReady(true)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting HTTP server", "addr", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
	cancel()

	logger.Info("shutdown complete")
}
