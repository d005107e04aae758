// ingestd runs the ingestion side of the pipeline: it consumes submitted
// events off the ingestion buffer, deduplicates them, and persists the
// survivors to the durable store (or the dead-letter topic when the insert
// fails; malformed records are logged and dropped). It owns no lease poller and no HTTP admin surface — that's
// orbitd's job — so it can be scaled independently of delivery throughput.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydock/orbit/internal/config"
	"github.com/relaydock/orbit/internal/dedup"
	"github.com/relaydock/orbit/internal/ingest"
	"github.com/relaydock/orbit/internal/persist"
	"github.com/relaydock/orbit/internal/repository/postgres"
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

	checker := dedup.NewChecker(eventRepo, cfg.DedupLRUSize)

	dlq := ingest.NewDLQProducer(cfg.KafkaBrokers, cfg.DLQTopic)
	defer func() { _ = dlq.Close() }()

	persister := persist.New(eventRepo, checker, dlq, logger)

	consumerCfg := ingest.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.KafkaBrokers
	consumerCfg.Topic = cfg.IngestionTopic
	consumerCfg.GroupID = cfg.ConsumerGroup

	consumer := ingest.NewConsumer(consumerCfg, persister, logger)

	consumer.Start(ctx)
	logger.Info("ingestion consumer started", "topic", cfg.IngestionTopic, "group", cfg.ConsumerGroup)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down...")

	if err := consumer.Stop(); err != nil {
		logger.Error("consumer shutdown error", "error", err)
	}

	stats := consumer.Stats()
	logger.Info("final ingestion stats", "messages", stats.Messages, "bytes", stats.Bytes, "errors", stats.Errors, "lag", stats.Lag)

	cancel()
	logger.Info("shutdown complete")
}
