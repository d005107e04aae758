package benchmark

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relaydock/orbit/internal/domain"
	"github.com/relaydock/orbit/internal/repository/postgres"
)

// setupBenchmarkDB starts a Postgres container and applies the schema plus
// the partition horizon, returning a repository ready for inserts and
// claims. Unlike the integration tests, every benchmark in this file shares
// one container across b.N iterations: the container startup cost would
// otherwise dwarf whatever's being measured.
func setupBenchmarkDB(b *testing.B) (*postgres.EventRepository, func()) {
	b.Helper()
	ctx := context.Background()

	pgContainer, err := tcpostgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		tcpostgres.WithDatabase("orbit_bench"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		b.Fatalf("failed to start postgres: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		b.Fatalf("failed to get connection string: %v", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		b.Fatalf("failed to connect: %v", err)
	}

	if _, err := pool.Exec(ctx, postgres.Schema); err != nil {
		b.Fatalf("failed to apply schema: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := postgres.NewPartitionManager(pool, logger).EnsureHorizon(ctx, time.Now()); err != nil {
		b.Fatalf("failed to create partitions: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(context.Background())
	}
	return postgres.NewEventRepository(pool), cleanup
}

// BenchmarkEventInsertion measures sustained Insert throughput against the
// durable store: HTTP parsing and Kafka hand-off are no longer on this path
// now that the API decouples submission from persistence through the
// ingestion buffer, so this benchmark isolates the one step that used to be
// bundled with HTTP handling in the source this generalizes — the
// PostgreSQL write itself.
func BenchmarkEventInsertion(b *testing.B) {
	repo, cleanup := setupBenchmarkDB(b)
	defer cleanup()
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		event := benchmarkEvent(fmt.Sprintf("bench-insert-%d", i), time.Now().Add(time.Hour))
		if err := repo.Insert(ctx, event); err != nil {
			b.Fatalf("insert failed: %v", err)
		}
	}
}

// BenchmarkClaimDue measures the skip-locked claim path under a backlog of
// due events, the operation every running Poller calls on every tick.
func BenchmarkClaimDue(b *testing.B) {
	repo, cleanup := setupBenchmarkDB(b)
	defer cleanup()
	ctx := context.Background()

	const backlogSize = 10_000
	due := time.Now().Add(-time.Minute)
	for i := 0; i < backlogSize; i++ {
		event := benchmarkEvent(fmt.Sprintf("bench-claim-%d", i), due)
		if err := repo.Insert(ctx, event); err != nil {
			b.Fatalf("seed insert failed: %v", err)
		}
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		now := time.Now()
		if _, err := repo.ClaimDue(ctx, "bench-worker", now, now.Add(time.Minute), 200); err != nil {
			b.Fatalf("claim failed: %v", err)
		}
	}
}

func benchmarkEvent(externalJobID string, scheduledAt time.Time) *domain.Event {
	now := time.Now()
	return &domain.Event{
		ID:            uuid.NewString(),
		ExternalJobID: externalJobID,
		Source:        "benchmark",
		ScheduledAt:   scheduledAt,
		DeliveryType:  domain.DeliveryTypeHTTP,
		Destination:   "http://example.invalid/hook",
		Payload:       json.RawMessage(`{"bench":true}`),
		Status:        domain.EventStatusPending,
		MaxRetries:    3,
		CreatedAt:     now,
		UpdatedAt:     now,
		PartitionKey:  domain.PartitionKeyFor(scheduledAt),
	}
}
