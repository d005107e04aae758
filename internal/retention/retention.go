// Package retention implements the Retention Loop (C9): a cron-scheduled
// sweep that deletes terminal events older than a configured cutoff, in
// bounded batches so a large backlog can't hold a lock or a transaction open
// for an unbounded amount of time.
package retention

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// maxIterationsPerRun caps a single cleanup run so a pathological
	// backlog can't loop forever; the batch-until-short-return condition
	// below is expected to terminate long before this is hit in practice.
	maxIterationsPerRun = 1000
	interBatchPause      = 100 * time.Millisecond
)

// Store is the narrow slice of repository.EventStore the loop needs.
type Store interface {
	DeleteTerminalBatch(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// Config tunes retention behavior.
type Config struct {
	RetentionPeriod time.Duration
	BatchSize       int
	CronSchedule    string
}

func DefaultConfig() Config {
	return Config{
		RetentionPeriod: 7 * 24 * time.Hour,
		BatchSize:       10_000,
		CronSchedule:    "0 0 2 * * *",
	}
}

// Loop runs Cleanup on Config.CronSchedule via robfig/cron.
type Loop struct {
	store  Store
	config Config
	logger *slog.Logger
	cron   *cron.Cron
}

func New(store Store, config Config, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		store:  store,
		config: config,
		logger: logger,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// Start schedules Cleanup and begins running it in the background. Stop
// must be called to release the cron scheduler's goroutine.
func (l *Loop) Start(ctx context.Context) error {
	_, err := l.cron.AddFunc(l.config.CronSchedule, func() {
		l.Cleanup(ctx, l.config.RetentionPeriod)
	})
	if err != nil {
		return err
	}
	l.cron.Start()
	return nil
}

func (l *Loop) Stop() {
	<-l.cron.Stop().Done()
}

// Cleanup deletes terminal events older than now-retentionPeriod, looping
// DeleteTerminalBatch until a call returns fewer rows than the configured
// batch size (meaning the backlog is exhausted) or the iteration cap is hit.
// A short pause between full batches gives the database room to breathe
// under a large backlog.
func (l *Loop) Cleanup(ctx context.Context, retentionPeriod time.Duration) int64 {
	cutoff := time.Now().Add(-retentionPeriod)
	var total int64

	for i := 0; i < maxIterationsPerRun; i++ {
		deleted, err := l.store.DeleteTerminalBatch(ctx, cutoff, l.config.BatchSize)
		if err != nil {
			l.logger.Error("retention batch delete failed", "error", err)
			return total
		}
		total += deleted
		if deleted < int64(l.config.BatchSize) {
			break
		}

		select {
		case <-ctx.Done():
			return total
		case <-time.After(interBatchPause):
		}
	}

	if total > 0 {
		l.logger.Info("retention cleanup completed", "deleted", total, "cutoff", cutoff)
	}
	return total
}

// ManualCleanup runs the same batching primitive for an operator-supplied
// retention window, without the iteration cap: an explicit manual run is
// expected to run to completion rather than bail out early.
func (l *Loop) ManualCleanup(ctx context.Context, retentionPeriod time.Duration) int64 {
	cutoff := time.Now().Add(-retentionPeriod)
	var total int64

	for {
		deleted, err := l.store.DeleteTerminalBatch(ctx, cutoff, l.config.BatchSize)
		if err != nil {
			l.logger.Error("manual cleanup batch delete failed", "error", err)
			return total
		}
		total += deleted
		if deleted < int64(l.config.BatchSize) {
			return total
		}

		select {
		case <-ctx.Done():
			return total
		case <-time.After(interBatchPause):
		}
	}
}

// Stats reports the parameters the next Cleanup run would use. This is
// descriptive, not a live count query, matching what the cleanup stats
// endpoint in the source this generalizes actually returns.
type Stats struct {
	RetentionPeriod time.Duration `json:"retention_period"`
	BatchSize       int           `json:"batch_size"`
	Cutoff          time.Time     `json:"cutoff"`
}

func (l *Loop) GetStats() Stats {
	return Stats{
		RetentionPeriod: l.config.RetentionPeriod,
		BatchSize:       l.config.BatchSize,
		Cutoff:          time.Now().Add(-l.config.RetentionPeriod),
	}
}
