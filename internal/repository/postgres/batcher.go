package postgres

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydock/orbit/internal/domain"
)

// BatcherConfig configures the event batcher behavior.
type BatcherConfig struct {
	// MaxSize is the maximum number of events to batch before flushing.
	MaxSize int
	// MaxWait is the maximum time to wait before flushing a partial batch.
	MaxWait time.Duration
}

// DefaultBatcherConfig returns sensible defaults for the Persister's
// consume-and-insert path.
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{
		MaxSize: 100,
		MaxWait: 20 * time.Millisecond,
	}
}

// pendingEvent holds an event and its completion channel.
type pendingEvent struct {
	event *domain.Event
	done  chan error
}

// EventBatcher batches event inserts for improved throughput. It collects
// events and flushes them in batches, either when the batch is full or
// after a timeout, whichever comes first. Each caller blocks until its own
// event is persisted, so a duplicate key collision only ever surfaces to
// that caller as domain.ErrDuplicate, never to its batch-mates.
type EventBatcher struct {
	pool   *pgxpool.Pool
	config BatcherConfig

	mu      sync.Mutex
	pending []pendingEvent
	timer   *time.Timer

	shutdown chan struct{}
	done     chan struct{}
}

func NewEventBatcher(pool *pgxpool.Pool, config BatcherConfig) *EventBatcher {
	b := &EventBatcher{
		pool:     pool,
		config:   config,
		pending:  make([]pendingEvent, 0, config.MaxSize),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Add adds an event to the batch and blocks until it's persisted.
func (b *EventBatcher) Add(ctx context.Context, event *domain.Event) error {
	done := make(chan error, 1)

	b.mu.Lock()
	b.pending = append(b.pending, pendingEvent{event: event, done: done})
	shouldFlush := len(b.pending) >= b.config.MaxSize

	if len(b.pending) == 1 && b.timer == nil {
		b.timer = time.AfterFunc(b.config.MaxWait, func() {
			b.mu.Lock()
			b.flushLocked()
			b.mu.Unlock()
		})
	}

	if shouldFlush {
		b.flushLocked()
	}
	b.mu.Unlock()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *EventBatcher) Shutdown(ctx context.Context) error {
	close(b.shutdown)

	select {
	case <-b.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) > 0 {
		b.flushLocked()
	}
	return nil
}

func (b *EventBatcher) run() {
	defer close(b.done)
	<-b.shutdown
}

func (b *EventBatcher) flushLocked() {
	if len(b.pending) == 0 {
		return
	}
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}

	toFlush := b.pending
	b.pending = make([]pendingEvent, 0, b.config.MaxSize)

	go b.executeBatch(toFlush)
}

// executeBatch inserts each event individually rather than as one
// multi-VALUES statement: a unique-key collision on one row must not roll
// back, or misreport as failed, its batch-mates (spec §4.4: "each message
// is persisted in its own atomic unit").
func (b *EventBatcher) executeBatch(events []pendingEvent) {
	ctx := context.Background()
	for _, pe := range events {
		err := insertOne(ctx, b.pool, pe.event)
		pe.done <- err
		close(pe.done)
	}
}
