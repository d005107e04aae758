package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relaydock/orbit/internal/domain"
	"github.com/relaydock/orbit/internal/observability"
)

// Store is the narrow slice of repository.EventStore the Outcome Writer
// needs.
type Store interface {
	Complete(ctx context.Context, id, workerID string, now time.Time) error
	FailRetriable(ctx context.Context, id, workerID string, now time.Time, errMsg string) error
	FailTerminal(ctx context.Context, id, workerID string, now time.Time, errMsg string) error
	RescheduleUnclaim(ctx context.Context, id string, now time.Time) error
}

// Writer resolves a delivery Result into a store write. It is the only
// place in the system that decides pending-vs-dead-letter: the Engine
// classifies, the Writer acts on the classification and the event's own
// retry budget.
type Writer struct {
	store   Store
	clock   func() time.Time
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewWriter(store Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{store: store, clock: time.Now, logger: logger}
}

// WithMetrics wires Prometheus observability into the outcome writer.
func (w *Writer) WithMetrics(metrics *observability.Metrics) *Writer {
	w.metrics = metrics
	return w
}

// Resolve writes back the outcome of one delivery attempt for event, which
// was claimed under workerID. A lost lease (the store returns
// domain.ErrNotFound because locked_by no longer matches workerID) is logged
// and swallowed rather than retried or escalated: another worker already
// reclaimed this event and will write its own outcome.
func (w *Writer) Resolve(ctx context.Context, event *domain.Event, workerID string, result Result) {
	now := w.clock()

	var err error
	switch {
	case result.Outcome == OutcomeSuccess:
		err = w.store.Complete(ctx, event.ID, workerID, now)
		if err == nil && w.metrics != nil {
			w.metrics.EventsDelivered.Inc()
		}
	case errors.Is(result.Err, ErrRateLimited) || errors.Is(result.Err, ErrCircuitOpen):
		// Backpressure, not a delivery failure: the destination was never
		// attempted, so this re-queues for the next poll tick without
		// touching retry_count or last_error.
		err = w.store.RescheduleUnclaim(ctx, event.ID, now)
	case result.Outcome == OutcomeRetriable && event.CanRetry():
		err = w.store.FailRetriable(ctx, event.ID, workerID, now, errString(result.Err))
		if err == nil && w.metrics != nil {
			w.metrics.EventsRetrying.Inc()
		}
	default:
		// Either a terminal classification, or a retriable one that has
		// exhausted the event's retry budget: both land in dead_letter.
		err = w.store.FailTerminal(ctx, event.ID, workerID, now, errString(result.Err))
		if err == nil && w.metrics != nil {
			w.metrics.EventsFailed.Inc()
		}
	}

	if err == nil {
		return
	}
	if errors.Is(err, domain.ErrNotFound) {
		w.logger.Warn("lease reclaimed before outcome could be written",
			"event_id", event.ID, "worker_id", workerID)
		return
	}
	w.logger.Error("failed to write delivery outcome",
		"event_id", event.ID, "worker_id", workerID, "error", err)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Dispatcher wires the Engine and Writer together to satisfy
// poller.Dispatcher: one attempt, one outcome write, per claimed event.
type Dispatcher struct {
	engine *Engine
	writer *Writer
}

func NewDispatcher(engine *Engine, writer *Writer) *Dispatcher {
	return &Dispatcher{engine: engine, writer: writer}
}

func (d *Dispatcher) Dispatch(ctx context.Context, event *domain.Event, workerID string) {
	result := func() (res Result) {
		defer func() {
			if r := recover(); r != nil {
				res = Result{Outcome: OutcomeRetriable, Err: fmt.Errorf("delivery panic: %v", r)}
			}
		}()
		return d.engine.Attempt(ctx, event)
	}()
	d.writer.Resolve(ctx, event, workerID, result)
}
