// Package persist implements the Persister (C4): the bridge between the
// Ingestion Buffer and the Durable Store. It is the ingest.BatchProcessor
// that drains the ingestion topic, deduplicates each message, inserts the
// novel ones, and routes anything it cannot place to the dead-letter topic.
package persist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/relaydock/orbit/internal/dedup"
	"github.com/relaydock/orbit/internal/domain"
	"github.com/relaydock/orbit/internal/ingest"
)

// EventStore is the narrow slice of repository.EventStore the Persister
// needs.
type EventStore interface {
	Insert(ctx context.Context, event *domain.Event) error
}

// DLQSender is the narrow slice of ingest.DLQProducer the Persister needs.
type DLQSender interface {
	Send(ctx context.Context, msg *ingest.Message, errMsg string) error
}

// Persister implements ingest.BatchProcessor.
type Persister struct {
	store  EventStore
	dedup  *dedup.Checker
	dlq    DLQSender
	clock  func() time.Time
	logger *slog.Logger
}

func New(store EventStore, checker *dedup.Checker, dlq DLQSender, logger *slog.Logger) *Persister {
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{store: store, dedup: checker, dlq: dlq, clock: time.Now, logger: logger}
}

// ProcessBatch persists every message that isn't a duplicate, skips messages
// that are, and sends anything that fails to insert for a non-duplicate
// reason to the dead-letter topic. It only returns an error — withholding
// the offset commit — when the dead-letter send itself fails; a message that
// was successfully DLQ'd has reached a terminal outcome and the batch is
// still safe to acknowledge.
func (p *Persister) ProcessBatch(ctx context.Context, messages []*ingest.Message) error {
	var dlqFailures []error

	for _, msg := range messages {
		if err := p.placeOne(ctx, msg); err != nil {
			dlqFailures = append(dlqFailures, err)
		}
	}

	if len(dlqFailures) > 0 {
		return fmt.Errorf("%d message(s) could not be placed: %w", len(dlqFailures), errors.Join(dlqFailures...))
	}
	return nil
}

func (p *Persister) placeOne(ctx context.Context, msg *ingest.Message) error {
	seen, err := p.dedup.Seen(ctx, msg.ExternalJobID, msg.Source, msg.ScheduledAt)
	if err != nil {
		p.logger.Warn("dedup check failed, falling through to insert",
			"external_job_id", msg.ExternalJobID, "error", err)
	} else if seen {
		p.logger.Debug("duplicate submission suppressed",
			"external_job_id", msg.ExternalJobID, "source", msg.Source)
		return nil
	}

	event := msg.ToEvent(uuid.NewString(), p.clock())
	insertErr := p.store.Insert(ctx, event)
	if insertErr == nil {
		p.dedup.Remember(msg.ExternalJobID, msg.Source, msg.ScheduledAt)
		return nil
	}
	if errors.Is(insertErr, domain.ErrDuplicate) {
		p.dedup.Remember(msg.ExternalJobID, msg.Source, msg.ScheduledAt)
		return nil
	}

	p.logger.Error("insert failed, routing to dead-letter topic",
		"external_job_id", msg.ExternalJobID, "error", insertErr)
	if dlqErr := p.dlq.Send(ctx, msg, insertErr.Error()); dlqErr != nil {
		return fmt.Errorf("dlq send for %s failed after insert error %q: %w", msg.ExternalJobID, insertErr, dlqErr)
	}
	return nil
}
