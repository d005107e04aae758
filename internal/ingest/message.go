// Package ingest implements the Ingestion Buffer (C2): a durable queue that
// decouples event submission from persistence so a burst of submissions
// never blocks on the store of record.
package ingest

import (
	"encoding/json"
	"time"

	"github.com/relaydock/orbit/internal/domain"
)

// Message is the wire format carried on the ingestion topic. It mirrors the
// subset of domain.Event fields a submitter controls; the rest is filled in by
// ToEvent (the Persister supplies a fresh ID, ToEvent sets PENDING status, the
// timestamps and the partition key).
type Message struct {
	MessageID     string          `json:"message_id"`
	ExternalJobID string          `json:"external_job_id"`
	Source        string          `json:"source"`
	ScheduledAt   time.Time       `json:"scheduled_at"`
	DeliveryType  domain.DeliveryType `json:"delivery_type"`
	Destination   string          `json:"destination"`
	Payload       json.RawMessage `json:"payload"`
	MaxRetries    int             `json:"max_retries"`
}

// ToEvent builds the PENDING domain.Event this message will become once
// persisted. The event's own ID is independent of MessageID: MessageID
// identifies the ingestion-topic record for Kafka-level tracing, ID is the
// durable row's identity.
func (m *Message) ToEvent(id string, now time.Time) *domain.Event {
	return &domain.Event{
		ID:            id,
		ExternalJobID: m.ExternalJobID,
		Source:        m.Source,
		ScheduledAt:   m.ScheduledAt,
		DeliveryType:  m.DeliveryType,
		Destination:   m.Destination,
		Payload:       m.Payload,
		Status:        domain.EventStatusPending,
		MaxRetries:    m.MaxRetries,
		CreatedAt:     now,
		UpdatedAt:     now,
		PartitionKey:  domain.PartitionKeyFor(m.ScheduledAt),
	}
}

// PartitionKey is the Kafka partition key for this message: source and
// external job ID joined, matching KafkaProducerService's partitioning so
// that all attempts for the same job land on the same partition and are
// processed in submission order.
func (m *Message) PartitionKey() string {
	return m.Source + ":" + m.ExternalJobID
}

// DLQEnvelope is what gets published to the dead-letter topic when a message
// cannot be persisted and cannot be retried in place.
type DLQEnvelope struct {
	OriginalMessage Message `json:"original_message"`
	Error           string  `json:"error"`
}
