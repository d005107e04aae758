package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// DLQProducer publishes messages the Persister could not place, because their
// insert failed for a reason other than a duplicate key, to the dead-letter
// topic. The Persister does not retry the insert first. Keyed by source
// so a single misbehaving submitter's dead letters land together.
type DLQProducer struct {
	writer *kafka.Writer
}

func NewDLQProducer(brokers []string, topic string) *DLQProducer {
	return &DLQProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *DLQProducer) Send(ctx context.Context, msg *Message, errMsg string) error {
	envelope := DLQEnvelope{OriginalMessage: *msg, Error: errMsg}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal dlq envelope: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Source),
		Value: data,
	})
}

func (p *DLQProducer) Close() error {
	return p.writer.Close()
}
