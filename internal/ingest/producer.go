package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// ProducerConfig configures the ingestion-topic writer.
type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
}

func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}
}

// Producer publishes submitted events onto the ingestion buffer. Writes are
// synchronous and require acknowledgment from every in-sync replica: a
// submission is durable before Publish returns, which is what lets the
// Submit API answer a client before the event has ever touched Postgres.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(config ProducerConfig) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(config.Brokers...),
			Topic:        config.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchSize:    config.BatchSize,
			BatchTimeout: config.BatchTimeout,
			Compression:  kafka.Snappy,
		},
	}
}

func (p *Producer) Publish(ctx context.Context, msg *Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.PartitionKey()),
		Value: data,
	})
}

// PublishBatch publishes many messages in one write call; each still carries
// its own partition key so job ordering per (source, external_job_id) holds.
func (p *Producer) PublishBatch(ctx context.Context, msgs []*Message) error {
	kmsgs := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message %d: %w", i, err)
		}
		kmsgs[i] = kafka.Message{Key: []byte(msg.PartitionKey()), Value: data}
	}
	return p.writer.WriteMessages(ctx, kmsgs...)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
