package delivery

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// KafkaBrokerProducer implements BrokerProducer against an arbitrary set of
// destination topics, one writer shared across all of them: kafka-go allows
// a message to carry its own Topic when the Writer itself has none
// configured, which is exactly the "destination picked per event" shape
// BROKER delivery needs.
type KafkaBrokerProducer struct {
	writer *kafka.Writer
}

func NewKafkaBrokerProducer(brokers []string) *KafkaBrokerProducer {
	return &KafkaBrokerProducer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *KafkaBrokerProducer) ProduceTo(ctx context.Context, topic, key string, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
	})
}

func (p *KafkaBrokerProducer) Close() error {
	return p.writer.Close()
}
