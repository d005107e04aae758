package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// ConsumerConfig configures the ingestion-topic reader.
type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	GroupID       string
	BatchSize     int
	BatchTimeout  time.Duration
	CommitTimeout time.Duration
}

func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		BatchSize:     100,
		BatchTimeout:  500 * time.Millisecond,
		CommitTimeout: 5 * time.Second,
	}
}

// BatchProcessor is what the Persister implements. ProcessBatch must drive
// every message in the batch to a terminal outcome — persisted, suppressed
// as a duplicate, or routed to the dead-letter topic — before returning. It
// returns a non-nil error only when one or more messages could not reach any
// of those outcomes (a catastrophic DLQ-produce failure): that is the one
// case where the batch must NOT be acknowledged, so the broker redelivers it.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, messages []*Message) error
}

// Consumer reads the ingestion topic and hands batches to a BatchProcessor,
// committing offsets only when the batch was fully handled. Unlike a
// fire-and-forget consumer, it never acknowledges a batch it couldn't fully
// place, so an unresolved message is redelivered rather than lost.
type Consumer struct {
	reader    *kafka.Reader
	processor BatchProcessor
	config    ConsumerConfig
	logger    *slog.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

func NewConsumer(config ConsumerConfig, processor BatchProcessor, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        config.Brokers,
		Topic:          config.Topic,
		GroupID:        config.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commits only
		GroupBalancers: []kafka.GroupBalancer{kafka.RangeGroupBalancer{}, kafka.RoundRobinGroupBalancer{}},
		IsolationLevel: kafka.ReadCommitted,
	})
	return &Consumer{
		reader:    reader,
		processor: processor,
		config:    config,
		logger:    logger,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	go c.consumeLoop(ctx)
}

func (c *Consumer) Stop() error {
	close(c.stopCh)
	<-c.doneCh
	return c.reader.Close()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer close(c.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		kmsgs, messages, err := c.collectBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("ingestion batch collection failed", "error", err)
			continue
		}
		if len(kmsgs) == 0 {
			continue
		}

		if err := c.processor.ProcessBatch(ctx, messages); err != nil {
			c.logger.Error("ingestion batch not fully placed, withholding commit",
				"count", len(messages), "error", err)
			continue
		}

		commitCtx, cancel := context.WithTimeout(context.Background(), c.config.CommitTimeout)
		if err := c.reader.CommitMessages(commitCtx, kmsgs...); err != nil {
			c.logger.Error("commit failed", "error", err)
		}
		cancel()
	}
}

// collectBatch polls until config.BatchSize raw messages are collected or
// config.BatchTimeout elapses, whichever comes first. A message that fails
// to unmarshal is logged and dropped from the batch but still committed —
// a malformed record can never become valid by redelivery.
func (c *Consumer) collectBatch(ctx context.Context) ([]kafka.Message, []*Message, error) {
	deadline := time.Now().Add(c.config.BatchTimeout)
	var kmsgs []kafka.Message
	var messages []*Message

	for len(kmsgs) < c.config.BatchSize && time.Now().Before(deadline) {
		fetchCtx, cancel := context.WithDeadline(ctx, deadline)
		km, err := c.reader.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			if len(kmsgs) > 0 {
				return kmsgs, messages, nil
			}
			return nil, nil, err
		}

		var m Message
		if err := json.Unmarshal(km.Value, &m); err != nil {
			c.logger.Error("malformed ingestion message, committing without processing",
				"offset", km.Offset, "error", err)
			commitCtx, cancel := context.WithTimeout(context.Background(), c.config.CommitTimeout)
			_ = c.reader.CommitMessages(commitCtx, km)
			cancel()
			continue
		}

		kmsgs = append(kmsgs, km)
		messages = append(messages, &m)
	}
	return kmsgs, messages, nil
}

func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}
