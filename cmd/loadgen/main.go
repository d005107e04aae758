// loadgen publishes synthetic event submissions directly onto the ingestion
// buffer, bypassing the HTTP API, for local load testing of the Persister
// and Lease Poller without needing an API process running.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/relaydock/orbit/internal/domain"
	"github.com/relaydock/orbit/internal/ingest"
)

func main() {
	var (
		brokers     = flag.String("brokers", "localhost:9092", "comma-separated Kafka broker list")
		topic       = flag.String("topic", "orbit.ingestion", "ingestion topic to publish to")
		count       = flag.Int("count", 100, "number of events to generate")
		prefix      = flag.String("prefix", "loadgen", "prefix for generated external_job_id values")
		sources     = flag.String("sources", "orders,payments,shipping", "comma-separated source names to rotate through")
		destination = flag.String("destination", "http://localhost:9090/webhook", "HTTP delivery destination")
		delayMin    = flag.Duration("delay-min", time.Second, "minimum delay before scheduled_at")
		delayMax    = flag.Duration("delay-max", 2*time.Minute, "maximum delay before scheduled_at")
		maxRetries  = flag.Int("max-retries", 3, "max_retries for generated events")
		broker      = flag.Bool("broker-delivery", false, "generate BROKER delivery_type events instead of HTTP")
	)
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	sourceList := strings.Split(*sources, ",")
	for i := range sourceList {
		sourceList[i] = strings.TrimSpace(sourceList[i])
	}

	producer := ingest.NewProducer(ingest.ProducerConfig{
		Brokers: strings.Split(*brokers, ","),
		Topic:   *topic,
	})
	defer func() { _ = producer.Close() }()

	ctx := context.Background()
	start := time.Now()

	msgs := make([]*ingest.Message, 0, *count)
	for i := 0; i < *count; i++ {
		source := sourceList[i%len(sourceList)]
		delay := *delayMin
		if *delayMax > *delayMin {
			delay += time.Duration(rand.Int63n(int64(*delayMax - *delayMin)))
		}

		deliveryType := domain.DeliveryTypeHTTP
		dest := *destination
		if *broker {
			deliveryType = domain.DeliveryTypeBroker
			dest = "orbit.loadgen.out"
		}

		msgs = append(msgs, &ingest.Message{
			MessageID:     uuid.NewString(),
			ExternalJobID: fmt.Sprintf("%s-%d", *prefix, i),
			Source:        source,
			ScheduledAt:   time.Now().Add(delay),
			DeliveryType:  deliveryType,
			Destination:   dest,
			Payload:       []byte(fmt.Sprintf(`{"sequence":%d,"source":%q}`, i, source)),
			MaxRetries:    *maxRetries,
		})
	}

	const publishBatchSize = 200
	for i := 0; i < len(msgs); i += publishBatchSize {
		end := i + publishBatchSize
		if end > len(msgs) {
			end = len(msgs)
		}
		if err := producer.PublishBatch(ctx, msgs[i:end]); err != nil {
			logger.Error("publish batch failed", "error", err, "offset", i)
			os.Exit(1)
		}
	}

	logger.Info("load generation complete",
		"count", len(msgs), "elapsed", time.Since(start), "topic", *topic)
}
