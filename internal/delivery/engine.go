// Package delivery implements the Delivery Engine (C6) and Outcome Writer
// (C7): a single dispatch attempt per claimed event, classified into a
// discriminated result, and written back to the store under the claiming
// worker's lease.
package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/relaydock/orbit/internal/domain"
	"github.com/relaydock/orbit/internal/observability"
	"github.com/relaydock/orbit/internal/resilience"
)

// retriableStatusCodes mirrors RETRIABLE_STATUS_CODES from the source this
// classification generalizes: anything else in the 4xx/5xx range is
// terminal — notably 400/401/403/404/422 are never retried.
var retriableStatusCodes = map[int]bool{
	408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

// Outcome discriminates what happened on a single delivery attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetriable
	OutcomeTerminal
)

// Result is the discriminated outcome of one delivery attempt.
type Result struct {
	Outcome Outcome
	Err     error
}

// BrokerProducer is the narrow interface the broker delivery path needs; the
// caller owns the underlying Kafka writer's lifecycle.
type BrokerProducer interface {
	ProduceTo(ctx context.Context, topic, key string, payload []byte) error
}

// Config tunes the HTTP delivery path.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    30 * time.Second,
	}
}

// Engine performs exactly one delivery attempt per call — no retries, no
// backoff, no fan-out. Retry is entirely the Lease Poller's job, effected by
// the Outcome Writer returning a retriable event to PENDING for a future
// poll tick to reclaim.
type Engine struct {
	httpClient     *http.Client
	broker         BrokerProducer
	rateLimiter    resilience.RateLimiter
	circuitBreaker resilience.CircuitBreaker
	rateLimit      int
	metrics        *observability.Metrics
	logger         *slog.Logger
}

func NewEngine(config Config, broker BrokerProducer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		httpClient: &http.Client{
			Timeout: config.ReadTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: config.ConnectTimeout}).DialContext,
			},
		},
		broker:    broker,
		rateLimit: 100,
		logger:    logger,
	}
}

// WithResilience wires per-destination rate limiting and circuit breaking.
// Keys are the event's Destination string directly — there is no
// subscription indirection to key on in this model, so the destination
// itself is the isolation unit.
func (e *Engine) WithResilience(limiter resilience.RateLimiter, breaker resilience.CircuitBreaker, rateLimit int) *Engine {
	e.rateLimiter = limiter
	e.circuitBreaker = breaker
	if rateLimit > 0 {
		e.rateLimit = rateLimit
	}
	return e
}

// WithMetrics wires Prometheus observability into the engine's delivery path.
func (e *Engine) WithMetrics(metrics *observability.Metrics) *Engine {
	e.metrics = metrics
	return e
}

// ErrRateLimited and ErrCircuitOpen signal backpressure rather than a real
// delivery failure: the Outcome Writer treats both as retriable without
// charging the event's retry budget, since the destination was never
// actually attempted.
var (
	ErrRateLimited = errors.New("rate limited")
	ErrCircuitOpen = errors.New("circuit open")
)

// Attempt performs one delivery attempt for event, routed by its
// DeliveryType.
func (e *Engine) Attempt(ctx context.Context, event *domain.Event) Result {
	if e.rateLimiter != nil {
		allowed, err := e.rateLimiter.Allow(ctx, event.Destination, e.rateLimit)
		if err == nil && !allowed {
			e.recordThrottle(e.metrics, func(m *observability.Metrics) {
				m.RateLimiterRejections.WithLabelValues(event.Destination).Inc()
			})
			return Result{Outcome: OutcomeRetriable, Err: ErrRateLimited}
		}
	}
	if e.circuitBreaker != nil {
		allowed, err := e.circuitBreaker.Allow(ctx, event.Destination)
		if err == nil && !allowed {
			e.recordThrottle(e.metrics, func(m *observability.Metrics) {
				m.CircuitBreakerTrips.WithLabelValues(event.Destination).Inc()
			})
			return Result{Outcome: OutcomeRetriable, Err: ErrCircuitOpen}
		}
	}

	start := time.Now()
	var result Result
	switch event.DeliveryType {
	case domain.DeliveryTypeHTTP:
		result = e.deliverHTTP(ctx, event)
	case domain.DeliveryTypeBroker:
		result = e.deliverBroker(ctx, event)
	default:
		result = Result{Outcome: OutcomeTerminal, Err: fmt.Errorf("unknown delivery type %q", event.DeliveryType)}
	}
	if e.metrics != nil {
		e.metrics.DeliveryAttempts.Inc()
		e.metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	}

	if e.circuitBreaker != nil {
		if result.Outcome == OutcomeSuccess {
			_ = e.circuitBreaker.RecordSuccess(ctx, event.Destination)
		} else {
			_ = e.circuitBreaker.RecordFailure(ctx, event.Destination)
		}
		if e.metrics != nil {
			if state, err := e.circuitBreaker.State(ctx, event.Destination); err == nil {
				e.metrics.CircuitBreakerState.WithLabelValues(event.Destination).Set(circuitStateValue(state))
			}
		}
	}
	return result
}

// recordThrottle increments m.EventsThrottled alongside whichever
// rate-limiter/circuit-breaker-specific counter fn bumps, when metrics are
// wired.
func (e *Engine) recordThrottle(m *observability.Metrics, fn func(*observability.Metrics)) {
	if m == nil {
		return
	}
	m.EventsThrottled.Inc()
	fn(m)
}

func circuitStateValue(state resilience.CircuitState) float64 {
	switch state {
	case resilience.CircuitStateClosed:
		return 0
	case resilience.CircuitStateHalfOpen:
		return 1
	case resilience.CircuitStateOpen:
		return 2
	default:
		return 0
	}
}

func (e *Engine) deliverHTTP(ctx context.Context, event *domain.Event) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, event.Destination, bytes.NewReader(event.Payload))
	if err != nil {
		return Result{Outcome: OutcomeTerminal, Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Orbit-Event-Id", event.ID)
	req.Header.Set("X-Orbit-External-Job-Id", event.ExternalJobID)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Result{Outcome: OutcomeRetriable, Err: fmt.Errorf("http request: %w", err)}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Outcome: OutcomeSuccess}
	}

	err = fmt.Errorf("destination returned status %d", resp.StatusCode)
	if retriableStatusCodes[resp.StatusCode] {
		return Result{Outcome: OutcomeRetriable, Err: err}
	}
	return Result{Outcome: OutcomeTerminal, Err: err}
}

// deliverBroker produces the event's payload to its destination topic,
// keyed by external job ID so ordering per job is preserved on the
// destination side too. Any produce failure is retriable: unlike HTTP there
// is no terminal status code from a broker write, only transient ones.
func (e *Engine) deliverBroker(ctx context.Context, event *domain.Event) Result {
	if e.broker == nil {
		return Result{Outcome: OutcomeTerminal, Err: errors.New("no broker producer configured")}
	}
	if err := e.broker.ProduceTo(ctx, event.Destination, event.ExternalJobID, event.Payload); err != nil {
		return Result{Outcome: OutcomeRetriable, Err: fmt.Errorf("produce to %s: %w", event.Destination, err)}
	}
	return Result{Outcome: OutcomeSuccess}
}
