package delivery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/relaydock/orbit/internal/domain"
)

func httpEvent(destination string) *domain.Event {
	return &domain.Event{
		ID:            "evt-1",
		ExternalJobID: "job-1",
		Source:        "orders",
		DeliveryType:  domain.DeliveryTypeHTTP,
		Destination:   destination,
		Payload:       json.RawMessage(`{"ok":true}`),
		MaxRetries:    3,
	}
}

func TestEngine_Attempt_SuccessOn2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	engine := NewEngine(DefaultConfig(), nil, nil)
	result := engine.Attempt(context.Background(), httpEvent(srv.URL))
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %v (%v)", result.Outcome, result.Err)
	}
}

func TestEngine_Attempt_RetriableOn503(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	engine := NewEngine(DefaultConfig(), nil, nil)
	result := engine.Attempt(context.Background(), httpEvent(srv.URL))
	if result.Outcome != OutcomeRetriable {
		t.Fatalf("expected retriable, got %v", result.Outcome)
	}
}

func TestEngine_Attempt_TerminalOn404(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	engine := NewEngine(DefaultConfig(), nil, nil)
	result := engine.Attempt(context.Background(), httpEvent(srv.URL))
	if result.Outcome != OutcomeTerminal {
		t.Fatalf("expected terminal, got %v", result.Outcome)
	}
}

func TestEngine_Attempt_RetriableOnConnectionFailure(t *testing.T) {
	engine := NewEngine(DefaultConfig(), nil, nil)
	result := engine.Attempt(context.Background(), httpEvent("http://127.0.0.1:1"))
	if result.Outcome != OutcomeRetriable {
		t.Fatalf("expected retriable, got %v (%v)", result.Outcome, result.Err)
	}
}

type fakeBroker struct {
	topic, key string
	payload    []byte
	err        error
}

func (f *fakeBroker) ProduceTo(ctx context.Context, topic, key string, payload []byte) error {
	f.topic, f.key, f.payload = topic, key, payload
	return f.err
}

func TestEngine_Attempt_BrokerDelivery(t *testing.T) {
	broker := &fakeBroker{}
	engine := NewEngine(DefaultConfig(), broker, nil)

	event := &domain.Event{
		ID:            "evt-2",
		ExternalJobID: "job-2",
		DeliveryType:  domain.DeliveryTypeBroker,
		Destination:   "orders.events",
		Payload:       json.RawMessage(`{"ok":true}`),
		MaxRetries:    3,
	}
	result := engine.Attempt(context.Background(), event)
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %v (%v)", result.Outcome, result.Err)
	}
	if broker.topic != "orders.events" || broker.key != "job-2" {
		t.Fatalf("unexpected produce target: topic=%s key=%s", broker.topic, broker.key)
	}
}

func TestEngine_Attempt_BrokerProduceFailureIsRetriable(t *testing.T) {
	broker := &fakeBroker{err: context.DeadlineExceeded}
	engine := NewEngine(DefaultConfig(), broker, nil)

	event := &domain.Event{
		ID:           "evt-3",
		DeliveryType: domain.DeliveryTypeBroker,
		Destination:  "orders.events",
		Payload:      json.RawMessage(`{}`),
	}
	result := engine.Attempt(context.Background(), event)
	if result.Outcome != OutcomeRetriable {
		t.Fatalf("expected retriable, got %v", result.Outcome)
	}
}
