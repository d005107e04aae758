package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/relaydock/orbit/internal/domain"
	"github.com/relaydock/orbit/internal/ingest"
	"github.com/relaydock/orbit/internal/retention"
)

type mockPublisher struct {
	published []*ingest.Message
	err       error
}

func (m *mockPublisher) Publish(ctx context.Context, msg *ingest.Message) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, msg)
	return nil
}

func (m *mockPublisher) PublishBatch(ctx context.Context, msgs []*ingest.Message) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, msgs...)
	return nil
}

type mockStore struct {
	events    map[string]*domain.Event
	byExtJob  map[string][]*domain.Event
	cancelled map[string]bool
}

func newMockStore() *mockStore {
	return &mockStore{
		events:    make(map[string]*domain.Event),
		byExtJob:  make(map[string][]*domain.Event),
		cancelled: make(map[string]bool),
	}
}

func (m *mockStore) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	if e, ok := m.events[id]; ok {
		return e, nil
	}
	return nil, domain.ErrNotFound
}

func (m *mockStore) GetByExternalJobID(ctx context.Context, externalJobID string) (*domain.Event, error) {
	evs := m.byExtJob[externalJobID]
	if len(evs) == 0 {
		return nil, domain.ErrNotFound
	}
	return evs[0], nil
}

func (m *mockStore) ListByExternalJobID(ctx context.Context, externalJobID string) ([]*domain.Event, error) {
	return m.byExtJob[externalJobID], nil
}

func (m *mockStore) CancelByID(ctx context.Context, id string, now time.Time) error {
	e, ok := m.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.Status != domain.EventStatusPending {
		return domain.ErrInvalidState
	}
	e.Status = domain.EventStatusCancelled
	m.cancelled[id] = true
	return nil
}

func (m *mockStore) CancelByExternalJobID(ctx context.Context, externalJobID string, now time.Time) (int64, error) {
	var n int64
	for _, e := range m.byExtJob[externalJobID] {
		if e.Status == domain.EventStatusPending {
			e.Status = domain.EventStatusCancelled
			n++
		}
	}
	return n, nil
}

func (m *mockStore) Statistics(ctx context.Context) (map[domain.EventStatus]int64, error) {
	stats := make(map[domain.EventStatus]int64)
	for _, e := range m.events {
		stats[e.Status]++
	}
	return stats, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

func testRetentionLoop() *retention.Loop {
	return retention.New(noopRetentionStore{}, retention.DefaultConfig(), testLogger())
}

type noopRetentionStore struct{}

func (noopRetentionStore) DeleteTerminalBatch(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	return 0, nil
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Route("/api/v1/events", func(r chi.Router) {
		r.Post("/", h.Submit)
		r.Post("/batch", h.SubmitBatch)
		r.Get("/statistics", h.Statistics)
		r.Get("/{id}", h.GetByID)
		r.Delete("/{id}", h.CancelByID)
		r.Get("/external/{externalJobID}", h.GetByExternalJobID)
		r.Get("/external/{externalJobID}/all", h.ListByExternalJobID)
		r.Delete("/external/{externalJobID}", h.CancelByExternalJobID)
	})
	return r
}

func validSubmitBody() string {
	scheduled := time.Now().Add(time.Hour).Format(time.RFC3339)
	return `{"external_job_id":"job-1","source":"orders","scheduled_at":"` + scheduled +
		`","delivery_type":"HTTP","destination":"https://example.test/hook","payload":{"foo":"bar"}}`
}

func TestHandler_Submit(t *testing.T) {
	publisher := &mockPublisher{}
	handler := NewHandler(publisher, newMockStore(), testRetentionLoop(), 3, testLogger())
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/", bytes.NewBufferString(validSubmitBody()))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(publisher.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(publisher.published))
	}
	if publisher.published[0].ExternalJobID != "job-1" {
		t.Errorf("unexpected external_job_id: %s", publisher.published[0].ExternalJobID)
	}
}

func TestHandler_Submit_RejectsPastSchedule(t *testing.T) {
	publisher := &mockPublisher{}
	handler := NewHandler(publisher, newMockStore(), testRetentionLoop(), 3, testLogger())
	router := newTestRouter(handler)

	body := `{"external_job_id":"job-1","source":"orders","scheduled_at":"2020-01-01T00:00:00Z","delivery_type":"HTTP","destination":"https://example.test/hook","payload":{}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_Submit_RejectsMalformedDestination(t *testing.T) {
	publisher := &mockPublisher{}
	handler := NewHandler(publisher, newMockStore(), testRetentionLoop(), 3, testLogger())
	router := newTestRouter(handler)

	scheduled := time.Now().Add(time.Hour).Format(time.RFC3339)
	body := `{"external_job_id":"job-1","source":"orders","scheduled_at":"` + scheduled +
		`","delivery_type":"HTTP","destination":"not-a-url","payload":{}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandler_SubmitBatch_RejectsOverLimit(t *testing.T) {
	publisher := &mockPublisher{}
	handler := NewHandler(publisher, newMockStore(), testRetentionLoop(), 3, testLogger())
	router := newTestRouter(handler)

	reqs := make([]string, maxBatchSubmit+1)
	for i := range reqs {
		reqs[i] = validSubmitBody()
	}
	body := "[" + joinJSON(reqs) + "]"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events/batch", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func joinJSON(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ","
		}
		out += item
	}
	return out
}

func TestHandler_GetByID(t *testing.T) {
	store := newMockStore()
	store.events["evt-1"] = &domain.Event{ID: "evt-1", Status: domain.EventStatusPending, CreatedAt: time.Now()}
	handler := NewHandler(&mockPublisher{}, store, testRetentionLoop(), 3, testLogger())
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/evt-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp domain.Event
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if resp.ID != "evt-1" {
		t.Errorf("expected id evt-1, got %s", resp.ID)
	}
}

func TestHandler_GetByID_NotFound(t *testing.T) {
	handler := NewHandler(&mockPublisher{}, newMockStore(), testRetentionLoop(), 3, testLogger())
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/nonexistent", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_CancelByID_InvalidState(t *testing.T) {
	store := newMockStore()
	store.events["evt-2"] = &domain.Event{ID: "evt-2", Status: domain.EventStatusProcessing}
	handler := NewHandler(&mockPublisher{}, store, testRetentionLoop(), 3, testLogger())
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/events/evt-2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_CancelByID_Success(t *testing.T) {
	store := newMockStore()
	store.events["evt-3"] = &domain.Event{ID: "evt-3", Status: domain.EventStatusPending}
	handler := NewHandler(&mockPublisher{}, store, testRetentionLoop(), 3, testLogger())
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/events/evt-3", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if !store.cancelled["evt-3"] {
		t.Error("expected event to be marked cancelled")
	}
}

func TestHandler_Statistics(t *testing.T) {
	store := newMockStore()
	store.events["evt-4"] = &domain.Event{ID: "evt-4", Status: domain.EventStatusCompleted}
	store.events["evt-5"] = &domain.Event{ID: "evt-5", Status: domain.EventStatusCompleted}
	handler := NewHandler(&mockPublisher{}, store, testRetentionLoop(), 3, testLogger())
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/statistics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var stats map[domain.EventStatus]int64
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if stats[domain.EventStatusCompleted] != 2 {
		t.Errorf("expected 2 completed, got %d", stats[domain.EventStatusCompleted])
	}
}

func TestHandler_Health(t *testing.T) {
	handler := NewHandler(&mockPublisher{}, newMockStore(), testRetentionLoop(), 3, testLogger())
	router := newTestRouter(handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
