package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relaydock/orbit/internal/domain"
	"github.com/relaydock/orbit/internal/ingest"
	"github.com/relaydock/orbit/internal/observability"
	"github.com/relaydock/orbit/internal/retention"
)

const maxBatchSubmit = 1000

// IngestionPublisher is the narrow slice of ingest.Producer the handler
// needs: events are accepted by writing to the buffer, not by inserting
// directly, so a submission burst never blocks on the durable store.
type IngestionPublisher interface {
	Publish(ctx context.Context, msg *ingest.Message) error
	PublishBatch(ctx context.Context, msgs []*ingest.Message) error
}

// Store is the narrow slice of repository.EventStore the read/admin side of
// the handler needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	GetByExternalJobID(ctx context.Context, externalJobID string) (*domain.Event, error)
	ListByExternalJobID(ctx context.Context, externalJobID string) ([]*domain.Event, error)
	CancelByID(ctx context.Context, id string, now time.Time) error
	CancelByExternalJobID(ctx context.Context, externalJobID string, now time.Time) (int64, error)
	Statistics(ctx context.Context) (map[domain.EventStatus]int64, error)
}

type Handler struct {
	publisher         IngestionPublisher
	store             Store
	retentionLoop     *retention.Loop
	maxRetriesDefault int
	metrics           *observability.Metrics
	logger            *slog.Logger
}

func NewHandler(publisher IngestionPublisher, store Store, retentionLoop *retention.Loop, maxRetriesDefault int, logger *slog.Logger) *Handler {
	if maxRetriesDefault <= 0 {
		maxRetriesDefault = 3
	}
	return &Handler{
		publisher:         publisher,
		store:             store,
		retentionLoop:     retentionLoop,
		maxRetriesDefault: maxRetriesDefault,
		logger:            logger,
	}
}

// WithMetrics wires Prometheus observability into the submission path.
func (h *Handler) WithMetrics(metrics *observability.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// SubmitRequest is one event submission. ScheduledAt must be in the future
// at validation time; Destination's format is checked against DeliveryType.
type SubmitRequest struct {
	ExternalJobID string              `json:"external_job_id"`
	Source        string              `json:"source"`
	ScheduledAt   time.Time           `json:"scheduled_at"`
	DeliveryType  domain.DeliveryType `json:"delivery_type"`
	Destination   string              `json:"destination"`
	Payload       json.RawMessage     `json:"payload"`
	MaxRetries    int                 `json:"max_retries,omitempty"`
}

type SubmitResponse struct {
	Accepted int `json:"accepted"`
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg := h.toMessage(&req)
	ctx := observability.ContextWithEventID(r.Context(), msg.MessageID)
	if err := h.publisher.Publish(ctx, msg); err != nil {
		observability.LoggerFromContext(ctx).Error("failed to publish submission",
			"error", err, "external_job_id", req.ExternalJobID, "event_id", observability.EventIDFromContext(ctx))
		h.respondError(w, http.StatusInternalServerError, "failed to accept submission")
		return
	}
	if h.metrics != nil {
		h.metrics.EventsReceived.Inc()
	}

	h.respondJSON(w, http.StatusAccepted, SubmitResponse{Accepted: 1})
}

func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var reqs []SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(reqs) == 0 {
		h.respondError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(reqs) > maxBatchSubmit {
		h.respondError(w, http.StatusBadRequest, "batch exceeds maximum of 1000 events")
		return
	}

	msgs := make([]*ingest.Message, 0, len(reqs))
	for i := range reqs {
		if err := h.validate(&reqs[i]); err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		msgs = append(msgs, h.toMessage(&reqs[i]))
	}

	if err := h.publisher.PublishBatch(r.Context(), msgs); err != nil {
		h.logger.Error("failed to publish batch", "error", err, "count", len(msgs))
		h.respondError(w, http.StatusInternalServerError, "failed to accept batch")
		return
	}
	if h.metrics != nil {
		h.metrics.EventsReceived.Add(float64(len(msgs)))
	}

	h.respondJSON(w, http.StatusAccepted, SubmitResponse{Accepted: len(msgs)})
}

func (h *Handler) validate(req *SubmitRequest) error {
	if req.ExternalJobID == "" || req.Source == "" {
		return errors.New("external_job_id and source are required")
	}
	if req.ScheduledAt.IsZero() || !req.ScheduledAt.After(time.Now()) {
		return errors.New("scheduled_at must be in the future")
	}
	switch req.DeliveryType {
	case domain.DeliveryTypeHTTP:
		u, err := url.Parse(req.Destination)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("destination must be a valid http(s) URL for HTTP delivery")
		}
	case domain.DeliveryTypeBroker:
		if req.Destination == "" || strings.ContainsAny(req.Destination, " \t\n") {
			return errors.New("destination must be a non-empty topic name with no whitespace for BROKER delivery")
		}
	default:
		return errors.New("delivery_type must be HTTP or BROKER")
	}
	if len(req.Payload) == 0 {
		return errors.New("payload is required")
	}
	if req.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	return nil
}

func (h *Handler) toMessage(req *SubmitRequest) *ingest.Message {
	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = h.maxRetriesDefault
	}
	return &ingest.Message{
		MessageID:     uuid.NewString(),
		ExternalJobID: req.ExternalJobID,
		Source:        req.Source,
		ScheduledAt:   req.ScheduledAt,
		DeliveryType:  req.DeliveryType,
		Destination:   req.Destination,
		Payload:       req.Payload,
		MaxRetries:    maxRetries,
	}
}

func (h *Handler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	event, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get event", "error", err, "event_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	h.respondJSON(w, http.StatusOK, event)
}

func (h *Handler) GetByExternalJobID(w http.ResponseWriter, r *http.Request) {
	extID := chi.URLParam(r, "externalJobID")
	event, err := h.store.GetByExternalJobID(r.Context(), extID)
	if errors.Is(err, domain.ErrNotFound) {
		h.respondError(w, http.StatusNotFound, "event not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get event", "error", err, "external_job_id", extID)
		h.respondError(w, http.StatusInternalServerError, "failed to get event")
		return
	}
	h.respondJSON(w, http.StatusOK, event)
}

func (h *Handler) ListByExternalJobID(w http.ResponseWriter, r *http.Request) {
	extID := chi.URLParam(r, "externalJobID")
	events, err := h.store.ListByExternalJobID(r.Context(), extID)
	if err != nil {
		h.logger.Error("failed to list events", "error", err, "external_job_id", extID)
		h.respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	h.respondJSON(w, http.StatusOK, events)
}

func (h *Handler) CancelByID(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.store.CancelByID(r.Context(), id, time.Now())
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.respondError(w, http.StatusNotFound, "event not found")
	case errors.Is(err, domain.ErrInvalidState):
		h.respondError(w, http.StatusConflict, "event is not in a cancellable state")
	case err != nil:
		h.logger.Error("failed to cancel event", "error", err, "event_id", id)
		h.respondError(w, http.StatusInternalServerError, "failed to cancel event")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

type CancelBatchResponse struct {
	Cancelled int64 `json:"cancelled"`
}

func (h *Handler) CancelByExternalJobID(w http.ResponseWriter, r *http.Request) {
	extID := chi.URLParam(r, "externalJobID")
	cancelled, err := h.store.CancelByExternalJobID(r.Context(), extID, time.Now())
	if err != nil {
		h.logger.Error("failed to cancel events", "error", err, "external_job_id", extID)
		h.respondError(w, http.StatusInternalServerError, "failed to cancel events")
		return
	}
	h.respondJSON(w, http.StatusOK, CancelBatchResponse{Cancelled: cancelled})
}

func (h *Handler) Statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Statistics(r.Context())
	if err != nil {
		h.logger.Error("failed to get statistics", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get statistics")
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

type ManualCleanupResponse struct {
	Deleted int64 `json:"deleted"`
}

func (h *Handler) ManualCleanup(w http.ResponseWriter, r *http.Request) {
	days := h.retentionLoop.GetStats().RetentionPeriod
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "days must be a positive integer")
			return
		}
		days = time.Duration(n) * 24 * time.Hour
	}

	deleted := h.retentionLoop.ManualCleanup(r.Context(), days)
	h.respondJSON(w, http.StatusOK, ManualCleanupResponse{Deleted: deleted})
}

func (h *Handler) CleanupStats(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.retentionLoop.GetStats())
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, errorResponse{Error: message})
}
