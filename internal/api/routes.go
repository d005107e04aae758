package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaydock/orbit/internal/observability"
)

type RouterConfig struct {
	Handler       *Handler
	HealthHandler *observability.HealthHandler
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if cfg.Logger != nil {
		r.Use(observability.LoggingMiddleware(cfg.Logger))
	}
	if cfg.Metrics != nil {
		r.Use(observability.MetricsMiddleware(cfg.Metrics))
	}

	r.Get("/health", cfg.HealthHandler.Health)
	r.Get("/ready", cfg.HealthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/events", func(r chi.Router) {
		r.Post("/", cfg.Handler.Submit)
		r.Post("/batch", cfg.Handler.SubmitBatch)
		r.Get("/statistics", cfg.Handler.Statistics)
		r.Get("/{id}", cfg.Handler.GetByID)
		r.Delete("/{id}", cfg.Handler.CancelByID)
		r.Get("/external/{externalJobID}", cfg.Handler.GetByExternalJobID)
		r.Get("/external/{externalJobID}/all", cfg.Handler.ListByExternalJobID)
		r.Delete("/external/{externalJobID}", cfg.Handler.CancelByExternalJobID)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/cleanup", cfg.Handler.ManualCleanup)
			r.Get("/cleanup", cfg.Handler.CleanupStats)
		})
	})

	return r
}
