package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/nftecnologia/mailgenius/internal/ratelimit"
)

// SetupRoutes builds the router. /health is public; everything under /api
// requires a bearer key and counts against the standard profile, with
// heavier profiles stacked on the expensive routes.
func SetupRoutes(h *Handlers, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	// Health check (no auth required)
	r.With(h.limit(ratelimit.PublicAPIIP)).Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Use(h.limit(ratelimit.APIStandard))

		r.Route("/imports", func(r chi.Router) {
			r.With(h.limit(ratelimit.DataImport)).Post("/", h.StartImport)
			r.Get("/{id}", h.GetProgress)
			r.Delete("/{id}", h.CancelImport)
		})

		r.Route("/sends", func(r chi.Router) {
			r.With(h.limit(ratelimit.CampaignSending)).Post("/", h.StartSend)
			r.Get("/{id}", h.GetProgress)
			r.Delete("/{id}", h.CancelSend)
		})

		r.Route("/progress", func(r chi.Router) {
			r.Get("/", h.ListProgress)
			r.Get("/stats", h.ProgressStats)
			r.Get("/{id}", h.GetProgress)
		})

		r.Route("/keys", func(r chi.Router) {
			r.With(h.limit(ratelimit.AuthNormal)).Post("/", h.CreateKey)
			r.Get("/", h.ListKeys)
			r.Get("/stats", h.KeyStats)
			r.Get("/expiring", h.ExpiringKeys)
			r.Delete("/{id}", h.RevokeKey)
			r.Post("/{id}/renew", h.RenewKey)
			r.Put("/{id}/settings", h.UpdateKeySettings)
			r.Get("/{id}/audits", h.KeyAudits)
		})

		r.Route("/metrics", func(r chi.Router) {
			r.Use(h.limit(ratelimit.AnalyticsHeavy))
			r.Get("/{name}", h.GetMetric)
			r.Get("/{name}/summary", h.MetricSummary)
			r.Get("/{name}/window", h.MetricWindow)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Get("/rules", h.ListAlertRules)
			r.Post("/rules", h.CreateAlertRule)
			r.Put("/rules/{id}/enabled", h.SetAlertRuleEnabled)
			r.Get("/incidents", h.ListIncidents)
			r.Post("/incidents/{id}/acknowledge", h.AcknowledgeIncident)
			r.Post("/incidents/{id}/resolve", h.ResolveIncident)
			r.Get("/notifications", h.ListNotifications)
		})

		r.Route("/logs", func(r chi.Router) {
			r.Use(h.limit(ratelimit.AnalyticsHeavy))
			r.Get("/", h.SearchLogs)
			r.Get("/counts", h.LogCounts)
		})

		r.Route("/ratelimit", func(r chi.Router) {
			r.Get("/", h.RateLimitProfiles)
			r.Get("/top", h.RateLimitTop)
			r.Get("/{profile}", h.RateLimitStatus)
		})

		r.Route("/workers", func(r chi.Router) {
			r.Get("/status", h.WorkerStatus)
			r.Get("/stats", h.WorkerStats)
			r.Post("/start", h.StartWorkers)
			r.Post("/stop", h.StopWorkers)
			r.Post("/restart", h.RestartWorkers)
			r.Post("/queues/{name}/pause", h.PauseQueue)
			r.Post("/queues/{name}/resume", h.ResumeQueue)
			r.Post("/queues/{name}/clean", h.CleanQueue)
		})
	})

	return r
}
