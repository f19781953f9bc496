/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     request logging
  2. Recoverer:  panic recovery (500 instead of crash)
  3. RequestID:  unique id per request for tracing
  4. CORS:       cross-origin requests for the web frontend

ROUTE GROUPS:
  /api/entries/*       ledger entry creation, queries, status transitions
  /api/balances        per-party balance computation
  /api/settlements/*   settlement creation, queries, reconciliation
  /api/projects/*      project ledger summaries
  /api/rules/*         revenue rule management
  /api/migration/*     legacy payment backfill
  /api/payments/*      revenue breakdowns
  /api/audit/*         compliance reporting
  /api/health          liveness

SEE ALSO:
  - handlers.go: handler implementations
  - cmd/server/main.go: server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID", "X-Actor-Role", "X-Actor-Party", "X-Actor-Permissions"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", h.ListEntries)
			r.Post("/", h.CreateEntry)
			r.Post("/{id}/status", h.UpdateEntryStatus)
		})

		r.Get("/balances", h.GetBalance)

		r.Route("/settlements", func(r chi.Router) {
			r.Get("/", h.ListSettlements)
			r.Post("/", h.CreateSettlement)
			r.Post("/reconcile", h.ReconcileSettlements)
		})

		r.Get("/projects/{id}/summary", h.GetProjectSummary)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Post("/", h.CreateRule)
			r.Post("/{id}/deactivate", h.DeactivateRule)
		})

		r.Route("/migration", func(r chi.Router) {
			r.Post("/sweep", h.SweepMigrations)
		})

		r.Get("/payments/{id}/breakdown", h.GetPaymentBreakdown)

		r.Get("/audit/report", h.GetComplianceReport)
	})

	return r
}
