/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for a browser client

ROUTE GROUPS:
  /api/policies/*   Policy lifecycle
  /api/owners/*     Owner-scoped queries
  /api/accounts/*   Funds ledger
  /api/chain/*      Block height
  /metrics          Prometheus
  /healthz          Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/serve.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	AllowedOrigins []string
	// Metrics is served at /metrics when non-nil.
	Metrics prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", principalHeader, idempotencyHeader},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/policies", func(r chi.Router) {
			r.Post("/", h.IssuePolicy)
			r.Get("/{id}", h.GetPolicy)
			r.Post("/{id}/cancel", h.CancelPolicy)
			r.Get("/{id}/refund", h.QuoteRefund)
		})

		r.Get("/owners/{owner}/policies", h.ListOwnerPolicies)

		r.Route("/accounts/{account}", func(r chi.Router) {
			r.Get("/balance", h.GetBalance)
			r.Get("/transfers", h.ListTransfers)
			r.Post("/deposits", h.Deposit)
		})

		r.Route("/chain", func(r chi.Router) {
			r.Get("/", h.GetChain)
			r.Post("/advance", h.AdvanceChain)
		})
	})

	if opts.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Metrics, promhttp.HandlerOpts{}))
	}
	r.Get("/healthz", h.Healthz)

	return r
}
