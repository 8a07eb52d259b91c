package http

import (
	"net/http"
	"time"

	"github.com/courtside/storefront/pkg/auth"
	"github.com/courtside/storefront/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(checkout *CheckoutHandler, webhooks *WebhookHandler, verifier *auth.Verifier, enricher *auth.Enricher,
	m *metrics.ServerMetrics, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(m.Middleware)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", m.Handler())

	r.Post("/webhooks/payments", webhooks.Receive)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(verifier.Middleware)
		r.Use(enricher.Middleware)
		r.Post("/checkout", checkout.CreateCheckout)
		r.Post("/checkout/{correlation_id}/confirm", checkout.Confirm)
		r.Get("/orders/{correlation_id}", checkout.GetOrder)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(verifier.Middleware)
		r.Use(auth.RequireAuth)
		r.Use(enricher.Middleware)
		r.Use(auth.AdminOnly)
		r.Post("/orders/{correlation_id}/reconcile", checkout.Reconcile)
	})

	return r
}
