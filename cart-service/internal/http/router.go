package http

import (
	"net/http"
	"time"

	"github.com/courtside/storefront/pkg/auth"
	"github.com/courtside/storefront/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(cart *CartHandler, verifier *auth.Verifier, m *metrics.ServerMetrics, requestTimeout time.Duration) http.Handler {
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

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(verifier.Middleware)
		r.Get("/", cart.GetCart)
		r.Delete("/", cart.ClearCart)
		r.Post("/items", cart.AddItem)
		r.Put("/items/{product_id}", cart.UpdateQuantity)
		r.Delete("/items/{product_id}", cart.RemoveItem)
	})

	return r
}
