package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/courtside/storefront/pkg/payment"
)

const (
	SignatureHeader     = "Stripe-Signature"
	maxWebhookBodyBytes = 64 << 10
)

type EventRouter interface {
	Handle(ctx context.Context, payload []byte, signature string) error
}

type WebhookHandler struct {
	router  EventRouter
	timeout time.Duration
	log     *slog.Logger
}

func NewWebhookHandler(router EventRouter, timeout time.Duration, log *slog.Logger) *WebhookHandler {
	return &WebhookHandler{router: router, timeout: timeout, log: log}
}

// Receive answers 2xx for routed, acknowledged and already handled events so
// the provider stops redelivering them. Internal failures answer 5xx.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "webhook body too large")
		return
	}

	err = h.router.Handle(ctx, payload, r.Header.Get(SignatureHeader))
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, payment.ErrSignatureInvalid):
		respondError(w, http.StatusBadRequest, "signature_invalid", "webhook signature invalid")
	default:
		h.log.ErrorContext(ctx, "webhook processing failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "webhook processing failed")
	}
}
