package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	d "github.com/courtside/storefront/checkout-service/domain"
	"github.com/courtside/storefront/checkout-service/internal/cartclient"
	repo "github.com/courtside/storefront/checkout-service/internal/repository"
	"github.com/courtside/storefront/checkout-service/internal/service"
	"github.com/courtside/storefront/pkg/auth"
	"github.com/courtside/storefront/pkg/payment"
	"github.com/go-chi/chi/v5"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type CheckoutBuilder interface {
	Build(ctx context.Context, req service.BuildRequest) (*service.BuildResult, error)
}

type Materializer interface {
	Materialize(ctx context.Context, correlationID string, trigger service.Trigger) (*d.Order, error)
}

type OrderReader interface {
	GetIntent(ctx context.Context, correlationID string) (*d.CheckoutIntent, error)
	GetOrderByCorrelationID(ctx context.Context, correlationID string) (*d.Order, error)
}

type CartSource interface {
	GetCart(ctx context.Context, authorization, sessionID string) ([]d.CartLine, error)
}

type CheckoutRequestDTO struct {
	Email           string    `json:"email"`
	Name            string    `json:"name"`
	ShippingAddress d.Address `json:"shipping_address"`
}

type CheckoutResponseDTO struct {
	CorrelationID string   `json:"correlation_id"`
	ClientSecret  string   `json:"client_secret,omitempty"`
	Amount        string   `json:"amount"`
	Currency      string   `json:"currency"`
	Free          bool     `json:"free"`
	Status        string   `json:"status"`
	Order         *d.Order `json:"order,omitempty"`
}

type OrderStatusResponseDTO struct {
	CorrelationID string   `json:"correlation_id"`
	IntentStatus  string   `json:"intent_status"`
	Order         *d.Order `json:"order,omitempty"`
}

type CheckoutHandler struct {
	builder      CheckoutBuilder
	materializer Materializer
	orders       OrderReader
	carts        CartSource
	timeout      time.Duration
	log          *slog.Logger
}

func NewCheckoutHandler(builder CheckoutBuilder, materializer Materializer, orders OrderReader, carts CartSource, timeout time.Duration, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		builder:      builder,
		materializer: materializer,
		orders:       orders,
		carts:        carts,
		timeout:      timeout,
		log:          log,
	}
}

// CreateCheckout snapshots the caller's cart into a checkout intent.
func (h *CheckoutHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return
	}

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		req.Email = id.Email
	}

	lines, err := h.carts.GetCart(ctx, r.Header.Get("Authorization"), id.SessionID)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}

	res, err := h.builder.Build(ctx, service.BuildRequest{
		AccountID:      id.AccountID,
		SessionID:      id.SessionID,
		IdempotencyKey: strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader)),
		Tier:           auth.ProfileFromContext(r.Context()).Tier,
		Lines:          lines,
		Buyer: d.BuyerInfo{
			Email:           req.Email,
			Name:            req.Name,
			ShippingAddress: req.ShippingAddress,
		},
	})
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}

	intent := res.Intent
	status := http.StatusCreated
	if res.Order != nil {
		status = http.StatusOK
	}
	respondJSON(w, status, CheckoutResponseDTO{
		CorrelationID: intent.CorrelationID,
		ClientSecret:  intent.ClientSecret,
		Amount:        intent.Amount.StringFixed(2),
		Currency:      intent.Currency,
		Free:          intent.Free,
		Status:        intent.Status.String(),
		Order:         res.Order,
	})
}

// Confirm is called by the client once the provider reports payment success.
func (h *CheckoutHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	intent, ok := h.authorize(ctx, w, r)
	if !ok {
		return
	}
	order, err := h.materializer.Materialize(ctx, intent.CorrelationID, service.TriggerConfirm)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, order)
}

func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	intent, ok := h.authorize(ctx, w, r)
	if !ok {
		return
	}
	resp := OrderStatusResponseDTO{CorrelationID: intent.CorrelationID, IntentStatus: intent.Status.String()}
	order, err := h.orders.GetOrderByCorrelationID(ctx, intent.CorrelationID)
	switch {
	case err == nil:
		resp.Order = order
	case errors.Is(err, repo.ErrOrderNotFound):
	default:
		h.handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Reconcile lets an admin re-drive materialization for a checkout.
func (h *CheckoutHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	correlationID := chi.URLParam(r, "correlation_id")
	order, err := h.materializer.Materialize(ctx, correlationID, service.TriggerReconcile)
	if err != nil {
		h.handleError(ctx, w, err)
		return
	}
	id, _ := auth.FromContext(r.Context())
	h.log.InfoContext(ctx, "order reconciled by admin", "correlation_id", correlationID, "admin_id", id.AccountID)
	respondJSON(w, http.StatusOK, order)
}

// authorize hides checkouts the caller does not own behind a 404.
func (h *CheckoutHandler) authorize(ctx context.Context, w http.ResponseWriter, r *http.Request) (*d.CheckoutIntent, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return nil, false
	}

	intent, err := h.orders.GetIntent(ctx, chi.URLParam(r, "correlation_id"))
	if err != nil {
		h.handleError(ctx, w, err)
		return nil, false
	}
	if !id.IsAdmin() && !intent.OwnedBy(id.AccountID, id.SessionID) {
		respondError(w, http.StatusNotFound, "not_found", "checkout not found")
		return nil, false
	}
	return intent, true
}

func (h *CheckoutHandler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyCart):
		respondError(w, http.StatusUnprocessableEntity, "empty_cart", err.Error())
	case errors.Is(err, service.ErrProductUnavailable):
		respondError(w, http.StatusUnprocessableEntity, "product_unavailable", err.Error())
	case errors.Is(err, service.ErrInvalidQuantity):
		respondError(w, http.StatusUnprocessableEntity, "invalid_quantity", err.Error())
	case errors.Is(err, service.ErrBuyerEmailRequired):
		respondError(w, http.StatusBadRequest, "email_required", err.Error())
	case errors.Is(err, service.ErrIdempotencyKeyConflict):
		respondError(w, http.StatusConflict, "idempotency_key_conflict", err.Error())
	case errors.Is(err, service.ErrPaymentNotCompleted):
		respondError(w, http.StatusConflict, "payment_not_completed", "payment not completed yet")
	case errors.Is(err, service.ErrPaymentFailed):
		respondError(w, http.StatusPaymentRequired, "payment_failed", err.Error())
	case errors.Is(err, service.ErrAmountMismatch):
		h.log.ErrorContext(ctx, "payment amount mismatch", "error", err)
		respondError(w, http.StatusConflict, "amount_mismatch", "payment does not match checkout")
	case errors.Is(err, service.ErrIntentNotFound), errors.Is(err, repo.ErrIntentNotFound):
		respondError(w, http.StatusNotFound, "not_found", "checkout not found")
	case errors.Is(err, payment.ErrUnavailable), errors.Is(err, cartclient.ErrUnavailable):
		h.log.ErrorContext(ctx, "upstream unavailable", "error", err)
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "please retry shortly")
	case errors.Is(err, cartclient.ErrRejected):
		respondError(w, http.StatusBadGateway, "cart_rejected", "could not read cart")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		h.log.ErrorContext(ctx, "checkout request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
