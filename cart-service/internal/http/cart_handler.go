package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/courtside/storefront/cart-service/internal/domain"
	"github.com/courtside/storefront/cart-service/internal/service"
	"github.com/courtside/storefront/pkg/auth"
	"github.com/go-chi/chi/v5"
)

const maxLineQuantity = 99

type CartHandler struct {
	adapter *service.Adapter
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(adapter *service.Adapter, timeout time.Duration, log *slog.Logger) *CartHandler {
	return &CartHandler{
		adapter: adapter,
		timeout: timeout,
		log:     log,
	}
}

type AddItemRequestDTO struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	Size           string `json:"size,omitempty"`
	Color          string `json:"color,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int    `json:"quantity"`
	Size     string `json:"size,omitempty"`
	Color    string `json:"color,omitempty"`
}

type CartResponseDTO struct {
	OwnerID  string            `json:"owner_id"`
	Items    []domain.CartLine `json:"items"`
	Totals   domain.Totals     `json:"totals"`
	Degraded bool              `json:"degraded"`
}

func toResponse(s *service.Session) CartResponseDTO {
	cart := s.Cart()
	return CartResponseDTO{
		OwnerID:  cart.UserID,
		Items:    cart.Lines(),
		Totals:   cart.Totals(),
		Degraded: s.Degraded(),
	}
}

func (h *CartHandler) load(ctx context.Context, w http.ResponseWriter, r *http.Request) (*service.Session, bool) {
	id, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return nil, false
	}
	sess, err := h.adapter.LoadForSession(ctx, id)
	if err != nil {
		h.handleError(ctx, w, err)
		return nil, false
	}
	return sess, true
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, ok := h.load(ctx, w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toResponse(sess))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id is required")
		return
	}
	if req.Quantity > maxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}
	if req.UnitPriceCents < 0 {
		respondError(w, http.StatusBadRequest, "invalid_price", "unit_price_cents must not be negative")
		return
	}

	sess, ok := h.load(ctx, w, r)
	if !ok {
		return
	}
	variant := domain.Variant{Size: req.Size, Color: req.Color}
	if _, err := h.adapter.AddLine(ctx, sess, req.ProductID, req.Quantity, variant, req.UnitPriceCents); err != nil {
		h.handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusCreated, toResponse(sess))
}

// UpdateQuantity sets an absolute quantity; zero or less removes the line.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID := chi.URLParam(r, "product_id")
	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity > maxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	sess, ok := h.load(ctx, w, r)
	if !ok {
		return
	}
	key := domain.LineKey{ProductID: productID, Size: req.Size, Color: req.Color}
	if err := h.adapter.SetQuantity(ctx, sess, key, req.Quantity); err != nil {
		h.handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, toResponse(sess))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	key := domain.LineKey{
		ProductID: chi.URLParam(r, "product_id"),
		Size:      r.URL.Query().Get("size"),
		Color:     r.URL.Query().Get("color"),
	}

	sess, ok := h.load(ctx, w, r)
	if !ok {
		return
	}
	if err := h.adapter.RemoveLine(ctx, sess, key); err != nil {
		h.handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, toResponse(sess))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sess, ok := h.load(ctx, w, r)
	if !ok {
		return
	}
	if err := h.adapter.Clear(ctx, sess); err != nil {
		h.handleError(ctx, w, err)
		return
	}
	respondJSON(w, http.StatusOK, toResponse(sess))
}

func (h *CartHandler) handleError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidQuantity):
		respondError(w, http.StatusUnprocessableEntity, "invalid_quantity", err.Error())
	case errors.Is(err, service.ErrLineNotFound):
		respondError(w, http.StatusNotFound, "line_not_found", err.Error())
	case errors.Is(err, service.ErrCartUnavailable):
		h.log.ErrorContext(ctx, "cart storage unavailable", "error", err)
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "cart temporarily unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		h.log.ErrorContext(ctx, "cart request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
