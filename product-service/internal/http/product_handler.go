package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/courtside/storefront/product-service/internal/domain"
	"github.com/courtside/storefront/product-service/internal/repository"
	"github.com/go-chi/chi/v5"
)

type ProductReader interface {
	GetAllProducts(ctx context.Context) ([]*domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

type ProductDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
	Purchasable bool   `json:"purchasable"`
	CreatedAt   string `json:"created_at"`
}

type ProductsResponseDTO struct {
	Products []ProductDTO `json:"products"`
}

type ProductHandler struct {
	repo    ProductReader
	timeout time.Duration
	log     *slog.Logger
}

func NewProductHandler(repo ProductReader, timeout time.Duration, log *slog.Logger) *ProductHandler {
	return &ProductHandler{repo: repo, timeout: timeout, log: log}
}

func (h *ProductHandler) GetProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	products, err := h.repo.GetAllProducts(ctx)
	if err != nil {
		h.log.ErrorContext(ctx, "failed to list products", "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to fetch products")
		return
	}

	resp := ProductsResponseDTO{Products: make([]ProductDTO, len(products))}
	for i, p := range products {
		resp.Products[i] = toDTO(p)
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *ProductHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id := chi.URLParam(r, "product_id")
	p, err := h.repo.GetProduct(ctx, id)
	if errors.Is(err, repository.ErrProductNotFound) {
		respondError(w, http.StatusNotFound, "PRODUCT_NOT_FOUND", "product not found")
		return
	}
	if err != nil {
		h.log.ErrorContext(ctx, "failed to get product", "product_id", id, "error", err)
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to fetch product")
		return
	}
	respondJSON(w, http.StatusOK, toDTO(p))
}

func toDTO(p *domain.Product) ProductDTO {
	return ProductDTO{
		ID:          p.ID,
		Name:        p.Name,
		Price:       p.Price.StringFixed(2),
		Currency:    p.Currency,
		Purchasable: p.Active,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}
