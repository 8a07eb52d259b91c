package repository

import (
	"context"

	"github.com/courtside/storefront/cart-service/internal/domain"
)

// CartRepository is the durable, account-keyed cart store.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	// ReplaceCart overwrites the whole cart, creating it when missing.
	ReplaceCart(ctx context.Context, cart *domain.Cart) error
	// UpsertLine writes the line's absolute quantity under its key.
	UpsertLine(ctx context.Context, userID string, line domain.CartLine) error
	RemoveLine(ctx context.Context, userID string, key domain.LineKey) error
	DeleteCart(ctx context.Context, userID string) error
}
