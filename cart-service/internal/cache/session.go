package cache

import (
	"context"
	"errors"

	"github.com/courtside/storefront/cart-service/internal/domain"
)

var ErrCacheMiss = errors.New("cache miss")

// SessionState is the device-local view of a cart. Degraded is set while the
// durable store rejects writes for the account bound to this session. Partial
// marks a degraded cart that was never read from the durable store.
type SessionState struct {
	Cart      *domain.Cart `json:"cart"`
	AccountID string       `json:"account_id,omitempty"`
	Degraded  bool         `json:"degraded"`
	Partial   bool         `json:"partial,omitempty"`
}

type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*SessionState, error)
	Set(ctx context.Context, sessionID string, state *SessionState) error
	Delete(ctx context.Context, sessionID string) error
}
