package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	d "github.com/courtside/storefront/checkout-service/domain"
	"github.com/courtside/storefront/checkout-service/internal/catalog"
	r "github.com/courtside/storefront/checkout-service/internal/repository"
	"github.com/courtside/storefront/pkg/payment"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const FreeIntentPrefix = "free_"

type BuildRequest struct {
	AccountID      string
	SessionID      string
	IdempotencyKey string
	Tier           string
	Lines          []d.CartLine
	Buyer          d.BuyerInfo
}

// BuildResult carries the intent and, for free checkouts, the order that was
// materialized right away.
type BuildResult struct {
	Intent *d.CheckoutIntent
	Order  *d.Order
}

type OrderMaterializer interface {
	Materialize(ctx context.Context, correlationID string, trigger Trigger) (*d.Order, error)
}

type Builder struct {
	intents      r.IntentRepository
	catalog      catalog.Catalog
	provider     payment.Provider
	materializer OrderMaterializer
	currency     string
	log          *slog.Logger
}

func NewBuilder(intents r.IntentRepository, cat catalog.Catalog, provider payment.Provider, materializer OrderMaterializer, currency string, log *slog.Logger) *Builder {
	if currency == "" {
		currency = "usd"
	}
	return &Builder{
		intents:      intents,
		catalog:      cat,
		provider:     provider,
		materializer: materializer,
		currency:     strings.ToLower(currency),
		log:          log,
	}
}

func (b *Builder) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	if req.IdempotencyKey != "" {
		existing, err := b.intents.GetIntentByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			return b.replay(ctx, existing, req)
		}
		if !errors.Is(err, r.ErrIdempotencyKeyNotFound) {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
	}

	if len(req.Lines) == 0 {
		return nil, ErrEmptyCart
	}
	email := strings.ToLower(strings.TrimSpace(req.Buyer.Email))
	if email == "" {
		return nil, ErrBuyerEmailRequired
	}
	req.Buyer.Email = email

	lines, amount, err := b.price(ctx, req.Lines)
	if err != nil {
		return nil, err
	}

	intent := &d.CheckoutIntent{
		IdempotencyKey: req.IdempotencyKey,
		AccountID:      req.AccountID,
		SessionID:      req.SessionID,
		Lines:          lines,
		Buyer:          req.Buyer,
		Amount:         amount,
		Currency:       b.currency,
		Status:         d.IntentStatusOpen,
	}

	if amount.IsZero() {
		return b.buildFree(ctx, intent, req)
	}

	pi, err := b.provider.CreateIntent(ctx, payment.CreateIntentRequest{
		AmountMinor:    intent.AmountMinor(),
		Currency:       intent.Currency,
		IdempotencyKey: req.IdempotencyKey,
		Metadata: map[string]string{
			"account_id": req.AccountID,
			"session_id": req.SessionID,
			"email":      email,
			"tier":       req.Tier,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}
	intent.CorrelationID = pi.ID
	intent.ClientSecret = pi.ClientSecret

	if err := b.intents.CreateIntent(ctx, intent); err != nil {
		existing, lookupErr := b.existingIntent(ctx, intent, err)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return b.replay(ctx, existing, req)
	}

	b.log.InfoContext(ctx, "checkout intent created",
		"correlation_id", intent.CorrelationID, "user_id", intent.AccountID, "amount", intent.Amount.StringFixed(2))
	return &BuildResult{Intent: intent}, nil
}

func (b *Builder) buildFree(ctx context.Context, intent *d.CheckoutIntent, req BuildRequest) (*BuildResult, error) {
	intent.CorrelationID = FreeIntentPrefix + uuid.NewString()
	intent.Free = true

	if err := b.intents.CreateIntent(ctx, intent); err != nil {
		existing, lookupErr := b.existingIntent(ctx, intent, err)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return b.replay(ctx, existing, req)
	}

	order, err := b.materializer.Materialize(ctx, intent.CorrelationID, TriggerFreeCheckout)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize free order: %w", err)
	}
	return &BuildResult{Intent: intent, Order: order}, nil
}

// replay answers a resubmitted checkout with what the first submission
// produced. A key belongs to the buyer who first used it.
func (b *Builder) replay(ctx context.Context, existing *d.CheckoutIntent, req BuildRequest) (*BuildResult, error) {
	if !existing.OwnedBy(req.AccountID, req.SessionID) {
		b.log.WarnContext(ctx, "idempotency key reused by another buyer",
			"idempotency_key", req.IdempotencyKey, "user_id", req.AccountID, "session_id", req.SessionID)
		return nil, ErrIdempotencyKeyConflict
	}
	b.log.InfoContext(ctx, "duplicate checkout submission",
		"idempotency_key", req.IdempotencyKey, "correlation_id", existing.CorrelationID, "status", existing.Status)
	if !existing.Free {
		return &BuildResult{Intent: existing}, nil
	}

	order, err := b.materializer.Materialize(ctx, existing.CorrelationID, TriggerFreeCheckout)
	if err != nil {
		return nil, fmt.Errorf("failed to materialize free order: %w", err)
	}
	return &BuildResult{Intent: existing, Order: order}, nil
}

// existingIntent resolves a lost insert race to the stored intent.
func (b *Builder) existingIntent(ctx context.Context, intent *d.CheckoutIntent, createErr error) (*d.CheckoutIntent, error) {
	switch {
	case errors.Is(createErr, r.ErrDuplicateIdempotencyKey):
		existing, err := b.intents.GetIntentByIdempotencyKey(ctx, intent.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load intent for idempotency key: %w", err)
		}
		return existing, nil
	case errors.Is(createErr, r.ErrDuplicateCorrelation):
		existing, err := b.intents.GetIntent(ctx, intent.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load intent: %w", err)
		}
		return existing, nil
	}
	return nil, fmt.Errorf("failed to persist checkout intent: %w", createErr)
}

// price locks in catalog prices. Client-side prices are ignored.
func (b *Builder) price(ctx context.Context, cartLines []d.CartLine) ([]d.IntentLine, decimal.Decimal, error) {
	ids := make([]string, 0, len(cartLines))
	seen := make(map[string]bool, len(cartLines))
	for _, l := range cartLines {
		if l.Quantity <= 0 {
			return nil, decimal.Zero, fmt.Errorf("%w: product %s", ErrInvalidQuantity, l.ProductID)
		}
		if !seen[l.ProductID] {
			seen[l.ProductID] = true
			ids = append(ids, l.ProductID)
		}
	}

	products, err := b.catalog.GetProducts(ctx, ids)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("failed to load catalog: %w", err)
	}

	lines := make([]d.IntentLine, 0, len(cartLines))
	amount := decimal.Zero
	for _, l := range cartLines {
		p, ok := products[l.ProductID]
		switch {
		case !ok:
			return nil, decimal.Zero, &ProductUnavailableError{ProductID: l.ProductID, Reason: "not in catalog"}
		case !p.Purchasable():
			return nil, decimal.Zero, &ProductUnavailableError{ProductID: l.ProductID, Reason: "not purchasable"}
		case !strings.EqualFold(p.Currency, b.currency):
			return nil, decimal.Zero, &ProductUnavailableError{ProductID: l.ProductID, Reason: "priced in " + p.Currency}
		}

		line := d.IntentLine{
			ProductID: p.ID,
			Name:      p.Name,
			Size:      l.Size,
			Color:     l.Color,
			Quantity:  l.Quantity,
			UnitPrice: p.Price,
		}
		amount = amount.Add(line.Subtotal())
		lines = append(lines, line)
	}
	return lines, amount, nil
}
