package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	d "github.com/courtside/storefront/checkout-service/domain"
	r "github.com/courtside/storefront/checkout-service/internal/repository"
	"github.com/courtside/storefront/pkg/events"
	"github.com/courtside/storefront/pkg/payment"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Trigger names the path that asked for materialization.
type Trigger string

const (
	TriggerConfirm      Trigger = "confirm"
	TriggerWebhook      Trigger = "webhook"
	TriggerReconcile    Trigger = "reconcile"
	TriggerRecovery     Trigger = "recovery"
	TriggerFreeCheckout Trigger = "free_checkout"
)

const (
	outcomeMaterialized     = "materialized"
	outcomeDuplicateIgnored = "duplicate_ignored"
	outcomeNotCompleted     = "payment_not_completed"
	outcomeFailed           = "payment_failed"
	outcomeIntentNotFound   = "intent_not_found"
	outcomeAmountMismatch   = "amount_mismatch"
	outcomeError            = "error"
)

type MaterializerStore interface {
	r.IntentRepository
	r.OrderRepository
	r.AccountRepository
}

// Materializer turns a confirmed payment into exactly one order. The unique
// index on orders.correlation_id is the only coordination between callers.
type Materializer struct {
	store    MaterializerStore
	provider payment.Provider
	outcomes *prometheus.CounterVec
	tracer   trace.Tracer
	log      *slog.Logger
	now      func() time.Time
}

// NewMaterializer expects outcomes labelled by trigger and outcome.
func NewMaterializer(store MaterializerStore, provider payment.Provider, outcomes *prometheus.CounterVec, log *slog.Logger) *Materializer {
	return &Materializer{
		store:    store,
		provider: provider,
		outcomes: outcomes,
		tracer:   otel.Tracer("checkout-service/materializer"),
		log:      log,
		now:      time.Now,
	}
}

func (m *Materializer) Materialize(ctx context.Context, correlationID string, trigger Trigger) (*d.Order, error) {
	ctx, span := m.tracer.Start(ctx, "Materialize", trace.WithAttributes(
		attribute.String("correlation_id", correlationID),
		attribute.String("trigger", string(trigger)),
	))
	defer span.End()

	order, outcome, err := m.materialize(ctx, correlationID)
	m.outcomes.WithLabelValues(string(trigger), outcome).Inc()
	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		m.log.WarnContext(ctx, "order not materialized",
			"correlation_id", correlationID, "trigger", trigger, "outcome", outcome, "error", err)
		return nil, err
	}

	m.log.InfoContext(ctx, "order materialization finished",
		"correlation_id", correlationID, "trigger", trigger, "outcome", outcome, "order_id", order.ID)
	return order, nil
}

func (m *Materializer) materialize(ctx context.Context, correlationID string) (*d.Order, string, error) {
	existing, err := m.store.GetOrderByCorrelationID(ctx, correlationID)
	switch {
	case err == nil && existing.Status.IsTerminal():
		return existing, outcomeDuplicateIgnored, nil
	case err == nil:
		// pending: a previous attempt stopped between insert and completion
	case errors.Is(err, r.ErrOrderNotFound):
	default:
		return nil, outcomeError, fmt.Errorf("failed to load order: %w", err)
	}

	intent, err := m.store.GetIntent(ctx, correlationID)
	if errors.Is(err, r.ErrIntentNotFound) {
		return nil, outcomeIntentNotFound, ErrIntentNotFound
	}
	if err != nil {
		return nil, outcomeError, fmt.Errorf("failed to load checkout intent: %w", err)
	}

	if !intent.Free {
		if outcome, err := m.verifyPayment(ctx, intent); err != nil {
			return nil, outcome, err
		}
	}

	order := existing
	if order == nil {
		order, err = m.insertPending(ctx, intent)
		if err != nil {
			return nil, outcomeError, err
		}
		if order.Status.IsTerminal() {
			return order, outcomeDuplicateIgnored, nil
		}
	}

	return m.complete(ctx, intent, order)
}

func (m *Materializer) verifyPayment(ctx context.Context, intent *d.CheckoutIntent) (string, error) {
	pi, err := m.provider.RetrieveIntent(ctx, intent.CorrelationID)
	if errors.Is(err, payment.ErrIntentNotFound) {
		return outcomeIntentNotFound, ErrIntentNotFound
	}
	if err != nil {
		return outcomeError, fmt.Errorf("failed to retrieve payment intent: %w", err)
	}

	switch {
	case pi.Status == payment.StatusSucceeded:
		if pi.AmountMinor != intent.AmountMinor() || !strings.EqualFold(pi.Currency, intent.Currency) {
			return outcomeAmountMismatch, fmt.Errorf("%w: provider %d %s, intent %d %s",
				ErrAmountMismatch, pi.AmountMinor, pi.Currency, intent.AmountMinor(), intent.Currency)
		}
		return "", nil
	case pi.Status.Failed():
		if intent.Status.CanTransitionTo(d.IntentStatusFailed) {
			if err := m.store.UpdateIntentStatus(ctx, intent.CorrelationID, d.IntentStatusFailed); err != nil {
				m.log.ErrorContext(ctx, "failed to mark intent failed", "correlation_id", intent.CorrelationID, "error", err)
			}
		}
		return outcomeFailed, ErrPaymentFailed
	case pi.Status.Pending():
		return outcomeNotCompleted, fmt.Errorf("%w: status %s", ErrPaymentNotCompleted, pi.Status)
	default:
		return outcomeError, fmt.Errorf("unexpected payment intent status %q", pi.Status)
	}
}

func (m *Materializer) insertPending(ctx context.Context, intent *d.CheckoutIntent) (*d.Order, error) {
	accountID := intent.AccountID
	if accountID == "" {
		var err error
		accountID, err = m.store.ResolveAccountByEmail(ctx, intent.Buyer.Email)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve guest account: %w", err)
		}
	}

	order := d.NewPendingOrder(intent, accountID)
	err := m.store.InsertPendingOrder(ctx, order)
	if errors.Is(err, r.ErrDuplicateCorrelation) {
		theirs, err := m.store.GetOrderByCorrelationID(ctx, intent.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("failed to load concurrent order: %w", err)
		}
		return theirs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	return order, nil
}

func (m *Materializer) complete(ctx context.Context, intent *d.CheckoutIntent, order *d.Order) (*d.Order, string, error) {
	completedAt := m.now().UTC()
	payload, err := json.Marshal(orderMaterializedEvent(intent, order, completedAt))
	if err != nil {
		return nil, outcomeError, fmt.Errorf("failed to marshal order event: %w", err)
	}

	changed, err := m.store.CompleteOrder(ctx, order.CorrelationID, events.TypeOrderMaterialized, payload)
	if err != nil {
		return nil, outcomeError, fmt.Errorf("failed to complete order: %w", err)
	}

	outcome := outcomeMaterialized
	if changed {
		order.Status = d.OrderStatusCompleted
		order.UpdatedAt = completedAt
	} else {
		// another caller completed it first
		order, err = m.store.GetOrderByCorrelationID(ctx, order.CorrelationID)
		if err != nil {
			return nil, outcomeError, fmt.Errorf("failed to reload order: %w", err)
		}
		outcome = outcomeDuplicateIgnored
	}

	if intent.Status.CanTransitionTo(d.IntentStatusCompleted) {
		if err := m.store.UpdateIntentStatus(ctx, intent.CorrelationID, d.IntentStatusCompleted); err != nil {
			m.log.ErrorContext(ctx, "failed to mark intent completed", "correlation_id", intent.CorrelationID, "error", err)
		}
	}
	return order, outcome, nil
}

func orderMaterializedEvent(intent *d.CheckoutIntent, order *d.Order, completedAt time.Time) events.OrderMaterialized {
	lines := make([]events.OrderLine, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, events.OrderLine{
			ProductID: l.ProductID,
			Size:      l.Size,
			Color:     l.Color,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPriceAtPurchase,
		})
	}
	return events.OrderMaterialized{
		OrderID:       order.ID.String(),
		CorrelationID: order.CorrelationID,
		AccountID:     order.AccountID,
		SessionID:     intent.SessionID,
		Email:         order.Email,
		BuyerName:     intent.Buyer.Name,
		TotalAmount:   order.TotalAmount,
		Currency:      order.Currency,
		Lines:         lines,
		CompletedAt:   completedAt,
	}
}
