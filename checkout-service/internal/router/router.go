package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	d "github.com/courtside/storefront/checkout-service/domain"
	r "github.com/courtside/storefront/checkout-service/internal/repository"
	"github.com/courtside/storefront/checkout-service/internal/service"
	"github.com/courtside/storefront/pkg/payment"
	"github.com/prometheus/client_golang/prometheus"
)

type Materializer interface {
	Materialize(ctx context.Context, correlationID string, trigger service.Trigger) (*d.Order, error)
}

type MembershipApplier interface {
	Apply(ctx context.Context, sub payment.Subscription, deleted bool) (*d.Membership, error)
}

type IntentStatusUpdater interface {
	UpdateIntentStatus(ctx context.Context, correlationID string, status d.IntentStatus) error
}

const (
	outcomeRouted       = "routed"
	outcomeAcknowledged = "acknowledged"
	outcomeRejected     = "rejected"
	outcomeError        = "error"
)

// Router dispatches verified provider notifications. A nil error means the
// notification can be acknowledged.
type Router struct {
	verifier     payment.Provider
	materializer Materializer
	memberships  MembershipApplier
	intents      IntentStatusUpdater
	received     *prometheus.CounterVec
	failures     prometheus.Counter
	log          *slog.Logger
}

// NewRouter expects received labelled by type and outcome.
func NewRouter(verifier payment.Provider, materializer Materializer, memberships MembershipApplier, intents IntentStatusUpdater,
	received *prometheus.CounterVec, failures prometheus.Counter, log *slog.Logger) *Router {
	return &Router{
		verifier:     verifier,
		materializer: materializer,
		memberships:  memberships,
		intents:      intents,
		received:     received,
		failures:     failures,
		log:          log,
	}
}

func (rt *Router) Handle(ctx context.Context, payload []byte, signature string) error {
	evt, err := rt.verifier.VerifyWebhook(payload, signature)
	if err != nil {
		rt.received.WithLabelValues("unknown", outcomeRejected).Inc()
		rt.log.WarnContext(ctx, "webhook rejected", "error", err)
		if !errors.Is(err, payment.ErrSignatureInvalid) {
			err = fmt.Errorf("%w: %w", payment.ErrSignatureInvalid, err)
		}
		return err
	}

	outcome, err := rt.route(ctx, evt)
	if err != nil {
		outcome = outcomeError
	}
	rt.received.WithLabelValues(string(evt.Type), outcome).Inc()
	if err != nil {
		rt.log.ErrorContext(ctx, "webhook handling failed", "event_id", evt.ID, "event_type", evt.Type, "error", err)
	}
	return err
}

func (rt *Router) route(ctx context.Context, evt *payment.Event) (string, error) {
	switch evt.Type {
	case payment.EventPaymentSucceeded:
		if evt.PaymentIntent == nil {
			return outcomeAcknowledged, nil
		}
		return rt.paymentSucceeded(ctx, evt.PaymentIntent.ID)

	case payment.EventPaymentFailed:
		if evt.PaymentIntent == nil {
			return outcomeAcknowledged, nil
		}
		return rt.paymentFailed(ctx, evt.PaymentIntent.ID)

	case payment.EventSubscriptionCreated, payment.EventSubscriptionUpdated, payment.EventSubscriptionDeleted:
		if evt.Subscription == nil {
			return outcomeAcknowledged, nil
		}
		_, err := rt.memberships.Apply(ctx, *evt.Subscription, evt.Type == payment.EventSubscriptionDeleted)
		if errors.Is(err, service.ErrSubscriberUnknown) {
			rt.log.WarnContext(ctx, "subscription for unknown subscriber ignored",
				"event_id", evt.ID, "customer_id", evt.Subscription.CustomerID)
			return outcomeAcknowledged, nil
		}
		if err != nil {
			return "", err
		}
		return outcomeRouted, nil
	}

	rt.log.DebugContext(ctx, "webhook type ignored", "event_id", evt.ID, "event_type", evt.Type)
	return outcomeAcknowledged, nil
}

func (rt *Router) paymentSucceeded(ctx context.Context, correlationID string) (string, error) {
	_, err := rt.materializer.Materialize(ctx, correlationID, service.TriggerWebhook)
	switch {
	case err == nil:
		return outcomeRouted, nil
	case errors.Is(err, service.ErrIntentNotFound):
		// not one of ours, or the intent row was never written
		rt.log.WarnContext(ctx, "payment for unknown checkout acknowledged", "correlation_id", correlationID)
		return outcomeAcknowledged, nil
	case errors.Is(err, service.ErrPaymentFailed), errors.Is(err, service.ErrAmountMismatch):
		return outcomeAcknowledged, nil
	}
	return "", err
}

func (rt *Router) paymentFailed(ctx context.Context, correlationID string) (string, error) {
	rt.failures.Inc()
	rt.log.WarnContext(ctx, "payment failed, no order placed", "correlation_id", correlationID)

	err := rt.intents.UpdateIntentStatus(ctx, correlationID, d.IntentStatusFailed)
	if errors.Is(err, r.ErrIntentNotFound) {
		return outcomeAcknowledged, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to mark intent failed: %w", err)
	}
	return outcomeRouted, nil
}
