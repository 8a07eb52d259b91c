package payment

import (
	"context"
	"errors"
	"time"
)

var (
	ErrSignatureInvalid = errors.New("webhook signature invalid")
	ErrUnavailable      = errors.New("payment provider unavailable")
	ErrIntentNotFound   = errors.New("payment intent not found")
)

type Status string

const (
	StatusSucceeded             Status = "succeeded"
	StatusProcessing            Status = "processing"
	StatusRequiresPaymentMethod Status = "requires_payment_method"
	StatusRequiresConfirmation  Status = "requires_confirmation"
	StatusRequiresAction        Status = "requires_action"
	StatusRequiresCapture       Status = "requires_capture"
	StatusCanceled              Status = "canceled"
	StatusFailed                Status = "failed"
)

// Pending reports statuses where the buyer or provider still has work to do.
func (s Status) Pending() bool {
	switch s {
	case StatusProcessing, StatusRequiresPaymentMethod, StatusRequiresConfirmation,
		StatusRequiresAction, StatusRequiresCapture:
		return true
	}
	return false
}

func (s Status) Failed() bool {
	return s == StatusCanceled || s == StatusFailed
}

type EventType string

const (
	EventPaymentSucceeded    EventType = "payment_intent.succeeded"
	EventPaymentFailed       EventType = "payment_intent.payment_failed"
	EventSubscriptionCreated EventType = "customer.subscription.created"
	EventSubscriptionUpdated EventType = "customer.subscription.updated"
	EventSubscriptionDeleted EventType = "customer.subscription.deleted"
)

type Intent struct {
	ID           string
	ClientSecret string
	AmountMinor  int64
	Currency     string
	Status       Status
	CustomerID   string
	Metadata     map[string]string
}

type CreateIntentRequest struct {
	AmountMinor    int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

type Subscription struct {
	ID               string
	CustomerID       string
	CustomerEmail    string
	Status           string
	CurrentPeriodEnd time.Time
}

// Active reports whether the subscription grants premium access.
func (s Subscription) Active() bool {
	return s.Status == "active" || s.Status == "trialing"
}

// Event is a verified provider notification. Exactly one of PaymentIntent or
// Subscription is set for the event types routed by the fulfillment router.
type Event struct {
	ID            string
	Type          EventType
	PaymentIntent *Intent
	Subscription  *Subscription
}

type Provider interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
	VerifyWebhook(payload []byte, signature string) (*Event, error)
}
