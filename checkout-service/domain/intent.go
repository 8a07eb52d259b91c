package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type IntentStatus string

const (
	IntentStatusOpen      IntentStatus = "open"
	IntentStatusCompleted IntentStatus = "completed"
	IntentStatusFailed    IntentStatus = "failed"
)

// CanTransitionTo allows failed -> completed because a buyer may retry a
// declined card against the same payment intent.
func (s IntentStatus) CanTransitionTo(next IntentStatus) bool {
	switch s {
	case IntentStatusOpen:
		return next == IntentStatusCompleted || next == IntentStatusFailed
	case IntentStatusFailed:
		return next == IntentStatusCompleted
	}
	return false
}

func (s IntentStatus) String() string {
	return string(s)
}

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type BuyerInfo struct {
	Email           string  `json:"email"`
	Name            string  `json:"name,omitempty"`
	ShippingAddress Address `json:"shipping_address"`
}

// IntentLine is a cart line with its server-side price locked in.
type IntentLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name,omitempty"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

func (l IntentLine) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// CheckoutIntent is immutable after creation except for Status.
type CheckoutIntent struct {
	CorrelationID  string
	IdempotencyKey string
	AccountID      string
	SessionID      string
	Lines          []IntentLine
	Buyer          BuyerInfo
	Amount         decimal.Decimal
	Currency       string
	Free           bool
	ClientSecret   string
	Status         IntentStatus
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AmountMinor is the amount in the currency's minor unit.
func (i *CheckoutIntent) AmountMinor() int64 {
	return i.Amount.Shift(2).IntPart()
}

// OwnedBy reports whether the caller started this checkout.
func (i *CheckoutIntent) OwnedBy(accountID, sessionID string) bool {
	if i.AccountID != "" {
		return i.AccountID == accountID
	}
	return sessionID != "" && i.SessionID == sessionID
}

// CartLine is the cart-service view of a line. Its display price is never
// used for charging.
type CartLine struct {
	ProductID      string `json:"product_id"`
	Quantity       int    `json:"quantity"`
	Size           string `json:"size,omitempty"`
	Color          string `json:"color,omitempty"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}
