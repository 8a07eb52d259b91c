package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusFailed
}

func (s OrderStatus) String() string {
	return string(s)
}

type OrderLine struct {
	ProductID           string          `json:"product_id"`
	Size                string          `json:"size,omitempty"`
	Color               string          `json:"color,omitempty"`
	Quantity            int             `json:"quantity"`
	UnitPriceAtPurchase decimal.Decimal `json:"unit_price_at_purchase"`
}

type Order struct {
	ID              uuid.UUID       `json:"id"`
	CorrelationID   string          `json:"correlation_id"`
	AccountID       string          `json:"account_id"`
	Email           string          `json:"email"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	Currency        string          `json:"currency"`
	Status          OrderStatus     `json:"status"`
	ShippingAddress Address         `json:"shipping_address"`
	Lines           []OrderLine     `json:"lines"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NewPendingOrder copies the intent's locked-in lines into a pending order.
func NewPendingOrder(intent *CheckoutIntent, accountID string) *Order {
	lines := make([]OrderLine, 0, len(intent.Lines))
	for _, l := range intent.Lines {
		lines = append(lines, OrderLine{
			ProductID:           l.ProductID,
			Size:                l.Size,
			Color:               l.Color,
			Quantity:            l.Quantity,
			UnitPriceAtPurchase: l.UnitPrice,
		})
	}
	return &Order{
		ID:              uuid.New(),
		CorrelationID:   intent.CorrelationID,
		AccountID:       accountID,
		Email:           intent.Buyer.Email,
		TotalAmount:     intent.Amount,
		Currency:        intent.Currency,
		Status:          OrderStatusPending,
		ShippingAddress: intent.Buyer.ShippingAddress,
		Lines:           lines,
	}
}
