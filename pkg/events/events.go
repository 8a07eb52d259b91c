package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const (
	TopicOrderEvents = "order-events"

	TypeOrderMaterialized = "order.materialized"

	HeaderEventType = "event_type"
)

type OrderLine struct {
	ProductID string          `json:"product_id"`
	Size      string          `json:"size,omitempty"`
	Color     string          `json:"color,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// OrderMaterialized is published once per completed order, keyed by correlation id.
type OrderMaterialized struct {
	OrderID       string          `json:"order_id"`
	CorrelationID string          `json:"correlation_id"`
	AccountID     string          `json:"account_id"`
	SessionID     string          `json:"session_id,omitempty"`
	Email         string          `json:"email"`
	BuyerName     string          `json:"buyer_name,omitempty"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Currency      string          `json:"currency"`
	Lines         []OrderLine     `json:"lines"`
	CompletedAt   time.Time       `json:"completed_at"`
}

func EventType(m kafka.Message) string {
	for _, h := range m.Headers {
		if h.Key == HeaderEventType {
			return string(h.Value)
		}
	}
	return ""
}

// DecodeOrderMaterialized returns false for messages of other event types.
func DecodeOrderMaterialized(m kafka.Message) (*OrderMaterialized, bool, error) {
	if t := EventType(m); t != "" && t != TypeOrderMaterialized {
		return nil, false, nil
	}
	var evt OrderMaterialized
	if err := json.Unmarshal(m.Value, &evt); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", TypeOrderMaterialized, err)
	}
	return &evt, true, nil
}
