package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidQuantity = errors.New("quantity must be positive")

type Variant struct {
	Size  string `bson:"size" json:"size,omitempty"`
	Color string `bson:"color" json:"color,omitempty"`
}

// LineKey identifies a cart line. Two lines never share a key.
type LineKey struct {
	ProductID string
	Size      string
	Color     string
}

func (k LineKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.ProductID, k.Size, k.Color)
}

type CartLine struct {
	ProductID      string    `bson:"product_id" json:"product_id"`
	Quantity       int       `bson:"quantity" json:"quantity"`
	Variant        Variant   `bson:"variant" json:"variant"`
	UnitPriceCents int64     `bson:"unit_price_cents" json:"unit_price_cents"`
	AddedAt        time.Time `bson:"added_at" json:"added_at"`
}

func (l CartLine) Key() LineKey {
	return LineKey{ProductID: l.ProductID, Size: l.Variant.Size, Color: l.Variant.Color}
}

// Cart belongs to a guest session (UserID is the session id in the session
// store) or to an account (UserID is the account id in the durable store).
type Cart struct {
	ID        string     `bson:"_id,omitempty" json:"-"`
	UserID    string     `bson:"user_id" json:"user_id"`
	Items     []CartLine `bson:"items" json:"items"`
	CreatedAt time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time  `bson:"updated_at" json:"updated_at"`
}

func NewCart(userID string) *Cart {
	now := time.Now().UTC()
	return &Cart{UserID: userID, Items: []CartLine{}, CreatedAt: now, UpdatedAt: now}
}

func (c *Cart) index(key LineKey) int {
	for i := range c.Items {
		if c.Items[i].Key() == key {
			return i
		}
	}
	return -1
}

// AddLine increments the quantity of an existing line with the same key or
// appends a new one. The captured unit price of an existing line is kept.
func (c *Cart) AddLine(productID string, quantity int, variant Variant, unitPriceCents int64) (CartLine, error) {
	if quantity <= 0 {
		return CartLine{}, ErrInvalidQuantity
	}
	key := LineKey{ProductID: productID, Size: variant.Size, Color: variant.Color}
	now := time.Now().UTC()
	c.UpdatedAt = now

	if i := c.index(key); i >= 0 {
		c.Items[i].Quantity += quantity
		return c.Items[i], nil
	}
	line := CartLine{
		ProductID:      productID,
		Quantity:       quantity,
		Variant:        variant,
		UnitPriceCents: unitPriceCents,
		AddedAt:        now,
	}
	c.Items = append(c.Items, line)
	return line, nil
}

// SetQuantity sets an absolute quantity. A non-positive quantity removes the
// line. It reports whether a line with the key existed.
func (c *Cart) SetQuantity(key LineKey, quantity int) bool {
	i := c.index(key)
	if i < 0 {
		return false
	}
	if quantity <= 0 {
		c.removeAt(i)
		return true
	}
	c.Items[i].Quantity = quantity
	c.UpdatedAt = time.Now().UTC()
	return true
}

// RemoveLine is a no-op when the key is absent.
func (c *Cart) RemoveLine(key LineKey) bool {
	i := c.index(key)
	if i < 0 {
		return false
	}
	c.removeAt(i)
	return true
}

func (c *Cart) removeAt(i int) {
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	c.UpdatedAt = time.Now().UTC()
}

func (c *Cart) Line(key LineKey) (CartLine, bool) {
	if i := c.index(key); i >= 0 {
		return c.Items[i], true
	}
	return CartLine{}, false
}

func (c *Cart) Lines() []CartLine {
	out := make([]CartLine, len(c.Items))
	copy(out, c.Items)
	return out
}

func (c *Cart) Clear() {
	c.Items = []CartLine{}
	c.UpdatedAt = time.Now().UTC()
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

type Totals struct {
	ItemCount int             `json:"item_count"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// Totals is recomputed on every call.
func (c *Cart) Totals() Totals {
	t := Totals{Subtotal: decimal.Zero}
	for _, l := range c.Items {
		t.ItemCount += l.Quantity
		t.Subtotal = t.Subtotal.Add(decimal.New(l.UnitPriceCents, -2).Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	return t
}

func (c *Cart) Clone() *Cart {
	out := *c
	out.Items = c.Lines()
	return &out
}
