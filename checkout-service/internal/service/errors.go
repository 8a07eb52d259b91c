package service

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart           = errors.New("cart is empty, nothing to checkout")
	ErrInvalidQuantity     = errors.New("line quantity must be positive")
	ErrBuyerEmailRequired  = errors.New("buyer email is required")
	ErrProductUnavailable  = errors.New("product unavailable")
	ErrIntentNotFound      = errors.New("checkout intent not found")
	ErrPaymentNotCompleted = errors.New("payment not completed yet")
	ErrPaymentFailed       = errors.New("payment failed, no order placed")
	ErrAmountMismatch      = errors.New("provider amount does not match checkout intent")
	ErrSubscriberUnknown   = errors.New("subscription does not match any account")

	ErrIdempotencyKeyConflict = errors.New("idempotency key already used by another checkout")
)

// ProductUnavailableError names the product that blocked checkout.
type ProductUnavailableError struct {
	ProductID string
	Reason    string
}

func (e *ProductUnavailableError) Error() string {
	return fmt.Sprintf("product %s unavailable: %s", e.ProductID, e.Reason)
}

func (e *ProductUnavailableError) Unwrap() error {
	return ErrProductUnavailable
}
