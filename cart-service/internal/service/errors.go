package service

import "errors"

var (
	ErrLineNotFound = errors.New("cart line not found")
	// ErrCartUnavailable means neither the durable nor the session store accepted the cart.
	ErrCartUnavailable = errors.New("cart storage unavailable")
)
