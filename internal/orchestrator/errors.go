package orchestrator

import "errors"

var (
	ErrInvalidRequest     = errors.New("invalid request")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderUnavailable   = errors.New("order is no longer available")
	ErrInvalidTransition  = errors.New("action not allowed in the current order state")
	ErrNotAssignedArtisan = errors.New("artisan is not assigned to this order")
	ErrNotOrderCustomer   = errors.New("customer does not own this order")
	ErrAccountBlocked     = errors.New("account is blocked")
	ErrInvalidPrice       = errors.New("price must be greater than zero")
)
