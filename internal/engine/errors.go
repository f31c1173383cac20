package engine

import "errors"

// Engine error taxonomy. These surface verbatim in error response records;
// they never abort the consumer loop.
var (
	ErrAlreadyExists       = errors.New("user with this email already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrOrderNotFound       = errors.New("order not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrPriceUnavailable    = errors.New("price unavailable")
	ErrInternal            = errors.New("internal error")
)
