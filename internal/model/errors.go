package model

import "errors"

// Gateway and engine errors. Adapters wrap the exchange's own errors with
// these so the engine can decide between retry and abort with errors.Is.
var (
	// ErrTransient marks network timeouts, 5xx and rate limits. Always retried.
	ErrTransient = errors.New("transient exchange error")

	// ErrOrderNotFound is returned when the exchange does not know the order id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrOrderRejected is returned when the exchange refuses to place an order.
	ErrOrderRejected = errors.New("order rejected")

	// ErrInsufficientBalance is returned when the account cannot fund an order.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrOrderCancelled is returned by a fill watch on an order that was
	// cancelled before filling.
	ErrOrderCancelled = errors.New("order cancelled before fill")

	// ErrEmptyOrderBook is returned when the side of the book needed for a
	// price decision has no levels.
	ErrEmptyOrderBook = errors.New("order book side is empty")

	// ErrInvariantViolation signals a logic defect. Never retried or swallowed.
	ErrInvariantViolation = errors.New("trade invariant violated")
)

// IsTransient reports whether err should be retried at the polling interval.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
