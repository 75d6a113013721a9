package types

import (
	"errors"
	"fmt"
)

// Domain error taxonomy. Handlers map these to HTTP responses in pkg/response;
// every rejected operation rolls back and leaves state unchanged.
var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrLocationRestricted  = errors.New("citizen is not eligible to trade this pair")
	ErrSelfTradeNotAllowed = errors.New("cannot accept your own order")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotActive      = errors.New("order is no longer open")
	ErrUnauthorized        = errors.New("only the order maker may do this")

	// ErrOverfillAttempt is an internal invariant breach: a fill that would
	// push filled_reserve_amount past reserve_amount. Never caller-reachable
	// when the engine is correct; logged as critical and rolled back.
	ErrOverfillAttempt = errors.New("fill would exceed order amount")

	// ErrConcurrencyConflict surfaces after bounded internal retries on
	// transient store contention. Safe for the caller to retry.
	ErrConcurrencyConflict = errors.New("conflicting concurrent update, retry")
)

// ValidationError reports a caller-supplied value that fails validation,
// such as a non-positive amount or an unknown currency pair.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func NewValidationError(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
