package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order id")
	ErrOrderExpired          = errors.New("order expired")
	ErrOrderAlreadyProcessed = errors.New("order already processed")
	ErrPaymentNotInitiated   = errors.New("payment not initiated")
	ErrAmountMismatch        = errors.New("amount mismatch")
	ErrReferenceMismatch     = errors.New("gateway reference mismatch")
	ErrInvalidSignature      = errors.New("invalid signature")
	ErrMalformedReport       = errors.New("malformed payment report")
	ErrGatewayUnavailable    = errors.New("payment gateway unavailable")
	ErrGatewayRejected       = errors.New("payment gateway rejected the request")
	ErrUnknownProvider       = errors.New("unknown payment provider")
	ErrUnauthorized          = errors.New("unauthorized")
)

// ValidationError names the request field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
