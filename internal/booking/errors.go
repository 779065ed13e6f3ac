package booking

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel kinds. Concrete errors unwrap to one of these so callers can
// branch with errors.Is and still read details with errors.As.
var (
	ErrValidation      = errors.New("validation failed")
	ErrPolicyViolation = errors.New("policy violation")
	ErrSlotUnavailable = errors.New("slot unavailable")
	ErrPayment         = errors.New("payment failed")
	ErrInfrastructure  = errors.New("infrastructure failure")
	ErrNotFound        = errors.New("booking not found")
)

// ValidationError reports malformed input on a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PolicyViolationError reports a lifecycle rule that blocks the requested
// transition. For cancellation-window violations, HoursRemaining carries how
// long before the appointment the request arrived, for UI messaging.
type PolicyViolationError struct {
	Rule           string
	HoursRemaining float64
}

func (e *PolicyViolationError) Error() string {
	if e.HoursRemaining > 0 {
		return fmt.Sprintf("%s (%.1f hours before appointment)", e.Rule, e.HoursRemaining)
	}
	return e.Rule
}

func (e *PolicyViolationError) Unwrap() error { return ErrPolicyViolation }

func cancellationWindowViolation(untilStart time.Duration) *PolicyViolationError {
	hours := untilStart.Hours()
	if hours < 0 {
		hours = 0
	}
	return &PolicyViolationError{
		Rule:           "cancellation requires 24 hours notice",
		HoursRemaining: hours,
	}
}

// PaymentError surfaces a gateway failure or an unconfirmed intent.
type PaymentError struct {
	IntentID string
	Err      error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment intent %s: %v", e.IntentID, e.Err)
}

func (e *PaymentError) Unwrap() []error { return []error{ErrPayment, e.Err} }

// InfrastructureError wraps storage/network failures. The caller sees a
// generic retryable error; the cause stays in the chain for logs.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() []error { return []error{ErrInfrastructure, e.Err} }

func infraErr(op string, err error) *InfrastructureError {
	return &InfrastructureError{Op: op, Err: err}
}
