package application

import (
	"errors"
	"fmt"
)

// ErrValidation is matched by every *ValidationError.
var ErrValidation = errors.New("validation failed")

// State and protocol errors returned by the services.
var (
	ErrLockerNotActive    = errors.New("locker is not active")
	ErrInheritorMissing   = errors.New("locker has no inheritor email")
	ErrLockerNotTriggered = errors.New("locker has not been triggered")
	ErrLockerExpired      = errors.New("locker access window has expired")
	ErrOTPInvalid         = errors.New("invalid access code")
	ErrOTPExpired         = errors.New("access code has expired")
	ErrOTPAlreadyUsed     = errors.New("access code already used")
	ErrAttemptsExceeded   = errors.New("access attempts exceeded")
	ErrDeliveryInProgress = errors.New("delivery in progress")
	ErrDeliveryFailed     = errors.New("delivery failed")
	ErrNotDue             = errors.New("message is not due yet")
)

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrValidation) true for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AttemptError is returned for a rejected locker access code. Err is one of
// ErrOTPInvalid, ErrOTPExpired, ErrOTPAlreadyUsed or ErrAttemptsExceeded.
type AttemptError struct {
	Err               error
	AttemptsRemaining int
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("%v (%d attempts remaining)", e.Err, e.AttemptsRemaining)
}

func (e *AttemptError) Unwrap() error {
	return e.Err
}
