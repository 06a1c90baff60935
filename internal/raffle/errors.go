package raffle

import (
	"errors"
	"fmt"
)

// ErrNotFound surfaces for unknown raffle ids on any operation.
var ErrNotFound = errors.New("raffle not found")

// ErrBusy means the per-raffle mutation lock could not be taken; the call had
// no effect and can simply be retried.
var ErrBusy = errors.New("raffle busy, try again")

// ValidationError is bad caller input: rejected synchronously, no state
// change, no partial effect.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s", e.Reason)
}

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// GuardViolation is a legal-looking call in the wrong state or time window:
// rejected synchronously, state unchanged.
type GuardViolation struct {
	Reason string
}

func (e *GuardViolation) Error() string {
	return fmt.Sprintf("guard: %s", e.Reason)
}

func guardf(format string, args ...interface{}) error {
	return &GuardViolation{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsGuardViolation(err error) bool {
	var g *GuardViolation
	return errors.As(err, &g)
}
