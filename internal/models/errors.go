package models

import (
	"errors"
	"fmt"
)

// Sentinel failures shared across the store, orchestrator and handlers.
// Handlers classify with errors.Is and map to HTTP status codes.
var (
	ErrNotFound = errors.New("not found")

	// ErrNotAuthorized covers both wrong-role and not-a-party failures.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrRideAlreadyClaimed is the benign race loss when a ride left
	// SEARCHING before the claim landed. Not logged as an error.
	ErrRideAlreadyClaimed = errors.New("ride already taken or cancelled")

	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConfigNotFound signals a missing rate config; callers fall
	// back to a default fare instead of failing the request.
	ErrConfigNotFound = errors.New("rate config not found")

	ErrAlreadyReviewed  = errors.New("ride already reviewed")
	ErrRideNotCompleted = errors.New("ride not completed")

	// ErrExternalService marks payment/KYC backends being unreachable
	// or erroring. Surfaced as a degraded outcome where possible.
	ErrExternalService = errors.New("external service failure")
)

// ValidationError reports malformed user input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
