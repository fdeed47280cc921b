// Package services provides the API-facing operations over runs,
// workflows and incoming forge events, with standardized error types the
// transport layer maps onto HTTP statuses.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/gale/pkg/dispatch"
)

// Validation errors (400 Bad Request).
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidEventKind = errors.New("invalid event kind")
	ErrEmptySource      = errors.New("workflow source cannot be empty")
)

// Business logic conflicts (409 Conflict).
var (
	// ErrRunNotCancellable is returned when cancelling a run that
	// already reached a terminal status.
	ErrRunNotCancellable = errors.New("run already finished")
)

// Backpressure and delivery errors, re-exported so callers do not need
// to know which layer produced them.
var (
	ErrQueueFull         = dispatch.ErrQueueFull
	ErrDuplicateDelivery = dispatch.ErrDuplicateDelivery
	ErrRunNotActive      = dispatch.ErrRunNotActive
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidEventKind) ||
		errors.Is(err, ErrEmptySource)
}

// IsConflictError checks if an error should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrRunNotCancellable) ||
		errors.Is(err, ErrRunNotActive) ||
		errors.Is(err, ErrDuplicateDelivery)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
