// Package errors provides custom error types for the orchestrator.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds as stable string identifiers. These are part of the public
// API contract and must not change between releases.
const (
	KindStoreError      = "store-error"
	KindSpoolError      = "spool-error"
	KindSandboxError    = "sandbox-error"
	KindNotFound        = "not-found"
	KindInvalidState    = "invalid-state"
	KindTimeout         = "timeout"
	KindRecoveryError   = "recovery-error"
	KindValidationError = "validation-error"
)

// AppError represents an application-specific error with a stable kind.
type AppError struct {
	Kind       string `json:"kind"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// StoreError creates a persistence failure error wrapping the underlying cause.
func StoreError(message string, err error) *AppError {
	return &AppError{
		Kind:       KindStoreError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// SpoolError creates a filesystem failure error for the event spool.
func SpoolError(message string, err error) *AppError {
	return &AppError{
		Kind:       KindSpoolError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// SandboxError creates an error for sandbox driver failures, including a
// missing agent image.
func SandboxError(message string, err error) *AppError {
	return &AppError{
		Kind:       KindSandboxError,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// NotFound creates a new not found error for a resource.
func NotFound(resource string, id string) *AppError {
	return &AppError{
		Kind:       KindNotFound,
		Message:    fmt.Sprintf("%s with id '%s' not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// InvalidState creates an error for an operation requested in an
// incompatible state.
func InvalidState(message string) *AppError {
	return &AppError{
		Kind:       KindInvalidState,
		Message:    message,
		HTTPStatus: http.StatusConflict,
	}
}

// Timeout creates an error for a fired watchdog timer.
func Timeout(message string) *AppError {
	return &AppError{
		Kind:       KindTimeout,
		Message:    message,
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// RecoveryError creates an error for a failed startup reconciliation of an
// orphaned agent.
func RecoveryError(message string, err error) *AppError {
	return &AppError{
		Kind:       KindRecoveryError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ValidationError creates a new validation error for a specific field.
func ValidationError(field string, message string) *AppError {
	return &AppError{
		Kind:       KindValidationError,
		Message:    fmt.Sprintf("validation failed for field '%s': %s", field, message),
		HTTPStatus: http.StatusBadRequest,
	}
}

// Wrap wraps an existing error with additional context, returning an AppError.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	// If the error is already an AppError, preserve its kind and status
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Kind:       appErr.Kind,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Kind:       KindStoreError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsInvalidState checks if the error is an invalid state error.
func IsInvalidState(err error) bool {
	return KindOf(err) == KindInvalidState
}

// IsValidationError checks if the error is a validation error.
func IsValidationError(err error) bool {
	return KindOf(err) == KindValidationError
}

// KindOf returns the stable kind string for an error, or an empty string if
// the error is not an AppError.
func KindOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// GetHTTPStatus returns the HTTP status code for an error.
// Returns 500 Internal Server Error if the error is not an AppError.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
