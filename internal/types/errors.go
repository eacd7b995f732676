package types

import (
	"fmt"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers MUST use these constants instead of
// hardcoded strings; the codes are part of the bus contract with callers.
const (
	// Request validation (rejected before any state mutation).
	ErrCodeMissingParam ErrorCode = "validation_missing_parameter"
	ErrCodeInvalidParam ErrorCode = "validation_invalid_parameter"

	// Alarm domain.
	ErrCodeCancelFailed    ErrorCode = "alarm.cancel.failed"
	ErrCodePlaceUnresolved ErrorCode = "alarm_place_unresolved"

	// Dispatch domain.
	ErrCodeNoSuchProvider ErrorCode = "dispatch_no_such_provider"
	ErrCodeUnsupported    ErrorCode = "dispatch_unsupported_by_user"

	// Internal.
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// AppError is the standard application error type used throughout the alerting
// core. Domain and handler errors are expressed as AppError to enable
// consistent formatting on the bus and error chain support, without leaking
// internal state to callers.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError with the given code, message, and
// optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError carrying structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// MissingParam builds the standard missing-parameter validation error.
func MissingParam(name string) *AppError {
	return NewAppErrorWithDetails(ErrCodeMissingParam,
		fmt.Sprintf("missing required parameter %q", name), nil,
		map[string]any{"parameter": name})
}

// InvalidParam builds the standard invalid-parameter validation error.
func InvalidParam(name string, value any) *AppError {
	return NewAppErrorWithDetails(ErrCodeInvalidParam,
		fmt.Sprintf("invalid value for parameter %q", name), nil,
		map[string]any{"parameter": name, "value": value})
}
