package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// ErrorCode classifies coordination failures. Codes travel in JSON bodies,
// so values are snake_case.
type ErrorCode string

const (
	// Target-level failures (reported inside 200 bodies, never as 5xx).
	ErrCodeTargetUnreachable ErrorCode = "target_unreachable"
	ErrCodeTimeout           ErrorCode = "timeout"
	ErrCodeIOError           ErrorCode = "io_error"

	// Request-level failures.
	ErrCodeNotFound          ErrorCode = "not_found"
	ErrCodeInvalidArgument   ErrorCode = "invalid_argument"
	ErrCodePolicyUnsatisfied ErrorCode = "policy_unsatisfied"
	ErrCodeValidationTimeout ErrorCode = "validation_timeout"

	// Coordinator-internal faults.
	ErrCodeInternal ErrorCode = "internal"
)

// CoordError is a structured error with a code and context details.
type CoordError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Cause   error
}

// Error implements the error interface
func (e *CoordError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error
func (e *CoordError) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the code to a response status. Target-level codes map to
// 500 here because they only reach this path when they escape as a
// coordinator fault; in the normal flow they are embedded in 200 bodies.
func (e *CoordError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeInvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// NewCoordError creates a new CoordError
func NewCoordError(code ErrorCode, message string, cause error) *CoordError {
	return &CoordError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Cause:   cause,
	}
}

// WithDetail adds a detail to the error
func (e *CoordError) WithDetail(key string, value interface{}) *CoordError {
	e.Details[key] = value
	return e
}

// Convenience constructors

func TargetUnreachable(targetID string, cause error) *CoordError {
	return NewCoordError(ErrCodeTargetUnreachable, fmt.Sprintf("target %s unreachable", targetID), cause).
		WithDetail("target_id", targetID)
}

func Timeout(op string, limit time.Duration, cause error) *CoordError {
	return NewCoordError(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", op, limit), cause).
		WithDetail("op", op).
		WithDetail("limit", limit.String())
}

func IOError(message string, cause error) *CoordError {
	return NewCoordError(ErrCodeIOError, message, cause)
}

func NotFound(key string) *CoordError {
	return NewCoordError(ErrCodeNotFound, fmt.Sprintf("key not found: %s", key), nil).
		WithDetail("key", key)
}

func InvalidArgument(message string, cause error) *CoordError {
	return NewCoordError(ErrCodeInvalidArgument, message, cause)
}

func PolicyUnsatisfied(policy string, detail string) *CoordError {
	return NewCoordError(ErrCodePolicyUnsatisfied, fmt.Sprintf("policy %s unsatisfied: %s", policy, detail), nil).
		WithDetail("policy", policy)
}

func ValidationTimeout(scenario string, maxWait time.Duration) *CoordError {
	return NewCoordError(ErrCodeValidationTimeout, fmt.Sprintf("scenario %s not consistent within %s", scenario, maxWait), nil).
		WithDetail("scenario", scenario).
		WithDetail("max_wait", maxWait.String())
}

func Internal(message string, cause error) *CoordError {
	return NewCoordError(ErrCodeInternal, message, cause)
}

// Classify maps a raw filesystem or context error onto the taxonomy.
// Missing-root and permission failures mean the mount itself is gone
// (unreachable); deadline expiry is a timeout; anything else is I/O.
func Classify(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	case stderrors.Is(err, context.Canceled):
		return ErrCodeTimeout
	case stderrors.Is(err, os.ErrPermission):
		return ErrCodeTargetUnreachable
	case stderrors.Is(err, os.ErrNotExist):
		return ErrCodeNotFound
	default:
		return ErrCodeIOError
	}
}

// Retryable reports whether a failure with this code may be retried within
// one coordinated write. Unreachable targets are not retried until the next
// health probe cycle.
func Retryable(code ErrorCode) bool {
	return code == ErrCodeTimeout || code == ErrCodeIOError
}

// CodeOf returns the code a failure should be treated as: the CoordError
// code when one is present anywhere in the chain, otherwise the Classify
// verdict for the raw error.
func CodeOf(err error) ErrorCode {
	var ce *CoordError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return Classify(err)
}

// IsCoordError checks if an error is a CoordError
func IsCoordError(err error) bool {
	var ce *CoordError
	return stderrors.As(err, &ce)
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var ce *CoordError
	if stderrors.As(err, &ce) {
		return ce.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
