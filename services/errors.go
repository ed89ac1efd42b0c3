package services

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a ServiceError.
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"      // 400
	ErrUnauthorized        ErrorCode = "UNAUTHORIZED"         // 401
	ErrNotFound            ErrorCode = "NOT_FOUND"            // 404
	ErrConflict            ErrorCode = "CONFLICT"             // 409
	ErrUpstreamUnavailable ErrorCode = "UPSTREAM_UNAVAILABLE" // 502
	ErrInternal            ErrorCode = "INTERNAL"             // 500
)

// ServiceError is the typed result returned to request-side callers.
type ServiceError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	cause   error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.cause
}

func NewInvalidRequest(msg string) *ServiceError {
	return &ServiceError{Code: ErrInvalidRequest, Status: 400, Message: msg}
}

func NewUnauthorized(msg string) *ServiceError {
	return &ServiceError{Code: ErrUnauthorized, Status: 401, Message: msg}
}

// NewNotFound creates a 404 error for a missing Memory, UserMemory or User.
func NewNotFound(msg string, details map[string]any) *ServiceError {
	return &ServiceError{Code: ErrNotFound, Status: 404, Message: msg, Details: details}
}

// NewConflict creates a 409 error for a violated redemption precondition.
func NewConflict(msg string, details map[string]any) *ServiceError {
	return &ServiceError{Code: ErrConflict, Status: 409, Message: msg, Details: details}
}

// NewUpstreamUnavailable wraps a failed chain RPC call.
func NewUpstreamUnavailable(err error) *ServiceError {
	return &ServiceError{Code: ErrUpstreamUnavailable, Status: 502, Message: "blockchain node unavailable", cause: err}
}

// NewInternal wraps an unexpected storage or encoding failure.
func NewInternal(err error) *ServiceError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &ServiceError{Code: ErrInternal, Status: 500, Message: msg, cause: err}
}

// IsCode reports whether err is (or wraps) a ServiceError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var sErr *ServiceError
	if errors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// AsServiceError converts any error into a ServiceError, defaulting to INTERNAL.
func AsServiceError(err error) *ServiceError {
	var sErr *ServiceError
	if errors.As(err, &sErr) {
		return sErr
	}
	return NewInternal(err)
}
