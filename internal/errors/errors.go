// Package errors defines the service error taxonomy surfaced over HTTP.
package errors

import (
	"database/sql"
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies an error class in API responses.
type Code string

const (
	CodeBadRequest    Code = "BAD_REQUEST"
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeInvalidToken  Code = "INVALID_TOKEN"
	CodeForbidden     Code = "FORBIDDEN"
	CodeConflict      Code = "CONFLICT"
	CodeRateLimited   Code = "RATE_LIMIT_EXCEEDED"
	CodeUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeUpstreamError Code = "UPSTREAM_ERROR"
)

// ErrNotFound is returned by storage implementations for missing records.
var ErrNotFound = stderrors.New("record not found")

// ErrConflict is returned by storage implementations when a write loses to a
// concurrent change or violates a uniqueness constraint.
var ErrConflict = stderrors.New("conflicting state")

// ServiceError carries an HTTP status and a machine readable code.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails returns a copy of the error with an extra detail entry.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	cp := *e
	cp.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		cp.Details[k] = v
	}
	cp.Details[key] = value
	return &cp
}

func newError(code Code, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func BadRequest(format string, args ...interface{}) *ServiceError {
	return newError(CodeBadRequest, http.StatusBadRequest, fmt.Sprintf(format, args...), nil)
}

// Validation reports field-level validation failures.
func Validation(fields map[string]string) *ServiceError {
	details := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		details[k] = v
	}
	e := newError(CodeValidation, http.StatusBadRequest, "validation failed", nil)
	e.Details = details
	return e
}

func NotFound(resource, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s %s not found", resource, id), ErrNotFound)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func InvalidToken(err error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", err)
}

func Forbidden(message string) *ServiceError {
	if message == "" {
		message = "access denied"
	}
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

func Conflict(format string, args ...interface{}) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, fmt.Sprintf(format, args...), nil)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Unavailable(message string, err error) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, err)
}

func Upstream(message string, err error) *ServiceError {
	return newError(CodeUpstreamError, http.StatusBadGateway, message, err)
}

func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// GetServiceError unwraps err to a ServiceError, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// Normalize converts any error to a ServiceError. Missing rows become 404 and
// storage conflicts 409.
func Normalize(err error) *ServiceError {
	if err == nil {
		return nil
	}
	if se := GetServiceError(err); se != nil {
		return se
	}
	if stderrors.Is(err, ErrNotFound) || stderrors.Is(err, sql.ErrNoRows) {
		return newError(CodeNotFound, http.StatusNotFound, "resource not found", err)
	}
	if stderrors.Is(err, ErrConflict) {
		return newError(CodeConflict, http.StatusConflict, err.Error(), err)
	}
	return Internal("internal server error", err)
}

// HTTPStatusFor maps an error to its HTTP status.
func HTTPStatusFor(err error) int {
	if err == nil {
		return http.StatusOK
	}
	return Normalize(err).HTTPStatus
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target interface{}) bool { return stderrors.As(err, target) }

func New(text string) error { return stderrors.New(text) }
