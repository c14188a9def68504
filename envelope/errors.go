package envelope

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Code is a machine-parseable error code.
type Code string

const (
	CodeAuthentication      Code = "AUTHENTICATION_ERROR"
	CodeAuthorization       Code = "AUTHORIZATION_ERROR"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotFound            Code = "NOT_FOUND"
	CodeBackendUnavailable  Code = "BACKEND_UNAVAILABLE"
	CodeConfirmationExpired Code = "CONFIRMATION_EXPIRED"
	CodeMissingGatewayToken Code = "MISSING_GATEWAY_TOKEN"
	CodeInvalidGatewayToken Code = "INVALID_GATEWAY_TOKEN"
	CodeInvalidCursor       Code = "INVALID_CURSOR"
	CodeInjectionBlocked    Code = "INJECTION_BLOCKED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeInternal            Code = "INTERNAL_ERROR"
)

// Sentinel errors for errors.Is matching by code.
var (
	ErrAuthentication      = &Error{Code: CodeAuthentication}
	ErrAuthorization       = &Error{Code: CodeAuthorization}
	ErrValidation          = &Error{Code: CodeValidation}
	ErrNotFound            = &Error{Code: CodeNotFound}
	ErrBackendUnavailable  = &Error{Code: CodeBackendUnavailable}
	ErrConfirmationExpired = &Error{Code: CodeConfirmationExpired}
	ErrMissingGatewayToken = &Error{Code: CodeMissingGatewayToken}
	ErrInvalidGatewayToken = &Error{Code: CodeInvalidGatewayToken}
	ErrInvalidCursor       = &Error{Code: CodeInvalidCursor}
	ErrInjectionBlocked    = &Error{Code: CodeInjectionBlocked}
	ErrRateLimited         = &Error{Code: CodeRateLimited}
	ErrInternal            = &Error{Code: CodeInternal}
)

// Error is the structured error variant of a Response.
type Error struct {
	// Code identifies the failure class.
	Code Code `json:"code"`

	// Message is a human-readable description. It never contains entity data.
	Message string `json:"message"`

	// SuggestedAction tells an automated caller how to self-correct.
	SuggestedAction string `json:"suggestedAction,omitempty"`

	// Field names the offending argument for validation failures.
	Field string `json:"field,omitempty"`

	// Cause is the underlying error. It is never serialized.
	Cause error `json:"-"`
}

// NewError creates an error with the given code and message.
func NewError(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates an error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error that records cause without exposing it.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithSuggestion returns a copy of e with SuggestedAction set.
func (e *Error) WithSuggestion(action string) *Error {
	c := *e
	c.SuggestedAction = action
	return &c
}

// WithField returns a copy of e with Field set.
func (e *Error) WithField(field string) *Error {
	c := *e
	c.Field = field
	return &c
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the cause error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Retryable reports whether the failure is transient.
func (e *Error) Retryable() bool {
	return e.Code == CodeBackendUnavailable
}

// HTTPStatus maps the code to an HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeAuthentication, CodeMissingGatewayToken, CodeInvalidGatewayToken:
		return http.StatusUnauthorized
	case CodeAuthorization:
		return http.StatusForbidden
	case CodeValidation, CodeInvalidCursor, CodeInjectionBlocked:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeConfirmationExpired:
		return http.StatusGone
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// FromError converts any error into a structured *Error.
// Unstructured errors become INTERNAL_ERROR with a generic message so raw
// failure text never reaches a client.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeBackendUnavailable, "operation timed out", err).
			WithSuggestion("retry the request later")
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(CodeInternal, "request cancelled", err)
	}
	return Wrap(CodeInternal, "internal error", err)
}
