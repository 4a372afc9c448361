package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies coordination errors
type ErrorCode string

const (
	ErrCodeChannel      ErrorCode = "CHANNEL_ERROR"     // signaling store unreachable, retriable
	ErrCodeMedia        ErrorCode = "MEDIA_ERROR"       // capture denied or busy, fatal to the session
	ErrCodeNegotiation  ErrorCode = "NEGOTIATION_ERROR" // malformed or rejected SDP/ICE, fatal
	ErrCodeAdapter      ErrorCode = "ADAPTER_ERROR"     // transport library failure, maps to FAILED
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeConflict     ErrorCode = "CONFLICT"
	ErrCodeInternal     ErrorCode = "INTERNAL_ERROR"
)

// SessionError is an error with a taxonomy code and optional cause.
type SessionError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements error interface
func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *SessionError) Unwrap() error {
	return e.Cause
}

func newError(code ErrorCode, message string, cause error) *SessionError {
	return &SessionError{Code: code, Message: message, Cause: cause}
}

// NewChannelError wraps a signaling-store failure. Channel errors are
// retriable and non-fatal to session semantics.
func NewChannelError(message string, cause error) *SessionError {
	return newError(ErrCodeChannel, message, cause)
}

// NewMediaError wraps a capture failure (permission denied, hardware busy).
func NewMediaError(message string, cause error) *SessionError {
	return newError(ErrCodeMedia, message, cause)
}

// NewNegotiationError wraps a rejected or malformed SDP/ICE exchange.
func NewNegotiationError(message string, cause error) *SessionError {
	return newError(ErrCodeNegotiation, message, cause)
}

// NewAdapterError wraps a failure inside the transport library.
func NewAdapterError(message string, cause error) *SessionError {
	return newError(ErrCodeAdapter, message, cause)
}

func NewInvalidInputError(message string) *SessionError {
	return newError(ErrCodeInvalidInput, message, nil)
}

func NewNotFoundError(resource string) *SessionError {
	return newError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

func NewConflictError(message string) *SessionError {
	return newError(ErrCodeConflict, message, nil)
}

// GetSessionError extracts a SessionError from an error chain.
func GetSessionError(err error) *SessionError {
	var se *SessionError
	if errors.As(err, &se) {
		return se
	}
	return nil
}

// CodeOf returns the taxonomy code of err, or ErrCodeInternal for
// unclassified errors.
func CodeOf(err error) ErrorCode {
	if se := GetSessionError(err); se != nil {
		return se.Code
	}
	return ErrCodeInternal
}

// IsChannelError reports whether err is a retriable signaling-store failure.
func IsChannelError(err error) bool {
	return CodeOf(err) == ErrCodeChannel
}

// HTTPStatus maps a taxonomy code to the gateway's HTTP response status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeChannel:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
