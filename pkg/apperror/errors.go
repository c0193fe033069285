package apperror

import (
	"errors"
	"net/http"
)

var (
	ErrNotFound          = errors.New("resource not found")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrBadRequest        = errors.New("bad request")
	ErrInternal          = errors.New("internal server error")
	ErrInvalidInput      = errors.New("invalid input")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrTransient marks presence-store or persistence unavailability.
	// Advisory operations log and continue; notification persistence
	// fails closed.
	ErrTransient = errors.New("backing store unavailable")
)

// Authentication failure reasons. Each rejects the connection and is
// never retried server-side.
var (
	ErrTokenMalformed  = errors.New("malformed")
	ErrTokenExpired    = errors.New("expired")
	ErrTokenRevoked    = errors.New("revoked")
	ErrUnknownIdentity = errors.New("unknown-identity")
)

// AppError is a custom error type that can hold an HTTP status code
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsAuthFailure reports whether err is one of the credential rejection
// reasons.
func IsAuthFailure(err error) bool {
	return errors.Is(err, ErrTokenMalformed) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenRevoked) ||
		errors.Is(err, ErrUnknownIdentity)
}

// MapErrorToStatus maps common errors to HTTP status codes
func MapErrorToStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrUnauthorized) || IsAuthFailure(err) {
		return http.StatusUnauthorized
	}
	if errors.Is(err, ErrForbidden) {
		return http.StatusForbidden
	}
	if errors.Is(err, ErrBadRequest) || errors.Is(err, ErrInvalidInput) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrRateLimitExceeded) {
		return http.StatusTooManyRequests
	}
	if errors.Is(err, ErrTransient) {
		return http.StatusServiceUnavailable
	}
	// Default to internal server error
	return http.StatusInternalServerError
}
