// Package errors defines the shared error taxonomy for the ingestion
// pipeline and maps errors to HTTP status codes at the API boundary.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNoAvailableSources means no adapter in the requested set was enabled
	// and accepting calls. This is the one per-request hard failure: there was
	// nothing to even attempt.
	ErrNoAvailableSources = errors.New("no available sources")

	// ErrRateLimited maps an upstream 429-class response.
	ErrRateLimited = errors.New("upstream rate limit exceeded")
	// ErrNotFound maps an upstream 404-class response.
	ErrNotFound = errors.New("upstream resource not found")
	// ErrUpstreamUnavailable maps upstream 5xx responses and transport errors.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedResponse means the upstream payload could not be parsed.
	ErrMalformedResponse = errors.New("malformed upstream response")

	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrTimeout      = errors.New("operation timed out")
)

// AppError pairs a sentinel with a human-readable message and HTTP status.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError wrapping a sentinel.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf is New with a formatted message.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status the API layer should return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrNoAvailableSources), errors.Is(err, ErrUpstreamUnavailable), errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
