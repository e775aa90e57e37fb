// Package errors provides the standardized error taxonomy for the
// orchestration pipeline. Every failure that crosses a component boundary is a
// *StandardError so the envelope, aggregator, and HTTP layer can agree on
// retryability and status codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeValidation        ErrorCode = "VALIDATION_ERROR"
	ErrCodeAuth              ErrorCode = "AUTH_ERROR"
	ErrCodeTransientBackend  ErrorCode = "TRANSIENT_BACKEND_ERROR"
	ErrCodePermanentBackend  ErrorCode = "PERMANENT_BACKEND_ERROR"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	ErrCodeAnalysisFailed    ErrorCode = "ANALYSIS_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Backend   string    `json:"backend,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
}

func (e *StandardError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("StandardError[%s] backend=%s: %s", e.Code, e.Backend, e.Message)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// NewValidationError creates a non-retryable caller input error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   "Invalid request",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuthError creates a non-retryable authentication error.
func NewAuthError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuth,
		Message:   "Authentication failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewTransientBackendError creates a retryable backend error (network failure,
// timeout, 5xx response).
func NewTransientBackendError(backend string, err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      ErrCodeTransientBackend,
		Message:   "Backend call failed",
		Details:   details,
		Backend:   backend,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPermanentBackendError creates a non-retryable backend error (malformed
// request or structurally invalid response).
func NewPermanentBackendError(backend, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodePermanentBackend,
		Message:   "Backend returned an unusable response",
		Details:   details,
		Backend:   backend,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitExceededError reports that no rate-limiter token became
// available within the bounded queue time. Never retried within a call.
func NewRateLimitExceededError(backend string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimitExceeded,
		Message:   "Backend rate limit exceeded",
		Backend:   backend,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCircuitOpenError reports a short-circuited call against an open breaker.
// Never retried within a call; the aggregator marks the source degraded.
func NewCircuitOpenError(backend string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCircuitOpen,
		Message:   "Circuit breaker open",
		Backend:   backend,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewAnalysisFailedError is returned when every dispatched source failed and
// no answer can be produced.
func NewAnalysisFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAnalysisFailed,
		Message:   "Analysis failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// CodeOf extracts the error code, or empty for non-standard errors.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// IsRetryable reports whether the envelope may retry the call. Unknown error
// types are treated as transient so raw transport errors get the retry path.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return err != nil
}

// IsCircuitOpen reports whether the call was short-circuited by a breaker.
func IsCircuitOpen(err error) bool {
	return CodeOf(err) == ErrCodeCircuitOpen
}

// IsRateLimited reports whether the call was rejected by the rate limiter.
func IsRateLimited(err error) bool {
	return CodeOf(err) == ErrCodeRateLimitExceeded
}

// IsSkipped reports whether a source was skipped without a backend attempt
// (open circuit or exhausted token bucket) rather than genuinely failing.
func IsSkipped(err error) bool {
	return IsCircuitOpen(err) || IsRateLimited(err)
}

// HTTPStatus maps an error to the status code for the outer HTTP surface.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeValidation:
		return http.StatusBadRequest
	case ErrCodeAuth:
		return http.StatusUnauthorized
	case ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
