package types

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a unified error code across the pipeline.
// ErrorCode itself satisfies error so callers can match with errors.Is(err, ErrRateLimitExhausted).
type ErrorCode string

// Generation error codes
const (
	ErrRemoteUnavailable  ErrorCode = "REMOTE_UNAVAILABLE"
	ErrRateLimitExhausted ErrorCode = "RATE_LIMIT_EXHAUSTED"
	ErrInvalidResponse    ErrorCode = "INVALID_RESPONSE"
	ErrDownloadFailed     ErrorCode = "DOWNLOAD_FAILED"
)

// Moderation error codes
const (
	ErrScoringUnavailable ErrorCode = "SCORING_UNAVAILABLE"
)

// Pipeline error codes
const (
	ErrInvalidRequest  ErrorCode = "INVALID_REQUEST"
	ErrNormalizeFailed ErrorCode = "NORMALIZE_FAILED"
	ErrStorageFailed   ErrorCode = "STORAGE_FAILED"
	ErrCanceled        ErrorCode = "CANCELED"
)

// Error implements the error interface so a bare code can be used as a sentinel.
func (c ErrorCode) Error() string { return string(c) }

// Error represents a structured error with code, message, and retry diagnostics.
type Error struct {
	Code        ErrorCode `json:"code"`
	Message     string    `json:"message"`
	HTTPStatus  int       `json:"http_status,omitempty"`
	Retryable   bool      `json:"retryable"`
	Attempts    int       `json:"attempts,omitempty"`
	LastOutcome string    `json:"last_outcome,omitempty"`
	Cause       error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Code, e.Message)
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " (attempts=%d", e.Attempts)
		if e.LastOutcome != "" {
			fmt.Fprintf(&b, " last_outcome=%s", e.LastOutcome)
		}
		if e.HTTPStatus != 0 {
			fmt.Fprintf(&b, " last_status=%d", e.HTTPStatus)
		}
		b.WriteString(")")
	} else if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, " (status=%d)", e.HTTPStatus)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is this error's code.
func (e *Error) Is(target error) bool {
	if code, ok := target.(ErrorCode); ok {
		return e.Code == code
	}
	return false
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithAttempts records how many attempts were made and how the last one ended.
func (e *Error) WithAttempts(attempts int, lastOutcome string) *Error {
	e.Attempts = attempts
	e.LastOutcome = lastOutcome
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var code ErrorCode
	if errors.As(err, &code) {
		return code
	}
	return ""
}
