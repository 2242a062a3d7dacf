package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error codes
const (
	// Quota / scheduling errors
	CodeQuotaExceeded = "QUOTA_EXCEEDED"
	CodeRateLimited   = "RATE_LIMITED"

	// Credential errors
	CodeInvalidCredential = "INVALID_CREDENTIAL"

	// Transient errors
	CodeTimeout      = "TIMEOUT"
	CodeNetworkError = "NETWORK_ERROR"

	// Model output errors
	CodeInvalidResponse = "INVALID_RESPONSE"
	CodePromptTooLarge  = "PROMPT_TOO_LARGE"
	CodeContentBlocked  = "CONTENT_BLOCKED"

	// Reply gate errors
	CodeValidationFailed = "VALIDATION_FAILED"

	// Concurrency errors
	CodeConcurrencyConflict = "CONCURRENCY_CONFLICT"
	CodeLockBusy            = "LOCK_BUSY"

	// Generic errors
	CodeBadRequest    = "BAD_REQUEST"
	CodeNotFound      = "NOT_FOUND"
	CodeDatabaseError = "DATABASE_ERROR"
	CodeExternalError = "EXTERNAL_ERROR"
	CodeInternalError = "INTERNAL_ERROR"
	CodeConfigError   = "CONFIG_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// HTTPStatus returns the HTTP status code
func (e *AppError) HTTPStatus() int {
	return e.Status
}

// Constructor functions
func New(code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
	}
}

func Wrap(err error, code, message string, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// Quota errors

// QuotaExceeded signals that no model candidate has remaining capacity.
// It is never retried at the call site; callers fail over or give up.
func QuotaExceeded(reason string, nextReset time.Time) *AppError {
	e := &AppError{
		Code:    CodeQuotaExceeded,
		Message: fmt.Sprintf("quota exhausted: %s", reason),
		Status:  http.StatusTooManyRequests,
		Details: map[string]any{"reason": reason},
	}
	if !nextReset.IsZero() {
		e.Details["next_reset"] = nextReset.UTC().Format(time.RFC3339)
	}
	return e
}

func RateLimited(message string) *AppError {
	if message == "" {
		message = "too many requests"
	}
	return &AppError{
		Code:    CodeRateLimited,
		Message: message,
		Status:  http.StatusTooManyRequests,
	}
}

// Credential errors
func InvalidCredential(service string, err error) *AppError {
	return &AppError{
		Code:    CodeInvalidCredential,
		Message: fmt.Sprintf("invalid credential for %s", service),
		Status:  http.StatusUnauthorized,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// Transient errors
func Timeout(operation string) *AppError {
	return &AppError{
		Code:    CodeTimeout,
		Message: fmt.Sprintf("operation timed out: %s", operation),
		Status:  http.StatusGatewayTimeout,
	}
}

func NetworkError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeNetworkError,
		Message: fmt.Sprintf("network error calling %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

// Model output errors
func InvalidResponse(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidResponse,
		Message: message,
		Status:  http.StatusBadGateway,
	}
}

func PromptTooLarge(model string) *AppError {
	return &AppError{
		Code:    CodePromptTooLarge,
		Message: fmt.Sprintf("prompt exceeds token limit for %s", model),
		Status:  http.StatusBadRequest,
		Details: map[string]any{"model": model},
	}
}

func ContentBlocked(finishReason string) *AppError {
	return &AppError{
		Code:    CodeContentBlocked,
		Message: fmt.Sprintf("generation blocked: %s", finishReason),
		Status:  http.StatusUnprocessableEntity,
		Details: map[string]any{"finish_reason": finishReason},
	}
}

// Reply gate errors
func ValidationFailed(message string) *AppError {
	return &AppError{
		Code:    CodeValidationFailed,
		Message: message,
		Status:  http.StatusUnprocessableEntity,
	}
}

// Concurrency errors
func ConcurrencyConflict(key string, expected, actual int64) *AppError {
	return &AppError{
		Code:    CodeConcurrencyConflict,
		Message: fmt.Sprintf("version conflict on %s", key),
		Status:  http.StatusConflict,
		Details: map[string]any{"expected": expected, "actual": actual},
	}
}

func LockBusy(key string) *AppError {
	return &AppError{
		Code:    CodeLockBusy,
		Message: fmt.Sprintf("lock held elsewhere: %s", key),
		Status:  http.StatusConflict,
		Details: map[string]any{"key": key},
	}
}

// Generic errors
func BadRequest(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
		Status:  http.StatusBadRequest,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Status:  http.StatusNotFound,
	}
}

func DatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    CodeDatabaseError,
		Message: fmt.Sprintf("database error: %s", operation),
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ExternalError(service string, err error) *AppError {
	return &AppError{
		Code:    CodeExternalError,
		Message: fmt.Sprintf("external service error: %s", service),
		Status:  http.StatusBadGateway,
		Details: map[string]any{"service": service},
		Err:     err,
	}
}

func Internal(message string) *AppError {
	if message == "" {
		message = "internal error"
	}
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

func InternalWithError(err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: "internal error",
		Status:  http.StatusInternalServerError,
		Err:     err,
	}
}

func ConfigError(message string) *AppError {
	return &AppError{
		Code:    CodeConfigError,
		Message: message,
		Status:  http.StatusInternalServerError,
	}
}

// Helper functions
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

// CodeOf returns the error code, or CodeInternalError for plain errors.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternalError
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// Retryable reports whether an error class is worth an immediate retry
// with backoff. Quota exhaustion is deliberately excluded: it is handled
// by waiting or failing over, never by hammering the same model.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeTimeout, CodeNetworkError, CodeRateLimited:
		return true
	default:
		return false
	}
}

func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}
