package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"error"`
	HTTPStatus int    `json:"-"`
	Retryable  bool   `json:"-"` // whether the caller may usefully retry
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
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

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// CodeOf returns the stable error code of err, or INTERNAL_ERROR if err is
// not an AppError.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return "INTERNAL_ERROR"
}

// IsCode reports whether err carries the given stable code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// IsRetryable reports whether the error is a retriable infrastructure
// failure. Unknown errors are treated as retriable so the consumer's
// requeue policy gets a chance to recover them.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return true
}

// ---- Validation & Business (non-retriable) ----

func ErrValidation(message string) *AppError {
	return New("VALIDATION_ERROR", message, http.StatusBadRequest)
}

func ErrInsufficientBalance() *AppError {
	return New("INSUFFICIENT_BALANCE", "Insufficient balance for requested amount", http.StatusBadRequest)
}

func ErrUserNotActive() *AppError {
	return New("USER_NOT_ACTIVE", "User account is not active", http.StatusForbidden)
}

func ErrUserNotFound() *AppError {
	return New("USER_NOT_FOUND", "User not found", http.StatusNotFound)
}

func ErrTransactionNotFound() *AppError {
	return New("TRANSACTION_NOT_FOUND", "Transaction not found", http.StatusNotFound)
}

func ErrConcurrentRequest() *AppError {
	e := New("CONCURRENT_REQUEST", "Another payout for this user is in progress", http.StatusConflict)
	e.Retryable = true
	return e
}

func ErrAlreadyProcessing() *AppError {
	return New("ALREADY_PROCESSING", "Transaction is already being processed", http.StatusConflict)
}

// ---- Rate Limiting ----

func ErrRateLimitExceeded() *AppError {
	e := New("RATE_LIMIT_EXCEEDED", "Rate limit exceeded", http.StatusTooManyRequests)
	e.Retryable = true
	return e
}

func ErrUserRateLimitExceeded() *AppError {
	e := New("USER_RATE_LIMIT_EXCEEDED", "Per-user rate limit exceeded", http.StatusTooManyRequests)
	e.Retryable = true
	return e
}

// ---- Infrastructure (retriable) ----

func QueueError(err error) *AppError {
	e := Wrap("QUEUE_ERROR", "Message broker unavailable", http.StatusServiceUnavailable, err)
	e.Retryable = true
	return e
}

func CacheError(err error) *AppError {
	e := Wrap("CACHE_ERROR", "Cache unavailable", http.StatusServiceUnavailable, err)
	e.Retryable = true
	return e
}

func DatabaseError(err error) *AppError {
	e := Wrap("DATABASE_ERROR", "Primary store unavailable", http.StatusServiceUnavailable, err)
	e.Retryable = true
	return e
}

// InternalError wraps an unclassified internal error.
func InternalError(err error) *AppError {
	return Wrap("INTERNAL_ERROR", "Internal server error", http.StatusInternalServerError, err)
}
