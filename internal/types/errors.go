package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Error code constants. Handlers and repositories use these constants
// instead of hardcoded strings so the API layer can map them to HTTP
// statuses and tests can assert on them.
const (
	// Validation (400)
	ErrCodeValidationInvalidInterval ErrorCode = "validation_invalid_interval"
	ErrCodeValidationInvalidType     ErrorCode = "validation_invalid_task_type"
	ErrCodeValidationMissingField    ErrorCode = "validation_missing_required_field"
	ErrCodeValidationBatchSize       ErrorCode = "validation_invalid_batch_size"
	ErrCodeValidationScheduledTime   ErrorCode = "validation_invalid_scheduled_time"

	// Task lifecycle
	ErrCodeTaskUnknownType ErrorCode = "task_unknown_type"
	ErrCodeTaskHandler     ErrorCode = "task_handler_failed"

	// Not Found (404)
	ErrCodeNotFoundTask      ErrorCode = "not_found_task"
	ErrCodeNotFoundProduct   ErrorCode = "not_found_product"
	ErrCodeNotFoundRecipient ErrorCode = "not_found_recipient"

	// Conflict (409)
	ErrCodeConflictTaskState  ErrorCode = "conflict_task_state"
	ErrCodeConflictConcurrent ErrorCode = "conflict_concurrent_modification"

	// Internal/Upstream (500/502)
	ErrCodeInternalDB              ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected      ErrorCode = "internal_unexpected_error"
	ErrCodeUpstreamEmailProvider   ErrorCode = "upstream_email_provider_unavailable"
	ErrCodeUpstreamWhatsAppGateway ErrorCode = "upstream_whatsapp_gateway_unavailable"
	ErrCodeUpstreamUnavailable     ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamRateLimited     ErrorCode = "upstream_rate_limited"
)

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest
	case s == string(ErrCodeTaskUnknownType):
		return http.StatusBadRequest
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict
	case strings.HasPrefix(s, "upstream_"):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AppError is the standard application error type. Domain and repository
// errors are expressed as AppError to enable consistent error formatting,
// HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates an AppError wrapping an optional underlying error.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// NewInvalidIntervalError reports a malformed interval specification.
// It is surfaced to the caller of ComputeNextRun and to schedule-time
// validation; it is never silently defaulted.
func NewInvalidIntervalError(interval string) *AppError {
	return &AppError{
		Code:    ErrCodeValidationInvalidInterval,
		Message: fmt.Sprintf("invalid interval %q: expected <integer><unit> with unit s/m/h/d/w", interval),
	}
}

// NewUnknownTaskTypeError reports that no handler is registered for a type.
// The dispatcher records it as a task failure; it never aborts the batch.
func NewUnknownTaskTypeError(t TaskType) *AppError {
	return &AppError{
		Code:    ErrCodeTaskUnknownType,
		Message: fmt.Sprintf("unknown task type: %s", t),
	}
}
