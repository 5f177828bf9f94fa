// Package errors provides the standardized error taxonomy shared by the
// history service and its HTTP transport.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeSessionInvalid   ErrorCode = "SESSION_INVALID"
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodePartialParse     ErrorCode = "PARTIAL_PARSE"
	ErrCodeStorageFailed    ErrorCode = "STORAGE_FAILED"
	ErrCodeIngestInProgress ErrorCode = "INGEST_IN_PROGRESS"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the lower-layer error the StandardError was built from.
func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key to the error metadata and returns the error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. Constructors
// ==========================

func NewSessionInvalidError(sessionID string) *StandardError {
	details := "missing session id"
	if sessionID != "" {
		details = fmt.Sprintf("sessionId: %s", sessionID)
	}
	return &StandardError{
		Code:      ErrCodeSessionInvalid,
		Message:   "Session is invalid or expired",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPartialParseWarning describes records or files that were skipped during
// normalization. It is logged and reported, never returned to callers.
func NewPartialParseWarning(file string, skipped int) *StandardError {
	return &StandardError{
		Code:      ErrCodePartialParse,
		Message:   "Some records could not be parsed",
		Details:   fmt.Sprintf("file: %s, skipped: %d", file, skipped),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewStorageError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStorageFailed,
		Message:   "Storage operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewConflictError(sessionID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeIngestInProgress,
		Message:   "Another ingestion is in progress for this session",
		Details:   fmt.Sprintf("sessionId: %s", sessionID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 3. Classification
// ==========================

// AsStandardError returns the first StandardError in err's chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the code of err, or ErrCodeInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandardError(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error code onto the transport status.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeSessionInvalid:
		return http.StatusUnauthorized
	case ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeIngestInProgress:
		return http.StatusConflict
	case ErrCodeStorageFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return code == ErrCodeStorageFailed || code == ErrCodeIngestInProgress
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "SESSION"):
		return "AUTH"
	case strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	case strings.Contains(codeStr, "PARSE"):
		return "PARSE"
	case strings.Contains(codeStr, "STORAGE"):
		return "STORAGE"
	case strings.Contains(codeStr, "IN_PROGRESS"):
		return "CONFLICT"
	default:
		return "OTHER"
	}
}
