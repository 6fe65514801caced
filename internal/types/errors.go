package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a namespaced error code for engine errors.
type ErrorCode string

// Publish-time validation error codes.
const (
	WORKFLOW_INVALID       ErrorCode = "WORKFLOW_INVALID"
	WORKFLOW_CYCLE         ErrorCode = "WORKFLOW_CYCLE"
	WORKFLOW_DANGLING_EDGE ErrorCode = "WORKFLOW_DANGLING_EDGE"
	WORKFLOW_UNREACHABLE   ErrorCode = "WORKFLOW_UNREACHABLE"
	WORKFLOW_DUPLICATE_ID  ErrorCode = "WORKFLOW_DUPLICATE_ID"
	WORKFLOW_NOT_FOUND     ErrorCode = "WORKFLOW_NOT_FOUND"
)

// Run-time error codes.
const (
	PREDICATE_UNSUPPORTED  ErrorCode = "PREDICATE_UNSUPPORTED"
	ACTION_FATAL           ErrorCode = "ACTION_FATAL"
	GATEWAY_UNAVAILABLE    ErrorCode = "GATEWAY_UNAVAILABLE"
	TAG_VERSION_CONFLICT   ErrorCode = "TAG_VERSION_CONFLICT"
	RUN_TIMEOUT            ErrorCode = "RUN_TIMEOUT"
	RUN_ALREADY_EXISTS     ErrorCode = "RUN_ALREADY_EXISTS"
	RUN_NOT_FOUND          ErrorCode = "RUN_NOT_FOUND"
	WORKFLOW_DEACTIVATED   ErrorCode = "WORKFLOW_DEACTIVATED"
	TRIGGER_MATCH_TIMEOUT  ErrorCode = "TRIGGER_MATCH_TIMEOUT"
	RETRY_BUDGET_EXHAUSTED ErrorCode = "RETRY_BUDGET_EXHAUSTED"
)

// Persistence error codes.
const (
	STORE_QUERY_FAILED  ErrorCode = "STORE_QUERY_FAILED"
	LEDGER_WRITE_FAILED ErrorCode = "LEDGER_WRITE_FAILED"
	CONTACT_NOT_FOUND   ErrorCode = "CONTACT_NOT_FOUND"
)

// Configuration error codes.
const (
	CONFIG_LOAD_FAILED       ErrorCode = "CONFIG_LOAD_FAILED"
	CONFIG_VALIDATION_FAILED ErrorCode = "CONFIG_VALIDATION_FAILED"
)

// EngineError is the structured error used across the engine. It carries a
// namespaced code, a retryability hint consumed by the coordinator's retry
// policy, and an optional cause for error-chain inspection.
type EngineError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
	Cause     error
}

// Error formats as "[CODE] message" or "[CODE] message: cause".
func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *EngineError) Unwrap() error {
	return e.Cause
}

// Is matches EngineErrors by code.
func (e *EngineError) Is(target error) bool {
	var engineErr *EngineError
	if errors.As(target, &engineErr) {
		return e.Code == engineErr.Code
	}
	return false
}

// NewError creates a non-retryable EngineError.
func NewError(code ErrorCode, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewRetryableError creates a retryable EngineError. Use for transient
// failures (gateway timeouts, 5xx, persistence hiccups) that may succeed on
// a bounded retry.
func NewRetryableError(code ErrorCode, message string) *EngineError {
	return &EngineError{Code: code, Message: message, Retryable: true}
}

// WrapError creates a non-retryable EngineError wrapping a cause.
func WrapError(code ErrorCode, message string, cause error) *EngineError {
	return &EngineError{Code: code, Message: message, Cause: cause}
}

// WrapRetryableError creates a retryable EngineError wrapping a cause.
func WrapRetryableError(code ErrorCode, message string, cause error) *EngineError {
	return &EngineError{Code: code, Message: message, Retryable: true, Cause: cause}
}

// IsRetryable reports whether err carries a retryable hint anywhere in its
// chain. Errors that are not EngineErrors are treated as non-retryable.
func IsRetryable(err error) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode from err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Code
	}
	return ""
}
