package core

import (
	"errors"
	"fmt"
	"strings"
)

// Error codes carried on DomainError and surfaced to API clients.
const (
	CodeRunAlreadyActive  = "RUN_ALREADY_ACTIVE"
	CodeRunNotActive      = "RUN_NOT_ACTIVE"
	CodeNotFound          = "NOT_FOUND"
	CodeEngineUnreachable = "ENGINE_UNREACHABLE"
	CodeEngineRejected    = "ENGINE_REJECTED"
	CodeSaveFailed        = "SAVE_FAILED"
	CodeInvalidConfig     = "INVALID_CONFIG"
	CodeInvalidBatch      = "INVALID_BATCH"
	CodeStaleHandle       = "STALE_HANDLE"
)

// ErrorCategory classifies errors for handling decisions: conflicts block,
// network failures retry on the next scheduled attempt, staleness stays
// advisory.
type ErrorCategory string

const (
	ErrCatValidation ErrorCategory = "validation"
	ErrCatConflict   ErrorCategory = "conflict"
	ErrCatNetwork    ErrorCategory = "network"
	ErrCatState      ErrorCategory = "state"
	ErrCatNotFound   ErrorCategory = "not_found"
	ErrCatTimeout    ErrorCategory = "timeout"
	ErrCatInternal   ErrorCategory = "internal"
)

// DomainError is the structured error every component in the sync core
// returns. Category drives handling, Code identifies the exact condition,
// Details carry machine-readable context for API responses.
type DomainError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Retryable bool
	Cause     error
	Details   map[string]interface{}
}

func (e *DomainError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", e.Category, e.Code, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, " (%v)", e.Cause)
	}
	return b.String()
}

func (e *DomainError) Unwrap() error { return e.Cause }

// Is matches on category and code, so sentinel comparisons survive wrapping.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	return ok && e.Category == t.Category && e.Code == t.Code
}

// WithCause attaches an underlying error.
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail attaches machine-readable context.
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrAlreadyRunning reports an attempt to start a run while another is active
// in the same workspace. Surfaced to the user as a blocking message, never
// retried automatically; the first run's handle stays authoritative.
func ErrAlreadyRunning(workspace WorkspaceID, active RunID) *DomainError {
	e := &DomainError{
		Category: ErrCatConflict,
		Code:     CodeRunAlreadyActive,
		Message:  fmt.Sprintf("a run is already active in workspace %s", workspace),
	}
	return e.WithDetail("workspace", string(workspace)).
		WithDetail("active_run_id", string(active))
}

// ErrValidation reports rejected input.
func ErrValidation(code, message string) *DomainError {
	return &DomainError{Category: ErrCatValidation, Code: code, Message: message}
}

// ErrNetwork reports a transient engine connectivity failure. Callers log it
// and retry on the next scheduled attempt; it is never escalated to a
// terminal run state.
func ErrNetwork(message string, cause error) *DomainError {
	return &DomainError{
		Category:  ErrCatNetwork,
		Code:      CodeEngineUnreachable,
		Message:   message,
		Retryable: true,
		Cause:     cause,
	}
}

// ErrState reports an illegal transition or corrupted state.
func ErrState(code, message string) *DomainError {
	return &DomainError{Category: ErrCatState, Code: code, Message: message}
}

// ErrNotFound reports a missing resource.
func ErrNotFound(resource, id string) *DomainError {
	return &DomainError{
		Category: ErrCatNotFound,
		Code:     CodeNotFound,
		Message:  fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// ErrTimeout reports an operation that exceeded its deadline.
func ErrTimeout(message string) *DomainError {
	return &DomainError{
		Category:  ErrCatTimeout,
		Code:      "TIMEOUT",
		Message:   message,
		Retryable: true,
	}
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	var domErr *DomainError
	return errors.As(err, &domErr) && domErr.Retryable
}

// GetCategory extracts the error category, defaulting to internal.
func GetCategory(err error) ErrorCategory {
	var domErr *DomainError
	if errors.As(err, &domErr) {
		return domErr.Category
	}
	return ErrCatInternal
}

// IsCategory reports whether err belongs to the category.
func IsCategory(err error, cat ErrorCategory) bool {
	return GetCategory(err) == cat
}

// IsConflict reports whether err is a run-already-active style conflict.
func IsConflict(err error) bool {
	return IsCategory(err, ErrCatConflict)
}
