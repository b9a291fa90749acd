// Package engine provides the core types shared by the managedmac client:
// the classified error taxonomy, per-run bookkeeping, and reconciliation outcomes.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for recovery logic.
type ErrorClass string

const (
	// ErrorClassFetchFailure indicates a document or payload could not be retrieved.
	// The branch that needed it is skipped; siblings continue.
	ErrorClassFetchFailure ErrorClass = "fetch_failure"

	// ErrorClassNotFound indicates a missing manifest, catalog, or keypath.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassResourceBusy indicates the resource has pending work.
	// The item is deferred to the next scheduled run.
	ErrorClassResourceBusy ErrorClass = "resource_busy"

	// ErrorClassResourceOperation indicates a create/delete/option call failed.
	// Only the current item is aborted.
	ErrorClassResourceOperation ErrorClass = "resource_operation"

	// ErrorClassPersistence indicates a durable state write failed.
	// This class propagates to the caller.
	ErrorClassPersistence ErrorClass = "persistence"

	// ErrorClassPermanent indicates a non-recoverable error such as invalid input.
	ErrorClassPermanent ErrorClass = "permanent"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification for recovery logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the resource or document that caused the error, if applicable.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Resource != "" && e.Operation != "" {
		msg = fmt.Sprintf("%s (resource=%s, operation=%s)", msg, e.Resource, e.Operation)
	} else if e.Resource != "" {
		msg = fmt.Sprintf("%s (resource=%s)", msg, e.Resource)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, code, message string, err error) *EngineError {
	return &EngineError{
		Class:   class,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewFetchFailure creates a new fetch failure error.
func NewFetchFailure(message string, err error) *EngineError {
	return newError(ErrorClassFetchFailure, ErrCodeFetchFailed, message, err)
}

// NewNotFound creates a new not-found error.
func NewNotFound(message string, err error) *EngineError {
	return newError(ErrorClassNotFound, ErrCodeNotFound, message, err)
}

// NewResourceBusy creates a new resource-busy error.
func NewResourceBusy(message string, err error) *EngineError {
	return newError(ErrorClassResourceBusy, ErrCodeBusy, message, err)
}

// NewResourceOperationFailure creates a new resource operation error.
func NewResourceOperationFailure(message string, err error) *EngineError {
	return newError(ErrorClassResourceOperation, ErrCodeOperationFailed, message, err)
}

// NewPersistenceFailure creates a new persistence error.
func NewPersistenceFailure(message string, err error) *EngineError {
	return newError(ErrorClassPersistence, ErrCodePersistence, message, err)
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return newError(ErrorClassPermanent, ErrCodeValidation, message, err)
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resourceID string) *EngineError {
	e.Resource = resourceID
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode overrides the error code.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// ClassOf returns the class of the first EngineError in err's chain, or "".
func ClassOf(err error) ErrorClass {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsFetchFailure returns true if the error is classified as a fetch failure.
func IsFetchFailure(err error) bool {
	return ClassOf(err) == ErrorClassFetchFailure
}

// IsNotFound returns true if the error is classified as not found.
func IsNotFound(err error) bool {
	return ClassOf(err) == ErrorClassNotFound
}

// IsResourceBusy returns true if the error is classified as resource busy.
func IsResourceBusy(err error) bool {
	return ClassOf(err) == ErrorClassResourceBusy
}

// IsResourceOperation returns true if the error is classified as a failed resource operation.
func IsResourceOperation(err error) bool {
	return ClassOf(err) == ErrorClassResourceOperation
}

// IsPersistence returns true if the error is classified as a persistence failure.
func IsPersistence(err error) bool {
	return ClassOf(err) == ErrorClassPersistence
}

// IsRecoverable returns true if the error only affects the current branch or item.
// Fetch, not-found, busy, and resource operation errors are recoverable.
func IsRecoverable(err error) bool {
	switch ClassOf(err) {
	case ErrorClassFetchFailure, ErrorClassNotFound,
		ErrorClassResourceBusy, ErrorClassResourceOperation:
		return true
	default:
		return false
	}
}

// Common error codes.
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeFetchFailed     = "FETCH_FAILED"
	ErrCodeBusy            = "RESOURCE_BUSY"
	ErrCodeOperationFailed = "OPERATION_FAILED"
	ErrCodePersistence     = "PERSISTENCE_FAILED"
	ErrCodeTimeout         = "TIMEOUT"
)
