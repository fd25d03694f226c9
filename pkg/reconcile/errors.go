package reconcile

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies failures reported by a Provider
type ErrorKind string

const (
	ErrorNotFound    ErrorKind = "not_found"
	ErrorForbidden   ErrorKind = "forbidden"
	ErrorRateLimited ErrorKind = "rate_limited"
	ErrorConflict    ErrorKind = "conflict"
	ErrorValidation  ErrorKind = "validation"
	ErrorTransient   ErrorKind = "transient"
	ErrorUnknown     ErrorKind = "unknown"
)

// KindedError is implemented by provider errors that know their kind
type KindedError interface {
	error
	Kind() ErrorKind
}

// RetryAfterError is implemented by rate limit errors that know when the budget resets
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// KindOf returns the kind of err, ErrorUnknown when it carries none
func KindOf(err error) ErrorKind {
	var kinded KindedError
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	return ErrorUnknown
}

// IsRateLimited reports whether err was caused by an exhausted rate limit
func IsRateLimited(err error) bool {
	return KindOf(err) == ErrorRateLimited
}

// IsTransient reports whether err was caused by a temporary network or server failure
func IsTransient(err error) bool {
	return KindOf(err) == ErrorTransient
}

// IsRetryable reports whether repeating the failed call may succeed
func IsRetryable(err error) bool {
	return IsRateLimited(err) || IsTransient(err)
}

// ValidationError describes one problem in the desired state
type ValidationError struct {
	Field   string `json:"field"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation error for field '%s' (value: %s): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed with %d errors: %s", len(e), strings.Join(messages, "; "))
}

// Add adds a validation error to the collection
func (e *ValidationErrors) Add(field, value, message string) {
	*e = append(*e, ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// ConfigurationError is a malformed desired state. It aborts a run before anything is observed.
type ConfigurationError struct {
	Module string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
	return fmt.Sprintf("configuration error in module %s: %v", e.Module, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ObservationError is a failure to read part of the observed state. The
// affected domain is skipped while the others proceed.
type ObservationError struct {
	Domain Domain
	Target string
	Err    error
}

func (e *ObservationError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("failed to observe %s: %v", e.Domain, e.Err)
	}
	return fmt.Sprintf("failed to observe %s %s: %v", e.Domain, e.Target, e.Err)
}

func (e *ObservationError) Unwrap() error {
	return e.Err
}

// ApplyError is a change that failed during execution
type ApplyError struct {
	Change   Change
	Kind     ErrorKind
	Attempts int
	Err      error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Change.Description, e.Attempts, e.Err)
}

func (e *ApplyError) Unwrap() error {
	return e.Err
}

// PartialFailureError represents an execution where some changes succeeded and others failed
type PartialFailureError struct {
	Succeeded []string         `json:"succeeded"`
	Failed    map[string]error `json:"failed"`
	Message   string           `json:"message"`
}

// Error implements the error interface
func (e *PartialFailureError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("partial failure: %d succeeded, %d failed", len(e.Succeeded), len(e.Failed))
}

// NewPartialFailureError creates a new partial failure error
func NewPartialFailureError(succeeded []string, failed map[string]error) *PartialFailureError {
	message := fmt.Sprintf("execution completed with partial success: %d changes applied, %d failed",
		len(succeeded), len(failed))

	return &PartialFailureError{
		Succeeded: succeeded,
		Failed:    failed,
		Message:   message,
	}
}
