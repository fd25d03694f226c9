package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"

	"ghconf/pkg/reconcile"
)

// ErrorType represents different categories of GitHub API errors
type ErrorType string

const (
	ErrorTypeAuth       ErrorType = "authentication"
	ErrorTypePermission ErrorType = "permission"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeUnknown    ErrorType = "unknown"
)

// GitHubError represents a structured error from GitHub operations
type GitHubError struct {
	Type      ErrorType `json:"type"`
	Message   string    `json:"message"`
	Cause     error     `json:"-"`
	Resource  string    `json:"resource,omitempty"`
	Field     string    `json:"field,omitempty"`
	Code      string    `json:"code,omitempty"`
	Retryable bool      `json:"retryable"`

	// ResetAt is set on rate limit errors when GitHub announced the reset time
	ResetAt time.Time `json:"reset_at,omitempty"`
}

// Error implements the error interface
func (e *GitHubError) Error() string {
	if e.Resource != "" {
		return fmt.Sprintf("%s error for %s: %s", e.Type, e.Resource, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *GitHubError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether the error is retryable
func (e *GitHubError) IsRetryable() bool {
	return e.Retryable
}

// Kind maps the error type onto the engine's error kinds
func (e *GitHubError) Kind() reconcile.ErrorKind {
	switch e.Type {
	case ErrorTypeNotFound:
		return reconcile.ErrorNotFound
	case ErrorTypeAuth, ErrorTypePermission:
		return reconcile.ErrorForbidden
	case ErrorTypeRateLimit:
		return reconcile.ErrorRateLimited
	case ErrorTypeConflict:
		return reconcile.ErrorConflict
	case ErrorTypeValidation:
		return reconcile.ErrorValidation
	case ErrorTypeNetwork:
		return reconcile.ErrorTransient
	}
	if e.Retryable {
		return reconcile.ErrorTransient
	}
	return reconcile.ErrorUnknown
}

// RetryAfter returns how long to wait for the rate limit to reset, zero when unknown
func (e *GitHubError) RetryAfter() time.Duration {
	if e.ResetAt.IsZero() {
		return 0
	}
	if wait := time.Until(e.ResetAt); wait > 0 {
		return wait
	}
	return 0
}

// NewGitHubError creates a new GitHubError with the specified type and message
func NewGitHubError(errorType ErrorType, message string, cause error) *GitHubError {
	return &GitHubError{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryableErrorType(errorType),
	}
}

// WrapGitHubError wraps a GitHub API error into our structured error type
func WrapGitHubError(err error, resource string) *GitHubError {
	if err == nil {
		return nil
	}

	var ghErr *GitHubError
	if errors.As(err, &ghErr) {
		if ghErr.Resource == "" {
			ghErr.Resource = resource
		}
		return ghErr
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &GitHubError{
			Type:      ErrorTypeRateLimit,
			Message:   fmt.Sprintf("Rate limit exceeded. Reset at %v", rateErr.Rate.Reset.Time),
			Cause:     err,
			Resource:  resource,
			Retryable: true,
			ResetAt:   rateErr.Rate.Reset.Time,
		}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		limited := &GitHubError{
			Type:      ErrorTypeRateLimit,
			Message:   "Secondary rate limit exceeded. Please slow down",
			Cause:     err,
			Resource:  resource,
			Retryable: true,
		}
		if abuseErr.RetryAfter != nil {
			limited.ResetAt = time.Now().Add(*abuseErr.RetryAfter)
		}
		return limited
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return parseGitHubAPIError(respErr, resource)
	}

	if isNetworkError(err) {
		return &GitHubError{
			Type:      ErrorTypeNetwork,
			Message:   "Network error occurred. Please check your connection and try again",
			Cause:     err,
			Resource:  resource,
			Retryable: true,
		}
	}

	return &GitHubError{
		Type:      ErrorTypeUnknown,
		Message:   err.Error(),
		Cause:     err,
		Resource:  resource,
		Retryable: false,
	}
}

// parseGitHubAPIError classifies an API error response by status code
func parseGitHubAPIError(ghErr *github.ErrorResponse, resource string) *GitHubError {
	status := ghErr.Response.StatusCode
	e := &GitHubError{
		Resource: resource,
		Cause:    ghErr,
	}

	switch {
	case status == http.StatusUnauthorized:
		e.Type, e.Message = ErrorTypeAuth, "Authentication failed. Please check your GitHub token"
		if strings.Contains(ghErr.Message, "token") {
			e.Message = "Invalid or expired GitHub token. Please update GITHUB_TOKEN or github.token in the configuration"
		}

	case status == http.StatusTooManyRequests,
		status == http.StatusForbidden && strings.Contains(strings.ToLower(ghErr.Message), "rate limit"):
		e.Type, e.Message = ErrorTypeRateLimit, "GitHub API rate limit exceeded. Please wait before retrying"
		e.Retryable = true
		e.ResetAt = parseResetHeader(ghErr.Response.Header.Get(headerRateReset))

	case status == http.StatusForbidden:
		e.Type, e.Message = ErrorTypePermission, "Insufficient permissions"+requiredScope(resource)

	case status == http.StatusNotFound:
		e.Type, e.Message = ErrorTypeNotFound, notFoundMessage(resource)

	case status == http.StatusConflict:
		e.Type, e.Message = ErrorTypeConflict, "Resource conflict occurred"
		if strings.Contains(ghErr.Message, "already exists") {
			e.Message = "Resource already exists with the same name"
		}

	case status == http.StatusUnprocessableEntity:
		e.Type = ErrorTypeValidation
		e.Message, e.Field, e.Code = validationMessage(ghErr)

	case status >= 500:
		e.Type, e.Message = ErrorTypeNetwork, "GitHub API is temporarily unavailable. Please try again later"
		e.Retryable = true

	default:
		e.Type, e.Message = ErrorTypeUnknown, ghErr.Message
	}

	return e
}

// requiredScope names the token scope a forbidden call on resource needs
func requiredScope(resource string) string {
	switch {
	case strings.Contains(resource, "repository"):
		return ". Your token may not have the required scopes. Required scope: repo"
	case strings.Contains(resource, "team"), strings.Contains(resource, "org"):
		return ". Your token may not have the required scopes. Required scope: admin:org"
	default:
		return ". Your token may not have the required scopes"
	}
}

func notFoundMessage(resource string) string {
	switch {
	case strings.Contains(resource, "repository"):
		return "Repository not found. Check the repository name and your access permissions"
	case strings.Contains(resource, "user"):
		return "User not found. Please verify the username is correct"
	case strings.Contains(resource, "team"):
		return "Team not found. Please verify the team slug and organization"
	default:
		return "Resource not found"
	}
}

// validationMessage joins the field errors of a 422 response and returns the first failing field
func validationMessage(ghErr *github.ErrorResponse) (message, field, code string) {
	if len(ghErr.Errors) == 0 {
		if ghErr.Message == "" {
			return "Validation failed", "", ""
		}
		return "Validation failed: " + ghErr.Message, "", ""
	}

	problems := make([]string, 0, len(ghErr.Errors))
	for _, fe := range ghErr.Errors {
		if fe.Field == "" {
			problems = append(problems, fe.Message)
			continue
		}
		problems = append(problems, fmt.Sprintf("%s: %s", fe.Field, fe.Message))
		if field == "" {
			field, code = fe.Field, fe.Code
		}
	}
	return "Validation failed: " + strings.Join(problems, "; "), field, code
}

// isNotFound reports whether err is a 404 from the API
func isNotFound(err error) bool {
	var ghErr *GitHubError
	if errors.As(err, &ghErr) {
		return ghErr.Type == ErrorTypeNotFound
	}
	var respErr *github.ErrorResponse
	return errors.As(err, &respErr) && respErr.Response != nil && respErr.Response.StatusCode == http.StatusNotFound
}

// networkMarkers are substrings of transport errors that do not implement net.Error
var networkMarkers = []string{
	"connection refused",
	"connection reset",
	"network is unreachable",
	"no such host",
	"dial tcp",
	"timeout",
	"eof",
}

// isNetworkError reports whether err happened below HTTP
func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range networkMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// isRetryableErrorType determines if an error type is generally retryable
func isRetryableErrorType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeRateLimit, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}
