package domain

import "errors"

// Common domain errors
var (
	ErrSecurityRejected = errors.New("blocked by security policy")
	ErrInvalidPlan      = errors.New("invalid workflow plan")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrUnauthorized     = errors.New("authentication required")
	ErrSessionNotFound  = errors.New("session not found")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrRunFinalized     = errors.New("run already reached a terminal state")
	ErrCorruptedSecret  = errors.New("corrupted secret")
)

// DomainError wraps errors with additional context.
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]any
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Stable machine-readable error codes used by ErrorResponse.
const (
	CodeSecurityRejected = "SECURITY_REJECTED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeNotFound         = "NOT_FOUND"
	CodeInvalidPlan      = "INVALID_PLAN"
	CodeCorruptedSecret  = "CORRUPTED_SECRET"
	CodeInternal         = "INTERNAL"
)

// ErrorResponse is the standard JSON error model returned by the API.
// It avoids exposing sensitive details while keeping a stable
// machine-readable code; TraceID carries the current trace identifier
// when available.
type ErrorResponse struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"` // seconds, set for RATE_LIMITED
	TraceID    string `json:"trace_id,omitempty"`
}
