package executor

import (
	"errors"
	"net/http"
)

// Error codes surfaced in the public error envelope.
const (
	CodeModelNotFound       = "model_not_found"
	CodeBudgetExceeded      = "budget_exceeded"
	CodeRateLimited         = "rate_limited"
	CodeGuardrailViolation  = "guardrail_violation"
	CodeUpstreamRejected    = "upstream_rejected"
	CodeUpstreamUnavailable = "upstream_unavailable"
	CodeInternal            = "internal_error"
)

// APIError maps an execution failure onto the public error envelope.
// RetryAfter, when positive, becomes the Retry-After header in seconds.
// Err carries the underlying provider error for logs; it never reaches the
// envelope.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter int
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

func NewAPIError(status int, code, message string) *APIError {
	return &APIError{Status: status, Code: code, Message: message}
}

// AsAPIError coerces any execution failure into an APIError. Errors without
// a mapped status surface as an opaque 500.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return NewAPIError(http.StatusInternalServerError, CodeInternal, "internal gateway error")
}
