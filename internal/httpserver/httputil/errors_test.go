package httputil

import (
	"testing"

	"github.com/modelrelay/modelrelay/internal/executor"
)

func TestErrorType(t *testing.T) {
	cases := []struct {
		code   string
		status int
		want   string
	}{
		{executor.CodeRateLimited, 429, "rate_limit_error"},
		{executor.CodeBudgetExceeded, 402, "insufficient_quota"},
		{executor.CodeGuardrailViolation, 422, "content_policy_violation"},
		{"invalid_api_key", 401, "authentication_error"},
		{"tenant_suspended", 403, "authentication_error"},
		{executor.CodeModelNotFound, 404, "invalid_request_error"},
		{"invalid_request", 400, "invalid_request_error"},
		{executor.CodeUpstreamUnavailable, 502, "api_error"},
		{executor.CodeUpstreamRejected, 503, "api_error"},
		{executor.CodeInternal, 500, "api_error"},
	}
	for _, tc := range cases {
		if got := errorType(tc.code, tc.status); got != tc.want {
			t.Fatalf("code %q status %d: got %q, want %q", tc.code, tc.status, got, tc.want)
		}
	}
}
