// Package httputil holds the JSON error envelopes shared by the HTTP planes.
package httputil

import (
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/executor"
)

// WriteError is the plain envelope used by the admin and user planes.
func WriteError(c *fiber.Ctx, status int, msg string) error {
	if msg == "" {
		msg = http.StatusText(status)
		if msg == "" {
			msg = "unknown error"
		}
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

// APIErrorBody is the OpenAI-compatible envelope served on /v1.
type APIErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type apiErrorEnvelope struct {
	Error APIErrorBody `json:"error"`
}

// WriteAPIError renders any data-plane error in the OpenAI error shape,
// including the Retry-After header on throttles.
func WriteAPIError(c *fiber.Ctx, err error) error {
	apiErr := executor.AsAPIError(err)
	if apiErr.RetryAfter > 0 {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(apiErr.RetryAfter))
	}
	return WriteAPIErrorParts(c, apiErr.Status, apiErr.Code, apiErr.Message)
}

// WriteAPIErrorParts renders an explicit status/code/message triple in the
// OpenAI error shape.
func WriteAPIErrorParts(c *fiber.Ctx, status int, code, message string) error {
	if message == "" {
		message = http.StatusText(status)
	}
	return c.Status(status).JSON(apiErrorEnvelope{Error: APIErrorBody{
		Message: message,
		Type:    errorType(code, status),
		Code:    code,
	}})
}

func errorType(code string, status int) string {
	switch code {
	case executor.CodeRateLimited:
		return "rate_limit_error"
	case executor.CodeBudgetExceeded:
		return "insufficient_quota"
	case executor.CodeGuardrailViolation:
		return "content_policy_violation"
	}
	switch {
	case status == fiber.StatusUnauthorized || status == fiber.StatusForbidden:
		return "authentication_error"
	case status >= 400 && status < 500:
		return "invalid_request_error"
	default:
		return "api_error"
	}
}
