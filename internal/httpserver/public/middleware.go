package public

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/executor"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/requestctx"
	"github.com/modelrelay/modelrelay/internal/store"
)

const (
	authBearerPrefix = "bearer "

	// lastUsedInterval coalesces last-used writes so the hot path does not
	// touch the row on every call.
	lastUsedInterval = time.Minute
)

// decoySecretHash keeps unknown-prefix rejections on the same argon2id code
// path as bad-secret rejections, so the two are timing-indistinguishable.
var decoySecretHash = func() string {
	h, err := auth.HashSecret("modelrelay-decoy-credential")
	if err != nil {
		return ""
	}
	return h
}()

// apiKeyAuth validates the bearer token and installs the resolved request
// context for the handlers downstream.
func apiKeyAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		if raw == "" {
			return unauthorized(c, "authorization header required")
		}
		if !strings.HasPrefix(strings.ToLower(raw), authBearerPrefix) {
			return unauthorized(c, "bearer token required")
		}

		prefix, secret, ok := auth.SplitToken(strings.TrimSpace(raw[len(authBearerPrefix):]))
		if !ok {
			return unauthorized(c, "malformed api key")
		}

		ctx := userContext(c)
		record, err := container.Queries.GetActiveAPIKeyByPrefix(ctx, prefix)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				_, _ = auth.VerifySecret(secret, decoySecretHash)
				return unauthorized(c, "invalid api key")
			}
			return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "api key lookup failed")
		}

		match, err := auth.VerifySecret(secret, record.SecretHash)
		if err != nil {
			return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "api key verification failed")
		}
		if !match {
			return unauthorized(c, "invalid api key")
		}

		rc, err := container.BuildRequestContext(ctx, record)
		if err != nil {
			if errors.Is(err, app.ErrTenantSuspended) {
				return httputil.WriteAPIErrorParts(c, fiber.StatusForbidden, "tenant_suspended", "tenant is not active")
			}
			return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context unavailable")
		}

		if err := container.Queries.TouchAPIKeyLastUsed(ctx, record.ID, time.Now().UTC(), lastUsedInterval); err != nil {
			container.Logger.Warn("touch api key last used", "api_key_id", record.ID, "error", err)
		}

		c.Locals(requestctx.FiberLocalsKey(), rc)
		c.SetUserContext(requestctx.WithContext(ctx, rc))
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return httputil.WriteAPIErrorParts(c, fiber.StatusUnauthorized, "invalid_api_key", msg)
}

func requestContext(c *fiber.Ctx) (*requestctx.Context, bool) {
	rc, ok := c.Locals(requestctx.FiberLocalsKey()).(*requestctx.Context)
	return rc, ok && rc != nil
}

func userContext(c *fiber.Ctx) context.Context {
	if uc := c.UserContext(); uc != nil {
		return uc
	}
	return context.Background()
}
