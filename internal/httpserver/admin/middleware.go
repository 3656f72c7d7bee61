package admin

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/rbac"
	"github.com/modelrelay/modelrelay/internal/services/audit"
	"github.com/modelrelay/modelrelay/internal/store"
)

const bearerPrefix = "bearer "

type contextKey string

const ctxUserKey = contextKey("modelrelay/admin-user")

// sessionAuth validates the access token from the Authorization header or
// session cookie and attaches the account to the request context.
func sessionAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearer(c)
		if token == "" {
			token = strings.TrimSpace(c.Cookies(container.Config.Admin.Session.CookieName))
		}
		if token == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
		}

		account, err := container.Sessions.AuthorizeAccessToken(userContext(c), token)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid or expired token")
		}

		c.SetUserContext(context.WithValue(userContext(c), ctxUserKey, account))
		return c.Next()
	}
}

func extractBearer(c *fiber.Ctx) string {
	raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if raw == "" || !strings.HasPrefix(strings.ToLower(raw), bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(raw[len(bearerPrefix):])
}

func userContext(c *fiber.Ctx) context.Context {
	if uc := c.UserContext(); uc != nil {
		return uc
	}
	return context.Background()
}

func currentUser(c *fiber.Ctx) (store.User, bool) {
	account, ok := userContext(c).Value(ctxUserKey).(store.User)
	return account, ok
}

type adminHandler struct {
	container *app.Container
}

func (h *adminHandler) superAdmin(c *fiber.Ctx) (store.User, error) {
	account, ok := currentUser(c)
	if !ok {
		return store.User{}, httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
	}
	if !account.SuperAdmin {
		return store.User{}, httputil.WriteError(c, fiber.StatusForbidden, "super admin required")
	}
	return account, nil
}

// tenantAdmin resolves the tenant path parameter and requires the caller to
// be a super admin or hold the admin role in that tenant.
func (h *adminHandler) tenantAdmin(c *fiber.Ctx) (store.User, uuid.UUID, error) {
	account, ok := currentUser(c)
	if !ok {
		return store.User{}, uuid.Nil, httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
	}
	tenantID, err := uuid.Parse(c.Params("tenantID"))
	if err != nil {
		return store.User{}, uuid.Nil, httputil.WriteError(c, fiber.StatusBadRequest, "invalid tenant id")
	}
	if account.SuperAdmin {
		return account, tenantID, nil
	}
	if _, err := rbac.Ensure(userContext(c), h.container.Queries, tenantID, account.ID, rbac.RoleAdmin); err != nil {
		if errors.Is(err, rbac.ErrForbidden) || errors.Is(err, store.ErrNotFound) {
			return store.User{}, uuid.Nil, httputil.WriteError(c, fiber.StatusForbidden, "tenant admin required")
		}
		return store.User{}, uuid.Nil, httputil.WriteError(c, fiber.StatusInternalServerError, "membership lookup failed")
	}
	return account, tenantID, nil
}

func actorFor(account store.User) audit.Actor {
	return audit.Actor{UserID: account.ID, Email: account.Email}
}
