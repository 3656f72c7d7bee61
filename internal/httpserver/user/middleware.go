package user

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/store"
)

const bearerPrefix = "bearer "

type contextKey string

const ctxUserKey = contextKey("modelrelay/session-user")

// sessionAuth accepts an access token from the Authorization header or the
// session cookie and attaches the resolved user to the request context.
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
