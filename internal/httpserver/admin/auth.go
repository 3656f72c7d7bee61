package admin

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/store"
)

const oidcStateCookie = "mr_oidc_state"

type sessionResponse struct {
	AccessToken      string          `json:"access_token"`
	AccessExpiresAt  int64           `json:"access_expires_at"`
	RefreshToken     string          `json:"refresh_token"`
	RefreshExpiresAt int64           `json:"refresh_expires_at"`
	User             profileResponse `json:"user"`
}

type profileResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	SuperAdmin bool   `json:"super_admin"`
}

func sessionToResponse(pair *auth.TokenPair, account store.User) sessionResponse {
	return sessionResponse{
		AccessToken:      pair.AccessToken,
		AccessExpiresAt:  pair.AccessExpiresAt.Unix(),
		RefreshToken:     pair.RefreshToken,
		RefreshExpiresAt: pair.RefreshExpiresAt.Unix(),
		User: profileResponse{
			ID:         account.ID.String(),
			Email:      account.Email,
			Name:       account.Name,
			SuperAdmin: account.SuperAdmin,
		},
	}
}

func (h *adminHandler) authMethods(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"methods": h.container.Sessions.AllowedAuthMethods()})
}

func (h *adminHandler) login(c *fiber.Ctx) error {
	if !h.container.Config.Admin.Local.Enabled {
		return httputil.WriteError(c, fiber.StatusForbidden, "local authentication is disabled")
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "email and password are required")
	}

	pair, account, err := h.container.Sessions.AuthenticateLocal(userContext(c), req.Email, req.Password)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid credentials")
	}

	h.setSessionCookie(c, pair)
	return c.JSON(sessionToResponse(pair, account))
}

func (h *adminHandler) refresh(c *fiber.Ctx) error {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil || req.RefreshToken == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "refresh_token is required")
	}

	userID, err := h.container.Sessions.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid refresh token")
	}
	account, err := h.container.Queries.GetUser(userContext(c), userID)
	if err != nil || account.Disabled {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid refresh token")
	}
	pair, err := h.container.Sessions.IssueTokenPair(account)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "session issuance failed")
	}

	h.setSessionCookie(c, pair)
	return c.JSON(sessionToResponse(pair, account))
}

func (h *adminHandler) logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     h.container.Config.Admin.Session.CookieName,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(fiber.Map{"logged_out": true})
}

func (h *adminHandler) oidcStart(c *fiber.Ctx) error {
	state, err := auth.GenerateState(24)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "state generation failed")
	}
	nonce, err := auth.GenerateState(24)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "state generation failed")
	}

	url, err := h.container.Sessions.StartOIDCAuth(state, nonce)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusForbidden, "oidc is not configured")
	}

	c.Cookie(&fiber.Cookie{
		Name:     oidcStateCookie,
		Value:    state + ":" + nonce,
		Expires:  time.Now().Add(10 * time.Minute),
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return c.JSON(fiber.Map{"url": url})
}

func (h *adminHandler) oidcCallback(c *fiber.Ctx) error {
	state, nonce, ok := strings.Cut(c.Cookies(oidcStateCookie), ":")
	if !ok || state == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "missing oidc state")
	}
	if c.Query("state") != state {
		return httputil.WriteError(c, fiber.StatusBadRequest, "state mismatch")
	}
	code := c.Query("code")
	if code == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "missing authorization code")
	}

	pair, account, err := h.container.Sessions.CompleteOIDCAuth(userContext(c), code, nonce)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "oidc sign-in failed")
	}

	h.setSessionCookie(c, pair)
	return c.JSON(sessionToResponse(pair, account))
}

func (h *adminHandler) setSessionCookie(c *fiber.Ctx, pair *auth.TokenPair) {
	c.Cookie(&fiber.Cookie{
		Name:     h.container.Config.Admin.Session.CookieName,
		Value:    pair.AccessToken,
		Expires:  pair.AccessExpiresAt,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
