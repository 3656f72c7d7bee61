package user

import (
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/rbac"
	"github.com/modelrelay/modelrelay/internal/store"
)

const minPasswordLength = 12

type profileResponse struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	SuperAdmin bool   `json:"super_admin"`
	CreatedAt  int64  `json:"created_at"`
}

func (h *userHandler) profile(c *fiber.Ctx) error {
	account, ok := currentUser(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
	}
	return c.JSON(profileResponse{
		ID:         account.ID.String(),
		Email:      account.Email,
		Name:       account.Name,
		SuperAdmin: account.SuperAdmin,
		CreatedAt:  account.CreatedAt.Unix(),
	})
}

func (h *userHandler) updateProfile(c *fiber.Ctx) error {
	account, ok := currentUser(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "name is required")
	}

	updated, err := h.container.Queries.UpdateUser(userContext(c), store.UpdateUserParams{
		ID:   account.ID,
		Name: strings.TrimSpace(req.Name),
	})
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "profile update failed")
	}
	return c.JSON(profileResponse{
		ID:         updated.ID.String(),
		Email:      updated.Email,
		Name:       updated.Name,
		SuperAdmin: updated.SuperAdmin,
		CreatedAt:  updated.CreatedAt.Unix(),
	})
}

func (h *userHandler) changePassword(c *fiber.Ctx) error {
	account, ok := currentUser(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
	}
	if !h.container.Config.Admin.Local.Enabled {
		return httputil.WriteError(c, fiber.StatusForbidden, "local authentication is disabled")
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.NewPassword) < minPasswordLength {
		return httputil.WriteError(c, fiber.StatusBadRequest, "new password is too short")
	}

	// A user that only ever signed in via OIDC has no hash yet and may set
	// one without providing a current password.
	if account.PasswordHash != "" {
		match, err := auth.VerifySecret(req.CurrentPassword, account.PasswordHash)
		if err != nil || !match {
			return httputil.WriteError(c, fiber.StatusForbidden, "current password does not match")
		}
	}

	if err := h.container.Sessions.SetLocalPassword(userContext(c), account.ID, req.NewPassword); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "password update failed")
	}
	return c.JSON(fiber.Map{"updated": true})
}

type tenantMembershipResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Personal bool   `json:"personal"`
	Role     string `json:"role"`
}

func (h *userHandler) tenants(c *fiber.Ctx) error {
	account, ok := currentUser(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
	}

	rows, err := h.container.Queries.ListUserTenants(userContext(c), account.ID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "tenant listing failed")
	}

	resp := make([]tenantMembershipResponse, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, tenantMembershipResponse{
			ID:       row.ID.String(),
			Name:     row.Name,
			Status:   row.Status,
			Personal: row.Personal,
			Role:     string(row.Role),
		})
	}
	return c.JSON(fiber.Map{"tenants": resp})
}

type modelHealthResponse struct {
	Alias         string `json:"alias"`
	Provider      string `json:"provider"`
	Routes        int    `json:"routes"`
	HealthyRoutes int    `json:"healthy_routes"`
}

func (h *userHandler) listModels(c *fiber.Ctx) error {
	aliases := h.container.Engine.ListAliases()

	resp := make([]modelHealthResponse, 0, len(aliases))
	for alias, routes := range aliases {
		if len(routes) == 0 {
			continue
		}
		total, healthy := h.container.Engine.Health(alias)
		resp = append(resp, modelHealthResponse{
			Alias:         alias,
			Provider:      routes[0].Provider,
			Routes:        total,
			HealthyRoutes: healthy,
		})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].Alias < resp[j].Alias })
	return c.JSON(fiber.Map{"models": resp})
}

// requireMembership enforces the caller holds at least the required role in
// the tenant. Super admins pass without a membership row.
func (h *userHandler) requireMembership(c *fiber.Ctx, account store.User, tenantID uuid.UUID, required rbac.Role) error {
	if account.SuperAdmin {
		return nil
	}
	if _, err := rbac.Ensure(userContext(c), h.container.Queries, tenantID, account.ID, required); err != nil {
		if errors.Is(err, rbac.ErrForbidden) || errors.Is(err, store.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusForbidden, "not a member of this tenant")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "membership lookup failed")
	}
	return nil
}

func tenantParam(c *fiber.Ctx) (uuid.UUID, error) {
	return uuid.Parse(c.Params("tenantID"))
}
