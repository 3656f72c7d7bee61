package admin

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/rbac"
	"github.com/modelrelay/modelrelay/internal/store"
)

type tenantResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Personal  bool   `json:"personal"`
	CreatedAt int64  `json:"created_at"`
}

func tenantToResponse(t store.Tenant) tenantResponse {
	return tenantResponse{
		ID:        t.ID.String(),
		Name:      t.Name,
		Status:    t.Status,
		Personal:  t.Personal,
		CreatedAt: t.CreatedAt.Unix(),
	}
}

func (h *adminHandler) listTenants(c *fiber.Ctx) error {
	account, ok := currentUser(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
	}

	if account.SuperAdmin {
		tenants, err := h.container.Queries.ListTenants(userContext(c))
		if err != nil {
			return httputil.WriteError(c, fiber.StatusInternalServerError, "tenant listing failed")
		}
		resp := make([]tenantResponse, 0, len(tenants))
		for _, t := range tenants {
			resp = append(resp, tenantToResponse(t))
		}
		return c.JSON(fiber.Map{"tenants": resp})
	}

	// Non-super admins see the tenants they administer.
	rows, err := h.container.Queries.ListUserTenants(userContext(c), account.ID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "tenant listing failed")
	}
	resp := make([]tenantResponse, 0, len(rows))
	for _, row := range rows {
		if rbac.AtLeast(row.Role, rbac.RoleAdmin) {
			resp = append(resp, tenantToResponse(row.Tenant))
		}
	}
	return c.JSON(fiber.Map{"tenants": resp})
}

func (h *adminHandler) createTenant(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}

	var req struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "name is required")
	}

	tenant, err := h.container.Queries.CreateTenant(userContext(c), store.CreateTenantParams{
		Name:   strings.TrimSpace(req.Name),
		Status: req.Status,
	})
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "tenant creation failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "tenant.create", "tenant", tenant.ID.String(), fiber.Map{"name": tenant.Name})
	return c.Status(fiber.StatusCreated).JSON(tenantToResponse(tenant))
}

func (h *adminHandler) getTenant(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	tenant, err := h.container.Queries.GetTenant(userContext(c), tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "tenant not found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "tenant lookup failed")
	}
	return c.JSON(tenantToResponse(tenant))
}

func (h *adminHandler) updateTenant(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	var req struct {
		Name   string `json:"name"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Status != "" && req.Status != "active" && req.Status != "suspended" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "status must be active or suspended")
	}

	tenant, err := h.container.Queries.UpdateTenant(userContext(c), store.UpdateTenantParams{
		ID:     tenantID,
		Name:   strings.TrimSpace(req.Name),
		Status: req.Status,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "tenant not found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "tenant update failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "tenant.update", "tenant", tenant.ID.String(), req)
	return c.JSON(tenantToResponse(tenant))
}

func (h *adminHandler) deleteTenant(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}
	tenantID, err := uuid.Parse(c.Params("tenantID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid tenant id")
	}

	if err := h.container.Queries.DeleteTenant(userContext(c), tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "tenant not found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "tenant delete failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "tenant.delete", "tenant", tenantID.String(), nil)
	return c.JSON(fiber.Map{"deleted": true})
}

type memberResponse struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

func (h *adminHandler) listMembers(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	members, err := h.container.Queries.ListTenantMembers(userContext(c), tenantID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "member listing failed")
	}

	resp := make([]memberResponse, 0, len(members))
	for _, m := range members {
		resp = append(resp, memberResponse{
			UserID: m.UserID.String(),
			Email:  m.Email,
			Name:   m.Name,
			Role:   string(m.Role),
		})
	}
	return c.JSON(fiber.Map{"members": resp})
}

func (h *adminHandler) upsertMember(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	var req struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid user_id")
	}
	role, ok := rbac.ParseRole(req.Role)
	if !ok {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid role")
	}

	if _, err := h.container.Queries.UpsertMembership(userContext(c), store.UpsertMembershipParams{
		TenantID: tenantID,
		UserID:   userID,
		Role:     role,
	}); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "membership update failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "membership.upsert", "tenant", tenantID.String(), req)
	return c.JSON(fiber.Map{"user_id": userID.String(), "role": string(role)})
}

func (h *adminHandler) removeMember(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}
	userID, err := uuid.Parse(c.Params("userID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid user id")
	}

	if _, err := h.container.Accounts.RemoveMember(userContext(c), tenantID, userID); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "member removal failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "membership.remove", "tenant", tenantID.String(), fiber.Map{"user_id": userID.String()})
	return c.JSON(fiber.Map{"removed": true})
}

func (h *adminHandler) listTenantModels(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	aliases, err := h.container.Queries.ListTenantModels(userContext(c), tenantID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "model listing failed")
	}
	return c.JSON(fiber.Map{"models": aliases})
}

func (h *adminHandler) addTenantModel(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	var req struct {
		Alias string `json:"alias"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil || strings.TrimSpace(req.Alias) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "alias is required")
	}
	alias := strings.ToLower(strings.TrimSpace(req.Alias))

	if err := h.container.Queries.AddTenantModel(userContext(c), tenantID, alias); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "model grant failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "tenant_model.add", "tenant", tenantID.String(), fiber.Map{"alias": alias})
	return c.JSON(fiber.Map{"alias": alias})
}

func (h *adminHandler) removeTenantModel(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}
	alias := strings.ToLower(strings.TrimSpace(c.Params("alias")))

	if err := h.container.Queries.RemoveTenantModel(userContext(c), tenantID, alias); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "model revoke failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "tenant_model.remove", "tenant", tenantID.String(), fiber.Map{"alias": alias})
	return c.JSON(fiber.Map{"removed": true})
}
