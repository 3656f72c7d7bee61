package user

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/rbac"
	"github.com/modelrelay/modelrelay/internal/store"
)

type apiKeyResponse struct {
	ID         string `json:"id"`
	TenantID   string `json:"tenant_id"`
	Prefix     string `json:"prefix"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	LastUsedAt int64  `json:"last_used_at,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

func apiKeyToResponse(k store.APIKey) apiKeyResponse {
	resp := apiKeyResponse{
		ID:        k.ID.String(),
		TenantID:  k.TenantID.String(),
		Prefix:    k.Prefix,
		Name:      k.Name,
		Status:    k.Status,
		CreatedAt: k.CreatedAt.Unix(),
	}
	if !k.LastUsedAt.IsZero() {
		resp.LastUsedAt = k.LastUsedAt.Unix()
	}
	return resp
}

func (h *userHandler) listKeys(c *fiber.Ctx) error {
	account, ok := currentUser(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
	}

	keys, err := h.container.Queries.ListAPIKeysByOwner(userContext(c), account.ID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "key listing failed")
	}

	resp := make([]apiKeyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, apiKeyToResponse(k))
	}
	return c.JSON(fiber.Map{"keys": resp})
}

func (h *userHandler) createKey(c *fiber.Ctx) error {
	account, ok := currentUser(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
	}

	var req struct {
		TenantID string `json:"tenant_id"`
		Name     string `json:"name"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "name is required")
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid tenant_id")
	}
	if err := h.requireMembership(c, account, tenantID, rbac.RoleUser); err != nil {
		return err
	}

	prefix, secret, token, err := auth.GenerateAPIKey()
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "key generation failed")
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "key generation failed")
	}

	record, err := h.container.Queries.CreateAPIKey(userContext(c), store.CreateAPIKeyParams{
		TenantID:    tenantID,
		OwnerUserID: account.ID,
		Prefix:      prefix,
		SecretHash:  hash,
		Name:        strings.TrimSpace(req.Name),
	})
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "key creation failed")
	}

	// The full token is returned exactly once; only the hash is stored.
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"key":   apiKeyToResponse(record),
		"token": token,
	})
}

func (h *userHandler) revokeKey(c *fiber.Ctx) error {
	account, ok := currentUser(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
	}

	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusNotFound, "key not found")
	}
	record, err := h.container.Queries.GetAPIKey(userContext(c), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "key not found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "key lookup failed")
	}
	if record.OwnerUserID != account.ID && !account.SuperAdmin {
		return httputil.WriteError(c, fiber.StatusNotFound, "key not found")
	}

	if err := h.container.Queries.RevokeAPIKey(userContext(c), id); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "key revocation failed")
	}
	return c.JSON(fiber.Map{"revoked": true})
}
