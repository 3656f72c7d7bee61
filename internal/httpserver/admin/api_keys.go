package admin

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/store"
)

type keyResponse struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"owner_user_id,omitempty"`
	Prefix      string `json:"prefix"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	LastUsedAt  int64  `json:"last_used_at,omitempty"`
	CreatedAt   int64  `json:"created_at"`
}

func keyToResponse(k store.APIKey) keyResponse {
	resp := keyResponse{
		ID:        k.ID.String(),
		Prefix:    k.Prefix,
		Name:      k.Name,
		Status:    k.Status,
		CreatedAt: k.CreatedAt.Unix(),
	}
	if k.OwnerUserID != uuid.Nil {
		resp.OwnerUserID = k.OwnerUserID.String()
	}
	if !k.LastUsedAt.IsZero() {
		resp.LastUsedAt = k.LastUsedAt.Unix()
	}
	return resp
}

func (h *adminHandler) listTenantKeys(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	keys, err := h.container.Queries.ListAPIKeysByTenant(userContext(c), tenantID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "key listing failed")
	}

	resp := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		resp = append(resp, keyToResponse(k))
	}
	return c.JSON(fiber.Map{"keys": resp})
}

func (h *adminHandler) createTenantKey(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	var req struct {
		Name        string `json:"name"`
		OwnerUserID string `json:"owner_user_id"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Name) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "name is required")
	}
	ownerID := account.ID
	if req.OwnerUserID != "" {
		ownerID, err = uuid.Parse(req.OwnerUserID)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid owner_user_id")
		}
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
		OwnerUserID: ownerID,
		Prefix:      prefix,
		SecretHash:  hash,
		Name:        strings.TrimSpace(req.Name),
	})
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "key creation failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "api_key.create", "api_key", record.ID.String(), fiber.Map{"tenant_id": tenantID.String(), "name": record.Name})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"key":   keyToResponse(record),
		"token": token,
	})
}

func (h *adminHandler) revokeTenantKey(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}
	keyID, err := h.tenantKeyID(c, tenantID)
	if err != nil {
		return err
	}

	if err := h.container.Queries.RevokeAPIKey(userContext(c), keyID); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "key revocation failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "api_key.revoke", "api_key", keyID.String(), nil)
	return c.JSON(fiber.Map{"revoked": true})
}
