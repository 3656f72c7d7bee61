package admin

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/store"
)

type rateLimitBody struct {
	RequestsPerMinute int64 `json:"requests_per_minute"`
	TokensPerMinute   int64 `json:"tokens_per_minute"`
	ParallelRequests  int64 `json:"parallel_requests"`
}

func (b rateLimitBody) valid() bool {
	return b.RequestsPerMinute >= 0 && b.TokensPerMinute >= 0 && b.ParallelRequests >= 0
}

func (h *adminHandler) getTenantRateLimit(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	row, err := h.container.Queries.GetTenantRateLimit(userContext(c), tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(fiber.Map{"override": nil})
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "rate limit lookup failed")
	}
	return c.JSON(fiber.Map{"override": rateLimitBody{
		RequestsPerMinute: row.RequestsPerMinute,
		TokensPerMinute:   row.TokensPerMinute,
		ParallelRequests:  row.ParallelRequests,
	}})
}

func (h *adminHandler) putTenantRateLimit(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	var req rateLimitBody
	if err := json.Unmarshal(c.Body(), &req); err != nil || !req.valid() {
		return httputil.WriteError(c, fiber.StatusBadRequest, "limits must be non-negative")
	}

	if err := h.container.Queries.UpsertTenantRateLimit(userContext(c), store.UpsertRateLimitParams{
		ID:                tenantID,
		RequestsPerMinute: req.RequestsPerMinute,
		TokensPerMinute:   req.TokensPerMinute,
		ParallelRequests:  req.ParallelRequests,
	}); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "rate limit update failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "rate_limit.upsert", "tenant", tenantID.String(), req)
	return c.JSON(fiber.Map{"override": req})
}

func (h *adminHandler) deleteTenantRateLimit(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	if err := h.container.Queries.DeleteTenantRateLimit(userContext(c), tenantID); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "rate limit delete failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "rate_limit.delete", "tenant", tenantID.String(), nil)
	return c.JSON(fiber.Map{"deleted": true})
}

func (h *adminHandler) putKeyRateLimit(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}
	keyID, err := h.tenantKeyID(c, tenantID)
	if err != nil {
		return err
	}

	var req rateLimitBody
	if err := json.Unmarshal(c.Body(), &req); err != nil || !req.valid() {
		return httputil.WriteError(c, fiber.StatusBadRequest, "limits must be non-negative")
	}

	if err := h.container.Queries.UpsertAPIKeyRateLimit(userContext(c), store.UpsertRateLimitParams{
		ID:                keyID,
		RequestsPerMinute: req.RequestsPerMinute,
		TokensPerMinute:   req.TokensPerMinute,
		ParallelRequests:  req.ParallelRequests,
	}); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "rate limit update failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "rate_limit.upsert", "api_key", keyID.String(), req)
	return c.JSON(fiber.Map{"override": req})
}

func (h *adminHandler) deleteKeyRateLimit(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}
	keyID, err := h.tenantKeyID(c, tenantID)
	if err != nil {
		return err
	}

	if err := h.container.Queries.DeleteAPIKeyRateLimit(userContext(c), keyID); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "rate limit delete failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "rate_limit.delete", "api_key", keyID.String(), nil)
	return c.JSON(fiber.Map{"deleted": true})
}

// tenantKeyID parses the key path parameter and verifies the key belongs to
// the tenant being administered.
func (h *adminHandler) tenantKeyID(c *fiber.Ctx, tenantID uuid.UUID) (uuid.UUID, error) {
	keyID, err := uuid.Parse(c.Params("keyID"))
	if err != nil {
		return uuid.Nil, httputil.WriteError(c, fiber.StatusBadRequest, "invalid key id")
	}
	record, err := h.container.Queries.GetAPIKey(userContext(c), keyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return uuid.Nil, httputil.WriteError(c, fiber.StatusNotFound, "key not found")
		}
		return uuid.Nil, httputil.WriteError(c, fiber.StatusInternalServerError, "key lookup failed")
	}
	if record.TenantID != tenantID {
		return uuid.Nil, httputil.WriteError(c, fiber.StatusNotFound, "key not found")
	}
	return keyID, nil
}
