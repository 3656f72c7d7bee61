package admin

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/guardrails"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/store"
)

func (h *adminHandler) getGuardrailPolicy(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	policy, err := h.container.Queries.GetTenantGuardrailPolicy(userContext(c), tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(fiber.Map{"policy": nil})
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "guardrail lookup failed")
	}
	return c.JSON(fiber.Map{"policy": guardrails.ParseConfig(policy.Config)})
}

func (h *adminHandler) putGuardrailPolicy(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	var cfg guardrails.Config
	if err := json.Unmarshal(c.Body(), &cfg); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid guardrail config")
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid guardrail config")
	}

	if _, err := h.container.Queries.UpsertTenantGuardrailPolicy(userContext(c), tenantID, raw); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "guardrail update failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "guardrail.upsert", "tenant", tenantID.String(), cfg)
	return c.JSON(fiber.Map{"policy": cfg})
}

func (h *adminHandler) deleteGuardrailPolicy(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}
	ctx := userContext(c)

	policy, err := h.container.Queries.GetTenantGuardrailPolicy(ctx, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return c.JSON(fiber.Map{"deleted": false})
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "guardrail lookup failed")
	}
	if err := h.container.Queries.DeleteGuardrailPolicy(ctx, policy.ID); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "guardrail delete failed")
	}

	h.container.Audit.Record(ctx, actorFor(account), "guardrail.delete", "tenant", tenantID.String(), nil)
	return c.JSON(fiber.Map{"deleted": true})
}

func (h *adminHandler) listGuardrailEvents(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	events, err := h.container.Guardrails.ListEvents(userContext(c), tenantID, int32(c.QueryInt("limit", 100)))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "event listing failed")
	}

	type eventRow struct {
		ID        string `json:"id"`
		APIKeyID  string `json:"api_key_id,omitempty"`
		RequestID string `json:"request_id,omitempty"`
		Stage     string `json:"stage"`
		Action    string `json:"action"`
		Rule      string `json:"rule,omitempty"`
		Detail    string `json:"detail,omitempty"`
		CreatedAt int64  `json:"created_at"`
	}
	data := make([]eventRow, 0, len(events))
	for _, ev := range events {
		row := eventRow{
			ID:        ev.ID.String(),
			RequestID: ev.RequestID,
			Stage:     ev.Stage,
			Action:    ev.Action,
			Rule:      ev.Rule,
			Detail:    ev.Detail,
			CreatedAt: ev.CreatedAt.Unix(),
		}
		if ev.APIKeyID != uuid.Nil {
			row.APIKeyID = ev.APIKeyID.String()
		}
		data = append(data, row)
	}
	return c.JSON(fiber.Map{"events": data})
}
