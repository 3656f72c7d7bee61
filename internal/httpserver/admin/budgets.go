package admin

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/store"
)

type budgetOverrideResponse struct {
	TenantID         string   `json:"tenant_id"`
	BudgetUSD        string   `json:"budget_usd,omitempty"`
	WarningThreshold *float64 `json:"warning_threshold,omitempty"`
	RefreshSchedule  string   `json:"refresh_schedule,omitempty"`
	AlertsEnabled    *bool    `json:"alerts_enabled,omitempty"`
	AlertEmails      []string `json:"alert_emails"`
	AlertWebhooks    []string `json:"alert_webhooks"`
	AlertCooldownSec int64    `json:"alert_cooldown_seconds,omitempty"`
	UsedUSD          string   `json:"used_usd"`
	WindowEnd        int64    `json:"window_end,omitempty"`
}

func (h *adminHandler) getBudget(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}
	ctx := userContext(c)

	resp := budgetOverrideResponse{
		TenantID:      tenantID.String(),
		AlertEmails:   []string{},
		AlertWebhooks: []string{},
		UsedUSD:       "0",
	}

	override, err := h.container.Queries.GetBudgetOverride(ctx, tenantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "budget lookup failed")
	}
	if err == nil {
		if override.BudgetUSD != nil {
			resp.BudgetUSD = override.BudgetUSD.StringFixed(2)
		}
		resp.WarningThreshold = override.WarningThreshold
		resp.RefreshSchedule = override.RefreshSchedule
		resp.AlertsEnabled = override.AlertsEnabled
		resp.AlertEmails = override.AlertEmails
		resp.AlertWebhooks = override.AlertWebhooks
		resp.AlertCooldownSec = override.AlertCooldownSeconds
	}

	counter, err := h.container.Queries.GetBudgetCounter(ctx, tenantID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "budget lookup failed")
	}
	if err == nil {
		resp.UsedUSD = counter.UsedUSD.StringFixed(6)
		resp.WindowEnd = counter.WindowEnd.Unix()
	}
	return c.JSON(resp)
}

func (h *adminHandler) putBudget(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	var req struct {
		BudgetUSD        *float64 `json:"budget_usd"`
		WarningThreshold *float64 `json:"warning_threshold"`
		RefreshSchedule  string   `json:"refresh_schedule"`
		AlertsEnabled    *bool    `json:"alerts_enabled"`
		AlertEmails      []string `json:"alert_emails"`
		AlertWebhooks    []string `json:"alert_webhooks"`
		AlertCooldownSec int64    `json:"alert_cooldown_seconds"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}

	params := store.UpsertBudgetOverrideParams{
		TenantID:             tenantID,
		WarningThreshold:     req.WarningThreshold,
		RefreshSchedule:      config.NormalizeBudgetRefreshSchedule(req.RefreshSchedule),
		AlertsEnabled:        req.AlertsEnabled,
		AlertEmails:          req.AlertEmails,
		AlertWebhooks:        req.AlertWebhooks,
		AlertCooldownSeconds: req.AlertCooldownSec,
	}
	if req.BudgetUSD != nil {
		if *req.BudgetUSD <= 0 {
			return httputil.WriteError(c, fiber.StatusBadRequest, "budget_usd must be positive")
		}
		budget := decimal.NewFromFloat(*req.BudgetUSD).Round(2)
		params.BudgetUSD = &budget
	}
	if req.WarningThreshold != nil && (*req.WarningThreshold <= 0 || *req.WarningThreshold > 1) {
		return httputil.WriteError(c, fiber.StatusBadRequest, "warning_threshold must be within (0, 1]")
	}

	if _, err := h.container.Queries.UpsertBudgetOverride(userContext(c), params); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "budget update failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "budget.upsert", "tenant", tenantID.String(), req)
	return h.getBudget(c)
}

func (h *adminHandler) deleteBudget(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	if err := h.container.Queries.DeleteBudgetOverride(userContext(c), tenantID); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "budget delete failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "budget.delete", "tenant", tenantID.String(), nil)
	return c.JSON(fiber.Map{"deleted": true})
}

func (h *adminHandler) listBudgetAlerts(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	events, err := h.container.Queries.ListBudgetAlertEvents(userContext(c), tenantID, int32(c.QueryInt("limit", 100)))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "alert listing failed")
	}

	type alertRow struct {
		ID        string  `json:"id"`
		Level     string  `json:"level"`
		Ratio     float64 `json:"ratio"`
		UsedUSD   string  `json:"used_usd"`
		LimitUSD  string  `json:"limit_usd"`
		Channel   string  `json:"channel"`
		OK        bool    `json:"ok"`
		Detail    string  `json:"detail,omitempty"`
		CreatedAt int64   `json:"created_at"`
	}
	data := make([]alertRow, 0, len(events))
	for _, ev := range events {
		data = append(data, alertRow{
			ID:        ev.ID.String(),
			Level:     ev.Level,
			Ratio:     ev.Ratio,
			UsedUSD:   ev.UsedUSD.StringFixed(6),
			LimitUSD:  ev.LimitUSD.StringFixed(2),
			Channel:   ev.Channel,
			OK:        ev.OK,
			Detail:    ev.Detail,
			CreatedAt: ev.CreatedAt.Unix(),
		})
	}
	return c.JSON(fiber.Map{"alerts": data})
}
