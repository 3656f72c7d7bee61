package admin

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/internal/timeutil"
)

type usageDailyRow struct {
	Day              string `json:"day"`
	TenantID         string `json:"tenant_id,omitempty"`
	Alias            string `json:"alias"`
	Requests         int64  `json:"requests"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	CostUSD          string `json:"cost_usd"`
}

func usageDailyToRows(rows []store.UsageDailyRow) []usageDailyRow {
	data := make([]usageDailyRow, 0, len(rows))
	for _, row := range rows {
		r := usageDailyRow{
			Day:              row.Day.Format("2006-01-02"),
			Alias:            row.Alias,
			Requests:         row.Requests,
			PromptTokens:     row.PromptTokens,
			CompletionTokens: row.CompletionTokens,
			TotalTokens:      row.TotalTokens,
			CostUSD:          row.CostUSD.StringFixed(6),
		}
		if row.TenantID != uuid.Nil {
			r.TenantID = row.TenantID.String()
		}
		data = append(data, r)
	}
	return data
}

func windowToMap(w timeutil.Window) fiber.Map {
	return fiber.Map{
		"period":   w.Period(),
		"start":    w.StartString(),
		"end":      w.EndString(),
		"timezone": w.Timezone(),
	}
}

func (h *adminHandler) usageReport(c *fiber.Ctx, tenantID uuid.UUID) error {
	rows, window, err := h.container.Usage.Daily(userContext(c), tenantID, c.Query("period", "7d"), time.Now())
	if err != nil {
		if errors.Is(err, timeutil.ErrInvalidPeriod) {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid period")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage lookup failed")
	}
	return c.JSON(fiber.Map{"window": windowToMap(window), "daily": usageDailyToRows(rows)})
}

func (h *adminHandler) usageTotalsReport(c *fiber.Ctx, tenantID uuid.UUID) error {
	totals, window, err := h.container.Usage.Totals(userContext(c), tenantID, c.Query("period", "30d"), time.Now())
	if err != nil {
		if errors.Is(err, timeutil.ErrInvalidPeriod) {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid period")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage lookup failed")
	}
	return c.JSON(fiber.Map{
		"window":            windowToMap(window),
		"requests":          totals.Requests,
		"prompt_tokens":     totals.PromptTokens,
		"completion_tokens": totals.CompletionTokens,
		"total_tokens":      totals.TotalTokens,
		"cost_usd":          totals.CostUSD.StringFixed(6),
	})
}

func (h *adminHandler) tenantUsageDaily(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}
	return h.usageReport(c, tenantID)
}

func (h *adminHandler) tenantUsageTotals(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}
	return h.usageTotalsReport(c, tenantID)
}

func (h *adminHandler) tenantUsageEvents(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	var apiKeyID uuid.UUID
	if raw := c.Query("api_key_id"); raw != "" {
		apiKeyID, err = uuid.Parse(raw)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid api_key_id")
		}
	}

	events, err := h.container.Usage.Events(userContext(c), tenantID, apiKeyID, int32(c.QueryInt("limit", 100)))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage lookup failed")
	}

	type eventRow struct {
		ID               string `json:"id"`
		APIKeyID         string `json:"api_key_id,omitempty"`
		BatchID          string `json:"batch_id,omitempty"`
		RequestID        string `json:"request_id"`
		Alias            string `json:"alias"`
		Provider         string `json:"provider"`
		Status           string `json:"status"`
		Stream           bool   `json:"stream"`
		PromptTokens     int32  `json:"prompt_tokens"`
		CompletionTokens int32  `json:"completion_tokens"`
		TotalTokens      int32  `json:"total_tokens"`
		CostUSD          string `json:"cost_usd"`
		CreatedAt        int64  `json:"created_at"`
	}
	data := make([]eventRow, 0, len(events))
	for _, ev := range events {
		row := eventRow{
			ID:               ev.ID.String(),
			RequestID:        ev.RequestID,
			Alias:            ev.Alias,
			Provider:         ev.Provider,
			Status:           ev.Status,
			Stream:           ev.Stream,
			PromptTokens:     ev.PromptTokens,
			CompletionTokens: ev.CompletionTokens,
			TotalTokens:      ev.TotalTokens,
			CostUSD:          ev.CostUSD.StringFixed(6),
			CreatedAt:        ev.CreatedAt.Unix(),
		}
		if ev.APIKeyID != uuid.Nil {
			row.APIKeyID = ev.APIKeyID.String()
		}
		if ev.BatchID != uuid.Nil {
			row.BatchID = ev.BatchID.String()
		}
		data = append(data, row)
	}
	return c.JSON(fiber.Map{"events": data})
}

// usageDaily is the cross-tenant report; super admin only.
func (h *adminHandler) usageDaily(c *fiber.Ctx) error {
	if _, err := h.superAdmin(c); err != nil {
		return err
	}
	return h.usageReport(c, uuid.Nil)
}

func (h *adminHandler) usageTotals(c *fiber.Ctx) error {
	if _, err := h.superAdmin(c); err != nil {
		return err
	}
	return h.usageTotalsReport(c, uuid.Nil)
}
