package user

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/rbac"
	"github.com/modelrelay/modelrelay/internal/store"
	"github.com/modelrelay/modelrelay/internal/timeutil"
)

type usageDailyResponse struct {
	Day              string `json:"day"`
	Alias            string `json:"alias"`
	Requests         int64  `json:"requests"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	CostUSD          string `json:"cost_usd"`
}

type usageWindowResponse struct {
	Period   string `json:"period"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

func windowToResponse(w timeutil.Window) usageWindowResponse {
	return usageWindowResponse{
		Period:   w.Period(),
		Start:    w.StartString(),
		End:      w.EndString(),
		Timezone: w.Timezone(),
	}
}

func (h *userHandler) usageDaily(c *fiber.Ctx) error {
	_, tenantID, err := h.usageScope(c, rbac.RoleViewer)
	if err != nil {
		return err
	}

	rows, window, err := h.container.Usage.Daily(userContext(c), tenantID, c.Query("period", "7d"), time.Now())
	if err != nil {
		if errors.Is(err, timeutil.ErrInvalidPeriod) {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid period")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage lookup failed")
	}

	data := make([]usageDailyResponse, 0, len(rows))
	for _, row := range rows {
		data = append(data, usageDailyResponse{
			Day:              row.Day.Format("2006-01-02"),
			Alias:            row.Alias,
			Requests:         row.Requests,
			PromptTokens:     row.PromptTokens,
			CompletionTokens: row.CompletionTokens,
			TotalTokens:      row.TotalTokens,
			CostUSD:          row.CostUSD.StringFixed(6),
		})
	}
	return c.JSON(fiber.Map{"window": windowToResponse(window), "daily": data})
}

func (h *userHandler) usageTotals(c *fiber.Ctx) error {
	_, tenantID, err := h.usageScope(c, rbac.RoleViewer)
	if err != nil {
		return err
	}

	totals, window, err := h.container.Usage.Totals(userContext(c), tenantID, c.Query("period", "30d"), time.Now())
	if err != nil {
		if errors.Is(err, timeutil.ErrInvalidPeriod) {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid period")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "usage lookup failed")
	}

	return c.JSON(fiber.Map{
		"window":            windowToResponse(window),
		"requests":          totals.Requests,
		"prompt_tokens":     totals.PromptTokens,
		"completion_tokens": totals.CompletionTokens,
		"total_tokens":      totals.TotalTokens,
		"cost_usd":          totals.CostUSD.StringFixed(6),
	})
}

type usageEventResponse struct {
	ID               string `json:"id"`
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

func (h *userHandler) usageEvents(c *fiber.Ctx) error {
	_, tenantID, err := h.usageScope(c, rbac.RoleViewer)
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

	data := make([]usageEventResponse, 0, len(events))
	for _, ev := range events {
		data = append(data, usageEventResponse{
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
		})
	}
	return c.JSON(fiber.Map{"events": data})
}

func (h *userHandler) listFiles(c *fiber.Ctx) error {
	_, tenantID, err := h.usageScope(c, rbac.RoleViewer)
	if err != nil {
		return err
	}

	records, err := h.container.Files.List(userContext(c), tenantID, c.Query("purpose"), int32(c.QueryInt("limit", 100)))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "file listing failed")
	}

	type fileRow struct {
		ID        string `json:"id"`
		Filename  string `json:"filename"`
		Purpose   string `json:"purpose"`
		Bytes     int64  `json:"bytes"`
		Status    string `json:"status"`
		CreatedAt int64  `json:"created_at"`
		ExpiresAt int64  `json:"expires_at,omitempty"`
	}
	data := make([]fileRow, 0, len(records))
	for _, f := range records {
		row := fileRow{
			ID:        f.ID.String(),
			Filename:  f.Filename,
			Purpose:   f.Purpose,
			Bytes:     f.Bytes,
			Status:    f.Status,
			CreatedAt: f.CreatedAt.Unix(),
		}
		if !f.ExpiresAt.IsZero() {
			row.ExpiresAt = f.ExpiresAt.Unix()
		}
		data = append(data, row)
	}
	return c.JSON(fiber.Map{"files": data})
}

func (h *userHandler) listBatches(c *fiber.Ctx) error {
	_, tenantID, err := h.usageScope(c, rbac.RoleViewer)
	if err != nil {
		return err
	}

	batches, err := h.container.Queries.ListBatches(userContext(c), tenantID, int32(c.QueryInt("limit", 100)))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "batch listing failed")
	}

	type batchRow struct {
		ID          string `json:"id"`
		Endpoint    string `json:"endpoint"`
		Status      string `json:"status"`
		Total       int32  `json:"total_requests"`
		Completed   int32  `json:"completed_requests"`
		Failed      int32  `json:"failed_requests"`
		CreatedAt   int64  `json:"created_at"`
		CompletedAt int64  `json:"completed_at,omitempty"`
	}
	data := make([]batchRow, 0, len(batches))
	for _, b := range batches {
		row := batchRow{
			ID:        b.ID.String(),
			Endpoint:  b.Endpoint,
			Status:    b.Status,
			Total:     b.TotalItems,
			Completed: b.CompletedItems,
			Failed:    b.FailedItems,
			CreatedAt: b.CreatedAt.Unix(),
		}
		if !b.FinishedAt.IsZero() {
			row.CompletedAt = b.FinishedAt.Unix()
		}
		data = append(data, row)
	}
	return c.JSON(fiber.Map{"batches": data})
}

// usageScope resolves the tenant path parameter and verifies membership.
func (h *userHandler) usageScope(c *fiber.Ctx, required rbac.Role) (store.User, uuid.UUID, error) {
	account, ok := currentUser(c)
	if !ok {
		return store.User{}, uuid.Nil, httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
	}
	tenantID, err := tenantParam(c)
	if err != nil {
		return store.User{}, uuid.Nil, httputil.WriteError(c, fiber.StatusBadRequest, "invalid tenant id")
	}
	if err := h.requireMembership(c, account, tenantID, required); err != nil {
		return store.User{}, uuid.Nil, err
	}
	return account, tenantID, nil
}
