package admin

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/services/audit"
)

func (h *adminHandler) listAudit(c *fiber.Ctx) error {
	if _, err := h.superAdmin(c); err != nil {
		return err
	}

	entries, err := h.container.Audit.List(userContext(c), audit.Filter{
		Action:     c.Query("action"),
		EntityType: c.Query("entity_type"),
		Limit:      int32(c.QueryInt("limit", 100)),
		Offset:     int32(c.QueryInt("offset", 0)),
	})
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "audit listing failed")
	}

	type auditRow struct {
		ID          string          `json:"id"`
		ActorUserID string          `json:"actor_user_id,omitempty"`
		ActorEmail  string          `json:"actor_email,omitempty"`
		Action      string          `json:"action"`
		EntityType  string          `json:"entity_type"`
		EntityID    string          `json:"entity_id,omitempty"`
		Detail      json.RawMessage `json:"detail,omitempty"`
		CreatedAt   int64           `json:"created_at"`
	}
	data := make([]auditRow, 0, len(entries))
	for _, e := range entries {
		row := auditRow{
			ID:         e.ID.String(),
			ActorEmail: e.ActorEmail,
			Action:     e.Action,
			EntityType: e.EntityType,
			EntityID:   e.EntityID,
			Detail:     json.RawMessage(e.Detail),
			CreatedAt:  e.CreatedAt.Unix(),
		}
		if e.ActorUserID != uuid.Nil {
			row.ActorUserID = e.ActorUserID.String()
		}
		data = append(data, row)
	}
	return c.JSON(fiber.Map{"entries": data})
}
