package admin

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/batch"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/services/files"
	"github.com/modelrelay/modelrelay/internal/store"
)

func (h *adminHandler) listTenantFiles(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
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
		SHA256    string `json:"sha256"`
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
			SHA256:    f.SHA256,
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

func (h *adminHandler) deleteTenantFile(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}
	fileID, err := uuid.Parse(c.Params("fileID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid file id")
	}

	if err := h.container.Files.Delete(userContext(c), tenantID, fileID); err != nil {
		if errors.Is(err, files.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "file not found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "file delete failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "file.delete", "file", fileID.String(), fiber.Map{"tenant_id": tenantID.String()})
	return c.JSON(fiber.Map{"deleted": true})
}

func (h *adminHandler) listTenantBatches(c *fiber.Ctx) error {
	_, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}

	batches, err := h.container.Queries.ListBatches(userContext(c), tenantID, int32(c.QueryInt("limit", 100)))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "batch listing failed")
	}

	type batchRow struct {
		ID             string `json:"id"`
		Endpoint       string `json:"endpoint"`
		Status         string `json:"status"`
		TotalItems     int32  `json:"total_items"`
		CompletedItems int32  `json:"completed_items"`
		FailedItems    int32  `json:"failed_items"`
		Error          string `json:"error,omitempty"`
		CreatedAt      int64  `json:"created_at"`
		FinishedAt     int64  `json:"finished_at,omitempty"`
	}
	data := make([]batchRow, 0, len(batches))
	for _, b := range batches {
		row := batchRow{
			ID:             b.ID.String(),
			Endpoint:       b.Endpoint,
			Status:         b.Status,
			TotalItems:     b.TotalItems,
			CompletedItems: b.CompletedItems,
			FailedItems:    b.FailedItems,
			Error:          b.Error,
			CreatedAt:      b.CreatedAt.Unix(),
		}
		if !b.FinishedAt.IsZero() {
			row.FinishedAt = b.FinishedAt.Unix()
		}
		data = append(data, row)
	}
	return c.JSON(fiber.Map{"batches": data})
}

func (h *adminHandler) cancelTenantBatch(c *fiber.Ctx) error {
	account, tenantID, err := h.tenantAdmin(c)
	if err != nil {
		return err
	}
	batchID, err := uuid.Parse(c.Params("batchID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid batch id")
	}

	if _, err := h.container.Batches.Cancel(userContext(c), tenantID, batchID); err != nil {
		switch {
		case errors.Is(err, batch.ErrNotCancellable):
			return httputil.WriteError(c, fiber.StatusConflict, "batch is not in a cancellable state")
		case errors.Is(err, store.ErrNotFound):
			return httputil.WriteError(c, fiber.StatusNotFound, "batch not found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "batch cancel failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "batch.cancel", "batch", batchID.String(), fiber.Map{"tenant_id": tenantID.String()})
	return c.JSON(fiber.Map{"cancelled": true})
}
