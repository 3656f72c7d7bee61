package public

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/batch"
	"github.com/modelrelay/modelrelay/internal/executor"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/store"
)

type batchesHandler struct {
	container *app.Container
}

type batchRequestCounts struct {
	Total     int32 `json:"total"`
	Completed int32 `json:"completed"`
	Failed    int32 `json:"failed"`
}

type batchResponse struct {
	ID            string             `json:"id"`
	Object        string             `json:"object"`
	Endpoint      string             `json:"endpoint"`
	InputFileID   string             `json:"input_file_id"`
	OutputFileID  string             `json:"output_file_id,omitempty"`
	ErrorFileID   string             `json:"error_file_id,omitempty"`
	Status        string             `json:"status"`
	Error         string             `json:"error,omitempty"`
	RequestCounts batchRequestCounts `json:"request_counts"`
	CreatedAt     int64              `json:"created_at"`
	InProgressAt  int64              `json:"in_progress_at,omitempty"`
	CompletedAt   int64              `json:"completed_at,omitempty"`
	ExpiresAt     int64              `json:"expires_at,omitempty"`
}

func batchToResponse(b store.Batch) batchResponse {
	resp := batchResponse{
		ID:          "batch_" + b.ID.String(),
		Object:      "batch",
		Endpoint:    b.Endpoint,
		InputFileID: "file-" + b.InputFileID.String(),
		Status:      b.Status,
		Error:       b.Error,
		RequestCounts: batchRequestCounts{
			Total:     b.TotalItems,
			Completed: b.CompletedItems,
			Failed:    b.FailedItems,
		},
		CreatedAt: b.CreatedAt.Unix(),
	}
	if b.OutputFileID != uuid.Nil {
		resp.OutputFileID = "file-" + b.OutputFileID.String()
	}
	if b.ErrorFileID != uuid.Nil {
		resp.ErrorFileID = "file-" + b.ErrorFileID.String()
	}
	if !b.StartedAt.IsZero() {
		resp.InProgressAt = b.StartedAt.Unix()
	}
	if !b.FinishedAt.IsZero() {
		resp.CompletedAt = b.FinishedAt.Unix()
	}
	if !b.ExpiresAt.IsZero() {
		resp.ExpiresAt = b.ExpiresAt.Unix()
	}
	return resp
}

// batchID accepts both the bare UUID and the batch_<uuid> wire form.
func batchID(raw string) (uuid.UUID, error) {
	if len(raw) > 6 && raw[:6] == "batch_" {
		raw = raw[6:]
	}
	return uuid.Parse(raw)
}

func (h *batchesHandler) list(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	limit := int32(c.QueryInt("limit", 100))
	records, err := h.container.Queries.ListBatches(userContext(c), rc.TenantID, limit)
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "batch listing failed")
	}

	data := make([]batchResponse, 0, len(records))
	for _, b := range records {
		data = append(data, batchToResponse(b))
	}
	return c.JSON(fiber.Map{"object": "list", "data": data})
}

func (h *batchesHandler) create(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	var wire struct {
		InputFileID      string `json:"input_file_id"`
		Endpoint         string `json:"endpoint"`
		CompletionWindow string `json:"completion_window"`
		MaxConcurrency   int32  `json:"max_concurrency"`
	}
	if err := json.Unmarshal(c.Body(), &wire); err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if strings.TrimSpace(wire.InputFileID) == "" {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "input_file_id is required")
	}
	if strings.TrimSpace(wire.Endpoint) == "" {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "endpoint is required")
	}

	inputID, err := fileID(wire.InputFileID)
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "invalid input_file_id")
	}
	ttl, err := completionWindowTTL(wire.CompletionWindow)
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "invalid completion_window")
	}

	b, err := h.container.Batches.Submit(userContext(c), batch.SubmitParams{
		TenantID:       rc.TenantID,
		APIKeyID:       rc.APIKeyID,
		InputFileID:    inputID,
		Endpoint:       wire.Endpoint,
		MaxConcurrency: wire.MaxConcurrency,
		TTL:            ttl,
	})
	if err != nil {
		if errors.Is(err, batch.ErrEndpointNotAllowed) {
			return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", err.Error())
		}
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "batch creation failed")
	}
	return c.JSON(batchToResponse(b))
}

func (h *batchesHandler) get(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	b, err := h.tenantBatch(c, rc.TenantID)
	if err != nil {
		return err
	}
	return c.JSON(batchToResponse(b))
}

func (h *batchesHandler) cancel(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	id, err := batchID(c.Params("id"))
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusNotFound, "not_found", "batch not found")
	}
	b, err := h.container.Batches.Cancel(userContext(c), rc.TenantID, id)
	if err != nil {
		switch {
		case errors.Is(err, batch.ErrNotCancellable):
			return httputil.WriteAPIErrorParts(c, fiber.StatusConflict, "invalid_request", "batch is not in a cancellable state")
		case errors.Is(err, store.ErrNotFound):
			return httputil.WriteAPIErrorParts(c, fiber.StatusNotFound, "not_found", "batch not found")
		}
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "batch cancel failed")
	}
	return c.JSON(batchToResponse(b))
}

func (h *batchesHandler) output(c *fiber.Ctx) error {
	return h.resultFile(c, func(b store.Batch) uuid.UUID { return b.OutputFileID })
}

func (h *batchesHandler) errorsFile(c *fiber.Ctx) error {
	return h.resultFile(c, func(b store.Batch) uuid.UUID { return b.ErrorFileID })
}

func (h *batchesHandler) resultFile(c *fiber.Ctx, pick func(store.Batch) uuid.UUID) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	b, err := h.tenantBatch(c, rc.TenantID)
	if err != nil {
		return err
	}
	id := pick(b)
	if id == uuid.Nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusNotFound, "not_found", "batch result not available")
	}
	return streamFile(c, h.container, rc.TenantID, id)
}

func (h *batchesHandler) tenantBatch(c *fiber.Ctx, tenantID uuid.UUID) (store.Batch, error) {
	id, err := batchID(c.Params("id"))
	if err != nil {
		return store.Batch{}, httputil.WriteAPIErrorParts(c, fiber.StatusNotFound, "not_found", "batch not found")
	}
	b, err := h.container.Queries.GetTenantBatch(userContext(c), tenantID, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Batch{}, httputil.WriteAPIErrorParts(c, fiber.StatusNotFound, "not_found", "batch not found")
		}
		return store.Batch{}, httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "batch lookup failed")
	}
	return b, nil
}

// completionWindowTTL parses the OpenAI-style completion_window value, e.g.
// "24h". An empty value defers to the configured default.
func completionWindowTTL(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, errors.New("invalid completion window")
	}
	return d, nil
}
