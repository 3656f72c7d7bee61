package public

import (
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/executor"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/services/files"
	"github.com/modelrelay/modelrelay/internal/store"
)

type filesHandler struct {
	container *app.Container
}

type fileResponse struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
	Status    string `json:"status"`
}

func fileToResponse(f store.File) fileResponse {
	resp := fileResponse{
		ID:        "file-" + f.ID.String(),
		Object:    "file",
		Bytes:     f.Bytes,
		CreatedAt: f.CreatedAt.Unix(),
		Filename:  f.Filename,
		Purpose:   f.Purpose,
		Status:    f.Status,
	}
	if !f.ExpiresAt.IsZero() {
		resp.ExpiresAt = f.ExpiresAt.Unix()
	}
	return resp
}

// fileID accepts both the bare UUID and the file-<uuid> wire form.
func fileID(raw string) (uuid.UUID, error) {
	if len(raw) > 5 && raw[:5] == "file-" {
		raw = raw[5:]
	}
	return uuid.Parse(raw)
}

func (h *filesHandler) list(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	limit := int32(c.QueryInt("limit", 100))
	records, err := h.container.Files.List(userContext(c), rc.TenantID, c.Query("purpose"), limit)
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "file listing failed")
	}

	data := make([]fileResponse, 0, len(records))
	for _, f := range records {
		data = append(data, fileToResponse(f))
	}
	return c.JSON(fiber.Map{"object": "list", "data": data})
}

func (h *filesHandler) upload(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "multipart form required")
	}

	uploads := form.File["file"]
	if len(uploads) == 0 {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "file is required")
	}
	header := uploads[0]

	purpose := formValue(form, "purpose")
	if purpose == "" {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "purpose is required")
	}

	var ttl time.Duration
	if raw := formValue(form, "expires_after"); raw != "" {
		seconds, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || seconds <= 0 {
			return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "expires_after must be a positive number of seconds")
		}
		ttl = time.Duration(seconds) * time.Second
	}

	body, err := header.Open()
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "unreadable file upload")
	}
	defer body.Close()

	record, err := h.container.Files.Upload(userContext(c), files.UploadParams{
		TenantID:    rc.TenantID,
		OwnerUserID: rc.OwnerUserID,
		Filename:    header.Filename,
		Purpose:     purpose,
		ContentType: header.Header.Get(fiber.HeaderContentType),
		TTL:         ttl,
		Reader:      body,
	})
	if err != nil {
		switch {
		case errors.Is(err, files.ErrInvalidPurpose), errors.Is(err, files.ErrFilenameRequired):
			return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", err.Error())
		case errors.Is(err, files.ErrTooLarge):
			return httputil.WriteAPIErrorParts(c, fiber.StatusRequestEntityTooLarge, "invalid_request", err.Error())
		}
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "file upload failed")
	}
	return c.Status(fiber.StatusOK).JSON(fileToResponse(record))
}

func (h *filesHandler) get(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	id, err := fileID(c.Params("id"))
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusNotFound, "not_found", "file not found")
	}
	record, err := h.container.Files.Get(userContext(c), rc.TenantID, id)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			return httputil.WriteAPIErrorParts(c, fiber.StatusNotFound, "not_found", "file not found")
		}
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "file lookup failed")
	}
	return c.JSON(fileToResponse(record))
}

func (h *filesHandler) delete(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	id, err := fileID(c.Params("id"))
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusNotFound, "not_found", "file not found")
	}
	if err := h.container.Files.Delete(userContext(c), rc.TenantID, id); err != nil {
		if errors.Is(err, files.ErrNotFound) {
			return httputil.WriteAPIErrorParts(c, fiber.StatusNotFound, "not_found", "file not found")
		}
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "file delete failed")
	}
	return c.JSON(fiber.Map{"id": "file-" + id.String(), "object": "file", "deleted": true})
}

func (h *filesHandler) download(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	id, err := fileID(c.Params("id"))
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusNotFound, "not_found", "file not found")
	}
	return streamFile(c, h.container, rc.TenantID, id)
}

// streamFile serves a stored file body; shared with the batches handler for
// output and error downloads.
func streamFile(c *fiber.Ctx, container *app.Container, tenantID, id uuid.UUID) error {
	body, record, err := container.Files.Open(userContext(c), tenantID, id)
	if err != nil {
		if errors.Is(err, files.ErrNotFound) {
			return httputil.WriteAPIErrorParts(c, fiber.StatusNotFound, "not_found", "file not found")
		}
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "file open failed")
	}

	contentType := record.ContentType
	if contentType == "" {
		contentType = fiber.MIMEOctetStream
	}
	c.Set(fiber.HeaderContentType, contentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+record.Filename+`"`)
	return c.SendStream(body, int(record.Bytes))
}
