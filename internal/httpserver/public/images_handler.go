package public

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/executor"
	"github.com/modelrelay/modelrelay/internal/httpserver/dto"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/models"
)

func (h *openAIHandler) imageGenerations(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	var wire dto.ImageGenerationRequest
	if err := json.Unmarshal(c.Body(), &wire); err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if strings.TrimSpace(wire.Prompt) == "" {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "prompt is required")
	}
	if err := h.requireModel(c, rc, wire.Model); err != nil {
		return err
	}

	ctx := userContext(c)
	idempotencyKey := strings.TrimSpace(c.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		if data, ok := h.container.Idempotency.Get(ctx, rc.TenantID, idempotencyKey); ok {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(data)
		}
	}

	resp, err := h.container.Executor.GenerateImage(ctx, rc, wire.ToModel(), h.callOptions(c))
	if err != nil {
		return httputil.WriteAPIError(c, err)
	}

	payload := dto.FromImageResponse(resp)
	if idempotencyKey != "" {
		if data, err := json.Marshal(payload); err == nil {
			h.container.Idempotency.Set(ctx, rc.TenantID, idempotencyKey, data)
		}
	}
	return c.JSON(payload)
}

func (h *openAIHandler) imageEdits(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "multipart form required")
	}

	req := models.ImageEditRequest{
		Model:          formValue(form, "model"),
		Prompt:         formValue(form, "prompt"),
		Size:           formValue(form, "size"),
		ResponseFormat: formValue(form, "response_format"),
		Quality:        formValue(form, "quality"),
		Background:     formValue(form, "background"),
		Style:          formValue(form, "style"),
		N:              formInt(form, "n"),
		User:           formValue(form, "user"),
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "prompt is required")
	}
	if err := h.requireModel(c, rc, req.Model); err != nil {
		return err
	}

	// OpenAI accepts image as a single part or an image[] array.
	images := form.File["image"]
	if len(images) == 0 {
		images = form.File["image[]"]
	}
	if len(images) == 0 {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "image is required")
	}
	for _, header := range images {
		input, err := bufferUpload(header)
		if err != nil {
			return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "unreadable image upload")
		}
		req.Images = append(req.Images, input)
	}
	if masks := form.File["mask"]; len(masks) > 0 {
		mask, err := bufferUpload(masks[0])
		if err != nil {
			return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "unreadable mask upload")
		}
		req.Mask = &mask
	}

	resp, err := h.container.Executor.EditImage(userContext(c), rc, req, h.callOptions(c))
	if err != nil {
		return httputil.WriteAPIError(c, err)
	}
	return c.JSON(dto.FromImageResponse(resp))
}

func (h *openAIHandler) imageVariations(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "multipart form required")
	}

	req := models.ImageVariationRequest{
		Model:          formValue(form, "model"),
		Size:           formValue(form, "size"),
		ResponseFormat: formValue(form, "response_format"),
		Quality:        formValue(form, "quality"),
		Background:     formValue(form, "background"),
		Style:          formValue(form, "style"),
		N:              formInt(form, "n"),
		User:           formValue(form, "user"),
	}
	if err := h.requireModel(c, rc, req.Model); err != nil {
		return err
	}

	files := form.File["image"]
	if len(files) == 0 {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "image is required")
	}
	req.Image, err = bufferUpload(files[0])
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "unreadable image upload")
	}

	resp, err := h.container.Executor.ImageVariation(userContext(c), rc, req, h.callOptions(c))
	if err != nil {
		return httputil.WriteAPIError(c, err)
	}
	return c.JSON(dto.FromImageResponse(resp))
}

func formValue(form *multipart.Form, key string) string {
	values := form.Value[key]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func formInt(form *multipart.Form, key string) int {
	n, err := strconv.Atoi(formValue(form, key))
	if err != nil {
		return 0
	}
	return n
}

func bufferUpload(header *multipart.FileHeader) (models.ImageInput, error) {
	file, err := header.Open()
	if err != nil {
		return models.ImageInput{}, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return models.ImageInput{}, err
	}
	return models.ImageInput{
		Data:        data,
		Filename:    header.Filename,
		ContentType: header.Header.Get(fiber.HeaderContentType),
	}, nil
}
