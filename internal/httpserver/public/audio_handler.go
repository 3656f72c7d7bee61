package public

import (
	"encoding/json"
	"mime/multipart"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/executor"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/models"
)

func (h *openAIHandler) audioTranscriptions(c *fiber.Ctx) error {
	return h.runTranscription(c, models.AudioTranscriptionTaskTranscribe)
}

func (h *openAIHandler) audioTranslations(c *fiber.Ctx) error {
	return h.runTranscription(c, models.AudioTranscriptionTaskTranslate)
}

func (h *openAIHandler) runTranscription(c *fiber.Ctx, task models.AudioTranscriptionTask) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	form, err := c.MultipartForm()
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "multipart form required")
	}

	req := models.AudioTranscriptionRequest{
		Model:    formValue(form, "model"),
		Task:     task,
		Prompt:   formValue(form, "prompt"),
		Language: formValue(form, "language"),
	}
	if raw := formValue(form, "temperature"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 32); err == nil {
			temp := float32(v)
			req.Temperature = &temp
		}
	}
	if err := h.requireModel(c, rc, req.Model); err != nil {
		return err
	}

	files := form.File["file"]
	if len(files) == 0 {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "file is required")
	}
	header := files[0]
	if max := int64(h.container.Settings.Current().Audio.MaxUploadMB) * 1024 * 1024; max > 0 && header.Size > max {
		return httputil.WriteAPIErrorParts(c, fiber.StatusRequestEntityTooLarge, "invalid_request", "audio upload too large")
	}

	input, closeFn, err := openAudioUpload(header)
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "unreadable audio upload")
	}
	defer closeFn()
	req.Input = input

	var resp models.AudioTranscriptionResponse
	if task == models.AudioTranscriptionTaskTranslate {
		resp, err = h.container.Executor.Translate(userContext(c), rc, req, h.callOptions(c))
	} else {
		resp, err = h.container.Executor.Transcribe(userContext(c), rc, req, h.callOptions(c))
	}
	if err != nil {
		return httputil.WriteAPIError(c, err)
	}

	if formValue(form, "response_format") == "text" {
		c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
		return c.SendString(resp.Text)
	}
	return c.JSON(fiber.Map{"text": resp.Text})
}

func (h *openAIHandler) audioSpeech(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	var req struct {
		Model          string `json:"model"`
		Input          string `json:"input"`
		Voice          string `json:"voice"`
		ResponseFormat string `json:"response_format"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if strings.TrimSpace(req.Input) == "" {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "input is required")
	}
	if err := h.requireModel(c, rc, req.Model); err != nil {
		return err
	}

	resp, err := h.container.Executor.Synthesize(userContext(c), rc, models.AudioSpeechRequest{
		Model:  req.Model,
		Input:  req.Input,
		Voice:  req.Voice,
		Format: req.ResponseFormat,
	}, h.callOptions(c))
	if err != nil {
		return httputil.WriteAPIError(c, err)
	}

	c.Set(fiber.HeaderContentType, speechContentType(req.ResponseFormat))
	return c.Send(resp.Audio)
}

func speechContentType(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "mp3":
		return "audio/mpeg"
	case "opus":
		return "audio/opus"
	case "aac":
		return "audio/aac"
	case "flac":
		return "audio/flac"
	case "wav":
		return "audio/wav"
	case "pcm":
		return "audio/pcm"
	default:
		return fiber.MIMEOctetStream
	}
}

func openAudioUpload(header *multipart.FileHeader) (models.AudioInput, func(), error) {
	file, err := header.Open()
	if err != nil {
		return models.AudioInput{}, nil, err
	}
	return models.AudioInput{
		Reader:      file,
		Filename:    header.Filename,
		ContentType: header.Header.Get(fiber.HeaderContentType),
		Bytes:       header.Size,
	}, func() { _ = file.Close() }, nil
}
