package public

import (
	"bufio"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/executor"
	"github.com/modelrelay/modelrelay/internal/httpserver/dto"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/requestctx"
)

type openAIHandler struct {
	container *app.Container
}

func (h *openAIHandler) callOptions(c *fiber.Ctx) executor.CallOptions {
	return executor.CallOptions{RequestID: c.GetRespHeader(fiber.HeaderXRequestID)}
}

// allowedAliases returns the tenant's allowlist. An empty list means the
// instance has no allowlist configured and every catalog alias is visible.
func (h *openAIHandler) allowedAliases(c *fiber.Ctx, rc *requestctx.Context) (map[string]struct{}, error) {
	aliases, err := h.container.Queries.ListAllowedAliases(userContext(c), rc.TenantID)
	if err != nil {
		return nil, err
	}
	if len(aliases) == 0 {
		return nil, nil
	}
	set := make(map[string]struct{}, len(aliases))
	for _, alias := range aliases {
		set[strings.ToLower(alias)] = struct{}{}
	}
	return set, nil
}

func aliasVisible(allowed map[string]struct{}, alias string) bool {
	if allowed == nil {
		return true
	}
	_, ok := allowed[strings.ToLower(strings.TrimSpace(alias))]
	return ok
}

// requireModel enforces the tenant allowlist. Hidden models read as unknown
// so probing cannot distinguish "absent" from "not allowed".
func (h *openAIHandler) requireModel(c *fiber.Ctx, rc *requestctx.Context, alias string) error {
	if strings.TrimSpace(alias) == "" {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "model is required")
	}
	allowed, err := h.allowedAliases(c, rc)
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "model access lookup failed")
	}
	if !aliasVisible(allowed, alias) {
		return httputil.WriteAPIErrorParts(c, fiber.StatusNotFound, executor.CodeModelNotFound, "model "+alias+" not found")
	}
	return nil
}

func (h *openAIHandler) listModels(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	allowed, err := h.allowedAliases(c, rc)
	if err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "model access lookup failed")
	}

	var items []models.Model
	for alias, routes := range h.container.Engine.ListAliases() {
		if len(routes) == 0 || !aliasVisible(allowed, alias) {
			continue
		}
		items = append(items, models.Model{
			Alias:    alias,
			Provider: routes[0].Provider,
		})
	}
	return c.JSON(dto.FromModels(items, time.Now().UTC()))
}

func (h *openAIHandler) chatCompletions(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	var req models.ChatRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if len(req.Messages) == 0 {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "messages are required")
	}
	if err := h.requireModel(c, rc, req.Model); err != nil {
		return err
	}

	if req.Stream {
		return h.streamChat(c, rc, req)
	}

	ctx := userContext(c)
	idempotencyKey := strings.TrimSpace(c.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		if data, ok := h.container.Idempotency.Get(ctx, rc.TenantID, idempotencyKey); ok {
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(data)
		}
	}

	resp, err := h.container.Executor.Chat(ctx, rc, req, h.callOptions(c))
	if err != nil {
		return httputil.WriteAPIError(c, err)
	}

	payload := dto.FromChatResponse(resp, req.Model)
	if idempotencyKey != "" {
		if data, err := json.Marshal(payload); err == nil {
			h.container.Idempotency.Set(ctx, rc.TenantID, idempotencyKey, data)
		}
	}
	return c.JSON(payload)
}

func (h *openAIHandler) streamChat(c *fiber.Ctx, rc *requestctx.Context, req models.ChatRequest) error {
	ctx := userContext(c)

	chunks, errFn, err := h.container.Executor.ChatStream(ctx, rc, req, h.callOptions(c))
	if err != nil {
		return httputil.WriteAPIError(c, err)
	}

	alias := req.Model
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		for chunk := range chunks {
			if err := writeSSE(w, dto.FromChatChunk(chunk, alias)); err != nil {
				// Client went away; the executor settles via errFn below.
				break
			}
		}
		if err := errFn(); err != nil {
			apiErr := executor.AsAPIError(err)
			_ = writeSSE(w, apiErrorFrame{Error: httputil.APIErrorBody{
				Message: apiErr.Message,
				Type:    "api_error",
				Code:    apiErr.Code,
			}})
		}
		_, _ = w.WriteString("data: [DONE]\n\n")
		_ = w.Flush()
	})
	return nil
}

type apiErrorFrame struct {
	Error httputil.APIErrorBody `json:"error"`
}

func writeSSE(w *bufio.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := w.WriteString("data: "); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	if _, err := w.WriteString("\n\n"); err != nil {
		return err
	}
	return w.Flush()
}

func (h *openAIHandler) embeddings(c *fiber.Ctx) error {
	rc, ok := requestContext(c)
	if !ok {
		return httputil.WriteAPIErrorParts(c, fiber.StatusInternalServerError, executor.CodeInternal, "request context missing")
	}

	var req models.EmbeddingsRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "invalid request body")
	}
	if len(req.Input) == 0 {
		return httputil.WriteAPIErrorParts(c, fiber.StatusBadRequest, "invalid_request", "input is required")
	}
	if err := h.requireModel(c, rc, req.Model); err != nil {
		return err
	}

	resp, err := h.container.Executor.Embed(userContext(c), rc, req, h.callOptions(c))
	if err != nil {
		return httputil.WriteAPIError(c, err)
	}
	return c.JSON(dto.FromEmbeddingsResponse(resp, req.Model))
}
