package guardrails

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// WebhookModerator posts content to a tenant-provided moderation endpoint.
type WebhookModerator struct {
	url        string
	authHeader string
	authValue  string
	client     *http.Client
}

// NewWebhookModerator returns nil without error when no webhook is
// configured.
func NewWebhookModerator(cfg ModerationConfig) *WebhookModerator {
	url := strings.TrimSpace(cfg.WebhookURL)
	if !cfg.Enabled || url == "" {
		return nil
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookModerator{
		url:        url,
		authHeader: strings.TrimSpace(cfg.WebhookAuthHeader),
		authValue:  strings.TrimSpace(cfg.WebhookAuthValue),
		client:     &http.Client{Timeout: timeout},
	}
}

type webhookRequest struct {
	Stage   string `json:"stage"`
	Content string `json:"content"`
}

type webhookResponse struct {
	Action     string   `json:"action"`
	Category   string   `json:"category"`
	Violations []string `json:"violations"`
}

// Evaluate sends the content to the webhook and returns the resulting
// action. Any transport or decode error returns allow alongside the error so
// the caller can record it without failing the request.
func (w *WebhookModerator) Evaluate(ctx context.Context, stage, content string) (Result, error) {
	if w == nil || strings.TrimSpace(content) == "" {
		return Result{Action: ActionAllow}, nil
	}
	body, err := json.Marshal(webhookRequest{Stage: stage, Content: content})
	if err != nil {
		return Result{Action: ActionAllow}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return Result{Action: ActionAllow}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.authHeader != "" && w.authValue != "" {
		req.Header.Set(w.authHeader, w.authValue)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return Result{Action: ActionAllow}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Result{Action: ActionAllow}, errors.New(resp.Status)
	}
	var decoded webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Result{Action: ActionAllow}, err
	}
	return Result{
		Action:     parseAction(decoded.Action),
		Violations: decoded.Violations,
		Category:   strings.TrimSpace(decoded.Category),
	}, nil
}

func parseAction(val string) Action {
	switch strings.ToLower(strings.TrimSpace(val)) {
	case string(ActionBlock):
		return ActionBlock
	case string(ActionWarn):
		return ActionWarn
	default:
		return ActionAllow
	}
}
