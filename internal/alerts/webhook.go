package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/config"
)

// WebhookSink posts budget alerts to the notification's webhook URLs.
type WebhookSink struct {
	client *http.Client
}

func NewWebhookSink(cfg config.WebhookConfig) *WebhookSink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookSink{client: &http.Client{Timeout: timeout}}
}

func (s *WebhookSink) Name() string { return "webhook" }

type webhookAlertPayload struct {
	TenantID     string    `json:"tenant_id"`
	Level        string    `json:"level"`
	Ratio        float64   `json:"ratio"`
	UsedUSD      string    `json:"used_usd"`
	LimitUSD     string    `json:"limit_usd"`
	WindowEnd    time.Time `json:"window_end"`
	APIKeyPrefix string    `json:"api_key_prefix,omitempty"`
	ModelAlias   string    `json:"model_alias,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *WebhookSink) Notify(ctx context.Context, n Notification) error {
	if s == nil || len(n.Webhooks) == 0 {
		return nil
	}
	body, err := json.Marshal(webhookAlertPayload{
		TenantID:     n.TenantID.String(),
		Level:        string(n.Level),
		Ratio:        n.Ratio,
		UsedUSD:      n.UsedUSD.StringFixed(4),
		LimitUSD:     n.LimitUSD.StringFixed(2),
		WindowEnd:    n.WindowEnd.UTC(),
		APIKeyPrefix: n.APIKeyPrefix,
		ModelAlias:   n.ModelAlias,
		Timestamp:    n.Timestamp.UTC(),
	})
	if err != nil {
		return Permanent(err)
	}

	var errs []error
	for _, target := range n.Webhooks {
		if strings.TrimSpace(target) == "" {
			continue
		}
		if err := s.post(ctx, target, body); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", target, err))
		}
	}
	return errors.Join(errs...)
}

// post classifies 4xx responses as permanent; 5xx and transport failures stay
// retryable.
func (s *WebhookSink) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return Permanent(fmt.Errorf("status %d", resp.StatusCode))
	}
	return nil
}
