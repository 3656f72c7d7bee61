package alerts

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/config"
)

func TestWebhookSinkNotify(t *testing.T) {
	var received webhookAlertPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	sink := NewWebhookSink(config.WebhookConfig{Timeout: time.Second})
	n := Notification{
		TenantID:  uuid.New(),
		Level:     LevelWarning,
		Ratio:     0.9,
		UsedUSD:   decimal.NewFromFloat(90),
		LimitUSD:  decimal.NewFromFloat(100),
		Webhooks:  []string{ts.URL},
		Timestamp: time.Now(),
	}
	if err := sink.Notify(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if received.TenantID != n.TenantID.String() {
		t.Fatalf("tenant mismatch")
	}
	if received.Level != string(LevelWarning) {
		t.Fatalf("level mismatch")
	}
	if received.LimitUSD != "100.00" {
		t.Fatalf("unexpected limit %q", received.LimitUSD)
	}
}

func TestWebhookSinkClientErrorIsPermanent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	sink := NewWebhookSink(config.WebhookConfig{Timeout: time.Second})
	err := sink.Notify(context.Background(), Notification{Webhooks: []string{ts.URL}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !isPermanent(err) {
		t.Fatalf("expected permanent classification, got %v", err)
	}
}

func TestWebhookSinkServerErrorIsRetryable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	sink := NewWebhookSink(config.WebhookConfig{Timeout: time.Second})
	err := sink.Notify(context.Background(), Notification{Webhooks: []string{ts.URL}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if isPermanent(err) {
		t.Fatalf("expected retryable classification, got %v", err)
	}
}

func TestWebhookSinkSkipsEmptyTargets(t *testing.T) {
	sink := NewWebhookSink(config.WebhookConfig{})
	if err := sink.Notify(context.Background(), Notification{Webhooks: []string{"", "  "}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
