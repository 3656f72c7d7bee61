package guardrails

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckBlocksKeywordCaseInsensitive(t *testing.T) {
	eval := NewEvaluator(Config{
		Enabled: true,
		Prompt:  StageConfig{BlockedKeywords: []string{"Forbidden"}},
	})

	result := eval.Check(StagePrompt, "this text contains a fOrBiDdEn phrase")
	assert.Equal(t, ActionBlock, result.Action)
	assert.Equal(t, []string{"Forbidden"}, result.Violations)

	result = eval.Check(StagePrompt, "perfectly fine text")
	assert.Equal(t, ActionAllow, result.Action)
}

func TestCheckStagesAreIndependent(t *testing.T) {
	eval := NewEvaluator(Config{
		Enabled:  true,
		Response: StageConfig{BlockedKeywords: []string{"secret"}},
	})

	assert.Equal(t, ActionAllow, eval.Check(StagePrompt, "a secret plan").Action)
	assert.Equal(t, ActionBlock, eval.Check(StageResponse, "a secret plan").Action)
}

func TestCheckDisabledConfigAllowsEverything(t *testing.T) {
	eval := NewEvaluator(Config{
		Prompt: StageConfig{BlockedKeywords: []string{"anything"}},
	})
	assert.Equal(t, ActionAllow, eval.Check(StagePrompt, "anything at all").Action)
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, IsEmpty(nil))
	assert.True(t, IsEmpty([]byte("  ")))
	assert.True(t, IsEmpty([]byte("{}")))
	assert.True(t, IsEmpty([]byte("null")))
	assert.False(t, IsEmpty([]byte(`{"enabled":true}`)))
}

func TestWebhookModeratorBlocks(t *testing.T) {
	var gotStage, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("X-Guardrail-Token")
		var req webhookRequest
		require.NoError(t, decodeJSON(r, &req))
		gotStage = req.Stage
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"action":"block","category":"toxicity","violations":["slur"]}`))
	}))
	defer server.Close()

	moderator := NewWebhookModerator(ModerationConfig{
		Enabled:           true,
		WebhookURL:        server.URL,
		WebhookAuthHeader: "X-Guardrail-Token",
		WebhookAuthValue:  "sekrit",
	})
	require.NotNil(t, moderator)

	result, err := moderator.Evaluate(context.Background(), StageResponse, "offensive content")
	require.NoError(t, err)
	assert.Equal(t, ActionBlock, result.Action)
	assert.Equal(t, "toxicity", result.Category)
	assert.Equal(t, []string{"slur"}, result.Violations)
	assert.Equal(t, StageResponse, gotStage)
	assert.Equal(t, "sekrit", gotAuth)
}

func TestWebhookModeratorFailureReturnsAllowWithError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	moderator := NewWebhookModerator(ModerationConfig{Enabled: true, WebhookURL: server.URL})
	require.NotNil(t, moderator)

	result, err := moderator.Evaluate(context.Background(), StagePrompt, "content")
	assert.Error(t, err)
	assert.Equal(t, ActionAllow, result.Action)
}

func TestWebhookModeratorDisabled(t *testing.T) {
	assert.Nil(t, NewWebhookModerator(ModerationConfig{WebhookURL: "http://example.com"}))
	assert.Nil(t, NewWebhookModerator(ModerationConfig{Enabled: true}))
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
