package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/modelrelay/modelrelay/internal/models"
)

func TestChatRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-test" {
			t.Errorf("missing api key header, got %q", got)
		}
		var req messageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.System != "be terse" {
			t.Errorf("system prompt not folded: %q", req.System)
		}
		if req.MaxTokens != 1024 {
			t.Errorf("expected default max tokens, got %d", req.MaxTokens)
		}
		json.NewEncoder(w).Encode(messageResponse{
			ID:         "msg_123",
			Role:       "assistant",
			Content:    []contentPart{{Type: "text", Text: "hello "}, {Type: "text", Text: "there"}},
			StopReason: "end_turn",
			Usage:      messageUsage{InputTokens: 12, OutputTokens: 4},
		})
	}))
	defer server.Close()

	adapter, err := New(Options{APIKey: "sk-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	resp, err := adapter.Chat(context.Background(), models.ChatRequest{
		Model: "claude-sonnet",
		Messages: []models.ChatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Choices[0].Message.Content != "hello there" {
		t.Fatalf("unexpected content %q", resp.Choices[0].Message.Content)
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Fatalf("unexpected finish reason %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage.TotalTokens != 16 {
		t.Fatalf("unexpected usage %+v", resp.Usage)
	}
}

func TestChatStreamEmitsDeltasAndUsage(t *testing.T) {
	sse := "" +
		"event: message_start\n" +
		"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_s1\",\"model\":\"claude-sonnet\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n" +
		"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n" +
		"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"input_tokens\":9,\"output_tokens\":2}}\n\n" +
		"data: {\"type\":\"message_stop\"}\n\n"

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sse))
	}))
	defer server.Close()

	adapter, err := New(Options{APIKey: "sk-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	chunks, cancel, err := adapter.ChatStream(context.Background(), models.ChatRequest{
		Model:    "claude-sonnet",
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer cancel()

	var text string
	var last models.ChatChunk
	for chunk := range chunks {
		last = chunk
		for _, c := range chunk.Choices {
			text += c.Delta.Content
		}
	}
	if text != "Hello" {
		t.Fatalf("unexpected streamed text %q", text)
	}
	if last.Usage == nil || last.Usage.PromptTokens != 9 || last.Usage.CompletionTokens != 2 {
		t.Fatalf("terminal usage missing: %+v", last.Usage)
	}
	if last.Choices[0].FinishReason != "stop" {
		t.Fatalf("unexpected finish reason %q", last.Choices[0].FinishReason)
	}
	if last.ID != "msg_s1" {
		t.Fatalf("message id not carried: %q", last.ID)
	}
}

func TestChatSurfacesAPIErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"invalid_request_error"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	adapter, err := New(Options{APIKey: "sk-test", BaseURL: server.URL})
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	_, err = adapter.Chat(context.Background(), models.ChatRequest{
		Model:    "claude-sonnet",
		Messages: []models.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatalf("expected error from 400 response")
	}
}
