package openai

import (
	"testing"

	sdk "github.com/openai/openai-go/v3"

	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers/fixtures"
)

func TestConvertChatResponseFixture(t *testing.T) {
	var resp sdk.ChatCompletion
	if err := fixtures.Load("chat_completion.json", &resp); err != nil {
		t.Fatalf("load fixture: %v", err)
	}

	converted := ConvertChatResponse(resp)
	if converted.ID != "chatcmpl-fixture-sync" {
		t.Fatalf("unexpected id: %s", converted.ID)
	}
	if converted.Model != "gpt-4o-mini" {
		t.Fatalf("unexpected model: %s", converted.Model)
	}
	if len(converted.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(converted.Choices))
	}
	if converted.Choices[0].Message.Content != "Fixture response" {
		t.Fatalf("unexpected content: %s", converted.Choices[0].Message.Content)
	}
	if converted.Usage.PromptTokens != 42 || converted.Usage.CompletionTokens != 128 || converted.Usage.TotalTokens != 170 {
		t.Fatalf("usage mismatch: %+v", converted.Usage)
	}
}

func TestConvertChatChunkFixture(t *testing.T) {
	var chunk sdk.ChatCompletionChunk
	if err := fixtures.Load("chat_stream_chunk.json", &chunk); err != nil {
		t.Fatalf("load fixture: %v", err)
	}

	converted := ConvertChatChunk(chunk)
	if converted.ID != "chatcmpl-fixture-stream" {
		t.Fatalf("unexpected id: %s", converted.ID)
	}
	if len(converted.Choices) != 1 {
		t.Fatalf("expected chunk choice, got %d", len(converted.Choices))
	}
	if converted.Choices[0].Delta.Content != "Hello from fixture" {
		t.Fatalf("unexpected delta: %s", converted.Choices[0].Delta.Content)
	}
	if converted.Usage == nil {
		t.Fatalf("expected usage payload")
	}
	if converted.Usage.TotalTokens != 26 {
		t.Fatalf("usage mismatch: %+v", converted.Usage)
	}
}

func TestBuildChatParamsCarriesSamplingKnobs(t *testing.T) {
	temp := float32(0.2)
	topP := float32(0.9)
	maxTok := int32(256)
	seed := int64(7)
	req := models.ChatRequest{
		Model: "gpt-4o-mini",
		Messages: []models.ChatMessage{
			{Role: "system", Content: "be terse"},
			{Role: "user", Content: "hi", Name: "alice"},
			{Role: "assistant", Content: "hello"},
		},
		Temperature: &temp,
		TopP:        &topP,
		MaxTokens:   &maxTok,
		Seed:        &seed,
		Stop:        []string{"END"},
		User:        "tenant-1",
	}

	params := BuildChatParams(req)
	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params.Messages))
	}
	if !params.Temperature.Valid() || params.Temperature.Value < 0.19 || params.Temperature.Value > 0.21 {
		t.Fatalf("temperature not carried: %+v", params.Temperature)
	}
	if !params.MaxTokens.Valid() || params.MaxTokens.Value != 256 {
		t.Fatalf("max tokens not carried: %+v", params.MaxTokens)
	}
	if !params.Seed.Valid() || params.Seed.Value != 7 {
		t.Fatalf("seed not carried: %+v", params.Seed)
	}
	if !params.Stop.OfString.Valid() || params.Stop.OfString.Value != "END" {
		t.Fatalf("stop not carried: %+v", params.Stop)
	}
	if !params.User.Valid() || params.User.Value != "tenant-1" {
		t.Fatalf("user not carried: %+v", params.User)
	}
}
