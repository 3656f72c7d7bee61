package anthropic

import (
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/models"
)

type messageRequest struct {
	Model         string        `json:"model"`
	System        string        `json:"system,omitempty"`
	Messages      []wireMessage `json:"messages"`
	MaxTokens     int32         `json:"max_tokens"`
	Temperature   float64       `json:"temperature,omitempty"`
	TopP          float64       `json:"top_p,omitempty"`
	StopSequences []string      `json:"stop_sequences,omitempty"`
	Stream        bool          `json:"stream,omitempty"`
}

type wireMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type messageResponse struct {
	ID         string        `json:"id"`
	Role       string        `json:"role"`
	Content    []contentPart `json:"content"`
	StopReason string        `json:"stop_reason"`
	Usage      messageUsage  `json:"usage"`
}

func (m messageResponse) joinText() string {
	var b strings.Builder
	for _, c := range m.Content {
		if c.Type == "text" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

type messageUsage struct {
	InputTokens  int32 `json:"input_tokens"`
	OutputTokens int32 `json:"output_tokens"`
}

type streamEvent struct {
	Type    string         `json:"type"`
	Index   int            `json:"index"`
	Message *streamMessage `json:"message"`
	Delta   *streamDelta   `json:"delta"`
	Usage   messageUsage   `json:"usage"`
}

type streamMessage struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

type streamDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	StopReason string `json:"stop_reason"`
}

func (e streamEvent) deltaText() string {
	if e.Delta == nil {
		return ""
	}
	return e.Delta.Text
}

func (e streamEvent) stopReason() string {
	if e.Delta == nil {
		return ""
	}
	return e.Delta.StopReason
}

// buildMessageRequest folds system messages into the dedicated system field
// and defaults max_tokens, which the Messages API requires.
func buildMessageRequest(req models.ChatRequest, defaultMax int32, stream bool) messageRequest {
	var system []string
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			messages = append(messages, wireMessage{
				Role:    "assistant",
				Content: []contentPart{{Type: "text", Text: msg.Content}},
			})
		default:
			messages = append(messages, wireMessage{
				Role:    "user",
				Content: []contentPart{{Type: "text", Text: msg.Content}},
			})
		}
	}

	maxTokens := defaultMax
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body := messageRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: maxTokens,
		Stream:    stream,
		System:    strings.Join(system, "\n"),
	}
	if req.Temperature != nil {
		body.Temperature = float64(*req.Temperature)
	}
	if req.TopP != nil {
		body.TopP = float64(*req.TopP)
	}
	if len(req.Stop) > 0 {
		body.StopSequences = append(body.StopSequences, req.Stop...)
	}
	return body
}

func convertMessageResponse(resp messageResponse, model string) models.ChatResponse {
	return models.ChatResponse{
		ID:      resp.ID,
		Model:   model,
		Created: time.Now().UTC(),
		Choices: []models.ChatChoice{{
			Index:        0,
			Message:      models.ChatMessage{Role: "assistant", Content: resp.joinText()},
			FinishReason: mapStopReason(resp.StopReason),
		}},
		Usage: models.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
