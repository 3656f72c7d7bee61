package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers/streamutil"
)

// claudeRequest is the payload Claude models expect on Bedrock. It matches
// the Anthropic Messages API except for the anthropic_version marker.
type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
	MaxTokens        int32           `json:"max_tokens"`
	Temperature      float64         `json:"temperature,omitempty"`
	TopP             float64         `json:"top_p,omitempty"`
	StopSequences    []string        `json:"stop_sequences,omitempty"`
}

type claudeMessage struct {
	Role    string       `json:"role"`
	Content []claudePart `json:"content"`
}

type claudePart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeUsage struct {
	InputTokens  int32 `json:"input_tokens"`
	OutputTokens int32 `json:"output_tokens"`
}

type claudeResponse struct {
	ID         string       `json:"id"`
	Role       string       `json:"role"`
	Content    []claudePart `json:"content"`
	StopReason string       `json:"stop_reason"`
	Usage      claudeUsage  `json:"usage"`
}

func (c claudeResponse) joinText() string {
	var b strings.Builder
	for _, part := range c.Content {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

type claudeStreamEvent struct {
	Type    string               `json:"type"`
	Index   int                  `json:"index"`
	Message *claudeStreamMessage `json:"message"`
	Delta   *claudeStreamDelta   `json:"delta"`
	Usage   claudeUsage          `json:"usage"`
}

type claudeStreamMessage struct {
	ID    string `json:"id"`
	Model string `json:"model"`
}

type claudeStreamDelta struct {
	Type       string `json:"type"`
	Text       string `json:"text"`
	StopReason string `json:"stop_reason"`
}

func (e claudeStreamEvent) deltaText() string {
	if e.Delta == nil {
		return ""
	}
	return e.Delta.Text
}

func (e claudeStreamEvent) stopReason() string {
	if e.Delta == nil {
		return ""
	}
	return e.Delta.StopReason
}

func (a *Adapter) buildClaudeBody(req models.ChatRequest) ([]byte, error) {
	var system []string
	messages := make([]claudeMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			system = append(system, msg.Content)
		case "assistant":
			messages = append(messages, claudeMessage{
				Role:    "assistant",
				Content: []claudePart{{Type: "text", Text: msg.Content}},
			})
		default:
			messages = append(messages, claudeMessage{
				Role:    "user",
				Content: []claudePart{{Type: "text", Text: msg.Content}},
			})
		}
	}

	maxTokens := a.opts.DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	body := claudeRequest{
		AnthropicVersion: a.opts.AnthropicVersion,
		Messages:         messages,
		MaxTokens:        maxTokens,
		System:           strings.Join(system, "\n"),
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
	return json.Marshal(body)
}

func (a *Adapter) chatClaude(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	if len(req.Messages) == 0 {
		return models.ChatResponse{}, errors.New("bedrock: at least one message required")
	}
	body, err := a.buildClaudeBody(req)
	if err != nil {
		return models.ChatResponse{}, err
	}
	raw, err := a.invoke(ctx, body)
	if err != nil {
		return models.ChatResponse{}, err
	}
	var parsed claudeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.ChatResponse{}, fmt.Errorf("decode bedrock response: %w", err)
	}

	return models.ChatResponse{
		ID:      parsed.ID,
		Created: time.Now().UTC(),
		Model:   req.Model,
		Choices: []models.ChatChoice{{
			Index:        0,
			Message:      models.ChatMessage{Role: "assistant", Content: parsed.joinText()},
			FinishReason: mapClaudeStopReason(parsed.StopReason),
		}},
		Usage: models.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}, nil
}

func (a *Adapter) chatStreamClaude(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	body, err := a.buildClaudeBody(req)
	if err != nil {
		return nil, nil, err
	}

	resp, err := a.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(a.opts.ModelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, nil, err
	}
	stream := resp.GetStream()
	if stream == nil {
		return nil, nil, errors.New("bedrock: stream missing")
	}

	forward := func(ctx context.Context, yield streamutil.YieldFunc) {
		created := time.Now().UTC()
		messageID := fmt.Sprintf("chatcmpl-bedrock-%d", created.UnixNano())
		model := req.Model
		finishSent := false

		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-stream.Events():
				if !ok {
					return
				}
				member, ok := evt.(*types.ResponseStreamMemberChunk)
				if !ok || member == nil {
					continue
				}
				var payload claudeStreamEvent
				if err := json.Unmarshal(member.Value.Bytes, &payload); err != nil {
					continue
				}

				switch payload.Type {
				case "message_start":
					if payload.Message != nil {
						if payload.Message.ID != "" {
							messageID = payload.Message.ID
						}
						if payload.Message.Model != "" {
							model = payload.Message.Model
						}
					}
				case "content_block_delta":
					text := payload.deltaText()
					if text == "" {
						continue
					}
					ok := yield(models.ChatChunk{
						ID:      messageID,
						Model:   model,
						Created: created,
						Choices: []models.ChunkDelta{{
							Index: payload.Index,
							Delta: models.ChatMessage{Role: "assistant", Content: text},
						}},
					})
					if !ok {
						return
					}
				case "message_delta":
					if finishSent {
						continue
					}
					finish := strings.TrimSpace(payload.stopReason())
					if finish == "" {
						continue
					}
					ok := yield(models.ChatChunk{
						ID:      messageID,
						Model:   model,
						Created: created,
						Choices: []models.ChunkDelta{{
							Index:        payload.Index,
							FinishReason: mapClaudeStopReason(finish),
						}},
					})
					if !ok {
						return
					}
					finishSent = true
				case "message_stop":
					if !finishSent {
						yield(models.ChatChunk{
							ID:      messageID,
							Model:   model,
							Created: created,
							Choices: []models.ChunkDelta{{
								Index:        payload.Index,
								FinishReason: "stop",
							}},
						})
					}
					return
				}

				if payload.Usage.InputTokens > 0 || payload.Usage.OutputTokens > 0 {
					ok := yield(models.ChatChunk{
						ID:      messageID,
						Model:   model,
						Created: created,
						Usage: &models.Usage{
							PromptTokens:     payload.Usage.InputTokens,
							CompletionTokens: payload.Usage.OutputTokens,
							TotalTokens:      payload.Usage.InputTokens + payload.Usage.OutputTokens,
						},
					})
					if !ok {
						return
					}
				}
			}
		}
	}

	chunks, cancel := streamutil.Forward(ctx, stream.Close, forward)
	return chunks, cancel, nil
}

func mapClaudeStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence", "":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}
