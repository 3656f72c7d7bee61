// Package dto holds the OpenAI-compatible wire shapes shared by the public
// HTTP plane and the batch engine, plus conversions from the internal models.
package dto

import (
	"time"

	"github.com/modelrelay/modelrelay/internal/models"
)

type Usage struct {
	PromptTokens     int32 `json:"prompt_tokens"`
	CompletionTokens int32 `json:"completion_tokens"`
	TotalTokens      int32 `json:"total_tokens"`
}

func FromUsage(u models.Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type ChatCompletion struct {
	ID      string       `json:"id"`
	Object  string       `json:"object"`
	Created int64        `json:"created"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   Usage        `json:"usage"`
}

// FromChatResponse converts to the public wire shape, stamping the alias the
// caller requested rather than the provider model.
func FromChatResponse(resp models.ChatResponse, alias string) ChatCompletion {
	choices := make([]ChatChoice, 0, len(resp.Choices))
	for _, c := range resp.Choices {
		choices = append(choices, ChatChoice{
			Index: c.Index,
			Message: ChatMessage{
				Role:    c.Message.Role,
				Content: c.Message.Content,
				Name:    c.Message.Name,
			},
			FinishReason: c.FinishReason,
		})
	}
	return ChatCompletion{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: unixOrNow(resp.Created),
		Model:   alias,
		Choices: choices,
		Usage:   FromUsage(resp.Usage),
	}
}

type ChunkDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

func FromChatChunk(chunk models.ChatChunk, alias string) ChatCompletionChunk {
	choices := make([]ChunkChoice, 0, len(chunk.Choices))
	for _, c := range chunk.Choices {
		choice := ChunkChoice{
			Index: c.Index,
			Delta: ChunkDelta{Role: c.Delta.Role, Content: c.Delta.Content},
		}
		if c.FinishReason != "" {
			reason := c.FinishReason
			choice.FinishReason = &reason
		}
		choices = append(choices, choice)
	}
	out := ChatCompletionChunk{
		ID:      chunk.ID,
		Object:  "chat.completion.chunk",
		Created: unixOrNow(chunk.Created),
		Model:   alias,
		Choices: choices,
	}
	if chunk.Usage != nil {
		usage := FromUsage(*chunk.Usage)
		out.Usage = &usage
	}
	return out
}

type Embedding struct {
	Object    string    `json:"object"`
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
}

type EmbeddingsResponse struct {
	Object string      `json:"object"`
	Data   []Embedding `json:"data"`
	Model  string      `json:"model"`
	Usage  Usage       `json:"usage"`
}

func FromEmbeddingsResponse(resp models.EmbeddingsResponse, alias string) EmbeddingsResponse {
	data := make([]Embedding, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		data = append(data, Embedding{
			Object:    "embedding",
			Index:     emb.Index,
			Embedding: emb.Vector,
		})
	}
	return EmbeddingsResponse{
		Object: "list",
		Data:   data,
		Model:  alias,
		Usage:  FromUsage(resp.Usage),
	}
}

type ImageDatum struct {
	B64JSON       string `json:"b64_json,omitempty"`
	URL           string `json:"url,omitempty"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
}

type ImagesResponse struct {
	Created int64        `json:"created"`
	Data    []ImageDatum `json:"data"`
	Usage   *Usage       `json:"usage,omitempty"`
}

func FromImageResponse(resp models.ImageResponse) ImagesResponse {
	data := make([]ImageDatum, 0, len(resp.Data))
	for _, d := range resp.Data {
		data = append(data, ImageDatum{
			B64JSON:       d.B64JSON,
			URL:           d.URL,
			RevisedPrompt: d.RevisedPrompt,
		})
	}
	out := ImagesResponse{Created: unixOrNow(resp.Created), Data: data}
	if !resp.Usage.Zero() {
		usage := FromUsage(resp.Usage)
		out.Usage = &usage
	}
	return out
}

// ImageGenerationRequest is the public /v1/images/generations body.
type ImageGenerationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n,omitempty"`
	Size           string `json:"size,omitempty"`
	Quality        string `json:"quality,omitempty"`
	Style          string `json:"style,omitempty"`
	Background     string `json:"background,omitempty"`
	ResponseFormat string `json:"response_format,omitempty"`
	User           string `json:"user,omitempty"`
}

func (r ImageGenerationRequest) ToModel() models.ImageRequest {
	return models.ImageRequest{
		Model:          r.Model,
		Prompt:         r.Prompt,
		N:              r.N,
		Size:           r.Size,
		Quality:        r.Quality,
		Style:          r.Style,
		Background:     r.Background,
		ResponseFormat: r.ResponseFormat,
		User:           r.User,
	}
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

func FromModels(items []models.Model, created time.Time) ModelList {
	data := make([]Model, 0, len(items))
	for _, m := range items {
		data = append(data, Model{
			ID:      m.Alias,
			Object:  "model",
			Created: created.Unix(),
			OwnedBy: m.Provider,
		})
	}
	return ModelList{Object: "list", Data: data}
}

func unixOrNow(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UTC().Unix()
	}
	return t.Unix()
}
