package openai

import (
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/modelrelay/modelrelay/internal/models"
)

// BuildChatParams maps a gateway chat request onto SDK params. Shared with
// the Azure adapter, which speaks the same wire dialect.
func BuildChatParams(req models.ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch strings.ToLower(msg.Role) {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.ChatCompletionMessageParamOfAssistant(msg.Content))
		default:
			union := openai.UserMessage(msg.Content)
			if name := strings.TrimSpace(msg.Name); name != "" && union.OfUser != nil {
				union.OfUser.Name = param.NewOpt(name)
			}
			messages = append(messages, union)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = param.NewOpt(float64(*req.TopP))
	}
	if req.MaxTokens != nil {
		params.MaxTokens = param.NewOpt(int64(*req.MaxTokens))
	}
	if req.N != nil {
		params.N = param.NewOpt(int64(*req.N))
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = param.NewOpt(float64(*req.PresencePenalty))
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = param.NewOpt(float64(*req.FrequencyPenalty))
	}
	if req.Seed != nil {
		params.Seed = param.NewOpt(*req.Seed)
	}
	if req.User != "" {
		params.User = param.NewOpt(req.User)
	}
	switch {
	case len(req.Stop) == 1:
		params.Stop.OfString = param.NewOpt(req.Stop[0])
	case len(req.Stop) > 1:
		params.Stop.OfStringArray = append(params.Stop.OfStringArray, req.Stop...)
	}
	return params
}

func ConvertChatResponse(resp openai.ChatCompletion) models.ChatResponse {
	choices := make([]models.ChatChoice, 0, len(resp.Choices))
	for _, choice := range resp.Choices {
		choices = append(choices, models.ChatChoice{
			Index: int(choice.Index),
			Message: models.ChatMessage{
				Role:    string(choice.Message.Role),
				Content: choice.Message.Content,
			},
			FinishReason: choice.FinishReason,
		})
	}
	return models.ChatResponse{
		ID:      resp.ID,
		Created: time.Unix(resp.Created, 0),
		Model:   resp.Model,
		Choices: choices,
		Usage: models.Usage{
			PromptTokens:     int32(resp.Usage.PromptTokens),
			CompletionTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:      int32(resp.Usage.TotalTokens),
		},
	}
}

func ConvertChatChunk(chunk openai.ChatCompletionChunk) models.ChatChunk {
	choices := make([]models.ChunkDelta, 0, len(chunk.Choices))
	for _, choice := range chunk.Choices {
		choices = append(choices, models.ChunkDelta{
			Index: int(choice.Index),
			Delta: models.ChatMessage{
				Role:    choice.Delta.Role,
				Content: choice.Delta.Content,
			},
			FinishReason: choice.FinishReason,
		})
	}
	return models.ChatChunk{
		ID:      chunk.ID,
		Model:   chunk.Model,
		Created: time.Unix(chunk.Created, 0),
		Choices: choices,
		Usage:   convertCompletionUsage(chunk.Usage),
	}
}

// convertCompletionUsage maps the usage block attached to the terminal stream
// frame. All-zero usage reads as absent.
func convertCompletionUsage(u openai.CompletionUsage) *models.Usage {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0 {
		return nil
	}
	usage := models.Usage{
		PromptTokens:     int32(u.PromptTokens),
		CompletionTokens: int32(u.CompletionTokens),
		TotalTokens:      int32(u.TotalTokens),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return &usage
}

func ConvertImageResponse(resp openai.ImagesResponse) models.ImageResponse {
	data := make([]models.ImageData, 0, len(resp.Data))
	for _, item := range resp.Data {
		data = append(data, models.ImageData{
			B64JSON:       item.B64JSON,
			URL:           item.URL,
			RevisedPrompt: item.RevisedPrompt,
		})
	}

	usage := models.Usage{}
	if resp.Usage.JSON.InputTokens.Valid() {
		usage.PromptTokens = int32(resp.Usage.InputTokens)
	}
	if resp.Usage.JSON.OutputTokens.Valid() {
		usage.CompletionTokens = int32(resp.Usage.OutputTokens)
	}
	if resp.Usage.JSON.TotalTokens.Valid() {
		usage.TotalTokens = int32(resp.Usage.TotalTokens)
	} else {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return models.ImageResponse{
		Created: time.Unix(resp.Created, 0),
		Data:    data,
		Usage:   usage,
	}
}

func ConvertEmbeddingsResponse(resp openai.CreateEmbeddingResponse) models.EmbeddingsResponse {
	embeddings := make([]models.Embedding, 0, len(resp.Data))
	for _, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for i, v := range item.Embedding {
			vec[i] = float32(v)
		}
		embeddings = append(embeddings, models.Embedding{Index: int(item.Index), Vector: vec})
	}
	return models.EmbeddingsResponse{
		Model:      resp.Model,
		Embeddings: embeddings,
		Usage: models.Usage{
			PromptTokens: int32(resp.Usage.PromptTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
	}
}
