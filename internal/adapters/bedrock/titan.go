package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/modelrelay/modelrelay/internal/models"
)

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int32  `json:"dimensions,omitempty"`
	Normalize  *bool  `json:"normalize,omitempty"`
}

type titanEmbedResponse struct {
	Embedding struct {
		Embedding []float64 `json:"embedding"`
	} `json:"embedding"`
	InputTextTokenCount int32 `json:"inputTextTokenCount"`
}

// titanEmbedResponseAlt covers the flattened shape some Titan revisions emit.
type titanEmbedResponseAlt struct {
	Embeddings []struct {
		Values []float64 `json:"values"`
	} `json:"embeddings"`
	InputTokenCount int32 `json:"inputTextTokenCount"`
}

type titanImageRequest struct {
	TaskType              string           `json:"taskType"`
	TextToImageParams     titanTextParams  `json:"textToImageParams"`
	ImageGenerationConfig titanImageConfig `json:"imageGenerationConfig"`
}

type titanTextParams struct {
	Text string `json:"text"`
}

type titanImageConfig struct {
	NumberOfImages int     `json:"numberOfImages"`
	Quality        string  `json:"quality"`
	CfgScale       float64 `json:"cfgScale"`
	Height         int     `json:"height"`
	Width          int     `json:"width"`
	Seed           int32   `json:"seed"`
	Style          string  `json:"style,omitempty"`
}

type titanImageResponse struct {
	Images []string `json:"images"`
}

// embedTitan issues one InvokeModel call per input text; Titan has no batch
// embedding endpoint.
func (a *Adapter) embedTitan(ctx context.Context, req models.EmbeddingsRequest) (models.EmbeddingsResponse, error) {
	if len(req.Input) == 0 {
		return models.EmbeddingsResponse{}, errors.New("bedrock: embedding input required")
	}

	embeddings := make([]models.Embedding, 0, len(req.Input))
	var totalTokens int32
	for idx, text := range req.Input {
		body := titanEmbedRequest{InputText: strings.TrimSpace(text)}
		if body.InputText == "" {
			return models.EmbeddingsResponse{}, fmt.Errorf("bedrock: input %d is empty", idx)
		}
		if a.opts.EmbedDimensions > 0 {
			body.Dimensions = a.opts.EmbedDimensions
		}
		if a.opts.EmbedNormalize {
			body.Normalize = aws.Bool(true)
		}

		raw, err := json.Marshal(body)
		if err != nil {
			return models.EmbeddingsResponse{}, fmt.Errorf("encode titan request: %w", err)
		}
		out, err := a.invoke(ctx, raw)
		if err != nil {
			return models.EmbeddingsResponse{}, err
		}
		vector, tokens, err := parseTitanEmbedding(out)
		if err != nil {
			return models.EmbeddingsResponse{}, err
		}
		embeddings = append(embeddings, models.Embedding{Index: idx, Vector: vector})
		totalTokens += tokens
	}

	return models.EmbeddingsResponse{
		Model:      req.Model,
		Embeddings: embeddings,
		Usage: models.Usage{
			PromptTokens: totalTokens,
			TotalTokens:  totalTokens,
		},
	}, nil
}

func parseTitanEmbedding(payload []byte) ([]float32, int32, error) {
	var primary titanEmbedResponse
	if err := json.Unmarshal(payload, &primary); err == nil && len(primary.Embedding.Embedding) > 0 {
		return float64To32(primary.Embedding.Embedding), primary.InputTextTokenCount, nil
	}
	var alt titanEmbedResponseAlt
	if err := json.Unmarshal(payload, &alt); err == nil && len(alt.Embeddings) > 0 {
		return float64To32(alt.Embeddings[0].Values), alt.InputTokenCount, nil
	}
	return nil, 0, errors.New("unexpected titan embedding response")
}

func float64To32(values []float64) []float32 {
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v)
	}
	return out
}

func (a *Adapter) generateTitan(ctx context.Context, req models.ImageRequest) (models.ImageResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return models.ImageResponse{}, errors.New("bedrock: prompt required")
	}
	if req.ResponseFormat != "" && req.ResponseFormat != "b64_json" {
		return models.ImageResponse{}, errors.New("bedrock: image generation supports only base64 responses")
	}

	width, height := parseImageSize(req.Size)
	quality := strings.TrimSpace(req.Quality)
	if quality == "" {
		quality = strings.TrimSpace(a.opts.Metadata["bedrock_image_quality"])
	}
	if quality == "" {
		quality = "standard"
	}
	style := strings.TrimSpace(req.Style)
	if style == "" {
		style = strings.TrimSpace(a.opts.Metadata["bedrock_image_style"])
	}

	payload := titanImageRequest{
		TaskType:          a.opts.ImageTaskType,
		TextToImageParams: titanTextParams{Text: prompt},
		ImageGenerationConfig: titanImageConfig{
			NumberOfImages: clampImageCount(req.N, 4),
			Quality:        quality,
			CfgScale:       metadataFloat(a.opts.Metadata, "bedrock_image_cfg_scale", 8),
			Height:         height,
			Width:          width,
			Seed:           imageSeed(a.opts.Metadata),
			Style:          style,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.ImageResponse{}, fmt.Errorf("encode titan image request: %w", err)
	}
	raw, err := a.invoke(ctx, body)
	if err != nil {
		return models.ImageResponse{}, err
	}

	var parsed titanImageResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.ImageResponse{}, fmt.Errorf("decode titan image response: %w", err)
	}
	if len(parsed.Images) == 0 {
		return models.ImageResponse{}, errors.New("titan image response missing images")
	}

	data := make([]models.ImageData, 0, len(parsed.Images))
	for _, img := range parsed.Images {
		data = append(data, models.ImageData{B64JSON: img})
	}
	return models.ImageResponse{Created: time.Now().UTC(), Data: data}, nil
}

func clampImageCount(n, max int) int {
	if n <= 0 {
		return 1
	}
	if n > max {
		return max
	}
	return n
}

func metadataFloat(md map[string]string, key string, def float64) float64 {
	if v := strings.TrimSpace(md[key]); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

func metadataInt(md map[string]string, key string, def int) int {
	if v := strings.TrimSpace(md[key]); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return def
}

func imageSeed(md map[string]string) int32 {
	if v := md["bedrock_image_seed"]; v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 32); err == nil {
			return int32(parsed)
		}
	}
	return rand.Int31()
}

// parseImageSize accepts "WxH" strings and clamps both axes to the 256..1024
// range on 64-pixel boundaries Bedrock requires.
func parseImageSize(size string) (int, int) {
	width, height := 1024, 1024
	if parts := strings.Split(size, "x"); len(parts) == 2 {
		if w, err := strconv.Atoi(parts[0]); err == nil {
			width = w
		}
		if h, err := strconv.Atoi(parts[1]); err == nil {
			height = h
		}
	}
	return clampImageDimension(width), clampImageDimension(height)
}

func clampImageDimension(value int) int {
	if value < 256 {
		value = 256
	}
	if value > 1024 {
		value = 1024
	}
	value -= value % 64
	if value < 256 {
		value = 256
	}
	return value
}
