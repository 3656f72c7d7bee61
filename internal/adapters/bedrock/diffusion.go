package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelrelay/modelrelay/internal/models"
)

type diffusionRequest struct {
	TextPrompts   []diffusionPrompt `json:"text_prompts"`
	CfgScale      float64           `json:"cfg_scale,omitempty"`
	Height        int               `json:"height,omitempty"`
	Width         int               `json:"width,omitempty"`
	Samples       int               `json:"samples,omitempty"`
	Steps         int               `json:"steps,omitempty"`
	Seed          *int32            `json:"seed,omitempty"`
	InitImage     string            `json:"init_image,omitempty"`
	InitImageMode string            `json:"init_image_mode,omitempty"`
	ImageStrength float64           `json:"image_strength,omitempty"`
	MaskImage     string            `json:"mask_image,omitempty"`
	MaskSource    string            `json:"mask_source,omitempty"`
}

type diffusionPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight,omitempty"`
}

type diffusionResponse struct {
	Artifacts []struct {
		Base64 string `json:"base64"`
	} `json:"artifacts"`
}

func (a *Adapter) generateDiffusion(ctx context.Context, req models.ImageRequest) (models.ImageResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return models.ImageResponse{}, errors.New("bedrock: prompt required")
	}
	if req.ResponseFormat != "" && req.ResponseFormat != "b64_json" {
		return models.ImageResponse{}, errors.New("bedrock: image generation supports only base64 responses")
	}
	width, height := parseImageSize(req.Size)
	seed := imageSeed(a.opts.Metadata)

	request := diffusionRequest{
		TextPrompts: []diffusionPrompt{{Text: prompt, Weight: 1}},
		CfgScale:    metadataFloat(a.opts.Metadata, "bedrock_image_cfg_scale", 7.5),
		Height:      height,
		Width:       width,
		Samples:     clampImageCount(req.N, 4),
		Steps:       metadataInt(a.opts.Metadata, "bedrock_image_steps", 50),
		Seed:        &seed,
	}
	a.appendNegativePrompt(&request)
	return a.invokeDiffusion(ctx, request)
}

func (a *Adapter) editDiffusion(ctx context.Context, req models.ImageEditRequest) (models.ImageResponse, error) {
	if len(req.Images) == 0 {
		return models.ImageResponse{}, errors.New("bedrock: at least one image required for edits")
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return models.ImageResponse{}, errors.New("bedrock: prompt required")
	}
	initImage, err := encodeImageInput(req.Images[0])
	if err != nil {
		return models.ImageResponse{}, err
	}
	seed := imageSeed(a.opts.Metadata)

	request := diffusionRequest{
		TextPrompts:   []diffusionPrompt{{Text: prompt, Weight: 1}},
		CfgScale:      metadataFloat(a.opts.Metadata, "bedrock_image_cfg_scale", 7.5),
		Steps:         metadataInt(a.opts.Metadata, "bedrock_image_steps", 50),
		Samples:       clampImageCount(req.N, 4),
		Seed:          &seed,
		InitImage:     initImage,
		InitImageMode: a.initImageMode(),
		ImageStrength: metadataFloat(a.opts.Metadata, "bedrock_image_strength", 0.35),
	}
	if width, height := parseImageSize(req.Size); req.Size != "" {
		request.Width = width
		request.Height = height
	}
	if req.Mask != nil {
		maskB64, err := encodeImageInput(*req.Mask)
		if err != nil {
			return models.ImageResponse{}, err
		}
		request.MaskImage = maskB64
		maskMode := strings.TrimSpace(a.opts.Metadata["bedrock_image_mask_source"])
		if maskMode == "" {
			maskMode = "MASK_IMAGE_WHITE"
		}
		request.MaskSource = maskMode
	}
	a.appendNegativePrompt(&request)
	return a.invokeDiffusion(ctx, request)
}

func (a *Adapter) variationDiffusion(ctx context.Context, req models.ImageVariationRequest) (models.ImageResponse, error) {
	if len(req.Image.Data) == 0 {
		return models.ImageResponse{}, errors.New("bedrock: variation image input required")
	}
	initImage, err := encodeImageInput(req.Image)
	if err != nil {
		return models.ImageResponse{}, err
	}
	prompt := strings.TrimSpace(a.opts.Metadata["bedrock_image_variation_prompt"])
	if prompt == "" {
		prompt = "variation of the provided image"
	}
	seed := imageSeed(a.opts.Metadata)

	request := diffusionRequest{
		TextPrompts:   []diffusionPrompt{{Text: prompt, Weight: 1}},
		CfgScale:      metadataFloat(a.opts.Metadata, "bedrock_image_cfg_scale", 7.5),
		Steps:         metadataInt(a.opts.Metadata, "bedrock_image_steps", 50),
		Samples:       clampImageCount(req.N, 4),
		Seed:          &seed,
		InitImage:     initImage,
		InitImageMode: a.initImageMode(),
		ImageStrength: metadataFloat(a.opts.Metadata, "bedrock_image_strength", 0.35),
	}
	a.appendNegativePrompt(&request)
	return a.invokeDiffusion(ctx, request)
}

func (a *Adapter) invokeDiffusion(ctx context.Context, request diffusionRequest) (models.ImageResponse, error) {
	if request.Samples <= 0 {
		request.Samples = 1
	}
	body, err := json.Marshal(request)
	if err != nil {
		return models.ImageResponse{}, fmt.Errorf("encode diffusion request: %w", err)
	}
	raw, err := a.invoke(ctx, body)
	if err != nil {
		return models.ImageResponse{}, err
	}
	var parsed diffusionResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return models.ImageResponse{}, fmt.Errorf("decode diffusion response: %w", err)
	}

	data := make([]models.ImageData, 0, len(parsed.Artifacts))
	for _, artifact := range parsed.Artifacts {
		if strings.TrimSpace(artifact.Base64) == "" {
			continue
		}
		data = append(data, models.ImageData{B64JSON: artifact.Base64})
	}
	if len(data) == 0 {
		return models.ImageResponse{}, errors.New("bedrock diffusion response empty")
	}
	return models.ImageResponse{Created: time.Now().UTC(), Data: data}, nil
}

func (a *Adapter) initImageMode() string {
	mode := strings.TrimSpace(a.opts.Metadata["bedrock_image_init_mode"])
	if mode == "" {
		mode = "IMAGE_STRENGTH"
	}
	return mode
}

func (a *Adapter) appendNegativePrompt(request *diffusionRequest) {
	if neg := strings.TrimSpace(a.opts.Metadata["bedrock_image_negative_prompt"]); neg != "" {
		request.TextPrompts = append(request.TextPrompts, diffusionPrompt{Text: neg, Weight: -1})
	}
}

func encodeImageInput(input models.ImageInput) (string, error) {
	if len(input.Data) == 0 {
		return "", errors.New("bedrock: empty image payload")
	}
	return base64.StdEncoding.EncodeToString(input.Data), nil
}
