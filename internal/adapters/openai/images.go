package openai

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/modelrelay/modelrelay/internal/models"
)

func (a *Adapter) Generate(ctx context.Context, req models.ImageRequest) (models.ImageResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return models.ImageResponse{}, errors.New("openai: prompt required")
	}
	params := openai.ImageGenerateParams{
		Model:  openai.ImageModel(req.Model),
		Prompt: prompt,
	}
	if req.N > 0 {
		params.N = param.NewOpt(int64(req.N))
	}
	if req.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(req.Size)
	}
	if req.ResponseFormat != "" {
		params.ResponseFormat = openai.ImageGenerateParamsResponseFormat(req.ResponseFormat)
	}
	if req.Quality != "" {
		params.Quality = openai.ImageGenerateParamsQuality(req.Quality)
	}
	if req.Background != "" {
		params.Background = openai.ImageGenerateParamsBackground(req.Background)
	}
	if req.Style != "" {
		params.Style = openai.ImageGenerateParamsStyle(req.Style)
	}
	if req.User != "" {
		params.User = param.NewOpt(req.User)
	}
	resp, err := a.client.Images.Generate(ctx, params)
	if err != nil {
		return models.ImageResponse{}, err
	}
	return ConvertImageResponse(*resp), nil
}

func (a *Adapter) Edit(ctx context.Context, req models.ImageEditRequest) (models.ImageResponse, error) {
	if len(req.Images) == 0 {
		return models.ImageResponse{}, errors.New("openai: at least one image required for edits")
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return models.ImageResponse{}, errors.New("openai: prompt required for image edits")
	}
	params := openai.ImageEditParams{
		Model:  openai.ImageModel(req.Model),
		Prompt: prompt,
	}
	if req.N > 0 {
		params.N = param.NewOpt(int64(req.N))
	}
	if req.Size != "" {
		params.Size = openai.ImageEditParamsSize(req.Size)
	}
	if req.ResponseFormat != "" {
		params.ResponseFormat = openai.ImageEditParamsResponseFormat(req.ResponseFormat)
	}
	if req.Quality != "" {
		params.Quality = openai.ImageEditParamsQuality(req.Quality)
	}
	if req.Background != "" {
		params.Background = openai.ImageEditParamsBackground(req.Background)
	}
	if req.User != "" {
		params.User = param.NewOpt(req.User)
	}

	readers := make([]io.ReadCloser, 0, len(req.Images)+1)
	defer func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}()
	if len(req.Images) == 1 {
		reader := req.Images[0].Reader()
		readers = append(readers, reader)
		params.Image.OfFile = reader
	} else {
		params.Image.OfFileArray = make([]io.Reader, 0, len(req.Images))
		for _, img := range req.Images {
			reader := img.Reader()
			readers = append(readers, reader)
			params.Image.OfFileArray = append(params.Image.OfFileArray, reader)
		}
	}
	if req.Mask != nil {
		mask := req.Mask.Reader()
		readers = append(readers, mask)
		params.Mask = mask
	}

	resp, err := a.client.Images.Edit(ctx, params)
	if err != nil {
		return models.ImageResponse{}, err
	}
	return ConvertImageResponse(*resp), nil
}

func (a *Adapter) Variation(ctx context.Context, req models.ImageVariationRequest) (models.ImageResponse, error) {
	if len(req.Image.Data) == 0 {
		return models.ImageResponse{}, errors.New("openai: image input required for variations")
	}
	reader := req.Image.Reader()
	defer reader.Close()

	params := openai.ImageNewVariationParams{
		Image: reader,
		Model: openai.ImageModel(req.Model),
	}
	if req.N > 0 {
		params.N = param.NewOpt(int64(req.N))
	}
	if req.Size != "" {
		params.Size = openai.ImageNewVariationParamsSize(req.Size)
	}
	if req.ResponseFormat != "" {
		params.ResponseFormat = openai.ImageNewVariationParamsResponseFormat(req.ResponseFormat)
	}
	if req.User != "" {
		params.User = param.NewOpt(req.User)
	}
	resp, err := a.client.Images.NewVariation(ctx, params)
	if err != nil {
		return models.ImageResponse{}, err
	}
	return ConvertImageResponse(*resp), nil
}
