// Package azureopenai adapts Azure OpenAI deployments through the official
// SDK's azure request options. Request and response shapes match the native
// OpenAI dialect, so the conversion helpers are shared with that adapter.
package azureopenai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	native "github.com/modelrelay/modelrelay/internal/adapters/openai"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers/streamutil"
)

const defaultAPIVersion = "2024-07-01-preview"

type Options struct {
	Endpoint   string
	APIKey     string
	APIVersion string
	Extra      []option.RequestOption
}

type Adapter struct {
	client     *openai.Client
	httpClient *http.Client
	endpoint   string
	apiKey     string
	apiVersion string
}

func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.Endpoint) == "" {
		return nil, errors.New("azure openai: endpoint required")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("azure openai: api key required")
	}
	if opts.APIVersion == "" {
		opts.APIVersion = defaultAPIVersion
	}
	endpoint := strings.TrimSuffix(opts.Endpoint, "/")

	reqOpts := []option.RequestOption{
		azure.WithEndpoint(endpoint, opts.APIVersion),
		azure.WithAPIKey(opts.APIKey),
	}
	reqOpts = append(reqOpts, opts.Extra...)
	client := openai.NewClient(reqOpts...)

	return &Adapter{
		client:     &client,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		endpoint:   endpoint,
		apiKey:     opts.APIKey,
		apiVersion: opts.APIVersion,
	}, nil
}

func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	resp, err := a.client.Chat.Completions.New(ctx, native.BuildChatParams(req))
	if err != nil {
		return models.ChatResponse{}, err
	}
	return native.ConvertChatResponse(*resp), nil
}

func (a *Adapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	params := native.BuildChatParams(req)
	params.StreamOptions.IncludeUsage = param.NewOpt(true)
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, nil, err
	}

	chunks, cancel := streamutil.Forward(ctx, stream.Close, func(ctx context.Context, yield streamutil.YieldFunc) {
		for stream.Next() {
			if !yield(native.ConvertChatChunk(stream.Current())) {
				return
			}
		}
	})
	return chunks, cancel, nil
}

func (a *Adapter) Embed(ctx context.Context, req models.EmbeddingsRequest) (models.EmbeddingsResponse, error) {
	if len(req.Input) == 0 {
		return models.EmbeddingsResponse{}, errors.New("azure openai: embeddings input required")
	}
	params := openai.EmbeddingNewParams{Model: openai.EmbeddingModel(req.Model)}
	if len(req.Input) == 1 {
		params.Input.OfString = param.NewOpt(req.Input[0])
	} else {
		params.Input.OfArrayOfStrings = append(params.Input.OfArrayOfStrings, req.Input...)
	}
	resp, err := a.client.Embeddings.New(ctx, params)
	if err != nil {
		return models.EmbeddingsResponse{}, err
	}
	return native.ConvertEmbeddingsResponse(*resp), nil
}

func (a *Adapter) Generate(ctx context.Context, req models.ImageRequest) (models.ImageResponse, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return models.ImageResponse{}, errors.New("azure openai: prompt required")
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
	return native.ConvertImageResponse(*resp), nil
}

// Edit is not available on Azure image deployments; only generation is.
func (a *Adapter) Edit(ctx context.Context, req models.ImageEditRequest) (models.ImageResponse, error) {
	return models.ImageResponse{}, models.ErrImageOperationUnsupported
}

func (a *Adapter) Variation(ctx context.Context, req models.ImageVariationRequest) (models.ImageResponse, error) {
	return models.ImageResponse{}, models.ErrImageOperationUnsupported
}

func (a *Adapter) Transcribe(ctx context.Context, req models.AudioTranscriptionRequest) (models.AudioTranscriptionResponse, error) {
	if req.Input.Reader == nil {
		return models.AudioTranscriptionResponse{}, errors.New("azure openai: audio input required")
	}
	params := openai.AudioTranscriptionNewParams{
		File:  req.Input.Reader,
		Model: openai.AudioModel(req.Model),
	}
	if lang := strings.TrimSpace(req.Language); lang != "" {
		params.Language = openai.String(lang)
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		params.Prompt = openai.String(prompt)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	}
	resp, err := a.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return models.AudioTranscriptionResponse{}, err
	}
	return models.AudioTranscriptionResponse{Text: resp.Text}, nil
}

func (a *Adapter) Translate(ctx context.Context, req models.AudioTranscriptionRequest) (models.AudioTranscriptionResponse, error) {
	if req.Input.Reader == nil {
		return models.AudioTranscriptionResponse{}, errors.New("azure openai: audio input required")
	}
	params := openai.AudioTranslationNewParams{
		File:  req.Input.Reader,
		Model: openai.AudioModel(req.Model),
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		params.Prompt = openai.String(prompt)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	}
	resp, err := a.client.Audio.Translations.New(ctx, params)
	if err != nil {
		return models.AudioTranscriptionResponse{}, err
	}
	return models.AudioTranscriptionResponse{Text: resp.Text}, nil
}

// HealthCheck probes the deployments endpoint directly; the SDK has no
// lightweight list call for Azure.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	reqURL := fmt.Sprintf("%s/openai/deployments?api-version=%s", a.endpoint, url.QueryEscape(a.apiVersion))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("api-key", a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("azure health check status %d", resp.StatusCode)
	}
	return nil
}
