// Package openai adapts the official OpenAI SDK to the gateway's provider
// interfaces. The same adapter serves native OpenAI and any OpenAI-compatible
// endpoint reachable through a custom base URL.
package openai

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/providers/streamutil"
)

type Options struct {
	APIKey       string
	BaseURL      string
	Organization string
	Extra        []option.RequestOption
}

type Adapter struct {
	client *openai.Client
}

func New(opts Options) (*Adapter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if base := strings.TrimSpace(opts.BaseURL); base != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimRight(base, "/")))
	}
	if org := strings.TrimSpace(opts.Organization); org != "" {
		reqOpts = append(reqOpts, option.WithOrganization(org))
	}
	reqOpts = append(reqOpts, opts.Extra...)

	client := openai.NewClient(reqOpts...)
	return &Adapter{client: &client}, nil
}

func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	resp, err := a.client.Chat.Completions.New(ctx, BuildChatParams(req))
	if err != nil {
		return models.ChatResponse{}, err
	}
	return ConvertChatResponse(*resp), nil
}

func (a *Adapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	params := BuildChatParams(req)
	params.StreamOptions.IncludeUsage = param.NewOpt(true)
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, nil, err
	}

	chunks, cancel := streamutil.Forward(ctx, stream.Close, func(ctx context.Context, yield streamutil.YieldFunc) {
		for stream.Next() {
			if !yield(ConvertChatChunk(stream.Current())) {
				return
			}
		}
	})
	return chunks, cancel, nil
}

func (a *Adapter) Embed(ctx context.Context, req models.EmbeddingsRequest) (models.EmbeddingsResponse, error) {
	if len(req.Input) == 0 {
		return models.EmbeddingsResponse{}, errors.New("openai: embeddings input required")
	}
	params := openai.EmbeddingNewParams{Model: openai.EmbeddingModel(req.Model)}
	if len(req.Input) == 1 {
		params.Input.OfString = param.NewOpt(req.Input[0])
	} else {
		params.Input.OfArrayOfStrings = append(params.Input.OfArrayOfStrings, req.Input...)
	}
	if req.User != "" {
		params.User = param.NewOpt(req.User)
	}
	resp, err := a.client.Embeddings.New(ctx, params)
	if err != nil {
		return models.EmbeddingsResponse{}, err
	}
	return ConvertEmbeddingsResponse(*resp), nil
}

// Models lists the deployments visible to the configured credentials.
func (a *Adapter) Models(ctx context.Context) ([]models.Model, error) {
	page, err := a.client.Models.List(ctx)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, nil
	}
	out := make([]models.Model, 0, len(page.Data))
	for _, item := range page.Data {
		out = append(out, models.Model{
			Alias:         item.ID,
			Provider:      "openai",
			ProviderModel: item.ID,
			SupportsTools: true,
		})
	}
	return out, nil
}

// HealthCheck uses the models listing as a lightweight readiness probe.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	_, err := a.client.Models.List(ctx)
	return err
}
