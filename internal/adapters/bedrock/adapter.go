// Package bedrock serves Amazon Bedrock deployments through the runtime
// InvokeModel APIs. Claude models handle chat, Titan handles embeddings and
// images, and Stability diffusion models handle image edits and variations.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/modelrelay/modelrelay/internal/models"
)

const (
	ChatFormatClaudeMessages = "anthropic_messages"

	EmbeddingFormatTitanText = "titan_text"
)

type Options struct {
	Region          string
	Profile         string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	RoleARN         string

	ModelID string

	ChatFormat       string
	EmbeddingFormat  string
	DefaultMaxTokens int32
	ImageTaskType    string

	AnthropicVersion string
	EmbedDimensions  int32
	EmbedNormalize   bool

	Metadata map[string]string
}

type Adapter struct {
	client    *bedrockruntime.Client
	stsClient *sts.Client
	opts      Options
}

func New(ctx context.Context, opts Options) (*Adapter, error) {
	if opts.Region == "" {
		return nil, errors.New("bedrock: region required")
	}
	if opts.ModelID == "" {
		return nil, errors.New("bedrock: model id required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(opts.Region),
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)
		loadOpts = append(loadOpts, awscfg.WithCredentialsProvider(static))
	}

	cfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = opts.Region
	}
	if role := strings.TrimSpace(opts.RoleARN); role != "" {
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), role)
		cfg.Credentials = aws.NewCredentialsCache(provider)
	}

	if opts.AnthropicVersion == "" {
		opts.AnthropicVersion = "bedrock-2023-05-31"
	}
	if opts.Metadata == nil {
		opts.Metadata = map[string]string{}
	}

	return &Adapter{
		client:    bedrockruntime.NewFromConfig(cfg),
		stsClient: sts.NewFromConfig(cfg),
		opts:      opts,
	}, nil
}

func (a *Adapter) Chat(ctx context.Context, req models.ChatRequest) (models.ChatResponse, error) {
	switch a.opts.ChatFormat {
	case ChatFormatClaudeMessages:
		return a.chatClaude(ctx, req)
	case "":
		return models.ChatResponse{}, errors.New("bedrock: chat not supported by this route")
	default:
		return models.ChatResponse{}, fmt.Errorf("bedrock: chat format %q unsupported", a.opts.ChatFormat)
	}
}

func (a *Adapter) ChatStream(ctx context.Context, req models.ChatRequest) (<-chan models.ChatChunk, func() error, error) {
	if a.opts.ChatFormat != ChatFormatClaudeMessages {
		return nil, nil, errors.New("bedrock: streaming not supported for this route")
	}
	return a.chatStreamClaude(ctx, req)
}

func (a *Adapter) Embed(ctx context.Context, req models.EmbeddingsRequest) (models.EmbeddingsResponse, error) {
	switch a.opts.EmbeddingFormat {
	case EmbeddingFormatTitanText:
		return a.embedTitan(ctx, req)
	case "":
		return models.EmbeddingsResponse{}, errors.New("bedrock: embeddings not supported by this route")
	default:
		return models.EmbeddingsResponse{}, fmt.Errorf("bedrock: embedding format %q unsupported", a.opts.EmbeddingFormat)
	}
}

func (a *Adapter) Generate(ctx context.Context, req models.ImageRequest) (models.ImageResponse, error) {
	switch {
	case a.imageTask() == "":
		return models.ImageResponse{}, errors.New("bedrock: image generation not supported for this route")
	case a.usesDiffusion():
		return a.generateDiffusion(ctx, req)
	default:
		return a.generateTitan(ctx, req)
	}
}

func (a *Adapter) Edit(ctx context.Context, req models.ImageEditRequest) (models.ImageResponse, error) {
	if !a.usesDiffusion() {
		return models.ImageResponse{}, models.ErrImageOperationUnsupported
	}
	return a.editDiffusion(ctx, req)
}

func (a *Adapter) Variation(ctx context.Context, req models.ImageVariationRequest) (models.ImageResponse, error) {
	if !a.usesDiffusion() {
		return models.ImageResponse{}, models.ErrImageOperationUnsupported
	}
	return a.variationDiffusion(ctx, req)
}

// HealthCheck verifies the credentials resolve without paying for inference.
func (a *Adapter) HealthCheck(ctx context.Context) error {
	if a.stsClient == nil {
		return errors.New("bedrock: sts client not initialised")
	}
	_, err := a.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	return err
}

func (a *Adapter) imageTask() string {
	return strings.ToLower(strings.TrimSpace(a.opts.ImageTaskType))
}

func (a *Adapter) usesDiffusion() bool {
	task := a.imageTask()
	return strings.Contains(task, "stability") || strings.Contains(task, "diffusion")
}

func (a *Adapter) invoke(ctx context.Context, body []byte) ([]byte, error) {
	out, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.opts.ModelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, err
	}
	return out.Body, nil
}
