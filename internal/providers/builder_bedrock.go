package providers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/modelrelay/modelrelay/internal/adapters/bedrock"
	"github.com/modelrelay/modelrelay/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:         "bedrock",
		Description:  "AWS Bedrock (Anthropic Claude, Titan embeddings/images)",
		Capabilities: []string{"chat", "chat_stream", "embeddings", "images"},
		Builder:      buildBedrockRoute,
	})
}

func buildBedrockRoute(ctx context.Context, cfg *config.Config, entry config.ModelCatalogEntry) (Route, error) {
	cfg = ensureConfig(cfg)
	override := entry.ProviderOverrides.Bedrock
	route := baseRoute(entry)
	md := route.Metadata

	region := entry.Region
	if override != nil && strings.TrimSpace(override.Region) != "" {
		region = strings.TrimSpace(override.Region)
	}
	if region == "" {
		region = cfg.Providers.AWSRegion
	}
	if region == "" {
		return Route{}, fmt.Errorf("bedrock provider requires aws region")
	}
	md["region"] = region

	chatFormat := strings.TrimSpace(md["bedrock_chat_format"])
	if chatFormat == "" && strings.Contains(entry.ProviderModel, ".anthropic.") {
		chatFormat = bedrock.ChatFormatClaudeMessages
	}
	if chatFormat != "" {
		md["bedrock_chat_format"] = chatFormat
	}

	embeddingFormat := strings.TrimSpace(md["bedrock_embedding_format"])
	if embeddingFormat == "" && strings.Contains(entry.ProviderModel, "titan-embed") {
		embeddingFormat = bedrock.EmbeddingFormatTitanText
	}
	if embeddingFormat != "" {
		md["bedrock_embedding_format"] = embeddingFormat
	}

	imageTask := strings.TrimSpace(md["bedrock_image_task_type"])
	if imageTask == "" && supportsModality(entry.Modalities, "image") {
		imageTask = "TEXT_IMAGE"
	}
	if imageTask != "" {
		md["bedrock_image_task_type"] = imageTask
	}

	defaultMaxTokens := entry.MaxOutputTokens
	if defaultMaxTokens == 0 {
		switch {
		case override != nil && override.DefaultMaxTokens != 0:
			defaultMaxTokens = override.DefaultMaxTokens
		case md["bedrock_default_max_tokens"] != "":
			if parsed, err := strconv.Atoi(md["bedrock_default_max_tokens"]); err == nil {
				defaultMaxTokens = int32(parsed)
			}
		}
	}

	var embedDims int32
	if md["bedrock_embed_dims"] != "" {
		if parsed, err := strconv.Atoi(md["bedrock_embed_dims"]); err == nil {
			embedDims = int32(parsed)
		}
	}
	embedNormalize := false
	if md["bedrock_embed_normalize"] != "" {
		if parsed, err := strconv.ParseBool(md["bedrock_embed_normalize"]); err == nil {
			embedNormalize = parsed
		}
	}

	anthropicVersion := md["anthropic_version"]
	if override != nil && strings.TrimSpace(override.AnthropicVersion) != "" {
		anthropicVersion = strings.TrimSpace(override.AnthropicVersion)
	}

	opts := bedrock.Options{
		Region:           region,
		ModelID:          entry.ProviderModel,
		ChatFormat:       chatFormat,
		EmbeddingFormat:  embeddingFormat,
		DefaultMaxTokens: defaultMaxTokens,
		ImageTaskType:    imageTask,
		AnthropicVersion: anthropicVersion,
		EmbedDimensions:  embedDims,
		EmbedNormalize:   embedNormalize,
		Metadata:         md,
	}
	if override != nil {
		opts.AccessKeyID = strings.TrimSpace(override.AccessKeyID)
		opts.SecretAccessKey = strings.TrimSpace(override.SecretAccessKey)
		opts.SessionToken = strings.TrimSpace(override.SessionToken)
		opts.RoleARN = strings.TrimSpace(override.RoleARN)
		opts.Profile = strings.TrimSpace(override.Profile)
	}
	if opts.AccessKeyID == "" {
		opts.AccessKeyID = cfg.Providers.AWSAccessKeyID
	}
	if opts.SecretAccessKey == "" {
		opts.SecretAccessKey = cfg.Providers.AWSSecretAccessKey
	}
	if opts.SessionToken == "" {
		opts.SessionToken = md["aws_session_token"]
	}
	if opts.Profile == "" {
		opts.Profile = md["aws_profile"]
	}

	adapter, err := bedrock.New(ctx, opts)
	if err != nil {
		return Route{}, err
	}

	md["model_id"] = entry.ProviderModel
	route.Health = adapter.HealthCheck

	if chatFormat == bedrock.ChatFormatClaudeMessages && supportsModality(entry.Modalities, "text") {
		route.Chat = adapter
		route.ChatStream = adapter
	}
	if embeddingFormat != "" && supportsEmbedding(entry.Modalities) {
		route.Embedding = adapter
	}
	if imageTask != "" && supportsModality(entry.Modalities, "image") {
		route.Image = adapter
	}
	if route.Chat == nil && route.Embedding == nil && route.Image == nil {
		return Route{}, errors.New("bedrock route has no supported modalities")
	}
	return route, nil
}
