package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelrelay/modelrelay/internal/adapters/azureopenai"
	"github.com/modelrelay/modelrelay/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:        "azure",
		Description: "Azure OpenAI (chat, embeddings, images, audio)",
		Capabilities: []string{
			"chat", "chat_stream", "embeddings", "images",
			"audio_transcription", "audio_translation",
		},
		Builder: buildAzureRoute,
	})
}

func buildAzureRoute(ctx context.Context, cfg *config.Config, entry config.ModelCatalogEntry) (Route, error) {
	cfg = ensureConfig(cfg)
	az := entry.ProviderOverrides.Azure
	route := baseRoute(entry)

	if az != nil && az.Deployment != "" {
		route.Deployment = az.Deployment
	}
	if route.Deployment == "" {
		route.Deployment = entry.ProviderModel
	}

	endpoint := entry.Endpoint
	if endpoint == "" {
		if az != nil && az.Endpoint != "" {
			endpoint = az.Endpoint
		} else {
			endpoint = cfg.Providers.AzureOpenAIEndpoint
		}
	}
	apiKey := entry.APIKey
	if apiKey == "" {
		if az != nil && az.APIKey != "" {
			apiKey = az.APIKey
		} else {
			apiKey = cfg.Providers.AzureOpenAIKey
		}
	}
	apiVersion := entry.APIVersion
	if apiVersion == "" {
		switch {
		case az != nil && az.APIVersion != "":
			apiVersion = az.APIVersion
		case route.Metadata["api_version"] != "":
			apiVersion = route.Metadata["api_version"]
		default:
			apiVersion = cfg.Providers.AzureOpenAIVersion
		}
	}
	if endpoint == "" || apiKey == "" {
		return Route{}, fmt.Errorf("azure provider requires endpoint and api key")
	}

	adapter, err := azureopenai.New(azureopenai.Options{
		Endpoint:   endpoint,
		APIKey:     apiKey,
		APIVersion: apiVersion,
	})
	if err != nil {
		return Route{}, err
	}

	route.Metadata["deployment"] = route.Deployment
	region := entry.Region
	if region == "" && az != nil {
		region = az.Region
	}
	if region = strings.TrimSpace(region); region != "" {
		route.Metadata["region"] = region
	}

	route.Chat = adapter
	route.ChatStream = adapter
	route.Embedding = adapter
	route.Image = adapter
	route.AudioTranscribe = adapter
	route.AudioTranslate = adapter
	route.Health = adapter.HealthCheck
	return route, nil
}
