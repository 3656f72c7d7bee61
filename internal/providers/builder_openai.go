package providers

import (
	"context"
	"fmt"
	"strings"

	native "github.com/modelrelay/modelrelay/internal/adapters/openai"
	"github.com/modelrelay/modelrelay/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:        "openai",
		Description: "OpenAI native API (chat, streaming, embeddings, images, audio)",
		Capabilities: []string{
			"chat", "chat_stream", "embeddings", "images", "models",
			"audio_transcription", "audio_translation", "audio_speech",
		},
		Builder: buildOpenAIRoute,
	})
	RegisterDefinition(Definition{
		Name:        "openai_compatible",
		Description: "OpenAI API-compatible endpoint (custom base URL)",
		Capabilities: []string{
			"chat", "chat_stream", "embeddings", "images",
			"audio_transcription", "audio_translation", "audio_speech",
		},
		Builder: buildOpenAICompatibleRoute,
	})
}

func buildOpenAIRoute(ctx context.Context, cfg *config.Config, entry config.ModelCatalogEntry) (Route, error) {
	cfg = ensureConfig(cfg)
	override := entry.ProviderOverrides.OpenAI

	apiKey := strings.TrimSpace(entry.APIKey)
	if apiKey == "" {
		if override != nil && strings.TrimSpace(override.APIKey) != "" {
			apiKey = strings.TrimSpace(override.APIKey)
		} else {
			apiKey = strings.TrimSpace(cfg.Providers.OpenAIKey)
		}
	}
	if apiKey == "" {
		return Route{}, fmt.Errorf("openai provider requires api key (providers.openai_key or catalog entry api_key)")
	}

	route := baseRoute(entry)
	baseURL := strings.TrimSpace(entry.Endpoint)
	if override != nil {
		if strings.TrimSpace(override.BaseURL) != "" {
			baseURL = strings.TrimSpace(override.BaseURL)
		}
		if strings.TrimSpace(override.Organization) != "" {
			route.Metadata["openai_organization"] = strings.TrimSpace(override.Organization)
		}
	}

	adapter, err := native.New(native.Options{
		APIKey:       apiKey,
		BaseURL:      baseURL,
		Organization: strings.TrimSpace(route.Metadata["openai_organization"]),
	})
	if err != nil {
		return Route{}, err
	}

	if baseURL != "" {
		route.Metadata["base_url"] = baseURL
	}
	route.Chat = adapter
	route.ChatStream = adapter
	route.Embedding = adapter
	route.Image = adapter
	route.AudioTranscribe = adapter
	route.AudioTranslate = adapter
	route.TextToSpeech = adapter
	route.Models = adapter
	route.Health = adapter.HealthCheck
	return route, nil
}

func buildOpenAICompatibleRoute(ctx context.Context, cfg *config.Config, entry config.ModelCatalogEntry) (Route, error) {
	cfg = ensureConfig(cfg)
	override := entry.ProviderOverrides.OpenAICompatible
	route := baseRoute(entry)

	baseURL := strings.TrimSpace(entry.Endpoint)
	if override != nil && strings.TrimSpace(override.BaseURL) != "" {
		baseURL = strings.TrimSpace(override.BaseURL)
	}
	if baseURL == "" {
		baseURL = strings.TrimSpace(route.Metadata["base_url"])
	}
	if baseURL == "" {
		return Route{}, fmt.Errorf("openai_compatible provider requires base_url (entry.endpoint or metadata.base_url)")
	}

	apiKey := strings.TrimSpace(entry.APIKey)
	if apiKey == "" {
		switch {
		case override != nil && strings.TrimSpace(override.APIKey) != "":
			apiKey = strings.TrimSpace(override.APIKey)
		case route.Metadata["api_key"] != "":
			apiKey = strings.TrimSpace(route.Metadata["api_key"])
		default:
			apiKey = strings.TrimSpace(cfg.Providers.OpenAIKey)
		}
	}
	if apiKey == "" {
		return Route{}, fmt.Errorf("openai_compatible provider requires api key")
	}

	org := strings.TrimSpace(route.Metadata["openai_organization"])
	if override != nil && strings.TrimSpace(override.Organization) != "" {
		org = strings.TrimSpace(override.Organization)
	}

	adapter, err := native.New(native.Options{
		APIKey:       apiKey,
		BaseURL:      baseURL,
		Organization: org,
	})
	if err != nil {
		return Route{}, err
	}

	route.Metadata["base_url"] = baseURL
	route.Chat = adapter
	route.ChatStream = adapter
	route.Embedding = adapter
	route.Image = adapter
	route.AudioTranscribe = adapter
	route.AudioTranslate = adapter
	route.TextToSpeech = adapter
	route.Health = adapter.HealthCheck
	return route, nil
}
