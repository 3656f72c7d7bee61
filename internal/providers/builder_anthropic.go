package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelrelay/modelrelay/internal/adapters/anthropic"
	"github.com/modelrelay/modelrelay/internal/config"
)

func init() {
	RegisterDefinition(Definition{
		Name:         "anthropic",
		Description:  "Anthropic Claude API",
		Capabilities: []string{"chat", "chat_stream"},
		Builder:      buildAnthropicRoute,
	})
}

func buildAnthropicRoute(ctx context.Context, cfg *config.Config, entry config.ModelCatalogEntry) (Route, error) {
	cfg = ensureConfig(cfg)
	override := entry.ProviderOverrides.Anthropic
	route := baseRoute(entry)

	apiKey := strings.TrimSpace(entry.APIKey)
	if apiKey == "" {
		switch {
		case override != nil && strings.TrimSpace(override.APIKey) != "":
			apiKey = strings.TrimSpace(override.APIKey)
		case route.Metadata["api_key"] != "":
			apiKey = strings.TrimSpace(route.Metadata["api_key"])
		default:
			apiKey = strings.TrimSpace(cfg.Providers.AnthropicKey)
		}
	}
	if apiKey == "" {
		return Route{}, fmt.Errorf("anthropic provider requires api key")
	}

	baseURL := strings.TrimSpace(entry.Endpoint)
	if override != nil && strings.TrimSpace(override.BaseURL) != "" {
		baseURL = strings.TrimSpace(override.BaseURL)
	}
	if baseURL == "" {
		baseURL = strings.TrimSpace(route.Metadata["anthropic_base_url"])
	}

	version := strings.TrimSpace(route.Metadata["anthropic_version"])
	if override != nil && strings.TrimSpace(override.Version) != "" {
		version = strings.TrimSpace(override.Version)
	}

	adapter, err := anthropic.New(anthropic.Options{
		APIKey:           apiKey,
		BaseURL:          baseURL,
		Version:          version,
		DefaultMaxTokens: entry.MaxOutputTokens,
	})
	if err != nil {
		return Route{}, err
	}

	route.Chat = adapter
	route.ChatStream = adapter
	route.Health = adapter.HealthCheck
	return route, nil
}
