package providers

import (
	"strings"

	"github.com/modelrelay/modelrelay/internal/catalog"
	"github.com/modelrelay/modelrelay/internal/config"
)

func supportsModality(modalities []string, target string) bool {
	for _, m := range modalities {
		if strings.EqualFold(m, target) {
			return true
		}
	}
	return false
}

func supportsEmbedding(modalities []string) bool {
	for _, m := range modalities {
		if strings.EqualFold(m, "embedding") || strings.EqualFold(m, "embeddings") {
			return true
		}
	}
	return false
}

func cloneMetadata(src map[string]string) map[string]string {
	if len(src) == 0 {
		return make(map[string]string)
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func ensureConfig(cfg *config.Config) *config.Config {
	if cfg == nil {
		return &config.Config{}
	}
	return cfg
}

// baseRoute copies the catalog-derived fields every builder fills the same
// way. Builders attach adapters and may adjust Metadata afterwards.
func baseRoute(entry config.ModelCatalogEntry) Route {
	return Route{
		Alias:           entry.Alias,
		Provider:        entry.Provider,
		Model:           entry.ProviderModel,
		Deployment:      entry.Deployment,
		ContextWindow:   entry.ContextWindow,
		MaxOutputTokens: entry.MaxOutputTokens,
		Modalities:      append([]string(nil), entry.Modalities...),
		SupportsTools:   entry.SupportsTools,
		Pricing:         catalog.EntryPricing(entry),
		Metadata:        cloneMetadata(entry.Metadata),
	}
}
