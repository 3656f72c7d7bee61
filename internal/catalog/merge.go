package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/models"
	"github.com/modelrelay/modelrelay/internal/store"
)

// MergeEntries overlays database catalog rows on top of the static config
// entries. Rows win on conflict, keyed by alias plus deployment so one alias
// can fan out to several deployments.
func MergeEntries(cfgEntries []config.ModelCatalogEntry, rows []store.CatalogEntry) ([]config.ModelCatalogEntry, error) {
	merged := make(map[string]config.ModelCatalogEntry)
	key := func(alias, deployment string) string {
		return normalizeAlias(alias) + "::" + deployment
	}

	for _, entry := range cfgEntries {
		entry.Provider = NormalizeProviderSlug(entry.Provider)
		merged[key(entry.Alias, entry.Deployment)] = entry
	}

	for _, row := range rows {
		enabled := row.Enabled
		entry := config.ModelCatalogEntry{
			Alias:           row.Alias,
			Provider:        NormalizeProviderSlug(row.Provider),
			ProviderModel:   row.ProviderModel,
			ContextWindow:   row.ContextWindow,
			MaxOutputTokens: row.MaxOutputTokens,
			Modalities:      row.Modalities,
			SupportsTools:   row.SupportsTools,
			Enabled:         &enabled,
			Deployment:      row.Deployment,
			Endpoint:        row.Endpoint,
			APIKey:          row.APIKey,
			APIVersion:      row.APIVersion,
			Region:          row.Region,
			PriceInput:      row.PriceInput.InexactFloat64(),
			PriceOutput:     row.PriceOutput.InexactFloat64(),
			Currency:        row.Currency,
			Metadata:        map[string]string{},
		}
		if len(row.Metadata) > 0 {
			if err := json.Unmarshal(row.Metadata, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("alias %q metadata: %w", row.Alias, err)
			}
		}
		merged[key(entry.Alias, entry.Deployment)] = entry
	}

	out := make([]config.ModelCatalogEntry, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	return out, nil
}

// EntryPricing converts an entry's per-mtoken prices plus optional metadata
// rates into the pricing model used for cost accounting.
func EntryPricing(entry config.ModelCatalogEntry) models.Pricing {
	p := models.Pricing{
		InputPerMTok:  decimal.NewFromFloat(entry.PriceInput),
		OutputPerMTok: decimal.NewFromFloat(entry.PriceOutput),
	}
	if entry.Metadata != nil {
		if v, ok := entry.Metadata["price_flat_per_call"]; ok {
			if d, err := decimal.NewFromString(v); err == nil {
				p.FlatPerCall = d
			}
		}
		if v, ok := entry.Metadata["price_per_image"]; ok {
			if d, err := decimal.NewFromString(v); err == nil {
				p.PerImage = d
			}
		}
	}
	return p
}
