// Command seedcatalog mirrors the YAML model catalog into the database so
// the admin API can manage entries that were first declared in config.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"

	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/catalog"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/database"
	"github.com/modelrelay/modelrelay/internal/store"
)

func main() {
	configFile := flag.String("config", "", "path to the gateway config file")
	flag.Parse()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx := context.Background()
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()

	queries := store.New(pool)
	for _, entry := range cfg.ModelCatalog {
		metadata, err := json.Marshal(entry.Metadata)
		if err != nil {
			log.Fatalf("marshal metadata for %s: %v", entry.Alias, err)
		}

		priceInput := decimal.NewFromFloat(entry.PriceInput)
		priceOutput := decimal.NewFromFloat(entry.PriceOutput)
		if priceInput.IsNegative() {
			priceInput = decimal.Zero
		}
		if priceOutput.IsNegative() {
			priceOutput = decimal.Zero
		}

		if _, err := queries.UpsertCatalogEntry(ctx, store.UpsertCatalogEntryParams{
			Alias:           entry.Alias,
			Provider:        catalog.NormalizeProviderSlug(entry.Provider),
			ProviderModel:   entry.ProviderModel,
			Deployment:      entry.Deployment,
			Enabled:         entry.IsEnabled(),
			ContextWindow:   entry.ContextWindow,
			MaxOutputTokens: entry.MaxOutputTokens,
			Modalities:      entry.Modalities,
			SupportsTools:   entry.SupportsTools,
			Endpoint:        entry.Endpoint,
			APIKey:          entry.APIKey,
			APIVersion:      entry.APIVersion,
			Region:          entry.Region,
			Metadata:        metadata,
			PriceInput:      priceInput,
			PriceOutput:     priceOutput,
			Currency:        entry.Currency,
		}); err != nil {
			log.Fatalf("seed catalog entry %s: %v", entry.Alias, err)
		}
		log.Printf("seeded %s (%s/%s)", entry.Alias, entry.Provider, entry.ProviderModel)
	}
}
