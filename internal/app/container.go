// Package app wires the gateway's services together and owns their lifecycle.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/accounts"
	"github.com/modelrelay/modelrelay/internal/alerts"
	"github.com/modelrelay/modelrelay/internal/auth"
	"github.com/modelrelay/modelrelay/internal/batch"
	"github.com/modelrelay/modelrelay/internal/budget"
	"github.com/modelrelay/modelrelay/internal/cache"
	"github.com/modelrelay/modelrelay/internal/catalog"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/executor"
	"github.com/modelrelay/modelrelay/internal/guardrails"
	"github.com/modelrelay/modelrelay/internal/health"
	"github.com/modelrelay/modelrelay/internal/limits"
	"github.com/modelrelay/modelrelay/internal/observability"
	"github.com/modelrelay/modelrelay/internal/providers"
	"github.com/modelrelay/modelrelay/internal/router"
	"github.com/modelrelay/modelrelay/internal/services/audit"
	"github.com/modelrelay/modelrelay/internal/services/files"
	"github.com/modelrelay/modelrelay/internal/services/usage"
	"github.com/modelrelay/modelrelay/internal/storage/blob"
	"github.com/modelrelay/modelrelay/internal/store"
)

const idempotencyTTL = 30 * time.Minute

// Container aggregates runtime dependencies for handlers and background workers.
type Container struct {
	Config   *config.Config
	Settings *config.SnapshotStore
	Logger   *slog.Logger

	DBPool  *pgxpool.Pool
	Redis   *redis.Client
	Queries *store.Store

	Accounts      *accounts.PersonalService
	Sessions      *auth.SessionService
	DefaultModels *catalog.DefaultModelService
	Usage         *usage.Service
	Audit         *audit.Service
	Guardrails    *guardrails.Service
	Budget        *budget.Engine
	Alerts        *alerts.Dispatcher
	Limiter       *limits.RateLimiter
	Idempotency   *cache.IdempotencyCache
	Factory       *providers.Factory
	Engine        *router.Engine
	Executor      *executor.Executor
	Files         *files.Service
	Batches       *batch.Engine
	HealthMon     *health.Monitor
	Observability *observability.Provider

	ReportingLocation *time.Location
}

// NewContainer builds the dependency graph from the provided primitives.
// Background loops are not started here; call Start once the caller is ready
// to serve.
func NewContainer(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if pool == nil {
		return nil, fmt.Errorf("db pool is required")
	}
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	locName := strings.TrimSpace(cfg.Reporting.Timezone)
	if locName == "" {
		locName = "UTC"
	}
	reportingLoc, err := time.LoadLocation(locName)
	if err != nil {
		return nil, fmt.Errorf("load reporting timezone: %w", err)
	}

	queries := store.New(pool)

	c := &Container{
		Config:            cfg,
		Settings:          config.NewSnapshotStore(cfg),
		Logger:            logger,
		DBPool:            pool,
		Redis:             redisClient,
		Queries:           queries,
		ReportingLocation: reportingLoc,
	}

	c.Accounts = accounts.NewPersonalService(pool, queries)
	c.DefaultModels = catalog.NewDefaultModelService(queries)
	c.Usage = usage.NewService(pool, queries, reportingLoc)
	c.Audit = audit.NewService(queries, logger)
	c.Guardrails = guardrails.NewService(queries, logger)
	c.Budget = budget.NewEngine(cfg.Budgets, queries, reportingLoc)
	c.Limiter = limits.NewRateLimiter(redisClient)
	c.Idempotency = cache.NewIdempotencyCache(redisClient, idempotencyTTL)
	c.Alerts = alerts.NewDispatcher(cfg.Budgets.Alert, queries, logger,
		alerts.BuildSinks(cfg.Budgets.Alert, logger)...)

	c.Sessions, err = auth.NewSessionService(ctx, cfg.Admin, queries)
	if err != nil {
		return nil, fmt.Errorf("init session service: %w", err)
	}

	c.Engine = router.NewEngine()
	if err := c.ReloadRouter(ctx); err != nil {
		return nil, fmt.Errorf("init router engine: %w", err)
	}

	c.Observability, err = observability.Setup(ctx, cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("setup observability: %w", err)
	}

	blobStore, err := blob.New(ctx, cfg.Files)
	if err != nil {
		return nil, fmt.Errorf("init blob store: %w", err)
	}
	c.Files = files.NewService(queries, blobStore, c.Settings, logger)

	c.Executor = executor.New(executor.Deps{
		Router:     c.Engine,
		Limiter:    c.Limiter,
		Budget:     c.Budget,
		Guardrails: c.Guardrails,
		Usage:      c.Usage,
		Alerts:     c.Alerts,
		Logger:     logger,
	})

	c.Batches = batch.NewEngine(c.Settings, queries, c.Files, c.Executor, c, logger)
	c.HealthMon = health.NewMonitor(c.Engine, 0, 0)

	if err := ensureBootstrap(ctx, c); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return c, nil
}

// Start launches the background loops. Safe to call once; the loops stop when
// ctx is canceled.
func (c *Container) Start(ctx context.Context) error {
	c.Alerts.Start(ctx)
	c.HealthMon.Start(ctx)
	go c.Files.RunSweeper(ctx, time.Minute)
	if err := c.Batches.Start(ctx); err != nil {
		return fmt.Errorf("start batch engine: %w", err)
	}
	return nil
}

// Shutdown drains background workers and closes shared clients.
func (c *Container) Shutdown(ctx context.Context) error {
	if c.Batches != nil {
		c.Batches.Wait()
	}
	if c.Alerts != nil {
		c.Alerts.Close()
	}
	var err error
	if c.Observability != nil {
		err = c.Observability.Shutdown(ctx)
	}
	if c.Redis != nil {
		if cerr := c.Redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if c.DBPool != nil {
		c.DBPool.Close()
	}
	return err
}

// ReloadRouter merges the boot catalog with the stored one, persists any new
// config-declared entries, and swaps the routing table in place.
func (c *Container) ReloadRouter(ctx context.Context) error {
	dbEntries, err := c.Queries.ListCatalog(ctx)
	if err != nil {
		return fmt.Errorf("load model catalog: %w", err)
	}

	entries, err := catalog.MergeEntries(c.Config.ModelCatalog, dbEntries)
	if err != nil {
		return fmt.Errorf("merge model catalog: %w", err)
	}

	override := *c.Config
	override.ModelCatalog = entries

	factory := providers.NewFactory(&override)
	if err := c.Engine.Reload(ctx, factory); err != nil {
		return err
	}
	c.Factory = factory

	return persistCatalog(ctx, c.Queries, c.Config.ModelCatalog)
}

// persistCatalog mirrors the YAML-declared entries into the store so admin
// tooling sees a single catalog regardless of where an entry originated.
func persistCatalog(ctx context.Context, queries *store.Store, entries []config.ModelCatalogEntry) error {
	for _, entry := range entries {
		metadata, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("catalog entry %q metadata: %w", entry.Alias, err)
		}

		priceInput := decimal.NewFromFloat(entry.PriceInput)
		priceOutput := decimal.NewFromFloat(entry.PriceOutput)
		if priceInput.IsNegative() {
			priceInput = decimal.Zero
		}
		if priceOutput.IsNegative() {
			priceOutput = decimal.Zero
		}

		_, err = queries.UpsertCatalogEntry(ctx, store.UpsertCatalogEntryParams{
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
		})
		if err != nil {
			return fmt.Errorf("persist catalog entry %q: %w", entry.Alias, err)
		}
	}
	return nil
}

// ReportingLoc returns the configured reporting timezone, defaulting to UTC.
func (c *Container) ReportingLoc() *time.Location {
	if c != nil && c.ReportingLocation != nil {
		return c.ReportingLocation
	}
	return time.UTC
}
