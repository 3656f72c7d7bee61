package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type CatalogEntry struct {
	ID              uuid.UUID
	Alias           string
	Provider        string
	ProviderModel   string
	Deployment      string
	Enabled         bool
	ContextWindow   int32
	MaxOutputTokens int32
	Modalities      []string
	SupportsTools   bool
	Endpoint        string
	APIKey          string
	APIVersion      string
	Region          string
	Metadata        []byte
	PriceInput      decimal.Decimal
	PriceOutput     decimal.Decimal
	Currency        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

const catalogColumns = `id, alias, provider, provider_model, deployment, enabled,
	context_window, max_output_tokens, modalities, supports_tools,
	endpoint, api_key, api_version, region, metadata,
	price_input, price_output, currency, created_at, updated_at`

func scanCatalogEntry(row interface{ Scan(...any) error }) (CatalogEntry, error) {
	var e CatalogEntry
	var id pgtype.UUID
	var priceIn, priceOut pgtype.Numeric
	err := row.Scan(&id, &e.Alias, &e.Provider, &e.ProviderModel, &e.Deployment, &e.Enabled,
		&e.ContextWindow, &e.MaxOutputTokens, &e.Modalities, &e.SupportsTools,
		&e.Endpoint, &e.APIKey, &e.APIVersion, &e.Region, &e.Metadata,
		&priceIn, &priceOut, &e.Currency, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return CatalogEntry{}, mapRowErr(err)
	}
	e.ID = fromPgUUID(id)
	e.PriceInput = fromPgNumeric(priceIn)
	e.PriceOutput = fromPgNumeric(priceOut)
	return e, nil
}

type UpsertCatalogEntryParams struct {
	Alias           string
	Provider        string
	ProviderModel   string
	Deployment      string
	Enabled         bool
	ContextWindow   int32
	MaxOutputTokens int32
	Modalities      []string
	SupportsTools   bool
	Endpoint        string
	APIKey          string
	APIVersion      string
	Region          string
	Metadata        []byte
	PriceInput      decimal.Decimal
	PriceOutput     decimal.Decimal
	Currency        string
}

func (s *Store) UpsertCatalogEntry(ctx context.Context, arg UpsertCatalogEntryParams) (CatalogEntry, error) {
	if len(arg.Metadata) == 0 {
		arg.Metadata = []byte(`{}`)
	}
	if arg.Currency == "" {
		arg.Currency = "USD"
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO model_catalog (
			alias, provider, provider_model, deployment, enabled,
			context_window, max_output_tokens, modalities, supports_tools,
			endpoint, api_key, api_version, region, metadata,
			price_input, price_output, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (alias, deployment) DO UPDATE SET
			provider = EXCLUDED.provider,
			provider_model = EXCLUDED.provider_model,
			enabled = EXCLUDED.enabled,
			context_window = EXCLUDED.context_window,
			max_output_tokens = EXCLUDED.max_output_tokens,
			modalities = EXCLUDED.modalities,
			supports_tools = EXCLUDED.supports_tools,
			endpoint = EXCLUDED.endpoint,
			api_key = EXCLUDED.api_key,
			api_version = EXCLUDED.api_version,
			region = EXCLUDED.region,
			metadata = EXCLUDED.metadata,
			price_input = EXCLUDED.price_input,
			price_output = EXCLUDED.price_output,
			currency = EXCLUDED.currency,
			updated_at = now()
		RETURNING `+catalogColumns,
		arg.Alias, arg.Provider, arg.ProviderModel, arg.Deployment, arg.Enabled,
		arg.ContextWindow, arg.MaxOutputTokens, arg.Modalities, arg.SupportsTools,
		arg.Endpoint, arg.APIKey, arg.APIVersion, arg.Region, arg.Metadata,
		pgNumeric(arg.PriceInput), pgNumeric(arg.PriceOutput), arg.Currency)
	return scanCatalogEntry(row)
}

// ListCatalogByAlias returns every deployment backing an alias, enabled or not.
func (s *Store) ListCatalogByAlias(ctx context.Context, alias string) ([]CatalogEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+catalogColumns+` FROM model_catalog WHERE lower(alias) = lower($1) ORDER BY deployment`,
		alias)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCatalogEntries(rows)
}

func (s *Store) ListCatalog(ctx context.Context) ([]CatalogEntry, error) {
	rows, err := s.db.Query(ctx, `SELECT `+catalogColumns+` FROM model_catalog ORDER BY alias, deployment`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCatalogEntries(rows)
}

func collectCatalogEntries(rows pgx.Rows) ([]CatalogEntry, error) {
	var out []CatalogEntry
	for rows.Next() {
		e, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) SetCatalogEntryEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE model_catalog SET enabled = $2, updated_at = now() WHERE id = $1`,
		pgUUID(id), enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteCatalogEntry(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM model_catalog WHERE id = $1`, pgUUID(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) AddDefaultModel(ctx context.Context, alias string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO default_models (alias) VALUES ($1) ON CONFLICT DO NOTHING`, alias)
	return err
}

func (s *Store) RemoveDefaultModel(ctx context.Context, alias string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM default_models WHERE alias = $1`, alias)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListDefaultModels(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT alias FROM default_models ORDER BY alias`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, err
		}
		out = append(out, alias)
	}
	return out, rows.Err()
}

func (s *Store) AddTenantModel(ctx context.Context, tenantID uuid.UUID, alias string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO tenant_models (tenant_id, alias) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		pgUUID(tenantID), alias)
	return err
}

func (s *Store) RemoveTenantModel(ctx context.Context, tenantID uuid.UUID, alias string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM tenant_models WHERE tenant_id = $1 AND alias = $2`,
		pgUUID(tenantID), alias)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListTenantModels(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT alias FROM tenant_models WHERE tenant_id = $1 ORDER BY alias`, pgUUID(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, err
		}
		out = append(out, alias)
	}
	return out, rows.Err()
}

// AliasAllowed reports whether the alias is visible to the tenant: a member
// of the tenant allowlist or of the instance defaults, case-insensitively.
func (s *Store) AliasAllowed(ctx context.Context, tenantID uuid.UUID, alias string) (bool, error) {
	var allowed bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tenant_models WHERE tenant_id = $1 AND lower(alias) = lower($2)
			UNION ALL
			SELECT 1 FROM default_models WHERE lower(alias) = lower($2)
		)`,
		pgUUID(tenantID), alias).Scan(&allowed)
	return allowed, err
}

// ListAllowedAliases returns the union of tenant and default aliases.
func (s *Store) ListAllowedAliases(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT alias FROM tenant_models WHERE tenant_id = $1
		UNION
		SELECT alias FROM default_models
		ORDER BY alias`,
		pgUUID(tenantID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var alias string
		if err := rows.Scan(&alias); err != nil {
			return nil, err
		}
		out = append(out, alias)
	}
	return out, rows.Err()
}
