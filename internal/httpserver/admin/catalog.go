package admin

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/modelrelay/modelrelay/internal/catalog"
	"github.com/modelrelay/modelrelay/internal/httpserver/httputil"
	"github.com/modelrelay/modelrelay/internal/store"
)

type catalogEntryResponse struct {
	ID              string   `json:"id"`
	Alias           string   `json:"alias"`
	Provider        string   `json:"provider"`
	ProviderModel   string   `json:"provider_model"`
	Deployment      string   `json:"deployment,omitempty"`
	Enabled         bool     `json:"enabled"`
	Status          string   `json:"status"`
	ContextWindow   int32    `json:"context_window,omitempty"`
	MaxOutputTokens int32    `json:"max_output_tokens,omitempty"`
	Modalities      []string `json:"modalities,omitempty"`
	SupportsTools   bool     `json:"supports_tools"`
	Region          string   `json:"region,omitempty"`
	PriceInput      string   `json:"price_input"`
	PriceOutput     string   `json:"price_output"`
	Currency        string   `json:"currency"`
}

func (h *adminHandler) catalogEntryToResponse(e store.CatalogEntry) catalogEntryResponse {
	return catalogEntryResponse{
		ID:              e.ID.String(),
		Alias:           e.Alias,
		Provider:        e.Provider,
		ProviderModel:   e.ProviderModel,
		Deployment:      e.Deployment,
		Enabled:         e.Enabled,
		Status:          h.container.Engine.StatusLabel(e.Alias, e.Enabled),
		ContextWindow:   e.ContextWindow,
		MaxOutputTokens: e.MaxOutputTokens,
		Modalities:      e.Modalities,
		SupportsTools:   e.SupportsTools,
		Region:          e.Region,
		PriceInput:      e.PriceInput.String(),
		PriceOutput:     e.PriceOutput.String(),
		Currency:        e.Currency,
	}
}

func (h *adminHandler) listCatalog(c *fiber.Ctx) error {
	if _, err := h.superAdmin(c); err != nil {
		return err
	}

	entries, err := h.container.Queries.ListCatalog(userContext(c))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "catalog listing failed")
	}

	resp := make([]catalogEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, h.catalogEntryToResponse(e))
	}
	return c.JSON(fiber.Map{"catalog": resp})
}

func (h *adminHandler) upsertCatalogEntry(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}

	var req struct {
		Alias           string   `json:"alias"`
		Provider        string   `json:"provider"`
		ProviderModel   string   `json:"provider_model"`
		Deployment      string   `json:"deployment"`
		Enabled         *bool    `json:"enabled"`
		ContextWindow   int32    `json:"context_window"`
		MaxOutputTokens int32    `json:"max_output_tokens"`
		Modalities      []string `json:"modalities"`
		SupportsTools   bool     `json:"supports_tools"`
		Endpoint        string   `json:"endpoint"`
		APIKey          string   `json:"api_key"`
		APIVersion      string   `json:"api_version"`
		Region          string   `json:"region"`
		PriceInput      string   `json:"price_input"`
		PriceOutput     string   `json:"price_output"`
		Currency        string   `json:"currency"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Alias) == "" || strings.TrimSpace(req.Provider) == "" || strings.TrimSpace(req.ProviderModel) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "alias, provider, and provider_model are required")
	}

	priceInput, err := parsePrice(req.PriceInput)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid price_input")
	}
	priceOutput, err := parsePrice(req.PriceOutput)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid price_output")
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	entry, err := h.container.Queries.UpsertCatalogEntry(userContext(c), store.UpsertCatalogEntryParams{
		Alias:           strings.ToLower(strings.TrimSpace(req.Alias)),
		Provider:        catalog.NormalizeProviderSlug(req.Provider),
		ProviderModel:   strings.TrimSpace(req.ProviderModel),
		Deployment:      strings.TrimSpace(req.Deployment),
		Enabled:         enabled,
		ContextWindow:   req.ContextWindow,
		MaxOutputTokens: req.MaxOutputTokens,
		Modalities:      req.Modalities,
		SupportsTools:   req.SupportsTools,
		Endpoint:        strings.TrimSpace(req.Endpoint),
		APIKey:          req.APIKey,
		APIVersion:      strings.TrimSpace(req.APIVersion),
		Region:          strings.TrimSpace(req.Region),
		PriceInput:      priceInput,
		PriceOutput:     priceOutput,
		Currency:        strings.ToUpper(strings.TrimSpace(req.Currency)),
	})
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "catalog update failed")
	}

	if err := h.container.ReloadRouter(userContext(c)); err != nil {
		h.container.Logger.Warn("router reload after catalog change failed", "error", err)
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "catalog.upsert", "catalog_entry", entry.ID.String(), fiber.Map{"alias": entry.Alias, "provider": entry.Provider})
	return c.JSON(h.catalogEntryToResponse(entry))
}

func parsePrice(raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	price, err := decimal.NewFromString(raw)
	if err != nil || price.IsNegative() {
		return decimal.Zero, errors.New("invalid price")
	}
	return price, nil
}

func (h *adminHandler) setCatalogEnabled(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}
	entryID, err := uuid.Parse(c.Params("entryID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid entry id")
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if err := h.container.Queries.SetCatalogEntryEnabled(userContext(c), entryID, req.Enabled); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "catalog entry not found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "catalog update failed")
	}
	if err := h.container.ReloadRouter(userContext(c)); err != nil {
		h.container.Logger.Warn("router reload after catalog change failed", "error", err)
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "catalog.set_enabled", "catalog_entry", entryID.String(), req)
	return c.JSON(fiber.Map{"enabled": req.Enabled})
}

func (h *adminHandler) deleteCatalogEntry(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}
	entryID, err := uuid.Parse(c.Params("entryID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid entry id")
	}

	if err := h.container.Queries.DeleteCatalogEntry(userContext(c), entryID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return httputil.WriteError(c, fiber.StatusNotFound, "catalog entry not found")
		}
		return httputil.WriteError(c, fiber.StatusInternalServerError, "catalog delete failed")
	}
	if err := h.container.ReloadRouter(userContext(c)); err != nil {
		h.container.Logger.Warn("router reload after catalog change failed", "error", err)
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "catalog.delete", "catalog_entry", entryID.String(), nil)
	return c.JSON(fiber.Map{"deleted": true})
}

func (h *adminHandler) listDefaultModels(c *fiber.Ctx) error {
	if _, err := h.superAdmin(c); err != nil {
		return err
	}

	aliases, err := h.container.DefaultModels.List(userContext(c))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "default model listing failed")
	}
	return c.JSON(fiber.Map{"models": aliases})
}

func (h *adminHandler) addDefaultModel(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}

	var req struct {
		Alias string `json:"alias"`
	}
	if err := json.Unmarshal(c.Body(), &req); err != nil || strings.TrimSpace(req.Alias) == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "alias is required")
	}
	alias := strings.ToLower(strings.TrimSpace(req.Alias))

	if err := h.container.DefaultModels.Add(userContext(c), alias); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "default model add failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "default_model.add", "catalog", alias, nil)
	return c.JSON(fiber.Map{"alias": alias})
}

func (h *adminHandler) removeDefaultModel(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}
	alias := strings.ToLower(strings.TrimSpace(c.Params("alias")))

	if err := h.container.DefaultModels.Remove(userContext(c), alias); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "default model remove failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "default_model.remove", "catalog", alias, nil)
	return c.JSON(fiber.Map{"removed": true})
}

func (h *adminHandler) reloadRouter(c *fiber.Ctx) error {
	account, err := h.superAdmin(c)
	if err != nil {
		return err
	}

	if err := h.container.ReloadRouter(userContext(c)); err != nil {
		return httputil.WriteError(c, fiber.StatusInternalServerError, "router reload failed")
	}

	h.container.Audit.Record(userContext(c), actorFor(account), "router.reload", "catalog", "", nil)
	return c.JSON(fiber.Map{"reloaded": true})
}
