// Package admin serves the management API: sessions, tenants, users, the
// model catalog, reporting, and runtime settings.
package admin

import (
	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/app"
)

// Register wires up the session endpoints and the authenticated admin API.
func Register(fa *fiber.App, container *app.Container) {
	handler := &adminHandler{container: container}

	authGroup := fa.Group("/auth")
	authGroup.Get("/methods", handler.authMethods)
	authGroup.Post("/login", handler.login)
	authGroup.Post("/refresh", handler.refresh)
	authGroup.Post("/logout", handler.logout)
	authGroup.Get("/oidc/start", handler.oidcStart)
	authGroup.Get("/oidc/callback", handler.oidcCallback)

	group := fa.Group("/admin", sessionAuth(container))

	group.Get("/tenants", handler.listTenants)
	group.Post("/tenants", handler.createTenant)
	group.Get("/tenants/:tenantID", handler.getTenant)
	group.Patch("/tenants/:tenantID", handler.updateTenant)
	group.Delete("/tenants/:tenantID", handler.deleteTenant)

	group.Get("/tenants/:tenantID/members", handler.listMembers)
	group.Put("/tenants/:tenantID/members", handler.upsertMember)
	group.Delete("/tenants/:tenantID/members/:userID", handler.removeMember)

	group.Get("/tenants/:tenantID/models", handler.listTenantModels)
	group.Post("/tenants/:tenantID/models", handler.addTenantModel)
	group.Delete("/tenants/:tenantID/models/:alias", handler.removeTenantModel)

	group.Get("/tenants/:tenantID/budget", handler.getBudget)
	group.Put("/tenants/:tenantID/budget", handler.putBudget)
	group.Delete("/tenants/:tenantID/budget", handler.deleteBudget)
	group.Get("/tenants/:tenantID/budget/alerts", handler.listBudgetAlerts)

	group.Get("/tenants/:tenantID/rate-limits", handler.getTenantRateLimit)
	group.Put("/tenants/:tenantID/rate-limits", handler.putTenantRateLimit)
	group.Delete("/tenants/:tenantID/rate-limits", handler.deleteTenantRateLimit)

	group.Get("/tenants/:tenantID/guardrails", handler.getGuardrailPolicy)
	group.Put("/tenants/:tenantID/guardrails", handler.putGuardrailPolicy)
	group.Delete("/tenants/:tenantID/guardrails", handler.deleteGuardrailPolicy)
	group.Get("/tenants/:tenantID/guardrails/events", handler.listGuardrailEvents)

	group.Get("/tenants/:tenantID/keys", handler.listTenantKeys)
	group.Post("/tenants/:tenantID/keys", handler.createTenantKey)
	group.Delete("/tenants/:tenantID/keys/:keyID", handler.revokeTenantKey)
	group.Put("/tenants/:tenantID/keys/:keyID/rate-limits", handler.putKeyRateLimit)
	group.Delete("/tenants/:tenantID/keys/:keyID/rate-limits", handler.deleteKeyRateLimit)

	group.Get("/tenants/:tenantID/usage/daily", handler.tenantUsageDaily)
	group.Get("/tenants/:tenantID/usage/totals", handler.tenantUsageTotals)
	group.Get("/tenants/:tenantID/usage/events", handler.tenantUsageEvents)

	group.Get("/tenants/:tenantID/files", handler.listTenantFiles)
	group.Delete("/tenants/:tenantID/files/:fileID", handler.deleteTenantFile)
	group.Get("/tenants/:tenantID/batches", handler.listTenantBatches)
	group.Post("/tenants/:tenantID/batches/:batchID/cancel", handler.cancelTenantBatch)

	group.Get("/users", handler.listUsers)
	group.Post("/users", handler.createUser)
	group.Patch("/users/:userID", handler.updateUser)
	group.Post("/users/:userID/password", handler.setUserPassword)
	group.Post("/users/:userID/disable", handler.disableUser)

	group.Get("/catalog", handler.listCatalog)
	group.Put("/catalog", handler.upsertCatalogEntry)
	group.Post("/catalog/:entryID/enabled", handler.setCatalogEnabled)
	group.Delete("/catalog/:entryID", handler.deleteCatalogEntry)
	group.Get("/catalog/default-models", handler.listDefaultModels)
	group.Post("/catalog/default-models", handler.addDefaultModel)
	group.Delete("/catalog/default-models/:alias", handler.removeDefaultModel)
	group.Post("/catalog/reload", handler.reloadRouter)

	group.Get("/usage/daily", handler.usageDaily)
	group.Get("/usage/totals", handler.usageTotals)

	group.Get("/audit", handler.listAudit)

	group.Get("/settings", handler.getSettings)
	group.Put("/settings", handler.updateSettings)
}
