// Package user serves the authenticated self-service portal API.
package user

import (
	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/app"
)

// Register wires up the session-authenticated user endpoints.
func Register(fa *fiber.App, container *app.Container) {
	handler := &userHandler{container: container}

	group := fa.Group("/user", sessionAuth(container))
	group.Get("/profile", handler.profile)
	group.Patch("/profile", handler.updateProfile)
	group.Post("/profile/password", handler.changePassword)
	group.Get("/tenants", handler.tenants)
	group.Get("/models", handler.listModels)

	group.Get("/keys", handler.listKeys)
	group.Post("/keys", handler.createKey)
	group.Delete("/keys/:id", handler.revokeKey)

	group.Get("/tenants/:tenantID/usage/daily", handler.usageDaily)
	group.Get("/tenants/:tenantID/usage/totals", handler.usageTotals)
	group.Get("/tenants/:tenantID/usage/events", handler.usageEvents)
	group.Get("/tenants/:tenantID/files", handler.listFiles)
	group.Get("/tenants/:tenantID/batches", handler.listBatches)
}

type userHandler struct {
	container *app.Container
}
