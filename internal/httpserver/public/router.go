// Package public serves the OpenAI-compatible /v1 data plane.
package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/modelrelay/modelrelay/internal/app"
)

// Register wires up the OpenAI-compatible public API routes.
func Register(fa *fiber.App, container *app.Container) {
	group := fa.Group("/v1", apiKeyAuth(container))

	handler := &openAIHandler{container: container}
	group.Get("/models", handler.listModels)
	group.Post("/chat/completions", handler.chatCompletions)
	group.Post("/embeddings", handler.embeddings)
	group.Post("/images/generations", handler.imageGenerations)
	group.Post("/images/edits", handler.imageEdits)
	group.Post("/images/variations", handler.imageVariations)
	group.Post("/audio/transcriptions", handler.audioTranscriptions)
	group.Post("/audio/translations", handler.audioTranslations)
	group.Post("/audio/speech", handler.audioSpeech)

	fh := &filesHandler{container: container}
	group.Get("/files", fh.list)
	group.Post("/files", fh.upload)
	group.Get("/files/:id", fh.get)
	group.Delete("/files/:id", fh.delete)
	group.Get("/files/:id/content", fh.download)

	bh := &batchesHandler{container: container}
	group.Get("/batches", bh.list)
	group.Post("/batches", bh.create)
	group.Get("/batches/:id", bh.get)
	group.Post("/batches/:id/cancel", bh.cancel)
	group.Get("/batches/:id/output", bh.output)
	group.Get("/batches/:id/errors", bh.errorsFile)
}
