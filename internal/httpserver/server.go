// Package httpserver assembles the fiber application: middleware, the three
// API planes, metrics, and health checks.
package httpserver

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/modelrelay/modelrelay/internal/app"
	"github.com/modelrelay/modelrelay/internal/httpserver/admin"
	"github.com/modelrelay/modelrelay/internal/httpserver/public"
	"github.com/modelrelay/modelrelay/internal/httpserver/user"
	"github.com/modelrelay/modelrelay/internal/observability"
)

// Server wraps the fiber app with its container.
type Server struct {
	app       *fiber.App
	container *app.Container
}

// New builds the fiber application and mounts every route.
func New(container *app.Container) *Server {
	cfg := container.Config.Server

	fa := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ServerHeader:          "modelrelay",
		BodyLimit:             cfg.BodyLimitMB * 1024 * 1024,
		ReadTimeout:           cfg.SyncTimeout,
		IdleTimeout:           cfg.StreamMaxDuration,
	})

	fa.Use(requestid.New())
	fa.Use(recover.New())
	fa.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} ${method} ${path} ${latency}\n",
	}))
	fa.Use(metricsMiddleware())
	if tp := container.Observability.TracerProvider(); tp != nil {
		fa.Use(tracingMiddleware(tp.Tracer("httpserver")))
	}

	fa.Get("/metrics", adaptor.HTTPHandler(container.Observability.PrometheusHandler()))
	registerHealthRoutes(fa, container)

	public.Register(fa, container)
	user.Register(fa, container)
	admin.Register(fa, container)

	return &Server{app: fa, container: container}
}

// Listen serves until the listener fails or Shutdown is called.
func (s *Server) Listen() error {
	return s.app.Listen(s.container.Config.Server.ListenAddr)
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		route := c.Route().Path
		if route == "" {
			route = c.Path()
		}
		observability.ObserveHTTPRequest(c.Method(), route, strconv.Itoa(status), time.Since(start))
		return err
	}
}

func tracingMiddleware(tracer trace.Tracer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, span := tracer.Start(c.UserContext(), c.Method()+" "+c.Path())
		defer span.End()
		c.SetUserContext(ctx)

		err := c.Next()

		span.SetAttributes(
			attribute.String("http.method", c.Method()),
			attribute.String("http.route", c.Route().Path),
			attribute.Int("http.status_code", c.Response().StatusCode()),
		)
		return err
	}
}

func registerHealthRoutes(fa *fiber.App, container *app.Container) {
	fa.Get("/healthz", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		type check struct {
			OK        bool    `json:"ok"`
			LatencyMS float64 `json:"latency_ms"`
			Error     string  `json:"error,omitempty"`
		}
		checks := make(map[string]check, 2)
		healthy := true

		start := time.Now()
		if err := container.DBPool.Ping(ctx); err != nil {
			checks["postgres"] = check{OK: false, LatencyMS: msSince(start), Error: err.Error()}
			healthy = false
		} else {
			checks["postgres"] = check{OK: true, LatencyMS: msSince(start)}
		}

		start = time.Now()
		if err := container.Redis.Ping(ctx).Err(); err != nil {
			checks["redis"] = check{OK: false, LatencyMS: msSince(start), Error: err.Error()}
			healthy = false
		} else {
			checks["redis"] = check{OK: true, LatencyMS: msSince(start)}
		}

		status := "ok"
		code := fiber.StatusOK
		if !healthy {
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{"status": status, "checks": checks})
	})

	fa.Get("/readyz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}
