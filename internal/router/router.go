package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/aifeed/chatdock/internal/config"
	"github.com/aifeed/chatdock/internal/handler"
	"github.com/aifeed/chatdock/internal/middleware"
	"github.com/aifeed/chatdock/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	DockHandler   *handler.DockHandler
	JWTMiddleware fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	// Common v1 group for health & headers
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.DockHandler != nil {
		dockGroup := app.Group("/api/v2/dock", jwtMiddleware, middleware.RateLimit("dock", 60, time.Minute))
		deps.DockHandler.Register(dockGroup)
	}
}
