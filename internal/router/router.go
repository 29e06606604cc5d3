package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/membria/membria-api/internal/config"
	"github.com/membria/membria-api/internal/handler"
	"github.com/membria/membria-api/internal/middleware"
	"github.com/membria/membria-api/internal/observability"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	ChatHandler      *handler.SessionChatHandler
	AnalyticsHandler *handler.SessionAnalyticsHandler
	JWTMiddleware    fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))

	app.Get("/metrics", observability.MetricsHandler())

	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	// Session chat: the websocket endpoint authenticates via token query
	// param inside the handler, so it stays off the JWT middleware.
	if deps.ChatHandler != nil {
		chatWS := api.Group("/sessions/:id/chat")
		deps.ChatHandler.RegisterWebsocket(chatWS)

		chat := api.Group("/sessions/:id/chat", jwtMiddleware)
		deps.ChatHandler.Register(chat)
	}

	// Analytics endpoints are moderator-only. Report generation walks the
	// full attendance history, so the surface carries its own limiter.
	if deps.AnalyticsHandler != nil {
		moderators := middleware.RequireRole("instructor", "admin")
		analyticsLimiter := middleware.RateLimit("analytics", 30, time.Minute)

		session := api.Group("/sessions/:id", jwtMiddleware, moderators, analyticsLimiter)
		deps.AnalyticsHandler.Register(session)

		compare := api.Group("/sessions", jwtMiddleware, moderators, analyticsLimiter)
		deps.AnalyticsHandler.RegisterCompare(compare)
	}
}
