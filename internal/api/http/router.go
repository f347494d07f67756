package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/lumina-api/internal/api/http/handlers"
	"github.com/spec-kit/lumina-api/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Auth           *handlers.AuthHandler
	WS             *handlers.WSHandler
	AuthMiddleware *auth.Middleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	authGroup := app.Group("/auth")
	authGroup.Post("/register", cfg.Auth.Register)
	authGroup.Post("/login", cfg.Auth.Login)
	authGroup.Post("/refresh", cfg.Auth.Refresh)
	authGroup.Post("/logout", cfg.AuthMiddleware.Handle, cfg.Auth.Logout)
	authGroup.Get("/me", cfg.AuthMiddleware.Handle, auth.RequireScopes("profile:read"), cfg.Auth.Me)

	// The websocket endpoint re-validates the token itself at admission.
	app.Use("/ws", cfg.WS.Upgrade)
	app.Get("/ws", cfg.WS.Handle())
}
