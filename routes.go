package main

import (
	"github.com/gofiber/fiber/v2"

	"platformenv/bootstrap"
	"platformenv/handlers"
	"platformenv/metrics"
	"platformenv/middleware"
	"platformenv/server"
)

// setupRoutes mounts metrics and the platform diagnostics on app. Health
// endpoints are already mounted by server.CreateFiberApp.
func setupRoutes(app *fiber.App, rt *bootstrap.Runtime) {
	cfg := rt.Config
	rateLimits := middleware.NewRateLimitConfig(rt.Redis())

	if cfg.Metrics.Enabled {
		app.Use(metrics.PrometheusMiddleware())
		app.Get("/metrics", rateLimits.LightweightLimiter, server.MetricsHandler())
	}

	if !cfg.Diagnostics.Enabled {
		return
	}

	secret := []byte(cfg.Diagnostics.JWTSecret)
	diagnostics := handlers.NewDiagnosticsHandler(rt.Provisioner, rt.Kernel, rt.Ready, rt.Admins)

	platform := app.Group("/api/v1/platform", rateLimits.DiagnosticsLimiter)
	platform.Get("/status", middleware.DiagnosticsAuth(secret, ""), diagnostics.GetStatus)
	platform.Get("/variables/:name", middleware.DiagnosticsAuth(secret, middleware.ScopeDiagnostics), diagnostics.CheckVariable)
}
