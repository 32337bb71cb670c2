package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"platformenv/utils"
)

// CreateFiberApp creates the diagnostics app with the health endpoints mounted
func CreateFiberApp(startTime time.Time, readyState *ReadyState) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024,
		// the platform router forwards from the private network
		EnableTrustedProxyCheck: utils.TrustProxyHeaders.Load(),
		ProxyHeader:             fiber.HeaderXForwardedFor,
		TrustedProxies: []string{
			"10.0.0.0/8",
			"172.16.0.0/12",
			"192.168.0.0/16",
			"169.254.0.0/16",
			"::1",
			"127.0.0.1",
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			message := "Internal Server Error"

			var fe *fiber.Error
			if errors.As(err, &fe) {
				code = fe.Code
				message = fe.Message
			} else {
				// Log server errors but don't expose details
				utils.LogRequestError(c, "HTTP_ERROR", err)
			}

			return c.Status(code).JSON(fiber.Map{"error": message})
		},
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			utils.LogRequestError(c, "PANIC RECOVERED", fmt.Errorf("%v", e),
				"user_agent", c.Get(fiber.HeaderUserAgent),
			)
		},
	}))

	// Request ID middleware for error correlation
	app.Use(func(c *fiber.Ctx) error {
		requestID := uuid.New().String()
		c.Locals("request_id", requestID)
		c.Set("X-Request-ID", requestID)
		return c.Next()
	})

	app.Use(logger.New(logger.Config{
		Output: log.StandardLogger().WriterLevel(log.InfoLevel),
		Format: "${locals:request_id} ${status} - ${method} ${path} - ${ip} - ${latency}\n",
	}))

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	api := app.Group("/api/v1")

	api.Get("/health/live", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":    "live",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(startTime).String(),
		})
	})

	api.Get("/health/ready", func(c *fiber.Ctx) error {
		health := fiber.Map{
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"uptime":    time.Since(startTime).String(),
		}

		if !readyState.IsFullyReady() {
			health["status"] = "initializing"
			health["provisioned"] = readyState.IsProvisioned()
			health["database_ready"] = readyState.IsDatabaseReady()
			return c.Status(fiber.StatusServiceUnavailable).JSON(health)
		}

		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if backend, err := readyState.Check(ctx); err != nil {
			utils.LogRequestError(c, "readiness check failed", err, "backend", backend)
			health["status"] = "unhealthy"
			health["error"] = backend + " check failed"
			return c.Status(fiber.StatusServiceUnavailable).JSON(health)
		}

		health["status"] = "ready"
		if report := readyState.Report(); report != nil {
			health["hosting"] = report.Hosting.String()
		}
		return c.JSON(health)
	})

	return app
}
