package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	redisstorage "github.com/gofiber/storage/redis/v3"
	"github.com/redis/go-redis/v9"

	"platformenv/utils"
)

// RateLimitConfig holds the limiters used by the diagnostics server
type RateLimitConfig struct {
	// DiagnosticsLimiter guards the authenticated platform endpoints
	DiagnosticsLimiter fiber.Handler
	// LightweightLimiter guards health and metrics
	LightweightLimiter fiber.Handler
}

// NewRateLimitConfig creates the limiters. With a Redis client the counters
// are shared between instances; with nil they are kept in memory.
func NewRateLimitConfig(rdb *redis.Client) *RateLimitConfig {
	var storage fiber.Storage
	if rdb != nil {
		storage = redisstorage.NewFromConnection(rdb)
	}

	return &RateLimitConfig{
		DiagnosticsLimiter: newLimiter(storage, 30, time.Minute, "Too many diagnostics requests. Please try again later."),
		LightweightLimiter: newLimiter(storage, 200, time.Minute, "Too many requests. Please try again later."),
	}
}

func newLimiter(storage fiber.Storage, max int, window time.Duration, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return utils.ClientIP(c)
		},
		Storage: storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": message,
			})
		},
	})
}
