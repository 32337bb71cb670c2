package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// ScopeDiagnostics is required to read individual platform variables
const ScopeDiagnostics = "diagnostics"

// ErrNoSubject is returned when the request carries no authenticated subject
var ErrNoSubject = errors.New("subject not found in context")

// DiagnosticsAuth validates an HMAC-signed bearer token. When scope is not
// empty the token's "scope" claim must list it (space separated, as in OAuth).
// The "sub" claim is stored in the "subject" local.
func DiagnosticsAuth(secret []byte, scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get(fiber.HeaderAuthorization)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing authorization"})
		}
		token = strings.TrimPrefix(token, "Bearer ")

		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}))
		if err != nil || !parsed.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token claims"})
		}

		subject, err := claims.GetSubject()
		if err != nil || subject == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing sub claim"})
		}

		if scope != "" && !hasScope(claims, scope) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Insufficient scope"})
		}

		c.Locals("subject", subject)
		return c.Next()
	}
}

func hasScope(claims jwt.MapClaims, want string) bool {
	raw, ok := claims["scope"].(string)
	if !ok {
		return false
	}
	for _, s := range strings.Fields(raw) {
		if s == want {
			return true
		}
	}
	return false
}

// SubjectFromContext returns the subject set by DiagnosticsAuth
func SubjectFromContext(c *fiber.Ctx) (string, error) {
	subject, ok := c.Locals("subject").(string)
	if !ok || subject == "" {
		return "", ErrNoSubject
	}
	return subject, nil
}
