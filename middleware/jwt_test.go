package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-key-that-is-32-bytes-long!!")

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(scope string) jwt.MapClaims {
	claims := jwt.MapClaims{
		"sub": "ops@example.com",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	if scope != "" {
		claims["scope"] = scope
	}
	return claims
}

func newAuthApp(scope string) *fiber.App {
	app := fiber.New()
	app.Get("/protected", DiagnosticsAuth(testSecret, scope), func(c *fiber.Ctx) error {
		subject, err := SubjectFromContext(c)
		if err != nil {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(subject)
	})
	return app
}

func TestDiagnosticsAuth(t *testing.T) {
	tests := []struct {
		name   string
		scope  string
		header func(t *testing.T) string
		status int
	}{
		{
			name:   "valid token without scope requirement",
			header: func(t *testing.T) string { return "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, validClaims("")) },
			status: fiber.StatusOK,
		},
		{
			name:   "valid token with required scope",
			scope:  ScopeDiagnostics,
			header: func(t *testing.T) string { return "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, validClaims("read diagnostics")) },
			status: fiber.StatusOK,
		},
		{
			name:   "missing scope",
			scope:  ScopeDiagnostics,
			header: func(t *testing.T) string { return "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, validClaims("read")) },
			status: fiber.StatusForbidden,
		},
		{
			name:   "missing header",
			header: func(t *testing.T) string { return "" },
			status: fiber.StatusUnauthorized,
		},
		{
			name:   "wrong secret",
			header: func(t *testing.T) string { return "Bearer " + signToken(t, jwt.SigningMethodHS256, []byte("another-secret"), validClaims("")) },
			status: fiber.StatusUnauthorized,
		},
		{
			name: "expired",
			header: func(t *testing.T) string {
				claims := validClaims("")
				claims["exp"] = time.Now().Add(-time.Minute).Unix()
				return "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, claims)
			},
			status: fiber.StatusUnauthorized,
		},
		{
			name: "no subject",
			header: func(t *testing.T) string {
				claims := validClaims("")
				delete(claims, "sub")
				return "Bearer " + signToken(t, jwt.SigningMethodHS256, testSecret, claims)
			},
			status: fiber.StatusUnauthorized,
		},
		{
			name: "unsigned token",
			header: func(t *testing.T) string {
				return "Bearer " + signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims(""))
			},
			status: fiber.StatusUnauthorized,
		},
		{
			name:   "garbage",
			header: func(t *testing.T) string { return "Bearer not-a-token" },
			status: fiber.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newAuthApp(tt.scope)
			req := httptest.NewRequest("GET", "/protected", nil)
			if h := tt.header(t); h != "" {
				req.Header.Set("Authorization", h)
			}
			resp, err := app.Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestSubjectFromContextMissing(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		_, err := SubjectFromContext(c)
		assert.ErrorIs(t, err, ErrNoSubject)
		return c.SendStatus(fiber.StatusOK)
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
