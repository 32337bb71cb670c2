package server

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platformenv/config"
	"platformenv/metrics"
	"platformenv/provisioner"
)

func TestReadyState(t *testing.T) {
	t.Run("provisioning alone is enough without a database", func(t *testing.T) {
		rs := NewReadyState(config.Default())
		assert.False(t, rs.IsFullyReady())
		assert.Nil(t, rs.Report())

		report := &provisioner.Report{Hosting: provisioner.HostingDisabled}
		rs.MarkProvisioned(report)

		assert.True(t, rs.IsFullyReady())
		assert.Same(t, report, rs.Report())
	})

	t.Run("database connection required", func(t *testing.T) {
		cfg := config.Default()
		cfg.Database.Connect = true
		rs := NewReadyState(cfg)

		rs.MarkProvisioned(&provisioner.Report{})
		assert.False(t, rs.IsFullyReady())

		rs.MarkDatabaseReady(nil)
		assert.True(t, rs.IsFullyReady())
		assert.True(t, rs.IsDatabaseReady())
	})
}

func TestReadyStateCheckRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer func() { _ = rdb.Close() }()

	rs := NewReadyState(nil)
	rs.SetRedis(rdb)
	assert.Same(t, rdb, rs.GetRedis())

	backend, err := rs.Check(t.Context())
	assert.NoError(t, err)
	assert.Empty(t, backend)

	mr.Close()
	backend, err = rs.Check(t.Context())
	assert.Error(t, err)
	assert.Equal(t, "redis", backend)
}

func decodeBody(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&out))
	return out
}

func TestCreateFiberApp(t *testing.T) {
	readyState := NewReadyState(config.Default())
	app := CreateFiberApp(time.Now(), readyState)
	require.NotNil(t, app)

	t.Run("live", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health/live", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
		assert.Equal(t, "live", decodeBody(t, resp.Body)["status"])
	})

	t.Run("ready reports initializing before provisioning", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health/ready", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, 503, resp.StatusCode)
		body := decodeBody(t, resp.Body)
		assert.Equal(t, "initializing", body["status"])
		assert.Equal(t, false, body["provisioned"])
	})

	t.Run("ready after provisioning", func(t *testing.T) {
		readyState.MarkProvisioned(&provisioner.Report{Hosting: provisioner.HostingEnabled, Enabled: true})

		resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health/ready", nil), -1)
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		body := decodeBody(t, resp.Body)
		assert.Equal(t, "ready", body["status"])
		assert.Equal(t, "enabled", body["hosting"])
	})
}

func TestErrorHandlerHidesServerErrors(t *testing.T) {
	app := CreateFiberApp(time.Now(), NewReadyState(nil))
	app.Get("/boom", func(c *fiber.Ctx) error {
		return assert.AnError
	})
	app.Get("/teapot", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusTeapot, "short and stout")
	})
	app.Get("/panic", func(c *fiber.Ctx) error {
		panic("unexpected")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/boom", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
	assert.Equal(t, "Internal Server Error", decodeBody(t, resp.Body)["error"])

	resp, err = app.Test(httptest.NewRequest("GET", "/teapot", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTeapot, resp.StatusCode)
	assert.Equal(t, "short and stout", decodeBody(t, resp.Body)["error"])

	resp, err = app.Test(httptest.NewRequest("GET", "/panic", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)
}

func TestFiberResponseWriter(t *testing.T) {
	app := fiber.New()

	app.Get("/status", func(c *fiber.Ctx) error {
		writer := NewFiberResponseWriter(c)
		writer.WriteHeader(201)
		_, err := writer.Write([]byte("created"))
		return err
	})
	app.Get("/headers", func(c *fiber.Ctx) error {
		writer := NewFiberResponseWriter(c)
		writer.Header().Set("X-Custom-Header", "test-value")
		_, err := writer.Write([]byte("ok"))
		return err
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/status", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 201, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/headers", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, "test-value", resp.Header.Get("X-Custom-Header"))
}

func TestMetricsHandler(t *testing.T) {
	metrics.RecordProvisionStep(provisioner.StepMerge, provisioner.OutcomeApplied.String())

	app := fiber.New()
	app.Get("/metrics", MetricsHandler())

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `platformenv_provision_steps_total{outcome="applied",step="merge"}`)
}
