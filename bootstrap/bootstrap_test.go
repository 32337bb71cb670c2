package bootstrap

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"platformenv/config"
	"platformenv/environment"
	"platformenv/platform"
	"platformenv/provisioner"
	"platformenv/services"
)

func encode(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(b)
}

func platformEnviron(t *testing.T, vars map[string]interface{}) []string {
	t.Helper()
	rels := map[string]interface{}{
		"database": []map[string]interface{}{{
			"scheme": "pgsql", "host": "database.internal", "port": 5432,
			"username": "main", "password": "s3cret", "path": "main",
		}},
		"redis": []map[string]interface{}{{
			"scheme": "redis", "host": "redis.internal", "port": 6379,
		}},
	}
	return []string{
		"PLATFORM_APPLICATION_NAME=app",
		"PLATFORM_ENVIRONMENT=main-abc",
		"PLATFORM_RELATIONSHIPS=" + encode(t, rels),
		"PLATFORM_VARIABLES=" + encode(t, vars),
	}
}

func readerFor(environ []string) Option {
	return WithProvider(func() (provisioner.Provider, error) {
		return platform.NewReader(platform.WithEnviron(environ)), nil
	})
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.AllowedVariables = []string{"SS_BASE_URL"}
	return cfg
}

func TestProvisionOnPlatform(t *testing.T) {
	ctx := context.Background()
	environ := platformEnviron(t, map[string]interface{}{
		"SS_BASE_URL":               "https://example.org",
		"SS_ENVIRONMENT_TYPE":       "dev",
		"SS_DEFAULT_ADMIN_USERNAME": "admin",
		"SS_DEFAULT_ADMIN_PASSWORD": "correct horse",
		"PRIVATE_TOKEN":             "do-not-leak",
	})
	env := environment.NewMemoryStore(map[string]string{"HOME": "/app"})

	rt := New(testConfig(), env, readerFor(environ))
	defer rt.Close()
	report := rt.Provision(ctx)

	require.True(t, report.Enabled)
	assert.NoError(t, report.Err())

	assert.Equal(t, "https://example.org", env.Getenv("SS_BASE_URL"))
	assert.Equal(t, "/app", env.Getenv("HOME"))
	assert.Empty(t, env.Getenv("PRIVATE_TOKEN"))

	dbCfg, ok := rt.Database.Config()
	require.True(t, ok)
	assert.Equal(t, "database.internal", dbCfg.Server)
	assert.Equal(t, "main", dbCfg.Database)

	assert.Equal(t, environment.TierDev, rt.Kernel.Tier())

	admins, ok := rt.Admins.(*services.MemoryAdminStore)
	require.True(t, ok)
	assert.True(t, admins.Verify(ctx, "admin", "correct horse"))

	assert.True(t, rt.Ready.IsFullyReady())
	assert.Same(t, report, rt.Ready.Report())
	assert.Nil(t, rt.Redis(), "cache step is off without a relationship")
}

func TestProvisionOffPlatform(t *testing.T) {
	env := environment.NewMemoryStore(map[string]string{"HOME": "/app"})
	before := env.Variables()

	rt := New(testConfig(), env, readerFor([]string{"HOME=/app"}))
	report := rt.Provision(context.Background())

	assert.False(t, report.Enabled)
	assert.Equal(t, before, env.Variables())
	_, ok := rt.Database.Config()
	assert.False(t, ok)
	assert.True(t, rt.Ready.IsFullyReady())
	assert.Equal(t, provisioner.HostingDisabled, rt.Provisioner.Hosting())
}

func TestProvisionWithCacheRelationship(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Relationship = "redis"
	environ := platformEnviron(t, map[string]interface{}{"SS_BASE_URL": "https://example.org"})

	rt := New(cfg, environment.NewMemoryStore(nil), readerFor(environ))
	defer rt.Close()
	report := rt.Provision(context.Background())

	step, ok := report.Step(provisioner.StepCache)
	require.True(t, ok)
	assert.Equal(t, provisioner.OutcomeApplied, step.Outcome)

	require.NotNil(t, rt.Redis())
	assert.Equal(t, "redis.internal:6379", rt.Redis().Options().Addr)
	assert.Same(t, rt.Redis(), rt.Ready.GetRedis())
}

func TestProvisionDatabaseConnectWithoutCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.Database.Connect = true

	rt := New(cfg, environment.NewMemoryStore(nil), WithProvider(func() (provisioner.Provider, error) {
		return nil, errors.New("no platform")
	}))
	rt.Provision(context.Background())

	assert.Nil(t, rt.Pool())
	assert.False(t, rt.Ready.IsFullyReady(), "a requested database that is not up keeps the service unready")
}

func TestWithAdminStore(t *testing.T) {
	admins := services.NewMemoryAdminStore()
	environ := platformEnviron(t, map[string]interface{}{
		"SS_DEFAULT_ADMIN_USERNAME": "root",
		"SS_DEFAULT_ADMIN_PASSWORD": "pw",
	})

	rt := New(testConfig(), environment.NewMemoryStore(nil), readerFor(environ), WithAdminStore(admins))
	rt.Provision(context.Background())

	assert.True(t, admins.Verify(context.Background(), "root", "pw"))
}
