package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func b64(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(b)
}

func platformEnviron(t *testing.T) []string {
	t.Helper()
	return []string{
		"HOME=/app",
		"PLATFORM_APPLICATION_NAME=app",
		"PLATFORM_ENVIRONMENT=main",
		"PLATFORM_RELATIONSHIPS=" + b64(t, map[string]interface{}{
			"database": []map[string]interface{}{{"host": "db.internal", "port": 5432, "path": "main"}},
		}),
		"PLATFORM_VARIABLES=" + b64(t, map[string]string{
			"SS_BASE_URL": "https://example.org",
			"OTHER":       "x",
		}),
	}
}

func execute(t *testing.T, environ []string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(context.Background(), environ)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProvisionCommandJSON(t *testing.T) {
	out, err := execute(t, platformEnviron(t), "provision", "--allow", "SS_BASE_URL", "-o", "json")
	require.NoError(t, err)

	var result provisionResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "enabled", result.Hosting)
	assert.Equal(t, "runtime", result.Phase)
	assert.Equal(t, "live", result.Tier)
	assert.Equal(t, map[string]string{"SS_BASE_URL": masked}, result.Variables)

	outcomes := map[string]string{}
	for _, s := range result.Steps {
		outcomes[s.Step] = s.Outcome
	}
	assert.Equal(t, "applied", outcomes["database"])
	assert.Equal(t, "applied", outcomes["merge"])
}

func TestProvisionCommandRevealYAML(t *testing.T) {
	out, err := execute(t, platformEnviron(t), "provision", "--allow", "SS_BASE_URL", "--reveal", "-o", "yaml")
	require.NoError(t, err)

	var result provisionResult
	require.NoError(t, yaml.Unmarshal([]byte(out), &result))
	assert.Equal(t, "https://example.org", result.Variables["SS_BASE_URL"])
}

func TestProvisionCommandText(t *testing.T) {
	out, err := execute(t, platformEnviron(t), "provision", "--allow", "SS_BASE_URL")
	require.NoError(t, err)
	assert.Contains(t, out, "hosting: enabled")
	assert.Contains(t, out, "SS_BASE_URL="+masked)
	assert.NotContains(t, out, "OTHER")
}

func TestProvisionCommandOffPlatform(t *testing.T) {
	out, err := execute(t, []string{"HOME=/app"}, "provision")
	require.NoError(t, err)
	assert.Contains(t, out, "hosting: disabled")
	assert.Contains(t, out, "phase:   none")
	assert.NotContains(t, out, "STEP")
}

func TestProvisionCommandEnvironmentConfig(t *testing.T) {
	// the command reads its own environ, not the process environment
	t.Setenv("PLATFORMENV_ALLOWED_VARIABLES", "PROCESS_ONLY")

	environ := append(platformEnviron(t),
		"PLATFORMENV_ALLOWED_VARIABLES=SS_BASE_URL,OTHER",
		"PLATFORMENV_DB_RELATIONSHIP=missing",
	)
	out, err := execute(t, environ, "provision", "-o", "json")
	assert.ErrorContains(t, err, "missing", "the database step reads the configured relationship")

	var result provisionResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, map[string]string{"SS_BASE_URL": masked, "OTHER": masked}, result.Variables)
}

func TestProvisionCommandCacheRelationshipNotBound(t *testing.T) {
	environ := append(platformEnviron(t), "PLATFORMENV_CACHE_RELATIONSHIP=redis")
	out, err := execute(t, environ, "provision", "-o", "json")
	require.NoError(t, err, "an unbound optional cache is skipped, not failed")

	var result provisionResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	for _, s := range result.Steps {
		if s.Step == "cache" {
			assert.Equal(t, "skipped", s.Outcome)
			return
		}
	}
	t.Fatal("cache step missing from the report")
}

func TestProvisionCommandPrefix(t *testing.T) {
	environ := []string{
		"PLATFORMENV_PREFIX=LOCAL_",
		"PLATFORMENV_ALLOWED_VARIABLES=SS_BASE_URL",
		"LOCAL_APPLICATION_NAME=app",
		"LOCAL_VARIABLES=" + b64(t, map[string]string{"SS_BASE_URL": "https://local.test"}),
	}
	out, err := execute(t, environ, "provision", "-o", "json", "--reveal")
	// the build phase has no relationships, so the database step fails
	assert.Error(t, err)

	var result provisionResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "enabled", result.Hosting)
	assert.Equal(t, "build", result.Phase)
	assert.Equal(t, "https://local.test", result.Variables["SS_BASE_URL"])
}

func TestProvisionCommandBadOutput(t *testing.T) {
	_, err := execute(t, platformEnviron(t), "provision", "-o", "xml")
	assert.ErrorContains(t, err, "unknown output format")
}

func TestProvisionCommandConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "platformenv.yaml")
	require.NoError(t, os.WriteFile(path, []byte("allowed_variables:\n  - OTHER\n"), 0o600))

	out, err := execute(t, platformEnviron(t), "provision", "--config", path, "-o", "json")
	require.NoError(t, err)

	var result provisionResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, map[string]string{"OTHER": masked}, result.Variables)
}

func TestCheckCommand(t *testing.T) {
	t.Run("merged variable is equal", func(t *testing.T) {
		out, err := execute(t, platformEnviron(t), "check", "SS_BASE_URL", "--allow", "SS_BASE_URL")
		require.NoError(t, err)
		assert.Equal(t, "SS_BASE_URL: equal\n", out)
	})

	t.Run("filtered variable differs", func(t *testing.T) {
		out, err := execute(t, platformEnviron(t), "check", "OTHER", "--allow", "SS_BASE_URL", "--reveal")
		assert.ErrorIs(t, err, ErrVariableMismatch)
		assert.Contains(t, out, `platform:    "x"`)
		assert.Contains(t, out, "OTHER: differs")
	})

	t.Run("off platform", func(t *testing.T) {
		_, err := execute(t, []string{"HOME=/app"}, "check", "HOME")
		assert.ErrorContains(t, err, "not running on the platform")
	})

	t.Run("requires a name", func(t *testing.T) {
		_, err := execute(t, platformEnviron(t), "check")
		assert.Error(t, err)
	})
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, nil, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "platformenv dev")
}
