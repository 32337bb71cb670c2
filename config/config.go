package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	AppEnv string `yaml:"app_env"`

	// Variable names permitted to cross from PLATFORM_VARIABLES into the process environment
	AllowedVariables     []string `yaml:"allowed_variables"`
	AllowedVariablesFile string   `yaml:"allowed_variables_file"`

	// PlatformPrefix replaces PLATFORM_ when a local emulator exports other names
	PlatformPrefix string `yaml:"platform_prefix"`

	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Cache       CacheConfig       `yaml:"cache"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	// TrustProxyHeaders honours X-Forwarded-For from the platform router
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

type DatabaseConfig struct {
	Relationship string `yaml:"relationship"`
	// Connect opens a pool against the provisioned credentials and stores the default admin there
	Connect  bool  `yaml:"connect"`
	MaxConns int32 `yaml:"max_conns"`
}

type CacheConfig struct {
	// Relationship is empty when no cache service is bound
	Relationship string `yaml:"relationship"`
}

type DiagnosticsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	JWTSecret string `yaml:"jwt_secret"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MinJWTSecretLength is the shortest diagnostics signing secret accepted
const MinJWTSecretLength = 32

// Default returns the configuration used when neither a file nor env overrides are present
func Default() *Config {
	return &Config{
		AppEnv:   "production",
		Server:   ServerConfig{Port: "8080", TrustProxyHeaders: true},
		Database: DatabaseConfig{Relationship: "database", MaxConns: 10},
		Metrics:  MetricsConfig{Enabled: true},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// PLATFORMENV_CONFIG and environment overrides. A broken file is logged and
// ignored so that boot is never blocked by it.
func Load() *Config {
	return LoadFrom(os.Getenv)
}

// Lookup resolves one environment variable, "" when unset
type Lookup func(key string) string

// LoadFrom is Load with the environment read through getenv
func LoadFrom(getenv Lookup) *Config {
	cfg := Default()

	if path := strings.TrimSpace(getenv("PLATFORMENV_CONFIG")); path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			log.WithField("path", path).WithError(err).Warn("ignoring unreadable config file")
		} else {
			cfg = fileCfg
		}
	}

	cfg.ApplyOverridesFrom(getenv)
	cfg.ApplyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file on top of the defaults
func LoadFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyRuntimeOverrides lets environment variables win over file values
func (c *Config) ApplyRuntimeOverrides() {
	c.ApplyOverridesFrom(os.Getenv)
}

// ApplyOverridesFrom applies the environment overrides read through getenv
func (c *Config) ApplyOverridesFrom(getenv Lookup) {
	env := envReader(getenv)
	c.AppEnv = env.stringOr("APP_ENV", c.AppEnv)
	c.Server.Port = env.stringOr("PORT", c.Server.Port)
	c.Server.TrustProxyHeaders = env.boolOr("TRUST_PROXY_HEADERS", c.Server.TrustProxyHeaders)
	c.Logging.Level = env.stringOr("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = env.stringOr("LOG_FORMAT", c.Logging.Format)

	c.PlatformPrefix = env.stringOr("PLATFORMENV_PREFIX", c.PlatformPrefix)
	c.AllowedVariables = env.sliceOr("PLATFORMENV_ALLOWED_VARIABLES", c.AllowedVariables)
	c.AllowedVariablesFile = env.stringOr("PLATFORMENV_ALLOWED_VARIABLES_FILE", c.AllowedVariablesFile)

	c.Database.Relationship = env.stringOr("PLATFORMENV_DB_RELATIONSHIP", c.Database.Relationship)
	c.Database.Connect = env.boolOr("CONNECT_DATABASE", c.Database.Connect)
	c.Database.MaxConns = env.int32Or("DATABASE_MAX_CONNS", c.Database.MaxConns)
	c.Cache.Relationship = env.stringOr("PLATFORMENV_CACHE_RELATIONSHIP", c.Cache.Relationship)

	c.Diagnostics.Enabled = env.boolOr("ENABLE_DIAGNOSTICS", c.Diagnostics.Enabled)
	c.Diagnostics.JWTSecret = env.stringOr("DIAGNOSTICS_JWT_SECRET", c.Diagnostics.JWTSecret)
	c.Metrics.Enabled = env.boolOr("ENABLE_METRICS", c.Metrics.Enabled)
}

func (c *Config) ApplyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Database.Relationship == "" {
		c.Database.Relationship = "database"
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.AppEnv == "" {
		c.AppEnv = "production"
	}
}

// Validate reports settings that cannot be used as given
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("server.port must be numeric, got %q", c.Server.Port)
	}
	if c.Diagnostics.Enabled {
		if c.Diagnostics.JWTSecret == "" {
			return errors.New("diagnostics.jwt_secret is required when diagnostics are enabled")
		}
		if len(c.Diagnostics.JWTSecret) < MinJWTSecretLength {
			return fmt.Errorf("diagnostics.jwt_secret must be at least %d characters long", MinJWTSecretLength)
		}
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

// GetEnvOrDefault returns environment variable value or default
func GetEnvOrDefault(key, defaultValue string) string {
	return envReader(os.Getenv).stringOr(key, defaultValue)
}

// GetEnvAsBool parses environment variable as boolean
func GetEnvAsBool(key string, defaultValue bool) bool {
	return envReader(os.Getenv).boolOr(key, defaultValue)
}

// GetEnvAsStringSlice parses environment variable as comma-separated list
func GetEnvAsStringSlice(key string, defaultValue []string) []string {
	return envReader(os.Getenv).sliceOr(key, defaultValue)
}

// GetEnvAsInt parses environment variable as integer
func GetEnvAsInt(key string, defaultValue int) int {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsInt32 parses environment variable as a 32-bit integer. Values out
// of range are rejected, not truncated.
func GetEnvAsInt32(key string, defaultValue int32) int32 {
	return envReader(os.Getenv).int32Or(key, defaultValue)
}

type envReader Lookup

func (e envReader) stringOr(key, defaultValue string) string {
	if value := e(key); value != "" {
		return value
	}
	return defaultValue
}

func (e envReader) boolOr(key string, defaultValue bool) bool {
	if value := strings.TrimSpace(e(key)); value != "" {
		value = strings.ToLower(value)
		if value == "true" || value == "1" || value == "yes" {
			return true
		}
		if value == "false" || value == "0" || value == "no" {
			return false
		}
	}
	return defaultValue
}

func (e envReader) sliceOr(key string, defaultValue []string) []string {
	if value := strings.TrimSpace(e(key)); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

func (e envReader) int32Or(key string, defaultValue int32) int32 {
	value := strings.TrimSpace(e(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseInt(value, 10, 32)
	if err != nil {
		log.WithField("key", key).WithError(err).Warn("ignoring invalid integer")
		return defaultValue
	}
	return int32(parsed)
}
