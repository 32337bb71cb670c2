package database

import (
	"context"
	"errors"
	"fmt"
	"net"
	neturl "net/url"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// DriverPostgres is the only driver type the provisioned record carries
const DriverPostgres = "postgres"

// ErrNotConfigured is returned when no connection parameters were provisioned yet
var ErrNotConfigured = errors.New("database connection parameters not configured")

// Database interface for dependency injection and testing
type Database interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Config is the connection record handed over by the provisioner
type Config struct {
	Server   string
	Port     int
	Username string
	Password string
	Database string
	Type     string
}

// URL renders the record as a postgres connection URL
func (c Config) URL() string {
	host := c.Server
	if c.Port > 0 {
		host = net.JoinHostPort(c.Server, strconv.Itoa(c.Port))
	}
	u := &neturl.URL{
		Scheme: "postgres",
		User:   neturl.UserPassword(c.Username, c.Password),
		Host:   host,
		Path:   "/" + c.Database,
	}
	q := neturl.Values{}
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

// PoolOptions tunes the pool built from a provisioned record
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	ApplicationName string
}

// ConfigStore holds the active connection parameters. Each SetConfig fully
// replaces the previous record.
type ConfigStore struct {
	mu      sync.RWMutex
	opts    PoolOptions
	current *Config
	pool    *pgxpool.Config
}

// NewConfigStore creates an empty store
func NewConfigStore(opts PoolOptions) *ConfigStore {
	if opts.MaxConns <= 0 {
		opts.MaxConns = 10
	}
	if opts.MinConns <= 0 || opts.MinConns > opts.MaxConns {
		opts.MinConns = 1
	}
	if opts.ApplicationName == "" {
		opts.ApplicationName = "platformenv"
	}
	return &ConfigStore{opts: opts}
}

// SetConfig validates cfg and makes it the active record
func (s *ConfigStore) SetConfig(cfg Config) error {
	if cfg.Type != DriverPostgres {
		return fmt.Errorf("unsupported database type %q", cfg.Type)
	}
	if cfg.Server == "" {
		return errors.New("database server is empty")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolCfg.MaxConns = s.opts.MaxConns
	poolCfg.MinConns = s.opts.MinConns
	poolCfg.MaxConnLifetime = 1 * time.Hour
	poolCfg.MaxConnIdleTime = 15 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.ConnConfig.ConnectTimeout = 5 * time.Second
	poolCfg.ConnConfig.RuntimeParams["application_name"] = s.opts.ApplicationName

	s.mu.Lock()
	defer s.mu.Unlock()
	record := cfg
	s.current = &record
	s.pool = poolCfg
	return nil
}

// Config returns the active record
func (s *ConfigStore) Config() (Config, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Config{}, false
	}
	return *s.current, true
}

// PoolConfig returns a copy of the active pool configuration
func (s *ConfigStore) PoolConfig() (*pgxpool.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool.Copy(), nil
}

// Connect opens a pool against the active record and verifies it answers
func (s *ConfigStore) Connect(ctx context.Context) (*pgxpool.Pool, error) {
	poolCfg, err := s.PoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := validateDatabaseConnectivity(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	log.WithField("host", poolCfg.ConnConfig.Host).Info("database connection established")
	return pool, nil
}

// fastHealthCheck performs a lightweight database connectivity check
func fastHealthCheck(ctx context.Context, db Database) error {
	var result int
	if err := db.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

func validateDatabaseConnectivity(ctx context.Context, db Database) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := fastHealthCheck(ctx, db); err != nil {
		return fmt.Errorf("database connectivity check failed: %w", err)
	}
	return nil
}

// Migrate creates the tables platformenv owns, once per schema version
func Migrate(ctx context.Context, db Database) error {
	currentVersion, needsMigration := checkMigrationStatus(ctx, db)
	if !needsMigration {
		log.WithField("version", currentVersion).Debug("database schema is up to date")
		return nil
	}

	log.WithFields(log.Fields{"current": currentVersion, "target": MigrationSchemaVersion}).Info("running database migrations")
	start := time.Now()

	tx, err := db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, DatabaseSchema); err != nil {
		return fmt.Errorf("failed to execute migrations: %w", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO platformenv_migrations (version) VALUES ($1) ON CONFLICT (version) DO NOTHING", MigrationSchemaVersion); err != nil {
		return fmt.Errorf("failed to update migration version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit migration transaction: %w", err)
	}

	log.WithField("elapsed", time.Since(start)).Info("database migrations completed")
	return nil
}

// checkMigrationStatus returns current version and whether migration is needed
func checkMigrationStatus(ctx context.Context, db Database) (string, bool) {
	_, err := db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS platformenv_migrations (
			id SERIAL PRIMARY KEY,
			version TEXT UNIQUE NOT NULL,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)
	`)
	if err != nil {
		log.WithError(err).Warn("could not create migration table, running full migrations")
		return "", true
	}

	var currentVersion string
	err = db.QueryRow(ctx, "SELECT version FROM platformenv_migrations ORDER BY applied_at DESC LIMIT 1").Scan(&currentVersion)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			log.WithError(err).Warn("could not check migration version, running full migrations")
		}
		return "", true
	}

	return currentVersion, currentVersion != MigrationSchemaVersion
}
