package server

import (
	"context"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"platformenv/config"
	"platformenv/provisioner"
)

// ReadyState tracks boot progress for the health endpoints
type ReadyState struct {
	config        *config.Config
	db            atomic.Pointer[pgxpool.Pool]
	rdb           atomic.Pointer[redis.Client]
	report        atomic.Pointer[provisioner.Report]
	provisioned   atomic.Bool
	databaseReady atomic.Bool
}

// NewReadyState creates a new ReadyState instance
func NewReadyState(cfg *config.Config) *ReadyState {
	if cfg == nil {
		cfg = config.Default()
	}
	return &ReadyState{config: cfg}
}

// MarkProvisioned stores the report of the finished provisioning run
func (r *ReadyState) MarkProvisioned(report *provisioner.Report) {
	r.report.Store(report)
	r.provisioned.Store(true)
}

// MarkDatabaseReady records the connected pool
func (r *ReadyState) MarkDatabaseReady(db *pgxpool.Pool) {
	r.db.Store(db)
	r.databaseReady.Store(true)
}

// SetRedis records the cache client used by the readiness check
func (r *ReadyState) SetRedis(rdb *redis.Client) {
	r.rdb.Store(rdb)
}

// IsFullyReady is true once provisioning ran and, when a database connection
// was requested, the pool is up
func (r *ReadyState) IsFullyReady() bool {
	if !r.provisioned.Load() {
		return false
	}
	if r.config.Database.Connect && !r.databaseReady.Load() {
		return false
	}
	return true
}

// Check pings the connected backends
func (r *ReadyState) Check(ctx context.Context) (string, error) {
	if db := r.db.Load(); db != nil {
		if err := db.Ping(ctx); err != nil {
			return "database", err
		}
	}
	if rdb := r.rdb.Load(); rdb != nil {
		if err := rdb.Ping(ctx).Err(); err != nil {
			return "redis", err
		}
	}
	return "", nil
}

// Report returns the last provisioning report, nil before provisioning finished
func (r *ReadyState) Report() *provisioner.Report {
	return r.report.Load()
}

// GetDB returns the database connection pool
func (r *ReadyState) GetDB() *pgxpool.Pool {
	return r.db.Load()
}

// GetRedis returns the Redis client
func (r *ReadyState) GetRedis() *redis.Client {
	return r.rdb.Load()
}

// GetConfig returns the application configuration
func (r *ReadyState) GetConfig() *config.Config {
	return r.config
}

func (r *ReadyState) IsProvisioned() bool {
	return r.provisioned.Load()
}

func (r *ReadyState) IsDatabaseReady() bool {
	return r.databaseReady.Load()
}
