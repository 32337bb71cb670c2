// Package bootstrap wires the provisioner to its production collaborators
// from a loaded configuration. The service, the entrypoint and the CLI all
// start from here.
package bootstrap

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"platformenv/cache"
	"platformenv/config"
	"platformenv/database"
	"platformenv/environment"
	"platformenv/metrics"
	"platformenv/platform"
	"platformenv/provisioner"
	"platformenv/server"
	"platformenv/services"
	"platformenv/utils"
)

// Runtime holds the collaborators of one provisioning process
type Runtime struct {
	Config      *config.Config
	Environment provisioner.EnvironmentStore
	Kernel      *environment.Kernel
	Database    *database.ConfigStore
	Cache       *cache.ConfigStore
	Admins      AdminStore
	Allowlist   services.Allowlist
	Provisioner *provisioner.Provisioner
	Ready       *server.ReadyState

	logger *log.Entry
	pool   *pgxpool.Pool
	rdb    *redis.Client
	mu     sync.Mutex
}

// AdminStore is where the default admin lands and can be read back
type AdminStore interface {
	provisioner.AdminStore
	DefaultAdmin(ctx context.Context) (services.AdminCredential, error)
}

// Option adjusts a Runtime before the provisioner is built
type Option func(*Runtime, *provisioner.Options)

// WithProvider replaces the platform reader, mainly for tests
func WithProvider(newProvider func() (provisioner.Provider, error)) Option {
	return func(_ *Runtime, o *provisioner.Options) {
		o.NewProvider = newProvider
	}
}

// WithAdminStore replaces the default admin store
func WithAdminStore(store AdminStore) Option {
	return func(rt *Runtime, o *provisioner.Options) {
		rt.Admins = store
		o.Admin = store
	}
}

// New builds a Runtime writing into env. With database.connect set the
// default admin is stored in Postgres, otherwise in memory.
func New(cfg *config.Config, env provisioner.EnvironmentStore, opts ...Option) *Runtime {
	logger := utils.Logger("bootstrap")

	allowlist, err := services.LoadAllowlist(cfg.AllowedVariables, cfg.AllowedVariablesFile)
	if err != nil {
		logger.WithError(err).Warn("allow-list file unreadable, using configured names only")
	}

	rt := &Runtime{
		Config:      cfg,
		Environment: env,
		Kernel:      environment.NewKernel(environment.DefaultTier),
		Database: database.NewConfigStore(database.PoolOptions{
			MaxConns:        cfg.Database.MaxConns,
			ApplicationName: "platformenv",
		}),
		Cache:     cache.NewConfigStore(),
		Allowlist: allowlist,
		Ready:     server.NewReadyState(cfg),
		logger:    logger,
	}
	if cfg.Database.Connect {
		rt.Admins = &connectingAdminStore{rt: rt}
	} else {
		rt.Admins = services.NewMemoryAdminStore()
	}

	popts := provisioner.Options{
		NewProvider:          newReader(cfg.PlatformPrefix),
		Environment:          env,
		Database:             rt.Database,
		Admin:                rt.Admins,
		Kernel:               rt.Kernel,
		AllowedVariables:     allowlist,
		DatabaseRelationship: cfg.Database.Relationship,
		Logger:               utils.Logger("provisioner"),
	}
	if cfg.Cache.Relationship != "" {
		popts.Cache = rt.Cache
		popts.CacheRelationship = cfg.Cache.Relationship
	}
	for _, opt := range opts {
		opt(rt, &popts)
	}
	rt.Provisioner = provisioner.New(popts)
	return rt
}

func newReader(prefix string) func() (provisioner.Provider, error) {
	return func() (provisioner.Provider, error) {
		if prefix != "" {
			return platform.NewReader(platform.WithPrefix(prefix)), nil
		}
		return platform.NewReader(), nil
	}
}

// Provision runs the provisioner and then opens the connections the
// configuration asks for. Connection failures are logged; they never stop boot.
func (rt *Runtime) Provision(ctx context.Context) *provisioner.Report {
	report := rt.Provisioner.Initialize(ctx)
	if err := report.Err(); err != nil {
		rt.logger.WithError(err).Warn("platform provisioning finished with failures")
	}

	if rt.Config.Database.Connect {
		if _, err := rt.connectDatabase(ctx); err != nil {
			utils.LogError("database connection failed", err, "relationship", rt.Config.Database.Relationship)
			metrics.IncrementError("connect", "database")
		}
	}
	if rt.Config.Cache.Relationship != "" {
		if rdb, err := rt.Cache.Client(); err == nil {
			rt.rdb = rdb
			rt.Ready.SetRedis(rdb)
		} else {
			rt.logger.WithError(err).Warn("cache client unavailable")
		}
	}

	rt.Ready.MarkProvisioned(report)
	return report
}

// Redis returns the cache client opened by Provision, or nil
func (rt *Runtime) Redis() *redis.Client {
	return rt.rdb
}

// Pool returns the database pool opened by Provision, or nil
func (rt *Runtime) Pool() *pgxpool.Pool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.pool
}

// Close releases the connections opened by Provision
func (rt *Runtime) Close() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pool != nil {
		rt.pool.Close()
		rt.pool = nil
	}
	if rt.rdb != nil {
		_ = rt.rdb.Close()
		rt.rdb = nil
	}
}

// connectDatabase opens the pool once and applies the schema
func (rt *Runtime) connectDatabase(ctx context.Context) (*pgxpool.Pool, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.pool != nil {
		return rt.pool, nil
	}

	pool, err := rt.Database.Connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	stat := pool.Stat()
	metrics.UpdateDatabaseMetrics(int(stat.AcquiredConns()), int(stat.IdleConns()))

	rt.pool = pool
	rt.Ready.MarkDatabaseReady(pool)
	return pool, nil
}

// connectingAdminStore opens the database on first use. The admin step runs
// after the database step inside Initialize, so the credentials are in place.
type connectingAdminStore struct {
	rt *Runtime
}

func (s *connectingAdminStore) store(ctx context.Context) (*services.PostgresAdminStore, error) {
	pool, err := s.rt.connectDatabase(ctx)
	if err != nil {
		return nil, err
	}
	return services.NewPostgresAdminStore(pool), nil
}

func (s *connectingAdminStore) ClearDefaultAdmin(ctx context.Context) error {
	store, err := s.store(ctx)
	if err != nil {
		return err
	}
	return store.ClearDefaultAdmin(ctx)
}

func (s *connectingAdminStore) SetDefaultAdmin(ctx context.Context, username, password string) error {
	store, err := s.store(ctx)
	if err != nil {
		return err
	}
	return store.SetDefaultAdmin(ctx, username, password)
}

func (s *connectingAdminStore) DefaultAdmin(ctx context.Context) (services.AdminCredential, error) {
	store, err := s.store(ctx)
	if err != nil {
		return services.AdminCredential{}, err
	}
	return store.DefaultAdmin(ctx)
}
