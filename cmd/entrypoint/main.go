package main

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"platformenv/bootstrap"
	"platformenv/config"
	"platformenv/environment"
	"platformenv/provisioner"
	"platformenv/services"
	"platformenv/utils"
)

// A tiny entrypoint that provisions the platform environment into the process
// and then execs the application with it. The application receives the merged
// variables, DATABASE_URL and REDIS_ADDR for the provisioned relationships,
// and the default admin unless it was stored in the database.
func main() {
	cfg := config.Load()
	utils.InitLogging(cfg.Logging.Level, cfg.Logging.Format)

	if os.Getenv("PORT") == "" {
		// Default to 8080 if platform doesn't inject PORT
		_ = os.Setenv("PORT", "8080")
	}

	// Optional startup delay, e.g. while a sidecar service comes up
	if delay := os.Getenv("STARTUP_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil && d > 0 {
			log.WithField("delay", d).Info("applying startup delay")
			time.Sleep(d)
		}
	}

	env := environment.NewProcessStore()
	var opts []bootstrap.Option
	if !cfg.Database.Connect {
		opts = append(opts, bootstrap.WithAdminStore(&environmentAdminStore{env: env}))
	}
	rt := bootstrap.New(cfg, env, opts...)
	report := rt.Provision(context.Background())
	// the child opens its own connections
	rt.Close()

	if err := exportConnections(rt, env); err != nil {
		utils.LogError("failed to export connection settings", err)
	}
	log.WithFields(log.Fields{
		"hosting": report.Hosting.String(),
		"merged":  len(report.Merged),
	}).Info("platform environment provisioned")

	argv := targetCommand(os.Args[1:], os.Getenv("BACKEND_BINARY"))
	path, err := exec.LookPath(argv[0])
	if err != nil {
		log.WithError(err).Fatalf("cannot find %s", argv[0])
	}
	if err := syscall.Exec(path, argv, os.Environ()); err != nil {
		log.WithError(err).Fatalf("failed to exec %s", path)
	}
}

// exportConnections publishes the provisioned connection records as plain
// variables. Values already present in the environment win.
func exportConnections(rt *bootstrap.Runtime, env environmentStore) error {
	snap := env.Variables()
	changed := false

	if dbCfg, ok := rt.Database.Config(); ok {
		if _, set := snap.Env["DATABASE_URL"]; !set {
			snap.Env["DATABASE_URL"] = dbCfg.URL()
			changed = true
		}
	}
	if _, set := snap.Env[tierVariable]; !set {
		snap.Env[tierVariable] = string(rt.Kernel.Tier())
		changed = true
	}
	if cacheCfg, ok := rt.Cache.Config(); ok {
		if _, set := snap.Env["REDIS_ADDR"]; !set {
			snap.Env["REDIS_ADDR"] = cacheCfg.Addr()
			changed = true
		}
		if _, set := snap.Env["REDIS_PASSWORD"]; !set && cacheCfg.Password != "" {
			snap.Env["REDIS_PASSWORD"] = cacheCfg.Password
			changed = true
		}
	}

	if !changed {
		return nil
	}
	return env.SetVariables(snap)
}

type environmentStore interface {
	Variables() environment.Snapshot
	SetVariables(environment.Snapshot) error
}

// tierVariable carries the provisioned deployment tier to the application
const tierVariable = "PLATFORMENV_TIER"

// environmentAdminStore hands the default admin to the exec'd application
// through the admin variables, since nothing in this process outlives exec.
type environmentAdminStore struct {
	env environmentStore
}

func (s *environmentAdminStore) ClearDefaultAdmin(ctx context.Context) error {
	snap := s.env.Variables()
	delete(snap.Env, provisioner.AdminUsernameVariable)
	delete(snap.Env, provisioner.AdminPasswordVariable)
	return s.env.SetVariables(snap)
}

func (s *environmentAdminStore) SetDefaultAdmin(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		return errors.New("admin username and password are required")
	}
	snap := s.env.Variables()
	snap.Env[provisioner.AdminUsernameVariable] = username
	snap.Env[provisioner.AdminPasswordVariable] = password
	return s.env.SetVariables(snap)
}

func (s *environmentAdminStore) DefaultAdmin(ctx context.Context) (services.AdminCredential, error) {
	username := s.env.Variables().Env[provisioner.AdminUsernameVariable]
	if username == "" {
		return services.AdminCredential{}, services.ErrNoDefaultAdmin
	}
	return services.AdminCredential{Username: username}, nil
}

// targetCommand picks the command to exec: explicit arguments first, then
// BACKEND_BINARY, then /app/main.
func targetCommand(args []string, backend string) []string {
	if len(args) > 0 {
		return args
	}
	if backend == "" {
		backend = "/app/main"
	}
	return []string{backend}
}
