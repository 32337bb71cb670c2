package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"platformenv/bootstrap"
	"platformenv/config"
	"platformenv/environment"
	"platformenv/server"
	"platformenv/utils"
)

func main() {
	startTime := time.Now()

	cfg := config.Load()
	utils.InitLogging(cfg.Logging.Level, cfg.Logging.Format)
	utils.TrustProxyHeaders.Store(cfg.Server.TrustProxyHeaders)

	if err := cfg.Validate(); err != nil {
		// diagnostics are optional; a bad secret must not keep the app down
		log.WithError(err).Warn("invalid configuration, diagnostics disabled")
		cfg.Diagnostics.Enabled = false
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt := bootstrap.New(cfg, environment.NewProcessStore())
	defer rt.Close()

	report := rt.Provision(ctx)
	log.WithFields(log.Fields{
		"hosting": report.Hosting.String(),
		"tier":    string(rt.Kernel.Tier()),
		"merged":  len(report.Merged),
	}).Info("platform environment ready")

	if !cfg.Diagnostics.Enabled && !cfg.Metrics.Enabled {
		return
	}

	app := server.CreateFiberApp(startTime, rt.Ready)
	setupRoutes(app, rt)

	go func() {
		<-ctx.Done()
		log.Info("shutting down diagnostics server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			utils.LogError("shutdown failed", err)
		}
	}()

	if err := server.ListenWithIPv6Fallback(app, cfg.Server.Port, startTime); err != nil {
		utils.LogError("diagnostics server stopped", err, "port", cfg.Server.Port)
		os.Exit(1)
	}
}
