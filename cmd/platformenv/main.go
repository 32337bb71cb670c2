package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand(ctx, os.Environ()).Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
