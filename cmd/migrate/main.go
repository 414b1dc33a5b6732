// Command migrate applies the embedded schema to DATABASE_URL.
package main

import (
	"context"
	"errors"
	"flag"
	"os"

	"github.com/sawyelin/ylstack-auth-sub000/internal/config"
	"github.com/sawyelin/ylstack-auth-sub000/internal/db/migrate"
	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
)

func main() {
	direction := flag.String("direction", migrate.DirectionUp, "up, down or version")
	steps := flag.Int("steps", 0, "number of migrations to apply (0 means all)")
	flag.Parse()

	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		logging.New(os.Stderr, "info", "text").Error(ctx, "config load failed", "error", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With("service", "ylstack-auth-migrate")

	res, err := migrate.Run(migrate.Options{DSN: cfg.DatabaseURL, Direction: *direction, Steps: *steps})
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info(ctx, "schema already current", "version", res.Version)
	case err != nil:
		logger.Error(ctx, "migrate failed", "direction", *direction, "error", err)
		os.Exit(1)
	default:
		logger.Info(ctx, "migrate done", "direction", *direction, "version", res.Version, "dirty", res.Dirty)
	}
	if res.Dirty {
		logger.Warn(ctx, "schema is dirty; fix the failed migration and force the version")
	}
}
