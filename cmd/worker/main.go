// Worker purges expired sessions, verification tokens, MFA challenges and old failed-login
// records. Set DATABASE_URL and optionally REAPER_INTERVAL. GRPC_ADDR is required by config
// but unused (e.g. set to :0).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/config"
	"github.com/sawyelin/ylstack-auth-sub000/internal/db"
	"github.com/sawyelin/ylstack-auth-sub000/internal/lockout"
	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
	mfarepo "github.com/sawyelin/ylstack-auth-sub000/internal/mfa/repository"
	"github.com/sawyelin/ylstack-auth-sub000/internal/reaper"
	sessionrepo "github.com/sawyelin/ylstack-auth-sub000/internal/session/repository"
	verificationrepo "github.com/sawyelin/ylstack-auth-sub000/internal/verification/repository"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal(ctx, logging.New(os.Stderr, "info", "text"), "config load failed", "error", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With("service", "ylstack-auth-worker")
	if cfg.DatabaseURL == "" {
		logging.Fatal(ctx, logger, "worker: DATABASE_URL is required")
	}

	openCtx, openCancel := context.WithTimeout(ctx, 10*time.Second)
	conn, err := db.Open(openCtx, cfg.DatabaseURL)
	openCancel()
	if err != nil {
		logging.Fatal(ctx, logger, "worker: db open failed", "error", err)
	}
	defer conn.Close()

	r := reaper.New([]reaper.Target{
		{Name: "sessions", Rows: sessionrepo.NewPostgresRepository(conn)},
		{Name: "verification_tokens", Rows: verificationrepo.NewPostgresRepository(conn)},
		{Name: "mfa_challenges", Rows: mfarepo.NewPostgresRepository(conn)},
	}, lockout.NewPostgresCounter(conn), reaper.Options{
		Interval:      cfg.ReaperInterval(),
		LockoutWindow: cfg.LockoutWindow(),
	}, logger)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		logger.Info(ctx, "worker: shutting down")
		cancel()
	}()

	logger.Info(ctx, "worker: reaping expired rows", "interval", cfg.ReaperInterval().String())
	r.Run(ctx)
	logger.Info(context.Background(), "worker: stopped")
}
