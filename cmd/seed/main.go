// Command seed inserts development accounts in each status for local testing.
// Idempotent: accounts that already exist are skipped.
package main

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/sawyelin/ylstack-auth-sub000/internal/account/domain"
	accountrepo "github.com/sawyelin/ylstack-auth-sub000/internal/account/repository"
	"github.com/sawyelin/ylstack-auth-sub000/internal/config"
	"github.com/sawyelin/ylstack-auth-sub000/internal/db"
	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
	"github.com/sawyelin/ylstack-auth-sub000/internal/security"
)

const devPassword = "Password123!"

var devAccounts = []struct {
	email  string
	name   string
	status domain.Status
	roles  []string
}{
	{"dev@example.com", "Dev User", domain.StatusActive, []string{"user", "admin"}},
	{"member@example.com", "Member User", domain.StatusActive, []string{"user"}},
	{"pending@example.com", "Pending User", domain.StatusPendingVerification, []string{"user"}},
	{"blocked@example.com", "Blocked User", domain.StatusBlocked, []string{"user"}},
}

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal(ctx, logging.New(os.Stderr, "info", "text"), "config load failed", "error", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With("service", "ylstack-auth-seed")
	if cfg.DatabaseURL == "" {
		logging.Fatal(ctx, logger, "DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logging.Fatal(ctx, logger, "db open failed", "error", err)
	}
	defer conn.Close()

	accounts := accountrepo.NewPostgresRepository(conn)
	hasher := security.NewHasher(security.HasherOptions{
		Algorithm:  cfg.PasswordHashAlgorithm,
		BcryptCost: cfg.BcryptCost,
	})

	now := time.Now().UTC()
	for _, a := range devAccounts {
		existing, err := accounts.GetByEmail(ctx, a.email)
		if err != nil {
			logging.Fatal(ctx, logger, "seed check failed", "email", a.email, "error", err)
		}
		if existing != nil {
			logger.Info(ctx, "account exists, skipping", "email", a.email)
			continue
		}
		hash, alg, err := hasher.Hash([]byte(devPassword))
		if err != nil {
			logging.Fatal(ctx, logger, "hash password failed", "error", err)
		}
		if err := accounts.Create(ctx, &domain.Account{
			ID:                uuid.NewString(),
			Email:             a.email,
			DisplayName:       a.name,
			Status:            a.status,
			PasswordHash:      hash,
			HashAlgorithm:     alg,
			CredentialVersion: 1,
			Roles:             a.roles,
			CreatedAt:         now,
			UpdatedAt:         now,
		}); err != nil {
			logging.Fatal(ctx, logger, "create account failed", "email", a.email, "error", err)
		}
		logger.Info(ctx, "account created", "email", a.email, "status", string(a.status))
	}
	logger.Info(ctx, "seed complete", "password", devPassword)
}
