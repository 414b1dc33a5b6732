package main

import (
	"context"
	"database/sql"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health"

	accountrepo "github.com/sawyelin/ylstack-auth-sub000/internal/account/repository"
	"github.com/sawyelin/ylstack-auth-sub000/internal/audit"
	auditrepo "github.com/sawyelin/ylstack-auth-sub000/internal/audit/repository"
	"github.com/sawyelin/ylstack-auth-sub000/internal/config"
	"github.com/sawyelin/ylstack-auth-sub000/internal/db"
	healthcheck "github.com/sawyelin/ylstack-auth-sub000/internal/health"
	identityhandler "github.com/sawyelin/ylstack-auth-sub000/internal/identity/handler"
	"github.com/sawyelin/ylstack-auth-sub000/internal/identity/service"
	"github.com/sawyelin/ylstack-auth-sub000/internal/lockout"
	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
	"github.com/sawyelin/ylstack-auth-sub000/internal/mfa"
	mfarepo "github.com/sawyelin/ylstack-auth-sub000/internal/mfa/repository"
	"github.com/sawyelin/ylstack-auth-sub000/internal/notify"
	"github.com/sawyelin/ylstack-auth-sub000/internal/policy/engine"
	"github.com/sawyelin/ylstack-auth-sub000/internal/security"
	"github.com/sawyelin/ylstack-auth-sub000/internal/server"
	"github.com/sawyelin/ylstack-auth-sub000/internal/server/interceptors"
	sessionrepo "github.com/sawyelin/ylstack-auth-sub000/internal/session/repository"
	"github.com/sawyelin/ylstack-auth-sub000/internal/store/memory"
	"github.com/sawyelin/ylstack-auth-sub000/internal/telemetry"
	telemetryotel "github.com/sawyelin/ylstack-auth-sub000/internal/telemetry/otel"
	verificationrepo "github.com/sawyelin/ylstack-auth-sub000/internal/verification/repository"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal(ctx, logging.New(os.Stderr, "info", "text"), "config load failed", "error", err)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat).With("service", cfg.OTELServiceName)

	providers, err := telemetryotel.NewProviders(ctx, telemetryotel.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: cfg.OTELServiceName,
		Insecure:    cfg.OTLPInsecure,
	})
	if err != nil {
		logging.Fatal(ctx, logger, "telemetry init failed", "error", err)
	}
	providers.SetGlobal()
	metrics, err := telemetry.NewAuthMetrics(providers.MeterProvider.Meter("ylstack-auth"))
	if err != nil {
		logging.Fatal(ctx, logger, "telemetry metrics init failed", "error", err)
	}

	var (
		conn *sql.DB
		rdb  *redis.Client
	)
	deps := service.Deps{Log: logger, Metrics: metrics, ClientIP: interceptors.ClientIP}
	var auditRepo auditrepo.Repository
	if cfg.DatabaseURL != "" {
		openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, err = db.Open(openCtx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			logging.Fatal(ctx, logger, "db open failed", "error", err)
		}
		defer conn.Close()
		deps.Accounts = accountrepo.NewPostgresRepository(conn)
		deps.Tokens = verificationrepo.NewPostgresRepository(conn)
		deps.Sessions = sessionrepo.NewPostgresRepository(conn)
		deps.Challenges = mfarepo.NewPostgresRepository(conn)
		deps.Attempts = lockout.NewPostgresCounter(conn)
		auditRepo = auditrepo.NewPostgresRepository(conn)
	} else {
		if cfg.Env == "production" {
			logging.Fatal(ctx, logger, "DATABASE_URL is required when APP_ENV=production")
		}
		logger.Warn(ctx, "DATABASE_URL not set; using in-memory store")
		st := memory.New()
		deps.Accounts = st.Accounts
		deps.Tokens = st.Verifications
		deps.Sessions = st.Sessions
		deps.Challenges = st.Challenges
		deps.Attempts = lockout.NewMemoryCounter()
		auditRepo = st.Audit
	}
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		deps.Attempts = lockout.NewRedisCounter(rdb)
	}

	deps.Hasher = security.NewHasher(security.HasherOptions{
		Algorithm:  cfg.PasswordHashAlgorithm,
		BcryptCost: cfg.BcryptCost,
		Argon2: security.Argon2Params{
			MemoryKiB:   uint32(cfg.Argon2MemoryKiB),
			Iterations:  uint32(cfg.Argon2Iterations),
			Parallelism: uint8(cfg.Argon2Parallelism),
		},
	})
	deps.Tickets = security.NewTicketIssuer(cfg.TicketSecret(), cfg.TicketIssuer, nil)
	deps.TOTP = mfa.NewAuthenticator(cfg.TOTPIssuer, nil)

	policy, err := engine.LoadOPAEvaluator(ctx, cfg.LoginPolicyFile, logger)
	if err != nil {
		logging.Fatal(ctx, logger, "policy load failed", "error", err)
	}
	deps.Policy = policy
	deps.Audit = audit.NewLogger(auditRepo, telemetryotel.NewEventEmitter(providers.LoggerProvider), interceptors.ClientIP, logger)

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.SMTPHost != "" {
		templates, err := notify.LoadTemplates(cfg.NotifyTemplatesFile, cfg.AppBaseURL)
		if err != nil {
			logging.Fatal(ctx, logger, "notify templates load failed", "error", err)
		}
		notifier = notify.Multi{notify.NewLogNotifier(logger), notify.NewSMTPNotifier(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		}, templates)}
	}
	dispatcher := notify.NewDispatcher(notifier, cfg.NotifyTimeout(), logger)
	deps.Notifier = dispatcher

	authSvc := service.NewAuthService(deps, service.Options{
		SessionTTL:                cfg.SessionTTL(),
		EmailVerifyTTL:            cfg.EmailVerifyTTL(),
		PasswordResetTTL:          cfg.PasswordResetTTL(),
		MFAChallengeTTL:           cfg.MFAChallengeTTL(),
		MFAMaxAttempts:            cfg.MFAMaxAttempts,
		LockoutThreshold:          cfg.LockoutThreshold,
		MFALockoutThreshold:       cfg.MFALockoutThreshold,
		LockoutWindow:             cfg.LockoutWindow(),
		StoreTimeout:              cfg.StoreTimeout(),
		StoreRetries:              cfg.StoreRetries,
		ForgotPasswordMinDuration: cfg.ForgotPasswordMinDuration(),
	})

	var dbPinger, cachePinger healthcheck.Pinger
	if conn != nil {
		dbPinger = conn
	}
	if rdb != nil {
		cachePinger = healthcheck.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	healthSrv := health.NewServer()
	checker := healthcheck.NewChecker(dbPinger, cachePinger, policy, logger)
	checkCtx, stopChecks := context.WithCancel(ctx)
	go checker.Run(checkCtx, healthSrv, 10*time.Second, identityhandler.ServiceName)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logging.Fatal(ctx, logger, "listen failed", "addr", cfg.GRPCAddr, "error", err)
	}
	defer lis.Close()

	s := server.NewServer(server.Deps{
		Auth:     authSvc,
		Sessions: authSvc,
		Health:   healthSrv,
		Log:      logger,
	})

	go func() {
		logger.Info(ctx, "gRPC server listening", "addr", cfg.GRPCAddr)
		if err := s.Serve(lis); err != nil {
			logging.Fatal(ctx, logger, "gRPC serve failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "shutting down gRPC server")
	stopChecks()
	healthSrv.Shutdown()
	s.GracefulStop()

	drainCtx, cancel := context.WithTimeout(ctx, telemetry.ShutdownDrainDuration)
	defer cancel()
	if err := dispatcher.Close(drainCtx); err != nil {
		logger.Warn(ctx, "notify: undelivered messages at shutdown", "error", err)
	}
	if err := providers.Shutdown(drainCtx); err != nil {
		logger.Warn(ctx, "telemetry shutdown", "error", err)
	}
	logger.Info(ctx, "gRPC server stopped")
}
