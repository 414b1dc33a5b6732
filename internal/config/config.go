// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// DatabaseURL is the Postgres DSN. When empty the server runs on the in-memory store.
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// RedisAddr is the host:port of the Redis instance holding login attempt counters.
	// When empty, attempts are counted in process memory.
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`

	// PasswordHashAlgorithm selects the algorithm for new credentials: "bcrypt" or "argon2id".
	// Existing hashes of the other algorithm still verify and are migrated on the next login.
	PasswordHashAlgorithm string `mapstructure:"PASSWORD_HASH_ALGORITHM"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// Argon2MemoryKiB, Argon2Iterations and Argon2Parallelism tune argon2id.
	Argon2MemoryKiB   int `mapstructure:"ARGON2_MEMORY_KIB"`
	Argon2Iterations  int `mapstructure:"ARGON2_ITERATIONS"`
	Argon2Parallelism int `mapstructure:"ARGON2_PARALLELISM"`

	// SessionTTLRaw is the session lifetime (e.g. "24h"). The login policy may shorten it.
	SessionTTLRaw string `mapstructure:"SESSION_TTL"`
	// EmailVerifyTTLRaw is the email verification token lifetime (default 24h).
	EmailVerifyTTLRaw string `mapstructure:"EMAIL_VERIFY_TTL"`
	// PasswordResetTTLRaw is the password reset token lifetime (default 1h).
	PasswordResetTTLRaw string `mapstructure:"PASSWORD_RESET_TTL"`
	// MFAChallengeTTLRaw is the MFA challenge lifetime (default 5m).
	MFAChallengeTTLRaw string `mapstructure:"MFA_CHALLENGE_TTL"`
	// MFAMaxAttempts is the number of codes a single challenge accepts before it is exhausted.
	MFAMaxAttempts int `mapstructure:"MFA_MAX_ATTEMPTS"`

	// LockoutThreshold is the number of failed logins within LockoutWindowRaw that locks an email.
	LockoutThreshold int `mapstructure:"LOCKOUT_THRESHOLD"`
	// MFALockoutThreshold is the number of wrong second-factor codes per account within the
	// lockout window that blocks further challenges.
	MFALockoutThreshold int    `mapstructure:"MFA_LOCKOUT_THRESHOLD"`
	LockoutWindowRaw    string `mapstructure:"LOCKOUT_WINDOW"`

	// StoreTimeoutRaw bounds every single store call; StoreRetries bounds retries of transient failures.
	StoreTimeoutRaw string `mapstructure:"STORE_TIMEOUT"`
	StoreRetries    int    `mapstructure:"STORE_RETRIES"`
	// NotifyTimeoutRaw bounds a single notification delivery.
	NotifyTimeoutRaw string `mapstructure:"NOTIFY_TIMEOUT"`
	// ForgotPasswordMinDurationRaw pads ForgotPassword responses so timing does not reveal account existence.
	ForgotPasswordMinDurationRaw string `mapstructure:"FORGOT_PASSWORD_MIN_DURATION"`

	// MFATicketSecret signs MFA challenge tickets (HS256). Required in production.
	MFATicketSecret string `mapstructure:"MFA_TICKET_SECRET"`
	// TicketIssuer is the iss claim of MFA challenge tickets.
	TicketIssuer string `mapstructure:"TICKET_ISSUER"`
	// TOTPIssuer is the issuer label shown in authenticator apps.
	TOTPIssuer string `mapstructure:"TOTP_ISSUER"`

	// AppBaseURL is used to build verification and reset links in notifications.
	AppBaseURL string `mapstructure:"APP_BASE_URL"`
	// SMTPHost enables SMTP delivery when set; otherwise notifications are only logged.
	SMTPHost     string `mapstructure:"SMTP_HOST"`
	SMTPPort     int    `mapstructure:"SMTP_PORT"`
	SMTPUser     string `mapstructure:"SMTP_USER"`
	SMTPPassword string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom     string `mapstructure:"SMTP_FROM"`
	// NotifyTemplatesFile is an optional YAML file overriding the built-in message templates.
	NotifyTemplatesFile string `mapstructure:"NOTIFY_TEMPLATES_FILE"`

	// LoginPolicyFile is an optional Rego file replacing the built-in login policy.
	LoginPolicyFile string `mapstructure:"LOGIN_POLICY_FILE"`

	// OTel (optional). When OTLPEndpoint is empty, no-op providers are used.
	OTLPEndpoint    string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure    bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
	OTELServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// LogLevel is debug, info, warn or error. LogFormat is text or json.
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Worker-only: how often the reaper purges expired sessions, tokens and challenges.
	ReaperIntervalRaw string `mapstructure:"REAPER_INTERVAL"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("PASSWORD_HASH_ALGORITHM", "bcrypt")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("ARGON2_MEMORY_KIB", 64*1024)
	v.SetDefault("ARGON2_ITERATIONS", 1)
	v.SetDefault("ARGON2_PARALLELISM", 2)
	v.SetDefault("SESSION_TTL", "24h")
	v.SetDefault("EMAIL_VERIFY_TTL", "24h")
	v.SetDefault("PASSWORD_RESET_TTL", "1h")
	v.SetDefault("MFA_CHALLENGE_TTL", "5m")
	v.SetDefault("MFA_MAX_ATTEMPTS", 5)
	v.SetDefault("LOCKOUT_THRESHOLD", 5)
	v.SetDefault("MFA_LOCKOUT_THRESHOLD", 10)
	v.SetDefault("LOCKOUT_WINDOW", "15m")
	v.SetDefault("STORE_TIMEOUT", "3s")
	v.SetDefault("STORE_RETRIES", 3)
	v.SetDefault("NOTIFY_TIMEOUT", "10s")
	v.SetDefault("FORGOT_PASSWORD_MIN_DURATION", "250ms")
	v.SetDefault("MFA_TICKET_SECRET", "")
	v.SetDefault("TICKET_ISSUER", "ylstack-auth")
	v.SetDefault("TOTP_ISSUER", "ylstack")
	v.SetDefault("APP_BASE_URL", "http://localhost:3000")
	v.SetDefault("SMTP_HOST", "")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("SMTP_USER", "")
	v.SetDefault("SMTP_PASSWORD", "")
	v.SetDefault("SMTP_FROM", "no-reply@localhost")
	v.SetDefault("NOTIFY_TEMPLATES_FILE", "")
	v.SetDefault("LOGIN_POLICY_FILE", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("OTEL_SERVICE_NAME", "ylstack-auth")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("REAPER_INTERVAL", "10m")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	cfg.PasswordHashAlgorithm = strings.ToLower(strings.TrimSpace(cfg.PasswordHashAlgorithm))
	if cfg.PasswordHashAlgorithm != "bcrypt" && cfg.PasswordHashAlgorithm != "argon2id" {
		return nil, errors.New("config: PASSWORD_HASH_ALGORITHM must be bcrypt or argon2id")
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.LockoutThreshold <= 0 {
		return nil, errors.New("config: LOCKOUT_THRESHOLD must be positive")
	}
	if cfg.MFALockoutThreshold <= 0 {
		return nil, errors.New("config: MFA_LOCKOUT_THRESHOLD must be positive")
	}
	if cfg.MFAMaxAttempts <= 0 {
		return nil, errors.New("config: MFA_MAX_ATTEMPTS must be positive")
	}
	if cfg.StoreRetries < 0 {
		return nil, errors.New("config: STORE_RETRIES must not be negative")
	}
	if cfg.Env == "production" && len(cfg.MFATicketSecret) < 32 {
		return nil, errors.New("config: MFA_TICKET_SECRET must be at least 32 bytes when APP_ENV=production")
	}

	return &cfg, nil
}

// SessionTTL parses SessionTTLRaw. Returns 24h if unset or invalid.
func (c *Config) SessionTTL() time.Duration {
	return parseTTL(c.SessionTTLRaw, 24*time.Hour)
}

// EmailVerifyTTL parses EmailVerifyTTLRaw. Returns 24h if unset or invalid.
func (c *Config) EmailVerifyTTL() time.Duration {
	return parseTTL(c.EmailVerifyTTLRaw, 24*time.Hour)
}

// PasswordResetTTL parses PasswordResetTTLRaw. Returns 1h if unset or invalid.
func (c *Config) PasswordResetTTL() time.Duration {
	return parseTTL(c.PasswordResetTTLRaw, time.Hour)
}

// MFAChallengeTTL parses MFAChallengeTTLRaw. Returns 5m if unset or invalid.
func (c *Config) MFAChallengeTTL() time.Duration {
	return parseTTL(c.MFAChallengeTTLRaw, 5*time.Minute)
}

// LockoutWindow parses LockoutWindowRaw. Returns 15m if unset or invalid.
func (c *Config) LockoutWindow() time.Duration {
	return parseTTL(c.LockoutWindowRaw, 15*time.Minute)
}

// StoreTimeout parses StoreTimeoutRaw. Returns 3s if unset or invalid.
func (c *Config) StoreTimeout() time.Duration {
	return parseTTL(c.StoreTimeoutRaw, 3*time.Second)
}

// NotifyTimeout parses NotifyTimeoutRaw. Returns 10s if unset or invalid.
func (c *Config) NotifyTimeout() time.Duration {
	return parseTTL(c.NotifyTimeoutRaw, 10*time.Second)
}

// ForgotPasswordMinDuration parses ForgotPasswordMinDurationRaw. Returns 250ms if unset or invalid.
func (c *Config) ForgotPasswordMinDuration() time.Duration {
	return parseTTL(c.ForgotPasswordMinDurationRaw, 250*time.Millisecond)
}

// ReaperInterval parses ReaperIntervalRaw. Returns 10m if unset or invalid.
func (c *Config) ReaperInterval() time.Duration {
	return parseTTL(c.ReaperIntervalRaw, 10*time.Minute)
}

// TicketSecret returns the MFA ticket signing key. Outside production an unset secret
// falls back to a fixed development key so local runs work without setup.
func (c *Config) TicketSecret() []byte {
	if c.MFATicketSecret == "" {
		return []byte("dev-only-mfa-ticket-secret-change-me")
	}
	return []byte(c.MFATicketSecret)
}

func parseTTL(raw string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
