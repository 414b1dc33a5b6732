// Package audit records authentication events for later review.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/sawyelin/ylstack-auth-sub000/internal/audit/domain"
	auditrepo "github.com/sawyelin/ylstack-auth-sub000/internal/audit/repository"
	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
	"github.com/sawyelin/ylstack-auth-sub000/internal/telemetry"
)

// Audit actions.
const (
	ActionSignup                 = "signup"
	ActionVerificationResent     = "verification_resent"
	ActionEmailVerified          = "email_verified"
	ActionLoginSuccess           = "login_success"
	ActionLoginFailure           = "login_failure"
	ActionLoginLocked            = "login_locked"
	ActionLoginDenied            = "login_denied"
	ActionMFAChallengeIssued     = "mfa_challenge_issued"
	ActionMFASuccess             = "mfa_success"
	ActionMFAFailure             = "mfa_failure"
	ActionPasswordResetRequested = "password_reset_requested"
	ActionPasswordReset          = "password_reset"
	ActionLogout                 = "logout"
	ActionMFAEnrolled            = "mfa_enrolled"
	ActionMFADisabled            = "mfa_disabled"
)

// writeTimeout bounds the repository write of one event.
const writeTimeout = 2 * time.Second

// IPExtractor returns the client IP from the request context (e.g. gRPC metadata or peer).
type IPExtractor func(context.Context) string

// AuditLogger writes a single audit event. LogEvent is best-effort: failures are logged and
// do not affect the caller. accountID may be empty (e.g. failed login for an unknown email).
type AuditLogger interface {
	LogEvent(ctx context.Context, accountID, action string, metadata map[string]string)
}

// Logger implements AuditLogger on the audit repository and mirrors every event to an
// EventEmitter (OTel log records).
type Logger struct {
	repo        auditrepo.Repository
	emitter     telemetry.EventEmitter
	ipExtractor IPExtractor
	log         logging.Logger
}

// NewLogger returns an AuditLogger. repo, emitter and ipExtractor may each be nil; without
// an extractor the IP is recorded as "unknown".
func NewLogger(repo auditrepo.Repository, emitter telemetry.EventEmitter, ipExtractor IPExtractor, log logging.Logger) *Logger {
	if log == nil {
		log = logging.Nop()
	}
	return &Logger{repo: repo, emitter: emitter, ipExtractor: ipExtractor, log: log.With("component", "audit")}
}

// LogEvent writes one audit log entry. The write survives cancellation of ctx.
func (l *Logger) LogEvent(ctx context.Context, accountID, action string, metadata map[string]string) {
	ip := "unknown"
	if l.ipExtractor != nil {
		if v := l.ipExtractor(ctx); v != "" {
			ip = v
		}
	}
	var meta []byte
	if len(metadata) > 0 {
		var err error
		if meta, err = json.Marshal(metadata); err != nil {
			l.log.Warn(ctx, "audit metadata not encodable", "action", action, "error", err)
			meta = nil
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		AccountID: accountID,
		Action:    action,
		IP:        ip,
		Metadata:  string(meta),
		CreatedAt: time.Now().UTC(),
	}
	if l.repo != nil {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()
		if err := l.repo.Create(writeCtx, entry); err != nil {
			l.log.Error(ctx, "failed to write audit event", "action", action, "account_id", accountID, "error", err)
		}
	}
	telemetry.EmitAsync(ctx, l.emitter, &telemetry.Event{
		Type:      action,
		AccountID: accountID,
		Source:    "auth",
		IP:        ip,
		Metadata:  meta,
		CreatedAt: entry.CreatedAt,
	}, l.log)
}

// Nop is an AuditLogger that drops everything.
type Nop struct{}

func (Nop) LogEvent(context.Context, string, string, map[string]string) {}
