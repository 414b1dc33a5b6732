package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	accountdomain "github.com/sawyelin/ylstack-auth-sub000/internal/account/domain"
	"github.com/sawyelin/ylstack-auth-sub000/internal/audit"
	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
	"github.com/sawyelin/ylstack-auth-sub000/internal/mfa"
	mfadomain "github.com/sawyelin/ylstack-auth-sub000/internal/mfa/domain"
	"github.com/sawyelin/ylstack-auth-sub000/internal/notify"
	"github.com/sawyelin/ylstack-auth-sub000/internal/policy/engine"
	"github.com/sawyelin/ylstack-auth-sub000/internal/security"
	sessiondomain "github.com/sawyelin/ylstack-auth-sub000/internal/session/domain"
	"github.com/sawyelin/ylstack-auth-sub000/internal/store"
	"github.com/sawyelin/ylstack-auth-sub000/internal/telemetry"
	verificationdomain "github.com/sawyelin/ylstack-auth-sub000/internal/verification/domain"
)

// AccountRepo is the account persistence the auth service needs.
type AccountRepo interface {
	GetByID(ctx context.Context, id string) (*accountdomain.Account, error)
	GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error)
	Create(ctx context.Context, a *accountdomain.Account) error
	RehashCredential(ctx context.Context, id, oldHash, newHash, algorithm string, at time.Time) (bool, error)
	RecordLogin(ctx context.Context, id string, at time.Time) error
	SetMFASecret(ctx context.Context, id, secret string, at time.Time) (bool, error)
	EnableMFA(ctx context.Context, id string, at time.Time) (bool, error)
	ClaimMFAStep(ctx context.Context, id string, step int64) (bool, error)
	DisableMFA(ctx context.Context, id string, at time.Time) error
}

// TokenRepo is the verification token persistence the auth service needs. A redemption
// spends the token and applies its account change atomically; repeating it with the same
// redemption id returns the committed result.
type TokenRepo interface {
	Create(ctx context.Context, t *verificationdomain.Token) error
	RedeemEmailVerification(ctx context.Context, tokenHash, redemptionID string, now time.Time) (*verificationdomain.Redemption, error)
	RedeemPasswordReset(ctx context.Context, tokenHash, redemptionID, hash, algorithm string, now time.Time) (*verificationdomain.Redemption, error)
}

// SessionRepo is the session persistence the auth service needs.
type SessionRepo interface {
	Create(ctx context.Context, s *sessiondomain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*sessiondomain.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByAccount(ctx context.Context, accountID string) (int64, error)
}

// ChallengeRepo is the MFA challenge persistence the auth service needs.
type ChallengeRepo interface {
	Create(ctx context.Context, c *mfadomain.Challenge) error
	GetByID(ctx context.Context, id string) (*mfadomain.Challenge, error)
	DecrementAttempts(ctx context.Context, id string) (*mfadomain.Challenge, error)
	Consume(ctx context.Context, id string, now time.Time) (*mfadomain.Challenge, error)
	Delete(ctx context.Context, id string) error
}

// AttemptCounter counts failed logins per key over a sliding window.
type AttemptCounter interface {
	RecordFailure(ctx context.Context, key string, at time.Time, window time.Duration) (int, error)
	Failures(ctx context.Context, key string, at time.Time, window time.Duration) (int, error)
	Reset(ctx context.Context, key string) error
}

// Notifier queues a message for out-of-band delivery without waiting for it.
type Notifier interface {
	Dispatch(ctx context.Context, msg notify.Message)
}

// Deps are the collaborators of AuthService. Accounts, Tokens, Sessions, Challenges,
// Attempts, Notifier, Hasher, Tickets and TOTP are required; the rest default to no-ops.
type Deps struct {
	Accounts   AccountRepo
	Tokens     TokenRepo
	Sessions   SessionRepo
	Challenges ChallengeRepo
	Attempts   AttemptCounter
	Notifier   Notifier

	Hasher  *security.Hasher
	Tickets *security.TicketIssuer
	TOTP    *mfa.Authenticator

	Policy   engine.Evaluator
	Audit    audit.AuditLogger
	Metrics  *telemetry.AuthMetrics
	Log      logging.Logger
	ClientIP audit.IPExtractor
}

// Options tune lifetimes, thresholds and store behaviour.
type Options struct {
	SessionTTL       time.Duration
	EmailVerifyTTL   time.Duration
	PasswordResetTTL time.Duration
	MFAChallengeTTL  time.Duration
	MFAMaxAttempts   int

	LockoutThreshold int
	LockoutWindow    time.Duration
	// MFALockoutThreshold caps wrong second-factor codes per account over LockoutWindow,
	// across all challenges.
	MFALockoutThreshold int

	StoreTimeout   time.Duration
	StoreRetries   int
	RetryBaseDelay time.Duration

	// ForgotPasswordMinDuration pads ForgotPassword so that known and unknown emails take
	// the same time. Zero disables padding.
	ForgotPasswordMinDuration time.Duration

	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		SessionTTL:                24 * time.Hour,
		EmailVerifyTTL:            24 * time.Hour,
		PasswordResetTTL:          time.Hour,
		MFAChallengeTTL:           5 * time.Minute,
		MFAMaxAttempts:            5,
		LockoutThreshold:          5,
		LockoutWindow:             15 * time.Minute,
		MFALockoutThreshold:       10,
		StoreTimeout:              3 * time.Second,
		StoreRetries:              3,
		RetryBaseDelay:            50 * time.Millisecond,
		ForgotPasswordMinDuration: 250 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SessionTTL <= 0 {
		o.SessionTTL = d.SessionTTL
	}
	if o.EmailVerifyTTL <= 0 {
		o.EmailVerifyTTL = d.EmailVerifyTTL
	}
	if o.PasswordResetTTL <= 0 {
		o.PasswordResetTTL = d.PasswordResetTTL
	}
	if o.MFAChallengeTTL <= 0 {
		o.MFAChallengeTTL = d.MFAChallengeTTL
	}
	if o.MFAMaxAttempts <= 0 {
		o.MFAMaxAttempts = d.MFAMaxAttempts
	}
	if o.LockoutThreshold <= 0 {
		o.LockoutThreshold = d.LockoutThreshold
	}
	if o.LockoutWindow <= 0 {
		o.LockoutWindow = d.LockoutWindow
	}
	if o.MFALockoutThreshold <= 0 {
		o.MFALockoutThreshold = d.MFALockoutThreshold
	}
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = d.StoreTimeout
	}
	if o.StoreRetries < 0 {
		o.StoreRetries = 0
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = d.RetryBaseDelay
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

var tracer = otel.Tracer("github.com/sawyelin/ylstack-auth-sub000/internal/identity/service")

// AuthService implements the authentication state machine: signup, email verification,
// password login with lockout, TOTP second factor, password recovery, logout and session
// validation. It holds no per-account state in memory; every guard is an atomic
// conditional operation on the store, so any number of instances may serve the same accounts.
type AuthService struct {
	accounts   AccountRepo
	tokens     TokenRepo
	sessions   SessionRepo
	challenges ChallengeRepo
	attempts   AttemptCounter
	notifier   Notifier

	hasher  *security.Hasher
	tickets *security.TicketIssuer
	totp    *mfa.Authenticator

	policy   engine.Evaluator
	audit    audit.AuditLogger
	metrics  *telemetry.AuthMetrics
	log      logging.Logger
	clientIP audit.IPExtractor

	opts Options
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(deps Deps, opts Options) *AuthService {
	s := &AuthService{
		accounts:   deps.Accounts,
		tokens:     deps.Tokens,
		sessions:   deps.Sessions,
		challenges: deps.Challenges,
		attempts:   deps.Attempts,
		notifier:   deps.Notifier,
		hasher:     deps.Hasher,
		tickets:    deps.Tickets,
		totp:       deps.TOTP,
		policy:     deps.Policy,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		log:        deps.Log,
		clientIP:   deps.ClientIP,
		opts:       opts.withDefaults(),
	}
	if s.policy == nil {
		s.policy = engine.AllowAll{}
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.log == nil {
		s.log = logging.Nop()
	}
	s.log = s.log.With("component", "auth")
	return s
}

func (s *AuthService) now() time.Time {
	return s.opts.Now().UTC()
}

func (s *AuthService) ip(ctx context.Context) string {
	if s.clientIP == nil {
		return ""
	}
	return s.clientIP(ctx)
}

// attemptKey is the lockout key for a login email. Unknown emails are keyed the same way,
// so locking does not reveal whether an account exists.
func attemptKey(email string) string {
	return "login:" + email
}

// mfaManageKey is the lockout key for code checks while enrolling or disabling MFA.
func mfaManageKey(accountID string) string {
	return "mfa:" + accountID
}

// secondFactorKey is the lockout key for wrong codes at login. It outlives single challenges,
// so logging in again does not buy fresh guesses.
func secondFactorKey(accountID string) string {
	return "2fa:" + accountID
}

// Signup creates a pending account and sends an email verification token.
func (s *AuthService) Signup(ctx context.Context, email, password, displayName string) (_ *SignupResult, err error) {
	ctx, span := tracer.Start(ctx, "AuthService.Signup")
	defer func() { s.endSpan(span, err) }()

	email = accountdomain.NormalizeEmail(email)
	displayName = strings.TrimSpace(displayName)
	if verr := validate.Struct(signupInput{Email: email, Password: password, DisplayName: displayName}); verr != nil {
		return nil, validationError(verr, password)
	}
	hash, alg, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, s.internalErr(ctx, "hash password", err)
	}
	now := s.now()
	acct := &accountdomain.Account{
		ID:                uuid.New().String(),
		Email:             email,
		DisplayName:       displayName,
		Status:            accountdomain.StatusPendingVerification,
		PasswordHash:      hash,
		HashAlgorithm:     alg,
		CredentialVersion: 1,
		Roles:             []string{accountdomain.DefaultRole},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	err = storeExec(ctx, s, func(ctx context.Context) error { return s.accounts.Create(ctx, acct) })
	if errors.Is(err, store.ErrConflict) {
		// A retried insert may collide with its own first attempt.
		existing, gerr := storeCall(ctx, s, func(ctx context.Context) (*accountdomain.Account, error) {
			return s.accounts.GetByEmail(ctx, email)
		})
		if gerr != nil || existing == nil || existing.ID != acct.ID {
			return nil, ErrEmailTaken
		}
		err = nil
	}
	if err != nil {
		return nil, s.storeErr(ctx, "create account", err)
	}
	span.SetAttributes(attribute.String("account.id", acct.ID))

	// The account exists from here on. A token that cannot be stored is recovered
	// through ResendVerification, so signup still succeeds.
	if err := s.sendToken(ctx, acct, verificationdomain.PurposeEmailVerify, s.opts.EmailVerifyTTL, notify.KindEmailVerification); err != nil {
		s.log.Error(ctx, "signup: verification token not issued", "account_id", acct.ID, "error", err)
	}
	s.audit.LogEvent(ctx, acct.ID, audit.ActionSignup, nil)
	s.metrics.Signup(ctx)
	return &SignupResult{
		AccountID: acct.ID,
		State:     StateAwaitingEmailVerification,
		Message:   "account created; check your inbox to verify your email",
	}, nil
}

// ResendVerification issues a fresh email verification token when email belongs to an
// account that is still pending. It reports success for every well-formed email.
func (s *AuthService) ResendVerification(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "AuthService.ResendVerification")
	defer func() { s.endSpan(span, err) }()

	email = accountdomain.NormalizeEmail(email)
	if verr := validate.Struct(emailInput{Email: email}); verr != nil {
		return ErrInvalidEmail
	}
	acct, err := storeCall(ctx, s, func(ctx context.Context) (*accountdomain.Account, error) {
		return s.accounts.GetByEmail(ctx, email)
	})
	if err != nil {
		return s.storeErr(ctx, "get account", err)
	}
	if acct == nil || acct.Status != accountdomain.StatusPendingVerification {
		return nil
	}
	if err := s.sendToken(ctx, acct, verificationdomain.PurposeEmailVerify, s.opts.EmailVerifyTTL, notify.KindEmailVerification); err != nil {
		s.log.Error(ctx, "resend: verification token not issued", "account_id", acct.ID, "error", err)
		return nil
	}
	s.audit.LogEvent(ctx, acct.ID, audit.ActionVerificationResent, nil)
	return nil
}

// VerifyEmail consumes an email verification token and activates the account.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) (err error) {
	ctx, span := tracer.Start(ctx, "AuthService.VerifyEmail")
	defer func() { s.endSpan(span, err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidOrExpiredToken
	}
	now := s.now()
	redemptionID := uuid.New().String()
	red, err := storeCall(ctx, s, func(ctx context.Context) (*verificationdomain.Redemption, error) {
		return s.tokens.RedeemEmailVerification(ctx, security.HashToken(token), redemptionID, now)
	})
	if err != nil {
		return s.storeErr(ctx, "redeem verification token", err)
	}
	// Unknown, spent and expired tokens, and tokens of blocked accounts, all look the same.
	if red == nil {
		return ErrInvalidOrExpiredToken
	}
	if red.Activated {
		s.audit.LogEvent(ctx, red.Token.AccountID, audit.ActionEmailVerified, nil)
	}
	return nil
}

// Login verifies email and password. It returns a session when the account has no second
// factor, or an MFA challenge when it does.
func (s *AuthService) Login(ctx context.Context, email, password string) (_ *LoginResult, err error) {
	ctx, span := tracer.Start(ctx, "AuthService.Login")
	defer func() {
		s.metrics.Login(ctx, loginOutcome(err))
		s.endSpan(span, err)
	}()

	email = accountdomain.NormalizeEmail(email)
	if verr := validate.Struct(emailInput{Email: email}); verr != nil {
		return nil, ErrInvalidEmail
	}
	if password == "" {
		return nil, withMessage(ErrInvalidInput, "password is required")
	}
	now := s.now()
	key := attemptKey(email)

	locked, err := s.lockedOut(ctx, key, s.opts.LockoutThreshold, now)
	if err != nil {
		return nil, err
	}
	if locked {
		s.audit.LogEvent(ctx, "", audit.ActionLoginLocked, map[string]string{"email": email})
		return nil, ErrAccountLocked
	}

	acct, err := storeCall(ctx, s, func(ctx context.Context) (*accountdomain.Account, error) {
		return s.accounts.GetByEmail(ctx, email)
	})
	if err != nil {
		return nil, s.storeErr(ctx, "get account", err)
	}
	if acct == nil {
		s.hasher.DummyCompare([]byte(password))
		if err := s.recordFailure(ctx, key, s.opts.LockoutThreshold, now, ""); err != nil {
			return nil, err
		}
		s.audit.LogEvent(ctx, "", audit.ActionLoginFailure, map[string]string{"email": email, "reason": "unknown_email"})
		return nil, ErrInvalidCredentials
	}
	if cerr := s.hasher.Compare(acct.PasswordHash, acct.HashAlgorithm, []byte(password)); cerr != nil {
		if !errors.Is(cerr, security.ErrPasswordMismatch) {
			return nil, s.internalErr(ctx, "compare password", cerr)
		}
		if err := s.recordFailure(ctx, key, s.opts.LockoutThreshold, now, acct.ID); err != nil {
			return nil, err
		}
		s.audit.LogEvent(ctx, acct.ID, audit.ActionLoginFailure, map[string]string{"reason": "bad_password"})
		return nil, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.String("account.id", acct.ID))

	switch acct.Status {
	case accountdomain.StatusActive:
	case accountdomain.StatusPendingVerification:
		return nil, ErrAccountPendingVerification
	case accountdomain.StatusBlocked:
		s.audit.LogEvent(ctx, acct.ID, audit.ActionLoginDenied, map[string]string{"reason": "blocked"})
		return nil, ErrAccountBlocked
	default:
		return nil, s.internalErr(ctx, "login", errors.New("unknown account status "+string(acct.Status)))
	}

	decision, err := s.evaluatePolicy(ctx, acct, now)
	if err != nil {
		return nil, err
	}
	if !decision.Allow {
		s.log.Info(ctx, "login denied by policy", "account_id", acct.ID, "reason", decision.Reason)
		s.audit.LogEvent(ctx, acct.ID, audit.ActionLoginDenied, map[string]string{"reason": decision.Reason})
		return nil, withMessage(ErrAccountBlocked, "login not permitted")
	}

	if err := storeExec(ctx, s, func(ctx context.Context) error { return s.attempts.Reset(ctx, key) }); err != nil {
		s.log.Warn(ctx, "login: attempt counter not reset", "account_id", acct.ID, "error", err)
	}
	s.rehashIfNeeded(ctx, acct, password, now)

	if acct.MFAEnabled() {
		locked, err = s.lockedOut(ctx, secondFactorKey(acct.ID), s.opts.MFALockoutThreshold, now)
		if err != nil {
			return nil, err
		}
		if locked {
			s.audit.LogEvent(ctx, acct.ID, audit.ActionLoginLocked, map[string]string{"reason": "second_factor"})
			return nil, ErrAccountLocked
		}
		ch, err := s.issueChallenge(ctx, acct, now)
		if err != nil {
			return nil, err
		}
		s.audit.LogEvent(ctx, acct.ID, audit.ActionMFAChallengeIssued, nil)
		return &LoginResult{State: StateAwaitingMFA, Challenge: ch}, nil
	}

	grant, err := s.issueSession(ctx, acct, decision.SessionTTL, now)
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, acct.ID, audit.ActionLoginSuccess, nil)
	return &LoginResult{State: StateAuthenticated, Session: grant}, nil
}

// VerifyMFA completes a login that is waiting for a second factor. challengeID is the ticket
// returned by Login.
func (s *AuthService) VerifyMFA(ctx context.Context, challengeID, code string) (_ *LoginResult, err error) {
	ctx, span := tracer.Start(ctx, "AuthService.VerifyMFA")
	defer func() {
		s.metrics.MFA(ctx, loginOutcome(err))
		s.endSpan(span, err)
	}()

	claims, err := s.tickets.Validate(strings.TrimSpace(challengeID))
	if err != nil {
		return nil, ErrChallengeExpired
	}
	now := s.now()
	ch, err := storeCall(ctx, s, func(ctx context.Context) (*mfadomain.Challenge, error) {
		return s.challenges.GetByID(ctx, claims.ID)
	})
	if err != nil {
		return nil, s.storeErr(ctx, "get challenge", err)
	}
	if ch == nil || ch.AccountID != claims.Subject || ch.CredentialVersion != claims.CredentialVersion {
		return nil, ErrChallengeExpired
	}
	if ch.Expired(now) {
		s.dropChallenge(ctx, ch.ID)
		return nil, ErrChallengeExpired
	}
	if ch.Exhausted() {
		return nil, ErrAttemptsExhausted
	}

	acct, err := storeCall(ctx, s, func(ctx context.Context) (*accountdomain.Account, error) {
		return s.accounts.GetByID(ctx, ch.AccountID)
	})
	if err != nil {
		return nil, s.storeErr(ctx, "get account", err)
	}
	if acct == nil || !acct.MFAEnabled() || acct.CredentialVersion != ch.CredentialVersion {
		s.dropChallenge(ctx, ch.ID)
		return nil, ErrChallengeExpired
	}
	if acct.Status != accountdomain.StatusActive {
		s.dropChallenge(ctx, ch.ID)
		return nil, ErrAccountBlocked
	}

	key := secondFactorKey(acct.ID)
	locked, err := s.lockedOut(ctx, key, s.opts.MFALockoutThreshold, now)
	if err != nil {
		return nil, err
	}
	if locked {
		s.dropChallenge(ctx, ch.ID)
		return nil, ErrAccountLocked
	}

	accepted, err := s.acceptCode(ctx, acct, code)
	if err != nil {
		return nil, err
	}
	if !accepted {
		left, err := storeCall(ctx, s, func(ctx context.Context) (*mfadomain.Challenge, error) {
			return s.challenges.DecrementAttempts(ctx, ch.ID)
		})
		if err != nil {
			return nil, s.storeErr(ctx, "decrement challenge attempts", err)
		}
		if err := s.recordFailure(ctx, key, s.opts.MFALockoutThreshold, now, acct.ID); err != nil {
			return nil, err
		}
		s.audit.LogEvent(ctx, acct.ID, audit.ActionMFAFailure, nil)
		// The exhausted challenge stays until expiry so later calls keep reporting exhaustion.
		if left == nil || left.Exhausted() {
			return nil, ErrAttemptsExhausted
		}
		return nil, ErrInvalidCode
	}

	consumed, err := storeCall(ctx, s, func(ctx context.Context) (*mfadomain.Challenge, error) {
		return s.challenges.Consume(ctx, ch.ID, now)
	})
	if err != nil {
		return nil, s.storeErr(ctx, "consume challenge", err)
	}
	if consumed == nil {
		// Lost a race with another VerifyMFA call, an exhausting failure or expiry.
		return nil, ErrChallengeExpired
	}
	if err := storeExec(ctx, s, func(ctx context.Context) error { return s.attempts.Reset(ctx, key) }); err != nil {
		s.log.Warn(ctx, "mfa: attempt counter not reset", "account_id", acct.ID, "error", err)
	}

	decision, err := s.evaluatePolicy(ctx, acct, now)
	if err != nil {
		return nil, err
	}
	if !decision.Allow {
		s.audit.LogEvent(ctx, acct.ID, audit.ActionLoginDenied, map[string]string{"reason": decision.Reason})
		return nil, withMessage(ErrAccountBlocked, "login not permitted")
	}
	grant, err := s.issueSession(ctx, acct, decision.SessionTTL, now)
	if err != nil {
		return nil, err
	}
	s.audit.LogEvent(ctx, acct.ID, audit.ActionMFASuccess, nil)
	return &LoginResult{State: StateAuthenticated, Session: grant}, nil
}

// ForgotPassword sends a password reset token when email belongs to an active account. The
// response is the same whether or not the account exists, and it takes at least
// ForgotPasswordMinDuration.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (err error) {
	ctx, span := tracer.Start(ctx, "AuthService.ForgotPassword")
	defer func() { s.endSpan(span, err) }()

	started := time.Now()
	email = accountdomain.NormalizeEmail(email)
	if verr := validate.Struct(emailInput{Email: email}); verr != nil {
		return ErrInvalidEmail
	}
	acct, err := storeCall(ctx, s, func(ctx context.Context) (*accountdomain.Account, error) {
		return s.accounts.GetByEmail(ctx, email)
	})
	if err != nil {
		return s.storeErr(ctx, "get account", err)
	}
	if acct != nil && acct.Status == accountdomain.StatusActive {
		// Errors past this point would reveal that the account exists; they are only logged.
		if err := s.sendToken(ctx, acct, verificationdomain.PurposePasswordReset, s.opts.PasswordResetTTL, notify.KindPasswordReset); err != nil {
			s.log.Error(ctx, "forgot password: reset token not issued", "account_id", acct.ID, "error", err)
		} else {
			s.audit.LogEvent(ctx, acct.ID, audit.ActionPasswordResetRequested, nil)
		}
	}
	return s.pad(ctx, started, s.opts.ForgotPasswordMinDuration)
}

// ResetPassword consumes a password reset token, replaces the credential and invalidates
// every session of the account.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, span := tracer.Start(ctx, "AuthService.ResetPassword")
	defer func() { s.endSpan(span, err) }()

	token = strings.TrimSpace(token)
	if token == "" {
		return ErrInvalidOrExpiredToken
	}
	if verr := validate.Struct(passwordInput{Password: newPassword}); verr != nil {
		return validationError(verr, newPassword)
	}
	hash, alg, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return s.internalErr(ctx, "hash password", err)
	}
	now := s.now()
	redemptionID := uuid.New().String()
	// The credential version bump in the same redemption is what invalidates existing sessions.
	red, err := storeCall(ctx, s, func(ctx context.Context) (*verificationdomain.Redemption, error) {
		return s.tokens.RedeemPasswordReset(ctx, security.HashToken(token), redemptionID, hash, alg, now)
	})
	if err != nil {
		return s.storeErr(ctx, "redeem reset token", err)
	}
	if red == nil {
		return ErrInvalidOrExpiredToken
	}
	t, version := red.Token, red.CredentialVersion
	if _, err := storeCall(ctx, s, func(ctx context.Context) (int64, error) {
		return s.sessions.DeleteByAccount(ctx, t.AccountID)
	}); err != nil {
		s.log.Warn(ctx, "reset: stale sessions not deleted", "account_id", t.AccountID, "error", err)
	}
	if acct, err := storeCall(ctx, s, func(ctx context.Context) (*accountdomain.Account, error) {
		return s.accounts.GetByID(ctx, t.AccountID)
	}); err == nil && acct != nil {
		if err := storeExec(ctx, s, func(ctx context.Context) error { return s.attempts.Reset(ctx, attemptKey(acct.Email)) }); err != nil {
			s.log.Warn(ctx, "reset: attempt counter not reset", "account_id", t.AccountID, "error", err)
		}
	}
	s.audit.LogEvent(ctx, t.AccountID, audit.ActionPasswordReset, nil)
	s.metrics.PasswordReset(ctx)
	s.log.Info(ctx, "password reset", "account_id", t.AccountID, "credential_version", version)
	return nil
}

// Logout destroys the session. An unknown or already destroyed session is not an error.
func (s *AuthService) Logout(ctx context.Context, sessionToken string) (err error) {
	ctx, span := tracer.Start(ctx, "AuthService.Logout")
	defer func() { s.endSpan(span, err) }()

	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return nil
	}
	sess, err := storeCall(ctx, s, func(ctx context.Context) (*sessiondomain.Session, error) {
		return s.sessions.GetByTokenHash(ctx, security.HashToken(sessionToken))
	})
	if err != nil {
		return s.storeErr(ctx, "get session", err)
	}
	if sess == nil {
		return nil
	}
	if err := storeExec(ctx, s, func(ctx context.Context) error { return s.sessions.Delete(ctx, sess.ID) }); err != nil {
		return s.storeErr(ctx, "delete session", err)
	}
	s.audit.LogEvent(ctx, sess.AccountID, audit.ActionLogout, nil)
	return nil
}

// ValidateSession returns the account behind a live session. Sessions that are expired,
// predate a password reset or belong to an account that is no longer active are rejected;
// dead ones are deleted on the way.
func (s *AuthService) ValidateSession(ctx context.Context, sessionToken string) (_ *SessionInfo, err error) {
	ctx, span := tracer.Start(ctx, "AuthService.ValidateSession")
	defer func() { s.endSpan(span, err) }()

	sessionToken = strings.TrimSpace(sessionToken)
	if sessionToken == "" {
		return nil, ErrSessionExpiredOrInvalid
	}
	sess, err := storeCall(ctx, s, func(ctx context.Context) (*sessiondomain.Session, error) {
		return s.sessions.GetByTokenHash(ctx, security.HashToken(sessionToken))
	})
	if err != nil {
		return nil, s.storeErr(ctx, "get session", err)
	}
	if sess == nil {
		return nil, ErrSessionExpiredOrInvalid
	}
	if sess.Expired(s.now()) {
		s.dropSession(ctx, sess.ID)
		return nil, ErrSessionExpiredOrInvalid
	}
	acct, err := storeCall(ctx, s, func(ctx context.Context) (*accountdomain.Account, error) {
		return s.accounts.GetByID(ctx, sess.AccountID)
	})
	if err != nil {
		return nil, s.storeErr(ctx, "get account", err)
	}
	if acct == nil || acct.CredentialVersion != sess.CredentialVersion {
		s.dropSession(ctx, sess.ID)
		return nil, ErrSessionExpiredOrInvalid
	}
	if acct.Status != accountdomain.StatusActive {
		return nil, ErrSessionExpiredOrInvalid
	}
	return &SessionInfo{
		SessionID: sess.ID,
		AccountID: acct.ID,
		Email:     acct.Email,
		Roles:     append([]string(nil), acct.Roles...),
		ExpiresAt: sess.ExpiresAt,
	}, nil
}

// BeginMFAEnrollment generates a TOTP secret for the session's account. The secret is
// stored but not enforced until ConfirmMFAEnrollment succeeds.
func (s *AuthService) BeginMFAEnrollment(ctx context.Context, sessionToken string) (_ *mfa.Enrollment, err error) {
	ctx, span := tracer.Start(ctx, "AuthService.BeginMFAEnrollment")
	defer func() { s.endSpan(span, err) }()

	acct, err := s.sessionAccount(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	if acct.MFAEnabled() {
		return nil, ErrMFAAlreadyEnabled
	}
	enr, err := s.totp.Generate(acct.Email)
	if err != nil {
		return nil, s.internalErr(ctx, "generate totp secret", err)
	}
	ok, err := storeCall(ctx, s, func(ctx context.Context) (bool, error) {
		return s.accounts.SetMFASecret(ctx, acct.ID, enr.Secret, s.now())
	})
	if err != nil {
		return nil, s.storeErr(ctx, "set mfa secret", err)
	}
	if !ok {
		return nil, ErrMFAAlreadyEnabled
	}
	return enr, nil
}

// ConfirmMFAEnrollment turns on the second factor once code verifies against the pending secret.
func (s *AuthService) ConfirmMFAEnrollment(ctx context.Context, sessionToken, code string) (err error) {
	ctx, span := tracer.Start(ctx, "AuthService.ConfirmMFAEnrollment")
	defer func() { s.endSpan(span, err) }()

	acct, err := s.sessionAccount(ctx, sessionToken)
	if err != nil {
		return err
	}
	if acct.MFAEnabled() {
		return ErrMFAAlreadyEnabled
	}
	if acct.MFASecret == "" {
		return ErrMFANotEnrolled
	}
	if err := s.checkManagedCode(ctx, acct, code); err != nil {
		return err
	}
	ok, err := storeCall(ctx, s, func(ctx context.Context) (bool, error) {
		return s.accounts.EnableMFA(ctx, acct.ID, s.now())
	})
	if err != nil {
		return s.storeErr(ctx, "enable mfa", err)
	}
	if !ok {
		return ErrMFAAlreadyEnabled
	}
	s.audit.LogEvent(ctx, acct.ID, audit.ActionMFAEnrolled, nil)
	return nil
}

// DisableMFA removes the second factor. The caller must present a current code.
func (s *AuthService) DisableMFA(ctx context.Context, sessionToken, code string) (err error) {
	ctx, span := tracer.Start(ctx, "AuthService.DisableMFA")
	defer func() { s.endSpan(span, err) }()

	acct, err := s.sessionAccount(ctx, sessionToken)
	if err != nil {
		return err
	}
	if !acct.MFAEnabled() {
		return ErrMFANotEnrolled
	}
	if err := s.checkManagedCode(ctx, acct, code); err != nil {
		return err
	}
	if err := storeExec(ctx, s, func(ctx context.Context) error { return s.accounts.DisableMFA(ctx, acct.ID, s.now()) }); err != nil {
		return s.storeErr(ctx, "disable mfa", err)
	}
	s.audit.LogEvent(ctx, acct.ID, audit.ActionMFADisabled, nil)
	return nil
}

// sessionAccount validates sessionToken and loads its account.
func (s *AuthService) sessionAccount(ctx context.Context, sessionToken string) (*accountdomain.Account, error) {
	info, err := s.ValidateSession(ctx, sessionToken)
	if err != nil {
		return nil, err
	}
	acct, err := storeCall(ctx, s, func(ctx context.Context) (*accountdomain.Account, error) {
		return s.accounts.GetByID(ctx, info.AccountID)
	})
	if err != nil {
		return nil, s.storeErr(ctx, "get account", err)
	}
	if acct == nil {
		return nil, ErrSessionExpiredOrInvalid
	}
	return acct, nil
}

// checkManagedCode verifies a TOTP code for enrollment changes, counting failures against
// the same threshold as logins.
func (s *AuthService) checkManagedCode(ctx context.Context, acct *accountdomain.Account, code string) error {
	now := s.now()
	key := mfaManageKey(acct.ID)
	locked, err := s.lockedOut(ctx, key, s.opts.LockoutThreshold, now)
	if err != nil {
		return err
	}
	if locked {
		return ErrAccountLocked
	}
	accepted, err := s.acceptCode(ctx, acct, code)
	if err != nil {
		return err
	}
	if !accepted {
		if err := s.recordFailure(ctx, key, s.opts.LockoutThreshold, now, acct.ID); err != nil {
			return err
		}
		return ErrInvalidCode
	}
	if err := storeExec(ctx, s, func(ctx context.Context) error { return s.attempts.Reset(ctx, key) }); err != nil {
		s.log.Warn(ctx, "mfa: attempt counter not reset", "account_id", acct.ID, "error", err)
	}
	return nil
}

// lockedOut reports whether key has reached threshold failures within the lockout window.
func (s *AuthService) lockedOut(ctx context.Context, key string, threshold int, now time.Time) (bool, error) {
	failures, err := storeCall(ctx, s, func(ctx context.Context) (int, error) {
		return s.attempts.Failures(ctx, key, now, s.opts.LockoutWindow)
	})
	if err != nil {
		return false, s.storeErr(ctx, "read attempt counter", err)
	}
	return failures >= threshold, nil
}

// acceptCode verifies a TOTP code and claims its time step, so each code is accepted once.
// A replayed code is reported as not accepted.
func (s *AuthService) acceptCode(ctx context.Context, acct *accountdomain.Account, code string) (bool, error) {
	step, verr := s.totp.Verify(acct.MFASecret, strings.TrimSpace(code))
	if verr != nil {
		return false, nil
	}
	claimed, err := storeCall(ctx, s, func(ctx context.Context) (bool, error) {
		return s.accounts.ClaimMFAStep(ctx, acct.ID, step)
	})
	if err != nil {
		return false, s.storeErr(ctx, "claim totp step", err)
	}
	if !claimed {
		s.log.Info(ctx, "totp code replayed", "account_id", acct.ID, "step", step)
	}
	return claimed, nil
}

// recordFailure counts a failed attempt. A counter that cannot be written fails the request:
// lockout must not silently stop working.
func (s *AuthService) recordFailure(ctx context.Context, key string, threshold int, now time.Time, accountID string) error {
	n, err := storeCall(ctx, s, func(ctx context.Context) (int, error) {
		return s.attempts.RecordFailure(ctx, key, now, s.opts.LockoutWindow)
	})
	if err != nil {
		return s.storeErr(ctx, "record failed attempt", err)
	}
	if n == threshold {
		s.metrics.Lockout(ctx)
		s.log.Warn(ctx, "lockout threshold reached", "key", key, "account_id", accountID, "failures", n)
	}
	return nil
}

func (s *AuthService) evaluatePolicy(ctx context.Context, acct *accountdomain.Account, now time.Time) (engine.LoginDecision, error) {
	decision, err := s.policy.EvaluateLogin(ctx, engine.LoginInput{
		AccountID:   acct.ID,
		Email:       acct.Email,
		Roles:       acct.Roles,
		MFAEnabled:  acct.MFAEnabled(),
		IP:          s.ip(ctx),
		Now:         now,
		LastLoginAt: acct.LastLoginAt,
	})
	if err != nil {
		return engine.LoginDecision{}, s.internalErr(ctx, "evaluate login policy", err)
	}
	return decision, nil
}

// rehashIfNeeded migrates a verified credential to the current algorithm and cost. It is
// guarded on the old hash so it never overwrites a concurrent reset.
func (s *AuthService) rehashIfNeeded(ctx context.Context, acct *accountdomain.Account, password string, now time.Time) {
	if !s.hasher.NeedsRehash(acct.PasswordHash, acct.HashAlgorithm) {
		return
	}
	hash, alg, err := s.hasher.Hash([]byte(password))
	if err != nil {
		s.log.Warn(ctx, "rehash failed", "account_id", acct.ID, "error", err)
		return
	}
	if _, err := storeCall(ctx, s, func(ctx context.Context) (bool, error) {
		return s.accounts.RehashCredential(ctx, acct.ID, acct.PasswordHash, hash, alg, now)
	}); err != nil {
		s.log.Warn(ctx, "rehash not stored", "account_id", acct.ID, "error", err)
	}
}

func (s *AuthService) issueChallenge(ctx context.Context, acct *accountdomain.Account, now time.Time) (*MFAChallenge, error) {
	ch := &mfadomain.Challenge{
		ID:                uuid.New().String(),
		AccountID:         acct.ID,
		CredentialVersion: acct.CredentialVersion,
		AttemptsRemaining: s.opts.MFAMaxAttempts,
		IPAddress:         s.ip(ctx),
		ExpiresAt:         now.Add(s.opts.MFAChallengeTTL),
		CreatedAt:         now,
	}
	if err := storeExec(ctx, s, func(ctx context.Context) error { return s.challenges.Create(ctx, ch) }); err != nil {
		return nil, s.storeErr(ctx, "create challenge", err)
	}
	ticket, err := s.tickets.Issue(ch.ID, acct.ID, acct.CredentialVersion, ch.ExpiresAt)
	if err != nil {
		return nil, s.internalErr(ctx, "sign challenge ticket", err)
	}
	return &MFAChallenge{ID: ticket, ExpiresAt: ch.ExpiresAt, AttemptsRemaining: ch.AttemptsRemaining}, nil
}

// issueSession stores a new session stamped with the account's credential version. ttl
// overrides the configured lifetime when positive.
func (s *AuthService) issueSession(ctx context.Context, acct *accountdomain.Account, ttl time.Duration, now time.Time) (*SessionGrant, error) {
	if ttl <= 0 {
		ttl = s.opts.SessionTTL
	}
	token, err := security.NewOpaqueToken()
	if err != nil {
		return nil, s.internalErr(ctx, "generate session token", err)
	}
	sess := &sessiondomain.Session{
		ID:                uuid.New().String(),
		AccountID:         acct.ID,
		TokenHash:         security.HashToken(token),
		CredentialVersion: acct.CredentialVersion,
		IPAddress:         s.ip(ctx),
		ExpiresAt:         now.Add(ttl),
		CreatedAt:         now,
	}
	if err := storeExec(ctx, s, func(ctx context.Context) error { return s.sessions.Create(ctx, sess) }); err != nil {
		return nil, s.storeErr(ctx, "create session", err)
	}
	if err := storeExec(ctx, s, func(ctx context.Context) error { return s.accounts.RecordLogin(ctx, acct.ID, now) }); err != nil {
		s.log.Warn(ctx, "last login not recorded", "account_id", acct.ID, "error", err)
	}
	s.metrics.SessionIssued(ctx)
	return &SessionGrant{Token: token, AccountID: acct.ID, ExpiresAt: sess.ExpiresAt}, nil
}

// sendToken stores a fresh single-use token for purpose and queues its notification.
func (s *AuthService) sendToken(ctx context.Context, acct *accountdomain.Account, purpose verificationdomain.Purpose, ttl time.Duration, kind notify.Kind) error {
	token, err := security.NewOpaqueToken()
	if err != nil {
		return err
	}
	now := s.now()
	t := &verificationdomain.Token{
		ID:        uuid.New().String(),
		AccountID: acct.ID,
		Purpose:   purpose,
		TokenHash: security.HashToken(token),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := storeExec(ctx, s, func(ctx context.Context) error { return s.tokens.Create(ctx, t) }); err != nil {
		return err
	}
	s.notifier.Dispatch(ctx, notify.Message{
		Kind:        kind,
		To:          acct.Email,
		DisplayName: acct.DisplayName,
		Token:       token,
		ExpiresAt:   t.ExpiresAt,
	})
	return nil
}

func (s *AuthService) dropSession(ctx context.Context, id string) {
	if err := storeExec(ctx, s, func(ctx context.Context) error { return s.sessions.Delete(ctx, id) }); err != nil {
		s.log.Warn(ctx, "dead session not deleted", "session_id", id, "error", err)
	}
}

func (s *AuthService) dropChallenge(ctx context.Context, id string) {
	if err := storeExec(ctx, s, func(ctx context.Context) error { return s.challenges.Delete(ctx, id) }); err != nil {
		s.log.Warn(ctx, "dead challenge not deleted", "challenge_id", id, "error", err)
	}
}

// pad sleeps until floor has passed since started, or ctx ends.
func (s *AuthService) pad(ctx context.Context, started time.Time, floor time.Duration) error {
	remaining := floor - time.Since(started)
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return withCause(ErrTransient, ctx.Err())
	}
}

// storeErr converts a failed store call. Taxonomy errors (ErrTransient from retries) pass
// through; anything else is internal.
func (s *AuthService) storeErr(ctx context.Context, op string, err error) error {
	if KindOf(err) == KindTransient {
		s.log.Warn(ctx, op+": store unavailable", "error", err)
		return err
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return s.internalErr(ctx, op, err)
}

func (s *AuthService) internalErr(ctx context.Context, op string, err error) error {
	s.log.Error(ctx, op+" failed", "error", err)
	return internal(err)
}

func (s *AuthService) endSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("auth.error_code", CodeOf(err)))
		if k := KindOf(err); k == KindTransient || k == KindInternal {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, CodeOf(err))
		}
	}
	span.End()
}

// loginOutcome is the metric label for a login or MFA result.
func loginOutcome(err error) string {
	if err == nil {
		return "ok"
	}
	return CodeOf(err)
}
