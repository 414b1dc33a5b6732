package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// AuthMetrics counts authentication outcomes.
type AuthMetrics struct {
	logins         metric.Int64Counter
	mfaChecks      metric.Int64Counter
	signups        metric.Int64Counter
	passwordResets metric.Int64Counter
	sessions       metric.Int64Counter
	lockouts       metric.Int64Counter
}

// NewAuthMetrics registers the counters on meter. A nil meter yields no-op counters.
func NewAuthMetrics(meter metric.Meter) (*AuthMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("ylstack.auth")
	}
	m := &AuthMetrics{}
	var err error
	if m.logins, err = meter.Int64Counter("auth.logins", metric.WithDescription("Login attempts by outcome")); err != nil {
		return nil, err
	}
	if m.mfaChecks, err = meter.Int64Counter("auth.mfa.verifications", metric.WithDescription("MFA code checks by outcome")); err != nil {
		return nil, err
	}
	if m.signups, err = meter.Int64Counter("auth.signups", metric.WithDescription("Accounts created")); err != nil {
		return nil, err
	}
	if m.passwordResets, err = meter.Int64Counter("auth.password_resets", metric.WithDescription("Completed password resets")); err != nil {
		return nil, err
	}
	if m.sessions, err = meter.Int64Counter("auth.sessions.issued", metric.WithDescription("Sessions issued")); err != nil {
		return nil, err
	}
	if m.lockouts, err = meter.Int64Counter("auth.lockouts", metric.WithDescription("Logins refused by the lockout threshold")); err != nil {
		return nil, err
	}
	return m, nil
}

// Login records a login outcome (a taxonomy code such as "InvalidCredentials", or "ok"/"mfa_required").
func (m *AuthMetrics) Login(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *AuthMetrics) MFA(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.mfaChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *AuthMetrics) Signup(ctx context.Context) {
	if m == nil {
		return
	}
	m.signups.Add(ctx, 1)
}

func (m *AuthMetrics) PasswordReset(ctx context.Context) {
	if m == nil {
		return
	}
	m.passwordResets.Add(ctx, 1)
}

func (m *AuthMetrics) SessionIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessions.Add(ctx, 1)
}

func (m *AuthMetrics) Lockout(ctx context.Context) {
	if m == nil {
		return
	}
	m.lockouts.Add(ctx, 1)
}
