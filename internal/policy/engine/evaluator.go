package engine

import (
	"context"
	"time"
)

// LoginInput is what a login policy sees once the password has been verified.
type LoginInput struct {
	AccountID   string
	Email       string
	Roles       []string
	MFAEnabled  bool
	IP          string
	Now         time.Time
	LastLoginAt *time.Time
}

// LoginDecision is the outcome of login policy evaluation.
type LoginDecision struct {
	Allow bool
	// Reason is an optional operator-facing explanation for a deny. It is logged, never
	// returned to the client.
	Reason string
	// SessionTTL overrides the configured session lifetime when positive.
	SessionTTL time.Duration
}

// Evaluator decides whether an authenticated login may proceed and for how long the
// resulting session lives.
type Evaluator interface {
	EvaluateLogin(ctx context.Context, in LoginInput) (LoginDecision, error)
}

// AllowAll admits every login with the default session lifetime.
type AllowAll struct{}

func (AllowAll) EvaluateLogin(context.Context, LoginInput) (LoginDecision, error) {
	return LoginDecision{Allow: true}, nil
}
