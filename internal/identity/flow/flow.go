// Package flow tracks one client's position in the authentication state machine and
// rejects operations that are not legal from that position. Server-side guards live in
// the service; a Flow adds the client-side view (which screen the user is on) and carries
// the session token and MFA challenge between steps.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sawyelin/ylstack-auth-sub000/internal/identity/service"
)

// ErrIllegalTransition is matched by every *TransitionError.
var ErrIllegalTransition = errors.New("illegal transition")

// TransitionError reports an operation attempted from a state that does not allow it.
type TransitionError struct {
	From service.State
	Op   string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s not allowed from %s", e.Op, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

// Authenticator is the service surface a Flow drives.
type Authenticator interface {
	Signup(ctx context.Context, email, password, displayName string) (*service.SignupResult, error)
	VerifyEmail(ctx context.Context, token string) error
	ResendVerification(ctx context.Context, email string) error
	Login(ctx context.Context, email, password string) (*service.LoginResult, error)
	VerifyMFA(ctx context.Context, challengeID, code string) (*service.LoginResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	Logout(ctx context.Context, sessionToken string) error
	ValidateSession(ctx context.Context, sessionToken string) (*service.SessionInfo, error)
}

// Flow is safe for concurrent use; operations on one Flow are serialized.
type Flow struct {
	auth Authenticator

	mu        sync.Mutex
	state     service.State
	email     string
	session   *service.SessionGrant
	challenge *service.MFAChallenge
}

// New returns a Flow in the Anonymous state.
func New(auth Authenticator) *Flow {
	return &Flow{auth: auth, state: service.StateAnonymous}
}

// State returns the current state.
func (f *Flow) State() service.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Session returns the current session grant, or nil when not Authenticated.
func (f *Flow) Session() *service.SessionGrant {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session
}

// Challenge returns the pending MFA challenge, or nil when not AwaitingMfa.
func (f *Flow) Challenge() *service.MFAChallenge {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.challenge
}

// Email returns the address the flow last submitted.
func (f *Flow) Email() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.email
}

func (f *Flow) require(op string, allowed ...service.State) error {
	for _, s := range allowed {
		if f.state == s {
			return nil
		}
	}
	return &TransitionError{From: f.state, Op: op}
}

func (f *Flow) toAnonymous() {
	f.state = service.StateAnonymous
	f.session = nil
	f.challenge = nil
}

// Signup moves Anonymous to AwaitingEmailVerification.
func (f *Flow) Signup(ctx context.Context, email, password, displayName string) (*service.SignupResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require("signup", service.StateAnonymous); err != nil {
		return nil, err
	}
	res, err := f.auth.Signup(ctx, email, password, displayName)
	if err != nil {
		return nil, err
	}
	f.email = email
	f.state = service.StateAwaitingEmailVerification
	return res, nil
}

// VerifyEmail returns to Anonymous; the user must now log in. The link may be opened
// from a fresh client, so Anonymous is accepted as well.
func (f *Flow) VerifyEmail(ctx context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require("verifyEmail", service.StateAwaitingEmailVerification, service.StateAnonymous); err != nil {
		return err
	}
	if err := f.auth.VerifyEmail(ctx, token); err != nil {
		return err
	}
	f.toAnonymous()
	return nil
}

// ResendVerification asks for a new verification link without leaving AwaitingEmailVerification.
func (f *Flow) ResendVerification(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require("resendVerification", service.StateAwaitingEmailVerification); err != nil {
		return err
	}
	return f.auth.ResendVerification(ctx, f.email)
}

// Login moves Anonymous to Authenticated or AwaitingMfa. Failures leave the flow Anonymous.
func (f *Flow) Login(ctx context.Context, email, password string) (*service.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require("login", service.StateAnonymous); err != nil {
		return nil, err
	}
	f.email = email
	res, err := f.auth.Login(ctx, email, password)
	if err != nil {
		return nil, err
	}
	f.apply(res)
	return res, nil
}

// VerifyMFA answers the pending challenge. Expired or exhausted challenges and a locked account
// return the flow to Anonymous; a wrong code with attempts left keeps it in AwaitingMfa.
func (f *Flow) VerifyMFA(ctx context.Context, code string) (*service.LoginResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require("verifyMfa", service.StateAwaitingMFA); err != nil {
		return nil, err
	}
	res, err := f.auth.VerifyMFA(ctx, f.challenge.ID, code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChallengeExpired), errors.Is(err, service.ErrAttemptsExhausted),
			errors.Is(err, service.ErrAccountBlocked), errors.Is(err, service.ErrAccountLocked):
			f.toAnonymous()
		case errors.Is(err, service.ErrInvalidCode):
			if f.challenge.AttemptsRemaining > 0 {
				f.challenge.AttemptsRemaining--
			}
		}
		return nil, err
	}
	f.apply(res)
	return res, nil
}

func (f *Flow) apply(res *service.LoginResult) {
	f.state = res.State
	f.session = res.Session
	f.challenge = res.Challenge
}

// ForgotPassword moves Anonymous to AwaitingPasswordReset. The response never reveals
// whether the account exists, so the move happens regardless.
func (f *Flow) ForgotPassword(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require("forgotPassword", service.StateAnonymous, service.StateAwaitingPasswordReset); err != nil {
		return err
	}
	if err := f.auth.ForgotPassword(ctx, email); err != nil {
		return err
	}
	f.email = email
	f.state = service.StateAwaitingPasswordReset
	return nil
}

// ResetPassword sets a new password from a reset link and returns to Anonymous.
func (f *Flow) ResetPassword(ctx context.Context, token, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require("resetPassword", service.StateAwaitingPasswordReset, service.StateAnonymous); err != nil {
		return err
	}
	if err := f.auth.ResetPassword(ctx, token, newPassword); err != nil {
		return err
	}
	f.toAnonymous()
	return nil
}

// Logout ends the session and returns to Anonymous. The local state is cleared even if the
// server call fails, since the session is unusable from this client either way.
func (f *Flow) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require("logout", service.StateAuthenticated); err != nil {
		return err
	}
	token := f.session.Token
	f.toAnonymous()
	return f.auth.Logout(ctx, token)
}

// Validate re-checks the held session. A dead session drops the flow to Anonymous.
// Transient failures leave the state unchanged.
func (f *Flow) Validate(ctx context.Context) (*service.SessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.require("validateSession", service.StateAuthenticated); err != nil {
		return nil, err
	}
	info, err := f.auth.ValidateSession(ctx, f.session.Token)
	if err != nil {
		if service.KindOf(err) != service.KindTransient {
			f.toAnonymous()
		}
		return nil, err
	}
	return info, nil
}

// Cancel abandons any in-progress step (back to the login screen). An Authenticated flow
// must use Logout instead.
func (f *Flow) Cancel() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == service.StateAuthenticated {
		return &TransitionError{From: f.state, Op: "cancel"}
	}
	f.toAnonymous()
	return nil
}
