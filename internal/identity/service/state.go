package service

import "time"

// State is a position in the authentication state machine as seen by one client.
type State int

const (
	StateAnonymous State = iota
	StateAwaitingEmailVerification
	StateAwaitingMFA
	StateAuthenticated
	StateAwaitingPasswordReset
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "Anonymous"
	case StateAwaitingEmailVerification:
		return "AwaitingEmailVerification"
	case StateAwaitingMFA:
		return "AwaitingMfa"
	case StateAuthenticated:
		return "Authenticated"
	case StateAwaitingPasswordReset:
		return "AwaitingPasswordReset"
	default:
		return "Unknown"
	}
}

// SignupResult is returned by Signup.
type SignupResult struct {
	AccountID string
	State     State
	Message   string
}

// SessionGrant is an issued session. Token is the bearer value; it is shown once and only
// its hash is stored.
type SessionGrant struct {
	Token     string
	AccountID string
	ExpiresAt time.Time
}

// MFAChallenge is the pending second factor of a login. ID is the signed ticket the client
// presents to VerifyMFA.
type MFAChallenge struct {
	ID                string
	ExpiresAt         time.Time
	AttemptsRemaining int
}

// LoginResult is returned by Login and VerifyMFA. Exactly one of Session and Challenge is set.
type LoginResult struct {
	State     State
	Session   *SessionGrant
	Challenge *MFAChallenge
}

// SessionInfo describes a valid session.
type SessionInfo struct {
	SessionID string
	AccountID string
	Email     string
	Roles     []string
	ExpiresAt time.Time
}
