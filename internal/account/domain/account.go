package domain

import (
	"strings"
	"time"
)

// Account is the core identity entity. Email is stored normalised (see NormalizeEmail).
type Account struct {
	ID          string
	Email       string
	DisplayName string
	Status      Status
	// PasswordHash and HashAlgorithm form the credential; the plaintext is never stored.
	PasswordHash  string
	HashAlgorithm string
	// CredentialVersion starts at 1 and increments on every password reset. Sessions carry
	// the version they were issued under and die when it moves.
	CredentialVersion int64
	Roles             []string
	// MFASecret is the base32 TOTP secret. MFA is enforced only once MFAEnabledAt is set.
	MFASecret    string
	MFAEnabledAt *time.Time
	// MFALastStep is the newest TOTP time step accepted for this account. Codes at or
	// below it are replays.
	MFALastStep int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastLoginAt *time.Time
}

type Status string

const (
	StatusPendingVerification Status = "pending_verification"
	StatusActive              Status = "active"
	StatusBlocked             Status = "blocked"
)

// DefaultRole is granted to every new account.
const DefaultRole = "user"

// MFAEnabled reports whether login must complete a second factor.
func (a *Account) MFAEnabled() bool {
	return a.MFAEnabledAt != nil && a.MFASecret != ""
}

// NormalizeEmail trims and lower-cases an email so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
