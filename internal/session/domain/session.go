package domain

import "time"

// Session is an issued bearer session. The bearer value itself is never stored.
type Session struct {
	ID        string
	AccountID string
	TokenHash string
	// CredentialVersion is the account credential version at issuance.
	CredentialVersion int64
	IPAddress         string
	ExpiresAt         time.Time
	CreatedAt         time.Time
}

// Expired reports whether the session has passed its absolute expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
