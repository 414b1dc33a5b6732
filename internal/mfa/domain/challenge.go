package domain

import "time"

// Challenge is a pending second-factor step of a login. The expected code is derived from
// the account's TOTP secret, so the challenge itself holds no secret.
type Challenge struct {
	ID                string
	AccountID         string
	CredentialVersion int64
	AttemptsRemaining int
	IPAddress         string
	ExpiresAt         time.Time
	CreatedAt         time.Time
}

// Expired reports whether the challenge has passed its expiry at now.
func (c *Challenge) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Exhausted reports whether no attempts remain.
func (c *Challenge) Exhausted() bool {
	return c.AttemptsRemaining <= 0
}
