package domain

import "time"

// Purpose binds a verification token to one flow.
type Purpose string

const (
	PurposeEmailVerify   Purpose = "email_verify"
	PurposePasswordReset Purpose = "password_reset"
)

// Token is a single-use verification token. Only the SHA-256 of the bearer value is stored.
type Token struct {
	ID         string
	AccountID  string
	Purpose    Purpose
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	// ConsumedBy is the redemption id that spent the token.
	ConsumedBy string
	CreatedAt  time.Time
}

// Usable reports whether the token is unconsumed and unexpired at now.
func (t *Token) Usable(now time.Time) bool {
	return t.ConsumedAt == nil && now.Before(t.ExpiresAt)
}

// RedeemedBy reports whether redemptionID already spent the token. A retried redemption
// uses it to return the committed outcome instead of failing.
func (t *Token) RedeemedBy(redemptionID string) bool {
	return redemptionID != "" && t.ConsumedAt != nil && t.ConsumedBy == redemptionID
}

// Redemption is a spent token together with the account change it applied. Both commit
// together or not at all.
type Redemption struct {
	Token *Token
	// Activated is set when the account moved from pending to active in this redemption.
	Activated bool
	// CredentialVersion is the account's credential version after a password reset.
	CredentialVersion int64
	// Replayed is set when the redemption id had already committed.
	Replayed bool
}
