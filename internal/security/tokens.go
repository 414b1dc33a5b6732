package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a ticket is malformed, forged or otherwise invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a ticket's exp claim has passed.
	ErrTokenExpired = errors.New("token expired")
)

// ChallengeClaims are the claims of an MFA challenge ticket. The jti is the challenge id.
type ChallengeClaims struct {
	jwt.RegisteredClaims
	CredentialVersion int64 `json:"cv"`
}

// TicketIssuer issues and validates HS256 MFA challenge tickets. A ticket only names a
// challenge; the challenge record in the store stays authoritative for attempts and expiry.
type TicketIssuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTicketIssuer returns a TicketIssuer signing with secret. now may be nil (time.Now).
func NewTicketIssuer(secret []byte, issuer string, now func() time.Time) *TicketIssuer {
	if now == nil {
		now = time.Now
	}
	return &TicketIssuer{secret: secret, issuer: issuer, now: now}
}

// Issue returns a signed ticket for the challenge.
func (p *TicketIssuer) Issue(challengeID, accountID string, credentialVersion int64, expiresAt time.Time) (string, error) {
	now := p.now().UTC()
	claims := ChallengeClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        challengeID,
			Subject:   accountID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		CredentialVersion: credentialVersion,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(p.secret)
}

// Validate parses and validates a ticket (signature, exp, iss) and returns its claims.
// Returns ErrTokenExpired for expired tickets and ErrInvalidToken for anything else.
func (p *TicketIssuer) Validate(ticket string) (*ChallengeClaims, error) {
	token, err := jwt.ParseWithClaims(ticket, &ChallengeClaims{}, func(token *jwt.Token) (interface{}, error) {
		return p.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*ChallengeClaims)
	if !ok || !token.Valid || claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
