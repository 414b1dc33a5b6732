package mfa

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTP parameters (RFC 6238 defaults understood by every authenticator app).
const (
	totpPeriod = 30
	totpSkew   = 1
	totpDigits = otp.DigitsSix
)

// ErrInvalidCode is returned when a code does not verify against the secret.
var ErrInvalidCode = errors.New("invalid code")

// Enrollment is a freshly generated TOTP secret and its otpauth:// provisioning URL.
type Enrollment struct {
	Secret string
	URL    string
}

// Authenticator generates and verifies TOTP codes.
type Authenticator struct {
	issuer string
	now    func() time.Time
}

// NewAuthenticator returns an Authenticator labelling secrets with issuer. now may be nil (time.Now).
func NewAuthenticator(issuer string, now func() time.Time) *Authenticator {
	if now == nil {
		now = time.Now
	}
	return &Authenticator{issuer: issuer, now: now}
}

// Generate creates a new secret for accountName (usually the email).
func (a *Authenticator) Generate(accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      a.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      totpDigits,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}
	return &Enrollment{Secret: key.Secret(), URL: key.URL()}, nil
}

// Verify checks code against secret at the current time, allowing totpSkew periods of clock
// skew either way. It returns the time step the code belongs to so callers can refuse a
// step that was already used.
func (a *Authenticator) Verify(secret, code string) (int64, error) {
	if len(code) != totpDigits.Length() {
		return 0, ErrInvalidCode
	}
	current := a.now().UTC().Unix() / totpPeriod
	for _, step := range []int64{current, current - totpSkew, current + totpSkew} {
		want, err := a.Code(secret, time.Unix(step*totpPeriod, 0).UTC())
		if err != nil {
			return 0, ErrInvalidCode
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, nil
		}
	}
	return 0, ErrInvalidCode
}

// Code returns the code for secret at t. Used by the seed tool and tests.
func (a *Authenticator) Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	})
}
