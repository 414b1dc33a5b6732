// Package memory provides in-process implementations of every repository. It is used by
// tests and by the server when DATABASE_URL is unset in development. Conditional updates
// follow the same guards as the Postgres queries.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	accountdomain "github.com/sawyelin/ylstack-auth-sub000/internal/account/domain"
	auditdomain "github.com/sawyelin/ylstack-auth-sub000/internal/audit/domain"
	mfadomain "github.com/sawyelin/ylstack-auth-sub000/internal/mfa/domain"
	sessiondomain "github.com/sawyelin/ylstack-auth-sub000/internal/session/domain"
	"github.com/sawyelin/ylstack-auth-sub000/internal/store"
	verificationdomain "github.com/sawyelin/ylstack-auth-sub000/internal/verification/domain"
)

// Store groups the in-memory repositories.
type Store struct {
	Accounts      *AccountRepo
	Verifications *VerificationRepo
	Sessions      *SessionRepo
	Challenges    *ChallengeRepo
	Audit         *AuditRepo
}

// New returns an empty Store.
func New() *Store {
	accounts := &AccountRepo{byID: make(map[string]*accountdomain.Account), byEmail: make(map[string]string)}
	return &Store{
		Accounts:      accounts,
		Verifications: &VerificationRepo{byHash: make(map[string]*verificationdomain.Token), accounts: accounts},
		Sessions:      &SessionRepo{byID: make(map[string]*sessiondomain.Session)},
		Challenges:    &ChallengeRepo{byID: make(map[string]*mfadomain.Challenge)},
		Audit:         &AuditRepo{},
	}
}

// AccountRepo is an in-memory account repository.
type AccountRepo struct {
	mu      sync.Mutex
	byID    map[string]*accountdomain.Account
	byEmail map[string]string
	// Fail, when set, is returned by every call. Tests use it to simulate an outage.
	Fail error
}

func copyAccount(a *accountdomain.Account) *accountdomain.Account {
	c := *a
	c.Roles = append([]string(nil), a.Roles...)
	if a.MFAEnabledAt != nil {
		t := *a.MFAEnabledAt
		c.MFAEnabledAt = &t
	}
	if a.LastLoginAt != nil {
		t := *a.LastLoginAt
		c.LastLoginAt = &t
	}
	return &c
}

func (r *AccountRepo) GetByID(ctx context.Context, id string) (*accountdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return nil, r.Fail
	}
	a, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return copyAccount(a), nil
}

func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*accountdomain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return nil, r.Fail
	}
	id, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	return copyAccount(r.byID[id]), nil
}

func (r *AccountRepo) Create(ctx context.Context, a *accountdomain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	if _, taken := r.byEmail[a.Email]; taken {
		return store.ErrConflict
	}
	if _, taken := r.byID[a.ID]; taken {
		return store.ErrConflict
	}
	r.byID[a.ID] = copyAccount(a)
	r.byEmail[a.Email] = a.ID
	return nil
}

func (r *AccountRepo) RehashCredential(ctx context.Context, id, oldHash, newHash, algorithm string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return false, r.Fail
	}
	a, ok := r.byID[id]
	if !ok || a.PasswordHash != oldHash {
		return false, nil
	}
	a.PasswordHash = newHash
	a.HashAlgorithm = algorithm
	a.UpdatedAt = at
	return true, nil
}

func (r *AccountRepo) RecordLogin(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	if a, ok := r.byID[id]; ok {
		t := at
		a.LastLoginAt = &t
	}
	return nil
}

func (r *AccountRepo) SetMFASecret(ctx context.Context, id, secret string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return false, r.Fail
	}
	a, ok := r.byID[id]
	if !ok || a.MFAEnabledAt != nil {
		return false, nil
	}
	a.MFASecret = secret
	a.UpdatedAt = at
	return true, nil
}

func (r *AccountRepo) EnableMFA(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return false, r.Fail
	}
	a, ok := r.byID[id]
	if !ok || a.MFAEnabledAt != nil || a.MFASecret == "" {
		return false, nil
	}
	t := at
	a.MFAEnabledAt = &t
	a.UpdatedAt = at
	return true, nil
}

func (r *AccountRepo) ClaimMFAStep(ctx context.Context, id string, step int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return false, r.Fail
	}
	a, ok := r.byID[id]
	if !ok || a.MFALastStep >= step {
		return false, nil
	}
	a.MFALastStep = step
	return true, nil
}

func (r *AccountRepo) DisableMFA(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	if a, ok := r.byID[id]; ok {
		a.MFASecret = ""
		a.MFAEnabledAt = nil
		a.UpdatedAt = at
	}
	return nil
}

// SetStatus overwrites an account's status unconditionally. Admin tooling and tests use it
// to block accounts.
func (r *AccountRepo) SetStatus(id string, status accountdomain.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.byID[id]; ok {
		a.Status = status
	}
}

// VerificationRepo is an in-memory verification token repository. Redemptions hold its lock
// and the account repository's lock together, in that order.
type VerificationRepo struct {
	mu       sync.Mutex
	byHash   map[string]*verificationdomain.Token
	accounts *AccountRepo
	Fail     error
}

func (r *VerificationRepo) Create(ctx context.Context, t *verificationdomain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	if _, taken := r.byHash[t.TokenHash]; taken {
		return store.ErrConflict
	}
	c := *t
	r.byHash[t.TokenHash] = &c
	return nil
}

func (r *VerificationRepo) RedeemEmailVerification(ctx context.Context, tokenHash, redemptionID string, now time.Time) (*verificationdomain.Redemption, error) {
	var out *verificationdomain.Redemption
	err := r.redeem(tokenHash, verificationdomain.PurposeEmailVerify, func(t *verificationdomain.Token, a *accountdomain.Account) {
		if t.RedeemedBy(redemptionID) {
			out = &verificationdomain.Redemption{Token: copyToken(t), Activated: a.Status == accountdomain.StatusActive, Replayed: true}
			return
		}
		if !t.Usable(now) {
			return
		}
		var activated bool
		switch a.Status {
		case accountdomain.StatusPendingVerification:
			a.Status = accountdomain.StatusActive
			a.UpdatedAt = now
			activated = true
		case accountdomain.StatusActive:
		default:
			return
		}
		spend(t, redemptionID, now)
		out = &verificationdomain.Redemption{Token: copyToken(t), Activated: activated}
	})
	return out, err
}

func (r *VerificationRepo) RedeemPasswordReset(ctx context.Context, tokenHash, redemptionID, hash, algorithm string, now time.Time) (*verificationdomain.Redemption, error) {
	var out *verificationdomain.Redemption
	err := r.redeem(tokenHash, verificationdomain.PurposePasswordReset, func(t *verificationdomain.Token, a *accountdomain.Account) {
		if t.RedeemedBy(redemptionID) {
			out = &verificationdomain.Redemption{Token: copyToken(t), CredentialVersion: a.CredentialVersion, Replayed: true}
			return
		}
		if !t.Usable(now) {
			return
		}
		a.PasswordHash = hash
		a.HashAlgorithm = algorithm
		a.CredentialVersion++
		a.UpdatedAt = now
		spend(t, redemptionID, now)
		out = &verificationdomain.Redemption{Token: copyToken(t), CredentialVersion: a.CredentialVersion}
	})
	return out, err
}

// redeem looks up the token and its account under both locks and hands them to apply.
func (r *VerificationRepo) redeem(tokenHash string, purpose verificationdomain.Purpose, apply func(*verificationdomain.Token, *accountdomain.Account)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	t, ok := r.byHash[tokenHash]
	if !ok || t.Purpose != purpose {
		return nil
	}
	r.accounts.mu.Lock()
	defer r.accounts.mu.Unlock()
	if r.accounts.Fail != nil {
		return r.accounts.Fail
	}
	a, ok := r.accounts.byID[t.AccountID]
	if !ok {
		return nil
	}
	apply(t, a)
	return nil
}

func spend(t *verificationdomain.Token, redemptionID string, now time.Time) {
	at := now
	t.ConsumedAt = &at
	t.ConsumedBy = redemptionID
}

func copyToken(t *verificationdomain.Token) *verificationdomain.Token {
	c := *t
	if t.ConsumedAt != nil {
		at := *t.ConsumedAt
		c.ConsumedAt = &at
	}
	return &c
}

func (r *VerificationRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return 0, r.Fail
	}
	var n int64
	for h, t := range r.byHash {
		if !now.Before(t.ExpiresAt) {
			delete(r.byHash, h)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored tokens.
func (r *VerificationRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byHash)
}

// SessionRepo is an in-memory session repository.
type SessionRepo struct {
	mu   sync.Mutex
	byID map[string]*sessiondomain.Session
	Fail error
}

func (r *SessionRepo) Create(ctx context.Context, s *sessiondomain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	for _, existing := range r.byID {
		if existing.TokenHash == s.TokenHash {
			return store.ErrConflict
		}
	}
	c := *s
	r.byID[s.ID] = &c
	return nil
}

func (r *SessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*sessiondomain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return nil, r.Fail
	}
	for _, s := range r.byID {
		if s.TokenHash == tokenHash {
			c := *s
			return &c, nil
		}
	}
	return nil, nil
}

func (r *SessionRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	delete(r.byID, id)
	return nil
}

func (r *SessionRepo) DeleteByAccount(ctx context.Context, accountID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return 0, r.Fail
	}
	var n int64
	for id, s := range r.byID {
		if s.AccountID == accountID {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func (r *SessionRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return 0, r.Fail
	}
	var n int64
	for id, s := range r.byID {
		if s.Expired(now) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

// ForAccount returns the account's sessions ordered by creation time.
func (r *SessionRepo) ForAccount(accountID string) []*sessiondomain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*sessiondomain.Session
	for _, s := range r.byID {
		if s.AccountID == accountID {
			c := *s
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ChallengeRepo is an in-memory MFA challenge repository.
type ChallengeRepo struct {
	mu   sync.Mutex
	byID map[string]*mfadomain.Challenge
	Fail error
}

func (r *ChallengeRepo) Create(ctx context.Context, c *mfadomain.Challenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	if _, taken := r.byID[c.ID]; taken {
		return store.ErrConflict
	}
	cp := *c
	r.byID[c.ID] = &cp
	return nil
}

func (r *ChallengeRepo) GetByID(ctx context.Context, id string) (*mfadomain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return nil, r.Fail
	}
	c, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (r *ChallengeRepo) DecrementAttempts(ctx context.Context, id string) (*mfadomain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return nil, r.Fail
	}
	c, ok := r.byID[id]
	if !ok || c.AttemptsRemaining <= 0 {
		return nil, nil
	}
	c.AttemptsRemaining--
	cp := *c
	return &cp, nil
}

func (r *ChallengeRepo) Consume(ctx context.Context, id string, now time.Time) (*mfadomain.Challenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return nil, r.Fail
	}
	c, ok := r.byID[id]
	if !ok || c.AttemptsRemaining <= 0 || c.Expired(now) {
		return nil, nil
	}
	delete(r.byID, id)
	return c, nil
}

func (r *ChallengeRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	delete(r.byID, id)
	return nil
}

func (r *ChallengeRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return 0, r.Fail
	}
	var n int64
	for id, c := range r.byID {
		if c.Expired(now) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

// AuditRepo is an in-memory audit log.
type AuditRepo struct {
	mu      sync.Mutex
	entries []*auditdomain.AuditLog
}

func (r *AuditRepo) Create(ctx context.Context, a *auditdomain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.entries = append(r.entries, &c)
	return nil
}

func (r *AuditRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]*auditdomain.AuditLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*auditdomain.AuditLog
	for i := len(r.entries) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if r.entries[i].AccountID == accountID {
			c := *r.entries[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

// Actions returns every recorded action for accountID in order. Tests use it to assert the
// event trail.
func (r *AuditRepo) Actions(accountID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.entries {
		if e.AccountID == accountID {
			out = append(out, e.Action)
		}
	}
	return out
}
