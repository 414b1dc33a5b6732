package repository

import (
	"context"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/account/domain"
)

// Repository defines persistence for accounts. Status activation and credential replacement
// happen through verification token redemption. Conditional updates report whether their
// guard held; they never fail just because the guard did not.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	// Create inserts a; returns store.ErrConflict when the email is taken.
	Create(ctx context.Context, a *domain.Account) error
	// RehashCredential swaps oldHash for newHash without touching the credential version.
	RehashCredential(ctx context.Context, id, oldHash, newHash, algorithm string, at time.Time) (bool, error)
	RecordLogin(ctx context.Context, id string, at time.Time) error
	// SetMFASecret stores a pending TOTP secret; refused once MFA is enabled.
	SetMFASecret(ctx context.Context, id, secret string, at time.Time) (bool, error)
	// EnableMFA confirms the pending secret; refused when there is none or MFA is already on.
	EnableMFA(ctx context.Context, id string, at time.Time) (bool, error)
	// ClaimMFAStep advances the last accepted TOTP time step; false when step is not newer.
	ClaimMFAStep(ctx context.Context, id string, step int64) (bool, error)
	DisableMFA(ctx context.Context, id string, at time.Time) error
}
