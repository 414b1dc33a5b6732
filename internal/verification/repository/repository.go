package repository

import (
	"context"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/verification/domain"
)

// Repository defines persistence for single-use verification tokens.
//
// The redeem methods spend a token and apply its effect on the account in one atomic step.
// They return nil when the token is unknown, of another purpose, spent or expired. Calling
// again with the same redemptionID after a commit returns the committed redemption with
// Replayed set, so a caller may retry when the first reply was lost.
type Repository interface {
	Create(ctx context.Context, t *domain.Token) error
	// RedeemEmailVerification activates a pending account. Tokens for accounts that are
	// neither pending nor active are left unspent and reported as nil.
	RedeemEmailVerification(ctx context.Context, tokenHash, redemptionID string, now time.Time) (*domain.Redemption, error)
	// RedeemPasswordReset replaces the credential and bumps the credential version.
	RedeemPasswordReset(ctx context.Context, tokenHash, redemptionID, hash, algorithm string, now time.Time) (*domain.Redemption, error)
	// DeleteExpired removes tokens that expired before now and returns how many went.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
