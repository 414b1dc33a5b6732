package repository

import (
	"context"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/mfa/domain"
)

// Repository defines persistence for MFA challenges.
type Repository interface {
	Create(ctx context.Context, c *domain.Challenge) error
	GetByID(ctx context.Context, id string) (*domain.Challenge, error)
	// DecrementAttempts atomically takes one attempt from a challenge that still has some
	// and returns the updated record, or nil when none were left (or it does not exist).
	DecrementAttempts(ctx context.Context, id string) (*domain.Challenge, error)
	// Consume atomically deletes a challenge that still has attempts and is unexpired at
	// now, returning it; nil means another caller won or the guard failed.
	Consume(ctx context.Context, id string, now time.Time) (*domain.Challenge, error)
	Delete(ctx context.Context, id string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
