package repository

import (
	"context"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/session/domain"
)

// Repository defines persistence for sessions.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error)
	Delete(ctx context.Context, id string) error
	DeleteByAccount(ctx context.Context, accountID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
