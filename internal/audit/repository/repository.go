package repository

import (
	"context"

	"github.com/sawyelin/ylstack-auth-sub000/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// ListByAccount returns the newest entries for accountID first, at most limit.
	ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.AuditLog, error)
}
