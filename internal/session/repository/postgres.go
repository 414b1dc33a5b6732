package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/session/domain"
	"github.com/sawyelin/ylstack-auth-sub000/internal/store"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session to the database. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO sessions (id, account_id, token_hash, credential_version, ip_address, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.AccountID, s.TokenHash, s.CredentialVersion,
		sql.NullString{String: s.IPAddress, Valid: s.IPAddress != ""}, s.ExpiresAt, s.CreatedAt)
	return store.Classify(err)
}

// GetByTokenHash returns the session whose bearer hashes to tokenHash, or nil if not found.
// Expired rows are returned as-is; the caller decides what to do with them.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Session, error) {
	var (
		s  domain.Session
		ip sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, account_id, token_hash, credential_version, ip_address, expires_at, created_at
		FROM sessions WHERE token_hash = $1`, tokenHash).
		Scan(&s.ID, &s.AccountID, &s.TokenHash, &s.CredentialVersion, &ip, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, store.Classify(err)
	}
	s.IPAddress = ip.String
	return &s, nil
}

// Delete removes the session with the given id. Deleting a missing session is not an error.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return store.Classify(err)
}

// DeleteByAccount removes every session of the account.
func (r *PostgresRepository) DeleteByAccount(ctx context.Context, accountID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE account_id = $1`, accountID)
	if err != nil {
		return 0, store.Classify(err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes sessions whose expiry has passed.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, store.Classify(err)
	}
	return res.RowsAffected()
}
