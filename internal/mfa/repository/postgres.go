package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/mfa/domain"
	"github.com/sawyelin/ylstack-auth-sub000/internal/store"
)

const challengeColumns = `id, account_id, credential_version, attempts_remaining, ip_address, expires_at, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an MFA challenge repository that uses the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the MFA challenge. The challenge must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Challenge) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO mfa_challenges (`+challengeColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.AccountID, c.CredentialVersion, c.AttemptsRemaining,
		sql.NullString{String: c.IPAddress, Valid: c.IPAddress != ""}, c.ExpiresAt, c.CreatedAt)
	return store.Classify(err)
}

// GetByID returns the MFA challenge for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Challenge, error) {
	return scanChallenge(r.db.QueryRowContext(ctx, `SELECT `+challengeColumns+` FROM mfa_challenges WHERE id = $1`, id))
}

// DecrementAttempts takes one attempt in a single guarded update.
func (r *PostgresRepository) DecrementAttempts(ctx context.Context, id string) (*domain.Challenge, error) {
	return scanChallenge(r.db.QueryRowContext(ctx, `UPDATE mfa_challenges SET attempts_remaining = attempts_remaining - 1
		WHERE id = $1 AND attempts_remaining > 0 RETURNING `+challengeColumns, id))
}

// Consume deletes the challenge if it is still usable, so exactly one verification succeeds.
func (r *PostgresRepository) Consume(ctx context.Context, id string, now time.Time) (*domain.Challenge, error) {
	return scanChallenge(r.db.QueryRowContext(ctx, `DELETE FROM mfa_challenges
		WHERE id = $1 AND attempts_remaining > 0 AND expires_at > $2 RETURNING `+challengeColumns, id, now))
}

// Delete removes the MFA challenge by id.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM mfa_challenges WHERE id = $1`, id)
	return store.Classify(err)
}

// DeleteExpired removes challenges whose expiry has passed, exhausted ones included.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM mfa_challenges WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, store.Classify(err)
	}
	return res.RowsAffected()
}

func scanChallenge(row *sql.Row) (*domain.Challenge, error) {
	var (
		c  domain.Challenge
		ip sql.NullString
	)
	err := row.Scan(&c.ID, &c.AccountID, &c.CredentialVersion, &c.AttemptsRemaining, &ip, &c.ExpiresAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, store.Classify(err)
	}
	c.IPAddress = ip.String
	return &c, nil
}
