package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/account/domain"
	"github.com/sawyelin/ylstack-auth-sub000/internal/store"
)

const accountColumns = `id, email, display_name, status, password_hash, hash_algorithm, credential_version,
	roles, mfa_secret, mfa_enabled_at, mfa_last_step, created_at, updated_at, last_login_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the account for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return scanAccount(row)
}

// GetByEmail returns the account with the given (normalised) email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email)
	return scanAccount(row)
}

// Create persists the account. The account must have ID set; it is not assigned by this method.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.Account) error {
	roles, err := json.Marshal(a.Roles)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO accounts (id, email, display_name, status, password_hash, hash_algorithm,
		credential_version, roles, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)`,
		a.ID, a.Email, nullString(a.DisplayName), string(a.Status), a.PasswordHash, a.HashAlgorithm,
		a.CredentialVersion, string(roles), a.CreatedAt, a.UpdatedAt)
	return store.Classify(err)
}

// RehashCredential replaces the hash only if it still equals oldHash, so a concurrent reset wins.
func (r *PostgresRepository) RehashCredential(ctx context.Context, id, oldHash, newHash, algorithm string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET password_hash = $3, hash_algorithm = $4, updated_at = $5
		WHERE id = $1 AND password_hash = $2`, id, oldHash, newHash, algorithm, at)
	return affected(res, err)
}

// RecordLogin sets last_login_at.
func (r *PostgresRepository) RecordLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE accounts SET last_login_at = $2 WHERE id = $1`, id, at)
	return store.Classify(err)
}

// SetMFASecret stores a pending secret unless MFA is already enabled.
func (r *PostgresRepository) SetMFASecret(ctx context.Context, id, secret string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET mfa_secret = $2, updated_at = $3
		WHERE id = $1 AND mfa_enabled_at IS NULL`, id, secret, at)
	return affected(res, err)
}

// EnableMFA marks the pending secret as confirmed.
func (r *PostgresRepository) EnableMFA(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET mfa_enabled_at = $2, updated_at = $2
		WHERE id = $1 AND mfa_secret IS NOT NULL AND mfa_enabled_at IS NULL`, id, at)
	return affected(res, err)
}

// ClaimMFAStep records step as the last accepted TOTP time step if it is newer than the
// stored one. A false result means the code was already used.
func (r *PostgresRepository) ClaimMFAStep(ctx context.Context, id string, step int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE accounts SET mfa_last_step = $2 WHERE id = $1 AND mfa_last_step < $2`, id, step)
	return affected(res, err)
}

// DisableMFA clears the secret and the enabled flag.
func (r *PostgresRepository) DisableMFA(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE accounts SET mfa_secret = NULL, mfa_enabled_at = NULL, updated_at = $2
		WHERE id = $1`, id, at)
	return store.Classify(err)
}

func scanAccount(row *sql.Row) (*domain.Account, error) {
	var (
		a           domain.Account
		status      string
		displayName sql.NullString
		roles       []byte
		mfaSecret   sql.NullString
		mfaEnabled  sql.NullTime
		lastLogin   sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Email, &displayName, &status, &a.PasswordHash, &a.HashAlgorithm, &a.CredentialVersion,
		&roles, &mfaSecret, &mfaEnabled, &a.MFALastStep, &a.CreatedAt, &a.UpdatedAt, &lastLogin)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, store.Classify(err)
	}
	a.Status = domain.Status(status)
	a.DisplayName = displayName.String
	a.MFASecret = mfaSecret.String
	a.MFAEnabledAt = nullTimeToPtr(mfaEnabled)
	a.LastLoginAt = nullTimeToPtr(lastLogin)
	if len(roles) > 0 {
		if err := json.Unmarshal(roles, &a.Roles); err != nil {
			return nil, err
		}
	}
	return &a, nil
}

func affected(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, store.Classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}
