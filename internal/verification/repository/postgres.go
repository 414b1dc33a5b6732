package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/db"
	"github.com/sawyelin/ylstack-auth-sub000/internal/store"
	"github.com/sawyelin/ylstack-auth-sub000/internal/verification/domain"
)

const tokenColumns = `id, account_id, purpose, token_hash, expires_at, consumed_at, consumed_by, created_at`

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a verification token repository that uses the given db.
func NewPostgresRepository(conn *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create persists the token. The token must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.Token) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO verification_tokens (id, account_id, purpose, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.AccountID, string(t.Purpose), t.TokenHash, t.ExpiresAt, t.CreatedAt)
	return store.Classify(err)
}

// RedeemEmailVerification locks the token and its account, activates a pending account and
// spends the token in one transaction.
func (r *PostgresRepository) RedeemEmailVerification(ctx context.Context, tokenHash, redemptionID string, now time.Time) (*domain.Redemption, error) {
	var out *domain.Redemption
	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		t, err := lockToken(ctx, tx, tokenHash, domain.PurposeEmailVerify)
		if err != nil || t == nil {
			return err
		}
		var status string
		err = tx.QueryRowContext(ctx, `SELECT status FROM accounts WHERE id = $1 FOR UPDATE`, t.AccountID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if t.RedeemedBy(redemptionID) {
			out = &domain.Redemption{Token: t, Activated: status == "active", Replayed: true}
			return nil
		}
		if !t.Usable(now) {
			return nil
		}
		var activated bool
		switch status {
		case "pending_verification":
			if _, err := tx.ExecContext(ctx, `UPDATE accounts SET status = 'active', updated_at = $2 WHERE id = $1`, t.AccountID, now); err != nil {
				return err
			}
			activated = true
		case "active":
		default:
			return nil
		}
		if err := spendToken(ctx, tx, t, redemptionID, now); err != nil {
			return err
		}
		out = &domain.Redemption{Token: t, Activated: activated}
		return nil
	})
	if err != nil {
		return nil, store.Classify(err)
	}
	return out, nil
}

// RedeemPasswordReset locks the token, replaces the credential and spends the token in one
// transaction.
func (r *PostgresRepository) RedeemPasswordReset(ctx context.Context, tokenHash, redemptionID, hash, algorithm string, now time.Time) (*domain.Redemption, error) {
	var out *domain.Redemption
	err := db.WithTx(ctx, r.db, nil, func(ctx context.Context, tx db.DBTX) error {
		t, err := lockToken(ctx, tx, tokenHash, domain.PurposePasswordReset)
		if err != nil || t == nil {
			return err
		}
		var version int64
		if t.RedeemedBy(redemptionID) {
			err := tx.QueryRowContext(ctx, `SELECT credential_version FROM accounts WHERE id = $1`, t.AccountID).Scan(&version)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return err
			}
			out = &domain.Redemption{Token: t, CredentialVersion: version, Replayed: true}
			return nil
		}
		if !t.Usable(now) {
			return nil
		}
		err = tx.QueryRowContext(ctx, `UPDATE accounts
			SET password_hash = $2, hash_algorithm = $3, credential_version = credential_version + 1, updated_at = $4
			WHERE id = $1 RETURNING credential_version`, t.AccountID, hash, algorithm, now).Scan(&version)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := spendToken(ctx, tx, t, redemptionID, now); err != nil {
			return err
		}
		out = &domain.Redemption{Token: t, CredentialVersion: version}
		return nil
	})
	if err != nil {
		return nil, store.Classify(err)
	}
	return out, nil
}

// DeleteExpired removes expired tokens.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM verification_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, store.Classify(err)
	}
	return res.RowsAffected()
}

// lockToken reads the token row FOR UPDATE, or returns nil when there is none.
func lockToken(ctx context.Context, tx db.DBTX, tokenHash string, purpose domain.Purpose) (*domain.Token, error) {
	var (
		t          domain.Token
		purp       string
		consumedAt sql.NullTime
		consumedBy sql.NullString
	)
	err := tx.QueryRowContext(ctx, `SELECT `+tokenColumns+` FROM verification_tokens
		WHERE token_hash = $1 AND purpose = $2 FOR UPDATE`, tokenHash, string(purpose)).
		Scan(&t.ID, &t.AccountID, &purp, &t.TokenHash, &t.ExpiresAt, &consumedAt, &consumedBy, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.Purpose = domain.Purpose(purp)
	if consumedAt.Valid {
		at := consumedAt.Time
		t.ConsumedAt = &at
	}
	t.ConsumedBy = consumedBy.String
	return &t, nil
}

func spendToken(ctx context.Context, tx db.DBTX, t *domain.Token, redemptionID string, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `UPDATE verification_tokens SET consumed_at = $2, consumed_by = $3 WHERE id = $1`,
		t.ID, now, redemptionID); err != nil {
		return err
	}
	at := now
	t.ConsumedAt = &at
	t.ConsumedBy = redemptionID
	return nil
}
