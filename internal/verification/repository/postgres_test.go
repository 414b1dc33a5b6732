package repository

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawyelin/ylstack-auth-sub000/internal/store"
	"github.com/sawyelin/ylstack-auth-sub000/internal/verification/domain"
)

var tokenRowColumns = []string{"id", "account_id", "purpose", "token_hash", "expires_at", "consumed_at", "consumed_by", "created_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewPostgresRepository(conn), mock
}

func expectLockToken(mock sqlmock.Sqlmock, purpose domain.Purpose, rows *sqlmock.Rows) {
	mock.ExpectQuery(`SELECT .+ FROM verification_tokens\s+WHERE token_hash = \$1 AND purpose = \$2 FOR UPDATE`).
		WithArgs("hash", string(purpose)).
		WillReturnRows(rows)
}

func TestRedeemEmailVerification_ActivatesAndSpends(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectLockToken(mock, domain.PurposeEmailVerify, sqlmock.NewRows(tokenRowColumns).
		AddRow("t1", "acc-1", "email_verify", "hash", now.Add(time.Hour), nil, nil, now.Add(-time.Hour)))
	mock.ExpectQuery(`SELECT status FROM accounts WHERE id = \$1 FOR UPDATE`).WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("pending_verification"))
	mock.ExpectExec(`UPDATE accounts SET status = 'active'`).WithArgs("acc-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE verification_tokens SET consumed_at = \$2, consumed_by = \$3 WHERE id = \$1`).
		WithArgs("t1", now, "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	red, err := repo.RedeemEmailVerification(context.Background(), "hash", "r1", now)
	require.NoError(t, err)
	require.NotNil(t, red)
	assert.True(t, red.Activated)
	assert.False(t, red.Replayed)
	assert.Equal(t, "acc-1", red.Token.AccountID)
	assert.Equal(t, "r1", red.Token.ConsumedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemEmailVerification_BlockedAccountKeepsToken(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectLockToken(mock, domain.PurposeEmailVerify, sqlmock.NewRows(tokenRowColumns).
		AddRow("t1", "acc-1", "email_verify", "hash", now.Add(time.Hour), nil, nil, now.Add(-time.Hour)))
	mock.ExpectQuery(`SELECT status FROM accounts`).WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("blocked"))
	mock.ExpectCommit()

	red, err := repo.RedeemEmailVerification(context.Background(), "hash", "r1", now)
	require.NoError(t, err)
	assert.Nil(t, red)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemEmailVerification_ReplayReturnsCommittedResult(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectLockToken(mock, domain.PurposeEmailVerify, sqlmock.NewRows(tokenRowColumns).
		AddRow("t1", "acc-1", "email_verify", "hash", now.Add(time.Hour), now, "r1", now.Add(-time.Hour)))
	mock.ExpectQuery(`SELECT status FROM accounts`).WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectCommit()

	red, err := repo.RedeemEmailVerification(context.Background(), "hash", "r1", now.Add(time.Second))
	require.NoError(t, err)
	require.NotNil(t, red)
	assert.True(t, red.Replayed)
	assert.True(t, red.Activated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemEmailVerification_SpentByAnother(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectLockToken(mock, domain.PurposeEmailVerify, sqlmock.NewRows(tokenRowColumns).
		AddRow("t1", "acc-1", "email_verify", "hash", now.Add(time.Hour), now, "r0", now.Add(-time.Hour)))
	mock.ExpectQuery(`SELECT status FROM accounts`).WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("active"))
	mock.ExpectCommit()

	red, err := repo.RedeemEmailVerification(context.Background(), "hash", "r1", now)
	require.NoError(t, err)
	assert.Nil(t, red)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemEmailVerification_UnknownToken(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectBegin()
	expectLockToken(mock, domain.PurposeEmailVerify, sqlmock.NewRows(tokenRowColumns))
	mock.ExpectCommit()

	red, err := repo.RedeemEmailVerification(context.Background(), "hash", "r1", time.Now())
	require.NoError(t, err)
	assert.Nil(t, red)
}

func TestRedeemPasswordReset_ReplacesCredentialAndSpends(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectLockToken(mock, domain.PurposePasswordReset, sqlmock.NewRows(tokenRowColumns).
		AddRow("t1", "acc-1", "password_reset", "hash", now.Add(time.Hour), nil, nil, now.Add(-time.Hour)))
	mock.ExpectQuery(`UPDATE accounts\s+SET password_hash = \$2, hash_algorithm = \$3, credential_version = credential_version \+ 1`).
		WithArgs("acc-1", "newhash", "argon2id", now).
		WillReturnRows(sqlmock.NewRows([]string{"credential_version"}).AddRow(int64(3)))
	mock.ExpectExec(`UPDATE verification_tokens SET consumed_at`).WithArgs("t1", now, "r1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	red, err := repo.RedeemPasswordReset(context.Background(), "hash", "r1", "newhash", "argon2id", now)
	require.NoError(t, err)
	require.NotNil(t, red)
	assert.Equal(t, int64(3), red.CredentialVersion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemPasswordReset_ExpiredTokenChangesNothing(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectLockToken(mock, domain.PurposePasswordReset, sqlmock.NewRows(tokenRowColumns).
		AddRow("t1", "acc-1", "password_reset", "hash", now, nil, nil, now.Add(-time.Hour)))
	mock.ExpectCommit()

	red, err := repo.RedeemPasswordReset(context.Background(), "hash", "r1", "newhash", "bcrypt", now)
	require.NoError(t, err)
	assert.Nil(t, red)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemPasswordReset_FailureRollsBack(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	expectLockToken(mock, domain.PurposePasswordReset, sqlmock.NewRows(tokenRowColumns).
		AddRow("t1", "acc-1", "password_reset", "hash", now.Add(time.Hour), nil, nil, now.Add(-time.Hour)))
	mock.ExpectQuery(`UPDATE accounts`).
		WillReturnRows(sqlmock.NewRows([]string{"credential_version"}).AddRow(int64(2)))
	mock.ExpectExec(`UPDATE verification_tokens SET consumed_at`).
		WillReturnError(&net.OpError{Op: "write", Net: "tcp", Err: errors.New("connection reset")})
	mock.ExpectRollback()

	red, err := repo.RedeemPasswordReset(context.Background(), "hash", "r1", "newhash", "bcrypt", now)
	assert.Nil(t, red)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteExpired(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	mock.ExpectExec(`DELETE FROM verification_tokens WHERE expires_at <= \$1`).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := repo.DeleteExpired(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
