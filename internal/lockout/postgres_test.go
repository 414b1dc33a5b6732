package lockout

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
)

func newPostgresCounter(t *testing.T) (*PostgresCounter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresCounter(db), mock
}

func TestPostgresCounter_RecordFailure(t *testing.T) {
	c, mock := newPostgresCounter(t)
	mock.ExpectQuery(`INSERT INTO login_failures .* SELECT count\(\*\) \+ 1`).
		WithArgs("login:a@x.com", t0, t0.Add(-15*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))

	n, err := c.RecordFailure(context.Background(), "login:a@x.com", t0, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCounter_Failures(t *testing.T) {
	c, mock := newPostgresCounter(t)
	mock.ExpectQuery(`SELECT count\(\*\) FROM login_failures WHERE key = \$1`).
		WithArgs("login:a@x.com", t0.Add(-15*time.Minute), t0).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	n, err := c.Failures(context.Background(), "login:a@x.com", t0, 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestPostgresCounter_ResetAndDeleteBefore(t *testing.T) {
	c, mock := newPostgresCounter(t)
	mock.ExpectExec(`DELETE FROM login_failures WHERE key = \$1`).
		WithArgs("login:a@x.com").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM login_failures WHERE failed_at <= \$1`).
		WithArgs(t0).
		WillReturnResult(sqlmock.NewResult(0, 7))

	require.NoError(t, c.Reset(context.Background(), "login:a@x.com"))
	n, err := c.DeleteBefore(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCounter_ConnectionLossIsTransient(t *testing.T) {
	c, mock := newPostgresCounter(t)
	mock.ExpectQuery(`INSERT INTO login_failures`).WillReturnError(&net.OpError{Op: "read", Net: "tcp", Err: errors.New("connection reset by peer")})

	_, err := c.RecordFailure(context.Background(), "login:a@x.com", t0, time.Minute)
	assert.True(t, errors.Is(err, store.ErrUnavailable))
}
