package lockout

import (
	"context"
	"database/sql"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/store"
)

// PostgresCounter stores one row per failure in login_failures.
type PostgresCounter struct {
	db *sql.DB
}

// NewPostgresCounter returns a Counter backed by db.
func NewPostgresCounter(db *sql.DB) *PostgresCounter {
	return &PostgresCounter{db: db}
}

// RecordFailure inserts the failure and counts in one statement. The CTE insert is not
// visible to the outer SELECT, hence the +1.
func (c *PostgresCounter) RecordFailure(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `WITH ins AS (INSERT INTO login_failures (key, failed_at) VALUES ($1, $2))
		SELECT count(*) + 1 FROM login_failures WHERE key = $1 AND failed_at > $3 AND failed_at <= $2`,
		key, at, at.Add(-window)).Scan(&n)
	if err != nil {
		return 0, store.Classify(err)
	}
	return n, nil
}

func (c *PostgresCounter) Failures(ctx context.Context, key string, at time.Time, window time.Duration) (int, error) {
	var n int
	err := c.db.QueryRowContext(ctx, `SELECT count(*) FROM login_failures WHERE key = $1 AND failed_at > $2 AND failed_at <= $3`,
		key, at.Add(-window), at).Scan(&n)
	if err != nil {
		return 0, store.Classify(err)
	}
	return n, nil
}

func (c *PostgresCounter) Reset(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM login_failures WHERE key = $1`, key)
	return store.Classify(err)
}

// DeleteBefore removes failures at or before cutoff. The reaper calls it with now-window.
func (c *PostgresCounter) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := c.db.ExecContext(ctx, `DELETE FROM login_failures WHERE failed_at <= $1`, cutoff)
	if err != nil {
		return 0, store.Classify(err)
	}
	return res.RowsAffected()
}
