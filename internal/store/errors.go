// Package store holds the error vocabulary shared by every persistence backend.
//
// Lookups return (nil, nil) for missing rows. Conditional writes report whether their
// guard held instead of failing. Errors are reserved for infrastructure problems and are
// classified here so callers can decide whether a retry is safe.
package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrConflict is returned when a write violates a uniqueness constraint (e.g. duplicate email).
	ErrConflict = errors.New("store: conflict")
	// ErrNotFound is returned by writes that target a row that does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrUnavailable wraps failures that are safe to retry (connection loss, timeouts).
	ErrUnavailable = errors.New("store: unavailable")
)

// pgUniqueViolation is the Postgres SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Classify maps driver errors onto the store vocabulary. Unique violations become
// ErrConflict; connection-level failures become ErrUnavailable. Other errors pass through.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotFound) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			return errors.Join(ErrConflict, err)
		}
		// Class 08 (connection exception), 53 (insufficient resources), 57P (operator intervention).
		if len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code[:2] == "53" || (len(pgErr.Code) >= 3 && pgErr.Code[:3] == "57P")) {
			return errors.Join(ErrUnavailable, err)
		}
		return err
	}
	if IsTransient(err) {
		return errors.Join(ErrUnavailable, err)
	}
	return err
}

// IsTransient reports whether err is a failure a caller may retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}
