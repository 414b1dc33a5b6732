package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		conflict    bool
		unavailable bool
	}{
		{"nil", nil, false, false},
		{"unique violation", &pgconn.PgError{Code: "23505"}, true, false},
		{"connection failure", &pgconn.PgError{Code: "08006"}, false, true},
		{"too many connections", &pgconn.PgError{Code: "53300"}, false, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, false, true},
		{"syntax error", &pgconn.PgError{Code: "42601"}, false, false},
		{"bad conn", driver.ErrBadConn, false, true},
		{"deadline", context.DeadlineExceeded, false, true},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, false, true},
		{"plain", errors.New("boom"), false, false},
		{"already classified", ErrConflict, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.conflict, errors.Is(got, ErrConflict))
			assert.Equal(t, tt.unavailable, errors.Is(got, ErrUnavailable))
			assert.ErrorIs(t, got, tt.err)
		})
	}
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(ErrUnavailable))
	assert.False(t, IsTransient(ErrConflict))
	assert.False(t, IsTransient(context.Canceled))
}
