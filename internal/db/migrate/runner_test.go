package migrate

import (
	"errors"
	"strings"
	"testing"
)

func TestRun_EmptyDSN(t *testing.T) {
	_, err := Run(Options{Direction: DirectionUp})
	if err == nil {
		t.Fatal("Run with empty DSN should return error")
	}
	if !strings.Contains(err.Error(), "DATABASE_URL is not set") {
		t.Errorf("error message = %q, should mention DATABASE_URL", err.Error())
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, direction := range []string{"", "invalid", "UP", "Down", "both"} {
		t.Run(direction, func(t *testing.T) {
			_, err := Run(Options{DSN: "postgres://localhost/test", Direction: direction})
			if err == nil {
				t.Fatalf("Run with direction %q should return error", direction)
			}
			if !strings.Contains(err.Error(), "direction") {
				t.Errorf("error %q should mention direction", err.Error())
			}
		})
	}
}

func TestRun_InvalidSteps(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want string
	}{
		{"negative", Options{DSN: "postgres://localhost/test", Direction: DirectionUp, Steps: -1}, "negative"},
		{"with version", Options{DSN: "postgres://localhost/test", Direction: DirectionVersion, Steps: 2}, "version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	for _, dsn := range []string{"invalid-dsn", "://localhost/test"} {
		if _, err := Run(Options{DSN: dsn, Direction: DirectionUp}); err == nil {
			t.Errorf("Run with invalid DSN %q should return error", dsn)
		}
	}
}

func TestErrNoChange(t *testing.T) {
	if ErrNoChange == nil {
		t.Fatal("ErrNoChange should not be nil")
	}
	if !errors.Is(ErrNoChange, ErrNoChange) {
		t.Error("ErrNoChange should be errors.Is compatible")
	}
}
