// Package telemetry carries authentication events and counters to OpenTelemetry.
package telemetry

import (
	"context"
	"time"
)

// Event is one authentication event (login success, lockout, password reset, ...).
type Event struct {
	Type      string
	AccountID string
	SessionID string
	// Source names the component that produced the event.
	Source string
	IP     string
	// Metadata is a JSON document; may be empty.
	Metadata  []byte
	CreatedAt time.Time
}

// EventEmitter emits events (e.g. as OTel log records). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *Event) error
}
