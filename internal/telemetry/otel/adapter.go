package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/sawyelin/ylstack-auth-sub000/internal/telemetry"
)

const instrumentationName = "ylstack.auth"

// recordEmitter is the part of otellog.Logger the emitter needs.
type recordEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given
// LoggerProvider. If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(instrumentationName)}
}

// NewEventEmitterWithLogger returns an EventEmitter writing to l.
func NewEventEmitterWithLogger(l recordEmitter) telemetry.EventEmitter {
	if l == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: l}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *telemetry.Event) error { return nil }

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record. Metadata becomes the body; identifiers
// become attributes. Empty fields are omitted.
func (e *otelEmitter) Emit(ctx context.Context, event *telemetry.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetSeverity(otellog.SeverityInfo)
	if len(event.Metadata) > 0 {
		rec.SetBody(otellog.BytesValue(event.Metadata))
	}
	for _, kv := range []struct{ k, v string }{
		{"event_type", event.Type},
		{"account_id", event.AccountID},
		{"session_id", event.SessionID},
		{"source", event.Source},
		{"client_ip", event.IP},
	} {
		if kv.v != "" {
			rec.AddAttributes(otellog.String(kv.k, kv.v))
		}
	}
	e.logger.Emit(ctx, rec)
	return nil
}
