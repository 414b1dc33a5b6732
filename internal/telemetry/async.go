package telemetry

import (
	"context"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
)

// emitTimeout bounds one background emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long the server waits after GracefulStop for background
// emits and notification deliveries before shutting the OTel providers down.
const ShutdownDrainDuration = emitTimeout

// EmitAsync emits event in the background. The emit keeps ctx values (trace context) but
// not its cancellation, so an auth event still lands after the RPC returns. Nil emitter or
// event is a no-op; failures go to log.
func EmitAsync(ctx context.Context, emitter EventEmitter, event *Event, log logging.Logger) {
	if emitter == nil || event == nil {
		return
	}
	if log == nil {
		log = logging.Nop()
	}
	go func() {
		emitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			log.Warn(emitCtx, "telemetry: event emit failed", "type", event.Type, "error", err)
		}
	}()
}
