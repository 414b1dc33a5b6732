package notify

import (
	"context"
	"sync"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
)

// DefaultTimeout bounds a single delivery when the dispatcher is built with zero.
const DefaultTimeout = 10 * time.Second

// Dispatcher delivers messages in the background so the caller's transition never waits on
// (or fails because of) the mail relay. Failures are logged and dropped.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      logging.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
	// onDone, when set, is called after every delivery attempt. Tests use it to synchronise.
	onDone func(Message, error)
}

// NewDispatcher returns a Dispatcher sending through n with a per-message timeout.
func NewDispatcher(n Notifier, timeout time.Duration, log logging.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Dispatcher{notifier: n, timeout: timeout, log: log.With("component", "notify")}
}

// Dispatch queues msg for delivery and returns immediately. Request cancellation does not
// abort an in-flight delivery; values on ctx (trace spans) are kept. After Close, Dispatch
// drops messages.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn(ctx, "dispatcher closed, dropping message", "kind", msg.Kind, "to", msg.To)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		err := Deliver(sendCtx, d.notifier, msg)
		if err != nil {
			d.log.Error(sendCtx, "notification delivery failed", "kind", msg.Kind, "to", msg.To, "error", err)
		}
		if d.onDone != nil {
			d.onDone(msg, err)
		}
	}()
}

// Close stops accepting messages and waits for in-flight deliveries or ctx, whichever is first.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
