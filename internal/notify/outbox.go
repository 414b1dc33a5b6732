package notify

import (
	"context"
	"sync"
)

// Outbox is a Notifier that keeps messages in memory, keyed by recipient. The server uses
// it in development so tokens can be read back without an SMTP relay; tests use it to
// capture what was sent.
type Outbox struct {
	mu   sync.RWMutex
	msgs map[string][]Message
}

// NewOutbox returns an empty Outbox.
func NewOutbox() *Outbox {
	return &Outbox{msgs: make(map[string][]Message)}
}

func (o *Outbox) SendEmailVerification(ctx context.Context, msg Message) error {
	msg.Kind = KindEmailVerification
	o.put(msg)
	return nil
}

func (o *Outbox) SendPasswordReset(ctx context.Context, msg Message) error {
	msg.Kind = KindPasswordReset
	o.put(msg)
	return nil
}

func (o *Outbox) put(msg Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.msgs[msg.To] = append(o.msgs[msg.To], msg)
}

// Last returns the most recent message of kind sent to `to`.
func (o *Outbox) Last(to string, kind Kind) (Message, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	msgs := o.msgs[to]
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Kind == kind {
			return msgs[i], true
		}
	}
	return Message{}, false
}

// Count returns how many messages of kind were sent to `to`.
func (o *Outbox) Count(to string, kind Kind) int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	n := 0
	for _, m := range o.msgs[to] {
		if m.Kind == kind {
			n++
		}
	}
	return n
}
