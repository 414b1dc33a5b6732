package notify

import (
	"context"

	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
)

// LogNotifier records that a message would have been sent. The token is not logged.
type LogNotifier struct {
	log logging.Logger
}

// NewLogNotifier returns a LogNotifier writing to log.
func NewLogNotifier(log logging.Logger) *LogNotifier {
	return &LogNotifier{log: log.With("component", "notify")}
}

func (l *LogNotifier) SendEmailVerification(ctx context.Context, msg Message) error {
	l.log.Info(ctx, "email verification message", "to", msg.To, "expires_at", msg.ExpiresAt)
	return nil
}

func (l *LogNotifier) SendPasswordReset(ctx context.Context, msg Message) error {
	l.log.Info(ctx, "password reset message", "to", msg.To, "expires_at", msg.ExpiresAt)
	return nil
}

// Multi fans a message out to several notifiers and returns the first error.
type Multi []Notifier

func (m Multi) SendEmailVerification(ctx context.Context, msg Message) error {
	var first error
	for _, n := range m {
		if err := n.SendEmailVerification(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m Multi) SendPasswordReset(ctx context.Context, msg Message) error {
	var first error
	for _, n := range m {
		if err := n.SendPasswordReset(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}
