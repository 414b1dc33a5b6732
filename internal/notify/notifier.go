// Package notify delivers verification and password-reset messages to account owners.
package notify

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies the message template.
type Kind string

const (
	KindEmailVerification Kind = "email_verification"
	KindPasswordReset     Kind = "password_reset"
)

// Message is one outbound notification. Token is the plaintext single-use token and must
// never be logged.
type Message struct {
	Kind        Kind
	To          string
	DisplayName string
	Token       string
	ExpiresAt   time.Time
}

// Notifier sends messages to account owners.
type Notifier interface {
	SendEmailVerification(ctx context.Context, msg Message) error
	SendPasswordReset(ctx context.Context, msg Message) error
}

// Deliver routes msg to the Notifier method for its kind.
func Deliver(ctx context.Context, n Notifier, msg Message) error {
	switch msg.Kind {
	case KindEmailVerification:
		return n.SendEmailVerification(ctx, msg)
	case KindPasswordReset:
		return n.SendPasswordReset(ctx, msg)
	default:
		return fmt.Errorf("notify: unknown message kind %q", msg.Kind)
	}
}
