package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// SMTPConfig holds the SMTP relay settings.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// sender abstracts gomail.Dialer so tests can capture messages.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPNotifier sends plain-text mail through an SMTP relay.
type SMTPNotifier struct {
	dialer    sender
	from      string
	templates *Templates
}

// NewSMTPNotifier returns a notifier that renders with templates and relays through cfg.
func NewSMTPNotifier(cfg SMTPConfig, templates *Templates) *SMTPNotifier {
	return &SMTPNotifier{
		dialer:    gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		from:      cfg.From,
		templates: templates,
	}
}

func (s *SMTPNotifier) SendEmailVerification(ctx context.Context, msg Message) error {
	msg.Kind = KindEmailVerification
	if err := s.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send verification email: %w", err)
	}
	return nil
}

func (s *SMTPNotifier) SendPasswordReset(ctx context.Context, msg Message) error {
	msg.Kind = KindPasswordReset
	if err := s.send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send password reset email: %w", err)
	}
	return nil
}

// send renders msg and relays it. gomail has no context support, so the dial runs in a
// goroutine and ctx only bounds how long the caller waits.
func (s *SMTPNotifier) send(ctx context.Context, msg Message) error {
	subject, body, err := s.templates.Render(msg)
	if err != nil {
		return err
	}
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
