package notify

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"gopkg.in/gomail.v2"

	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
)

var expires = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func TestTemplates_RenderDefaults(t *testing.T) {
	tpl, err := NewTemplates("https://app.example.com/")
	if err != nil {
		t.Fatalf("NewTemplates: %v", err)
	}
	subject, body, err := tpl.Render(Message{Kind: KindPasswordReset, To: "a@x.com", Token: "tok+/=", ExpiresAt: expires})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if subject != "Reset your password" {
		t.Errorf("subject = %q", subject)
	}
	if !strings.Contains(body, "https://app.example.com/reset-password?token=tok%2B%2F%3D") {
		t.Errorf("body missing escaped link:\n%s", body)
	}
	if !strings.Contains(body, "Hi a@x.com") {
		t.Errorf("display name should fall back to email:\n%s", body)
	}
	if !strings.Contains(body, "2026-03-02 10:00 UTC") {
		t.Errorf("body missing expiry:\n%s", body)
	}
}

func TestLoadTemplates_Overrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	yaml := "email_verification:\n  subject: \"Welcome {{.Name}}\"\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	tpl, err := LoadTemplates(path, "http://localhost")
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	subject, body, err := tpl.Render(Message{Kind: KindEmailVerification, To: "a@x.com", DisplayName: "Ana", Token: "t", ExpiresAt: expires})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if subject != "Welcome Ana" {
		t.Errorf("subject = %q, want override", subject)
	}
	if !strings.Contains(body, "http://localhost/verify-email?token=t") {
		t.Errorf("body should keep default template:\n%s", body)
	}
}

func TestLoadTemplates_Errors(t *testing.T) {
	if _, err := LoadTemplates(filepath.Join(t.TempDir(), "missing.yaml"), ""); err == nil {
		t.Error("missing file: expected error")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	_ = os.WriteFile(path, []byte("password_reset:\n  body: \"{{.Nope\"\n"), 0o600)
	if _, err := LoadTemplates(path, ""); err == nil {
		t.Error("bad template: expected error")
	}
}

type captureSender struct {
	mu   sync.Mutex
	msgs []*gomail.Message
	err  error
	wait chan struct{}
}

func (c *captureSender) DialAndSend(m ...*gomail.Message) error {
	if c.wait != nil {
		<-c.wait
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, m...)
	return c.err
}

func TestSMTPNotifier_Send(t *testing.T) {
	tpl, _ := NewTemplates("https://app")
	snd := &captureSender{}
	n := &SMTPNotifier{dialer: snd, from: "no-reply@app", templates: tpl}

	if err := n.SendEmailVerification(context.Background(), Message{To: "a@x.com", Token: "abc", ExpiresAt: expires}); err != nil {
		t.Fatalf("SendEmailVerification: %v", err)
	}
	if len(snd.msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(snd.msgs))
	}
	m := snd.msgs[0]
	if got := m.GetHeader("To"); len(got) != 1 || got[0] != "a@x.com" {
		t.Errorf("To = %v", got)
	}
	if got := m.GetHeader("Subject"); len(got) != 1 || got[0] != "Verify your email address" {
		t.Errorf("Subject = %v", got)
	}
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if !strings.Contains(buf.String(), "https://app/verify-email") {
		t.Errorf("message missing link:\n%s", buf.String())
	}
}

func TestSMTPNotifier_RelayError(t *testing.T) {
	tpl, _ := NewTemplates("https://app")
	n := &SMTPNotifier{dialer: &captureSender{err: errors.New("550 rejected")}, from: "no-reply@app", templates: tpl}
	err := n.SendPasswordReset(context.Background(), Message{To: "a@x.com", Token: "abc", ExpiresAt: expires})
	if err == nil || !strings.Contains(err.Error(), "550 rejected") {
		t.Fatalf("err = %v, want relay error", err)
	}
}

func TestSMTPNotifier_ContextBoundsWait(t *testing.T) {
	tpl, _ := NewTemplates("https://app")
	block := make(chan struct{})
	defer close(block)
	n := &SMTPNotifier{dialer: &captureSender{wait: block}, from: "no-reply@app", templates: tpl}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := n.SendPasswordReset(ctx, Message{To: "a@x.com", Token: "abc", ExpiresAt: expires})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestOutbox(t *testing.T) {
	o := NewOutbox()
	ctx := context.Background()
	_ = o.SendEmailVerification(ctx, Message{To: "a@x.com", Token: "v1"})
	_ = o.SendEmailVerification(ctx, Message{To: "a@x.com", Token: "v2"})
	_ = o.SendPasswordReset(ctx, Message{To: "a@x.com", Token: "r1"})

	if got := o.Count("a@x.com", KindEmailVerification); got != 2 {
		t.Errorf("Count = %d, want 2", got)
	}
	m, ok := o.Last("a@x.com", KindEmailVerification)
	if !ok || m.Token != "v2" {
		t.Errorf("Last = %+v, %v", m, ok)
	}
	if _, ok := o.Last("b@x.com", KindPasswordReset); ok {
		t.Error("unknown recipient should have no messages")
	}
}

func TestDeliver_UnknownKind(t *testing.T) {
	if err := Deliver(context.Background(), NewOutbox(), Message{Kind: "sms"}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestLogNotifier_OmitsToken(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(logging.New(&buf, "info", "text"))
	_ = n.SendPasswordReset(context.Background(), Message{To: "a@x.com", Token: "super-secret-token"})
	if strings.Contains(buf.String(), "super-secret-token") {
		t.Fatalf("token leaked into log:\n%s", buf.String())
	}
	if !strings.Contains(buf.String(), "a@x.com") {
		t.Errorf("log missing recipient:\n%s", buf.String())
	}
}

type failingNotifier struct{}

func (failingNotifier) SendEmailVerification(context.Context, Message) error {
	return errors.New("relay down")
}
func (failingNotifier) SendPasswordReset(context.Context, Message) error {
	return errors.New("relay down")
}

func TestDispatcher_DeliversAsync(t *testing.T) {
	o := NewOutbox()
	d := NewDispatcher(o, time.Second, nil)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, Message{Kind: KindPasswordReset, To: "a@x.com", Token: "t"})
	cancel()

	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if o.Count("a@x.com", KindPasswordReset) != 1 {
		t.Fatal("message not delivered despite caller cancellation")
	}

	d.Dispatch(context.Background(), Message{Kind: KindPasswordReset, To: "a@x.com", Token: "late"})
	if o.Count("a@x.com", KindPasswordReset) != 1 {
		t.Fatal("message dispatched after Close should be dropped")
	}
}

func TestDispatcher_FailureIsLoggedNotReturned(t *testing.T) {
	var buf bytes.Buffer
	d := NewDispatcher(Multi{failingNotifier{}, NewOutbox()}, time.Second, logging.New(&buf, "info", "text"))
	var (
		mu  sync.Mutex
		got error
	)
	d.onDone = func(_ Message, err error) {
		mu.Lock()
		got = err
		mu.Unlock()
	}
	d.Dispatch(context.Background(), Message{Kind: KindEmailVerification, To: "a@x.com", Token: "t"})
	if err := d.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("expected delivery error")
	}
	if !strings.Contains(buf.String(), "notification delivery failed") {
		t.Errorf("failure not logged:\n%s", buf.String())
	}
}

func TestDispatcher_CloseHonoursContext(t *testing.T) {
	tpl, _ := NewTemplates("https://app")
	block := make(chan struct{})
	defer close(block)
	n := &SMTPNotifier{dialer: &captureSender{wait: block}, from: "f", templates: tpl}
	d := NewDispatcher(n, time.Hour, nil)
	d.Dispatch(context.Background(), Message{Kind: KindPasswordReset, To: "a@x.com", Token: "t"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Close = %v, want DeadlineExceeded", err)
	}
}
