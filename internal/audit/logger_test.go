package audit

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sawyelin/ylstack-auth-sub000/internal/audit/domain"
	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
	"github.com/sawyelin/ylstack-auth-sub000/internal/telemetry"
)

// mockAuditRepo implements the audit repository for tests.
type mockAuditRepo struct {
	mu        sync.Mutex
	entries   []*domain.AuditLog
	createErr error
	ctxErr    error
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ctxErr = ctx.Err()
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByAccount(ctx context.Context, accountID string, limit int) ([]*domain.AuditLog, error) {
	return nil, nil
}

type chanEmitter chan *telemetry.Event

func (c chanEmitter) Emit(_ context.Context, e *telemetry.Event) error {
	c <- e
	return nil
}

func TestLogger_LogEvent_Success(t *testing.T) {
	repo := &mockAuditRepo{}
	events := make(chanEmitter, 1)
	logger := NewLogger(repo, events, func(context.Context) string { return "192.168.1.1" }, nil)

	logger.LogEvent(context.Background(), "acc-1", ActionLoginSuccess, map[string]string{"mfa": "false"})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.AccountID != "acc-1" {
		t.Errorf("account_id = %q, want %q", entry.AccountID, "acc-1")
	}
	if entry.Action != ActionLoginSuccess {
		t.Errorf("action = %q, want %q", entry.Action, ActionLoginSuccess)
	}
	if entry.IP != "192.168.1.1" {
		t.Errorf("ip = %q, want %q", entry.IP, "192.168.1.1")
	}
	if entry.Metadata != `{"mfa":"false"}` {
		t.Errorf("metadata = %q", entry.Metadata)
	}
	if entry.ID == "" || entry.CreatedAt.IsZero() {
		t.Error("entry ID and CreatedAt should be set")
	}

	select {
	case ev := <-events:
		if ev.Type != ActionLoginSuccess || ev.AccountID != "acc-1" || ev.IP != "192.168.1.1" {
			t.Errorf("emitted event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event was not emitted")
	}
}

func TestLogger_LogEvent_NilIPExtractor(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, nil, nil, nil)
	logger.LogEvent(context.Background(), "", ActionLoginFailure, nil)

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	if repo.entries[0].IP != "unknown" {
		t.Errorf("ip = %q, want %q", repo.entries[0].IP, "unknown")
	}
	if repo.entries[0].Metadata != "" {
		t.Errorf("metadata = %q, want empty", repo.entries[0].Metadata)
	}
}

func TestLogger_LogEvent_SurvivesCancelledContext(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger.LogEvent(ctx, "acc-1", ActionLogout, nil)
	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	if repo.ctxErr != nil {
		t.Errorf("write context should not be cancelled, got %v", repo.ctxErr)
	}
}

func TestLogger_LogEvent_RepositoryError(t *testing.T) {
	var buf bytes.Buffer
	repo := &mockAuditRepo{createErr: errors.New("database error")}
	logger := NewLogger(repo, nil, nil, logging.New(&buf, "info", "text"))

	logger.LogEvent(context.Background(), "acc-1", ActionSignup, nil)
	if !strings.Contains(buf.String(), "failed to write audit event") {
		t.Errorf("repository error should be logged:\n%s", buf.String())
	}
}

func TestLogger_LogEvent_NilRepo(t *testing.T) {
	logger := NewLogger(nil, nil, nil, nil)
	logger.LogEvent(context.Background(), "acc-1", ActionSignup, nil)
	Nop{}.LogEvent(context.Background(), "acc-1", ActionSignup, nil)
}
