package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	if err := e.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultPolicyAllows(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	got, err := e.EvaluateLogin(context.Background(), LoginInput{AccountID: "acc-1", Email: "a@x.com", Roles: []string{"user"}, Now: now})
	if err != nil {
		t.Fatalf("EvaluateLogin: %v", err)
	}
	if !got.Allow {
		t.Error("default policy should allow")
	}
	if got.SessionTTL != 0 {
		t.Errorf("SessionTTL = %v, want 0 (use configured)", got.SessionTTL)
	}
}

const customPolicy = `package ylstack.login

default allow := true
default session_ttl_seconds := 0
default reason := ""

allow := false if {
	input.request.ip == "203.0.113.9"
}

reason := "blocked network" if {
	input.request.ip == "203.0.113.9"
}

session_ttl_seconds := 3600 if {
	"admin" in input.account.roles
}
`

func TestOPAEvaluator_CustomPolicy(t *testing.T) {
	e, err := NewOPAEvaluator(context.Background(), customPolicy, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	tests := []struct {
		name      string
		in        LoginInput
		wantAllow bool
		wantTTL   time.Duration
		wantWhy   string
	}{
		{"plain user", LoginInput{Roles: []string{"user"}, IP: "10.0.0.1", Now: now}, true, 0, ""},
		{"admin gets short session", LoginInput{Roles: []string{"user", "admin"}, IP: "10.0.0.1", Now: now}, true, time.Hour, ""},
		{"denied network", LoginInput{Roles: []string{"user"}, IP: "203.0.113.9", Now: now}, false, 0, "blocked network"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.EvaluateLogin(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("EvaluateLogin: %v", err)
			}
			if got.Allow != tt.wantAllow {
				t.Errorf("Allow = %v, want %v", got.Allow, tt.wantAllow)
			}
			if got.SessionTTL != tt.wantTTL {
				t.Errorf("SessionTTL = %v, want %v", got.SessionTTL, tt.wantTTL)
			}
			if got.Reason != tt.wantWhy {
				t.Errorf("Reason = %q, want %q", got.Reason, tt.wantWhy)
			}
		})
	}
}

func TestOPAEvaluator_InvalidPolicy(t *testing.T) {
	if _, err := NewOPAEvaluator(context.Background(), "package ylstack.login\nallow := {", nil); err == nil {
		t.Fatal("expected compile error")
	}
}

func TestOPAEvaluator_EvalErrorFailsOpen(t *testing.T) {
	// Conflicting complete-rule values raise an evaluation error.
	policy := `package ylstack.login

allow := true if { input.request.ip != "" }
allow := false if { input.request.ip != "" }
`
	e, err := NewOPAEvaluator(context.Background(), policy, nil)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	got, err := e.EvaluateLogin(context.Background(), LoginInput{IP: "10.0.0.1", Now: now})
	if err != nil {
		t.Fatalf("EvaluateLogin should not return an error: %v", err)
	}
	if !got.Allow {
		t.Error("evaluation failure should fall back to allow")
	}
}

func TestLoadOPAEvaluator(t *testing.T) {
	path := filepath.Join(t.TempDir(), "login.rego")
	if err := os.WriteFile(path, []byte(customPolicy), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	e, err := LoadOPAEvaluator(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("LoadOPAEvaluator: %v", err)
	}
	got, _ := e.EvaluateLogin(context.Background(), LoginInput{IP: "203.0.113.9", Now: now})
	if got.Allow {
		t.Error("policy from file should deny")
	}

	if _, err := LoadOPAEvaluator(context.Background(), filepath.Join(t.TempDir(), "missing.rego"), nil); err == nil {
		t.Error("missing file: expected error")
	}
	if _, err := LoadOPAEvaluator(context.Background(), "", nil); err != nil {
		t.Errorf("empty path should use default policy: %v", err)
	}
}

func TestAllowAll(t *testing.T) {
	got, err := AllowAll{}.EvaluateLogin(context.Background(), LoginInput{})
	if err != nil || !got.Allow {
		t.Fatalf("AllowAll = %+v, %v", got, err)
	}
}
