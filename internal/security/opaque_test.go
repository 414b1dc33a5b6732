package security

import (
	"encoding/base64"
	"testing"
)

func TestNewOpaqueToken(t *testing.T) {
	a, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	b, err := NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	if a == b {
		t.Fatal("two tokens should differ")
	}
	raw, err := base64.RawURLEncoding.DecodeString(a)
	if err != nil {
		t.Fatalf("token is not base64url: %v", err)
	}
	if len(raw) != 32 {
		t.Errorf("token entropy = %d bytes, want 32", len(raw))
	}
}

func TestHashToken_Consistent(t *testing.T) {
	hash1 := HashToken("token-123")
	hash2 := HashToken("token-123")
	if hash1 != hash2 {
		t.Errorf("HashToken not consistent: %q vs %q", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(hash1))
	}
	if HashToken("token-1") == HashToken("token-2") {
		t.Error("HashToken produced same hash for different tokens")
	}
}

func TestTokenHashEqual(t *testing.T) {
	stored := HashToken("abc")
	if !TokenHashEqual("abc", stored) {
		t.Error("expected match")
	}
	if TokenHashEqual("abd", stored) {
		t.Error("expected mismatch")
	}
	if TokenHashEqual("abc", "") {
		t.Error("empty stored hash must not match")
	}
}
