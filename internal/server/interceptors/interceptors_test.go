package interceptors

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/sawyelin/ylstack-auth-sub000/internal/identity/service"
	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
)

type mockValidator struct {
	info  *service.SessionInfo
	err   error
	calls int
	token string
}

func (m *mockValidator) ValidateSession(_ context.Context, token string) (*service.SessionInfo, error) {
	m.calls++
	m.token = token
	return m.info, m.err
}

func withBearer(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
}

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "success", nil
}

func TestAuthUnary_PublicMethod(t *testing.T) {
	v := &mockValidator{err: service.ErrSessionExpiredOrInvalid}
	interceptor := AuthUnary(v, map[string]bool{"/test.Service/Public": true})

	resp, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Public"}, okHandler)
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if resp != "success" {
		t.Errorf("response = %v, want success", resp)
	}
	if v.calls != 0 {
		t.Errorf("public method should not validate, calls = %d", v.calls)
	}
}

func TestAuthUnary_ProtectedMethod_NoToken(t *testing.T) {
	interceptor := AuthUnary(&mockValidator{}, nil)
	_, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestAuthUnary_ProtectedMethod_ValidSession(t *testing.T) {
	v := &mockValidator{info: &service.SessionInfo{SessionID: "sess-1", AccountID: "acct-1", Email: "a@x.com", Roles: []string{"user"}}}
	interceptor := AuthUnary(v, nil)

	var got Identity
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		got, _ = IdentityFrom(ctx)
		return "success", nil
	}
	if _, err := interceptor(withBearer("tok-1"), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if v.token != "tok-1" {
		t.Errorf("validated token = %q, want tok-1", v.token)
	}
	if got.AccountID != "acct-1" || got.SessionID != "sess-1" || got.Email != "a@x.com" {
		t.Errorf("identity = %+v", got)
	}
}

func TestAuthUnary_ProtectedMethod_InvalidSession(t *testing.T) {
	interceptor := AuthUnary(&mockValidator{err: service.ErrSessionExpiredOrInvalid}, nil)
	_, err := interceptor(withBearer("stale"), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestAuthUnary_ProtectedMethod_StoreUnavailable(t *testing.T) {
	interceptor := AuthUnary(&mockValidator{err: service.ErrTransient}, nil)
	_, err := interceptor(withBearer("tok"), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, okHandler)
	if status.Code(err) != codes.Unavailable {
		t.Fatalf("code = %v, want Unavailable", status.Code(err))
	}
}

func TestAuthUnary_NilValidator(t *testing.T) {
	interceptor := AuthUnary(nil, nil)
	_, err := interceptor(withBearer("tok"), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want Unauthenticated", status.Code(err))
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"valid", "Bearer abc", "abc"},
		{"case insensitive", "bEaReR abc", "abc"},
		{"whitespace", "  Bearer   abc  ", "abc"},
		{"wrong scheme", "Basic abc", ""},
		{"too short", "Bear", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", tt.value))
			if got := BearerToken(ctx); got != tt.want {
				t.Errorf("BearerToken(%q) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
	if got := BearerToken(context.Background()); got != "" {
		t.Errorf("BearerToken without metadata = %q", got)
	}
}

func TestRecoveryUnary(t *testing.T) {
	interceptor := RecoveryUnary(logging.Nop())
	panicky := func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("boom")
	}
	resp, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Panics"}, panicky)
	if resp != nil {
		t.Errorf("resp = %v, want nil", resp)
	}
	if status.Code(err) != codes.Internal {
		t.Fatalf("code = %v, want Internal", status.Code(err))
	}

	resp, err = interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/OK"}, okHandler)
	if err != nil || resp != "success" {
		t.Fatalf("resp, err = %v, %v", resp, err)
	}
}

func TestLoggingUnary_PassesThrough(t *testing.T) {
	interceptor := LoggingUnary(logging.Nop(), map[string]bool{"/test.Service/Skip": true})
	wantErr := status.Error(codes.Unauthenticated, "nope")
	failing := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, wantErr
	}
	for _, method := range []string{"/test.Service/Logged", "/test.Service/Skip"} {
		_, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: method}, failing)
		if !errors.Is(err, wantErr) {
			t.Errorf("%s: err = %v, want %v", method, err, wantErr)
		}
	}
	resp, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Logged"}, okHandler)
	if err != nil || resp != "success" {
		t.Fatalf("resp, err = %v, %v", resp, err)
	}
}

func TestLoggingUnary_SeesIdentitySetDownstream(t *testing.T) {
	var slot *Identity
	logIt := LoggingUnary(logging.Nop(), nil)
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		slot, _ = ctx.Value(slotKey).(*Identity)
		WithIdentity(ctx, Identity{AccountID: "acct-9"})
		return "success", nil
	}
	if _, err := logIt(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/test.Service/M"}, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if slot == nil || slot.AccountID != "acct-9" {
		t.Fatalf("slot = %+v, want account acct-9", slot)
	}
}
