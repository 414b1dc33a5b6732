package health

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type mockPinger struct {
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.pingErr
}

type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func TestChecker_Status(t *testing.T) {
	down := errors.New("connection refused")
	tests := []struct {
		name   string
		db     Pinger
		cache  Pinger
		policy PolicyChecker
		want   healthpb.HealthCheckResponse_ServingStatus
	}{
		{"no probes", nil, nil, nil, healthpb.HealthCheckResponse_SERVING},
		{"all healthy", &mockPinger{}, &mockPinger{}, &mockPolicyChecker{}, healthpb.HealthCheckResponse_SERVING},
		{"db down", &mockPinger{pingErr: down}, nil, nil, healthpb.HealthCheckResponse_NOT_SERVING},
		{"cache down", &mockPinger{}, PingFunc(func(context.Context) error { return down }), nil, healthpb.HealthCheckResponse_NOT_SERVING},
		{"policy broken", &mockPinger{}, nil, &mockPolicyChecker{healthErr: errors.New("rego compile failed")}, healthpb.HealthCheckResponse_NOT_SERVING},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(tt.db, tt.cache, tt.policy, nil)
			if got := c.Status(context.Background()); got != tt.want {
				t.Errorf("Status = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChecker_Update(t *testing.T) {
	srv := health.NewServer()
	db := &mockPinger{}
	c := NewChecker(db, nil, nil, nil)

	if got := c.Update(context.Background(), srv, "ylstack.auth.v1.AuthService"); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("Update = %v, want SERVING", got)
	}
	resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "ylstack.auth.v1.AuthService"})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("service status = %v, want SERVING", resp.GetStatus())
	}

	db.pingErr = errors.New("gone")
	c.Update(context.Background(), srv, "ylstack.auth.v1.AuthService")
	resp, err = srv.Check(context.Background(), &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("overall status = %v, want NOT_SERVING", resp.GetStatus())
	}
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	srv := health.NewServer()
	c := NewChecker(nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, srv, 0)
		close(done)
	}()
	cancel()
	<-done
}
