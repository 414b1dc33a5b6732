package telemetry

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	out := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				key := m.Name
				if v, ok := dp.Attributes.Value("outcome"); ok {
					key += "/" + v.AsString()
				}
				out[key] += dp.Value
			}
		}
	}
	return out
}

func TestAuthMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = mp.Shutdown(context.Background()) }()

	m, err := NewAuthMetrics(mp.Meter("test"))
	if err != nil {
		t.Fatalf("NewAuthMetrics: %v", err)
	}
	ctx := context.Background()
	m.Login(ctx, "ok")
	m.Login(ctx, "InvalidCredentials")
	m.Login(ctx, "InvalidCredentials")
	m.MFA(ctx, "InvalidCode")
	m.Signup(ctx)
	m.PasswordReset(ctx)
	m.SessionIssued(ctx)
	m.Lockout(ctx)

	got := collect(t, reader)
	want := map[string]int64{
		"auth.logins/ok":                     1,
		"auth.logins/InvalidCredentials":     2,
		"auth.mfa.verifications/InvalidCode": 1,
		"auth.signups":                       1,
		"auth.password_resets":               1,
		"auth.sessions.issued":               1,
		"auth.lockouts":                      1,
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %d, want %d (all: %v)", k, got[k], v, got)
		}
	}
}

func TestAuthMetrics_NilSafe(t *testing.T) {
	var m *AuthMetrics
	m.Login(context.Background(), "ok")
	m.Lockout(context.Background())

	noop, err := NewAuthMetrics(nil)
	if err != nil {
		t.Fatalf("NewAuthMetrics(nil): %v", err)
	}
	noop.Signup(context.Background())
}
