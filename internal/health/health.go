// Package health reports readiness to the standard grpc.health.v1 service.
package health

import (
	"context"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
)

// Pinger checks connectivity to a backing store (e.g. *pgxpool.Pool via a PingContext adapter).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker verifies that the login policy engine can evaluate (e.g. the OPA evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// PingContext calls f(ctx).
func (f PingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// Checker runs readiness probes. Nil probes are skipped.
type Checker struct {
	db      Pinger
	cache   Pinger
	policy  PolicyChecker
	timeout time.Duration
	log     logging.Logger
}

// NewChecker returns a Checker. Any of db, cache and policy may be nil.
func NewChecker(db, cache Pinger, policy PolicyChecker, log logging.Logger) *Checker {
	if log == nil {
		log = logging.Nop()
	}
	return &Checker{db: db, cache: cache, policy: policy, timeout: 2 * time.Second, log: log}
}

// Status returns SERVING when every configured probe succeeds, NOT_SERVING otherwise.
func (c *Checker) Status(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if c.db != nil {
		if err := c.db.PingContext(ctx); err != nil {
			c.log.Warn(ctx, "health: database ping failed", "error", err)
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if c.cache != nil {
		if err := c.cache.PingContext(ctx); err != nil {
			c.log.Warn(ctx, "health: cache ping failed", "error", err)
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if c.policy != nil {
		if err := c.policy.HealthCheck(ctx); err != nil {
			c.log.Warn(ctx, "health: policy check failed", "error", err)
			return healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	return healthpb.HealthCheckResponse_SERVING
}

// Update sets the status of each service (and the overall "" service) on srv.
func (c *Checker) Update(ctx context.Context, srv *health.Server, services ...string) healthpb.HealthCheckResponse_ServingStatus {
	st := c.Status(ctx)
	srv.SetServingStatus("", st)
	for _, name := range services {
		srv.SetServingStatus(name, st)
	}
	return st
}

// Run calls Update every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, srv *health.Server, interval time.Duration, services ...string) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	c.Update(ctx, srv, services...)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Update(ctx, srv, services...)
		}
	}
}
