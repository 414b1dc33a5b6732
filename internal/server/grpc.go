package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	identityhandler "github.com/sawyelin/ylstack-auth-sub000/internal/identity/handler"
	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
	"github.com/sawyelin/ylstack-auth-sub000/internal/server/interceptors"
)

// Deps holds optional service dependencies for gRPC handlers.
type Deps struct {
	// Auth is the identity service. If nil, auth RPCs return Unimplemented (Logout still succeeds).
	Auth identityhandler.AuthService
	// Sessions validates bearer tokens for protected RPCs. Usually the same value as Auth.
	Sessions interceptors.SessionValidator
	// Health is the grpc.health.v1 server. If nil, a new one is created and left SERVING.
	Health *health.Server
	// Log receives one line per RPC and any recovered panics.
	Log logging.Logger
}

// healthMethods are always public.
var healthMethods = []string{
	"/grpc.health.v1.Health/Check",
	"/grpc.health.v1.Health/Watch",
	"/grpc.health.v1.Health/List",
}

// PublicMethods returns the full method names that do not require a session.
func PublicMethods() map[string]bool {
	m := make(map[string]bool, len(identityhandler.PublicMethods)+len(healthMethods))
	for k, v := range identityhandler.PublicMethods {
		m[k] = v
	}
	for _, name := range healthMethods {
		m[name] = true
	}
	return m
}

// NewServer returns a grpc.Server with recovery, logging and auth interceptors, otel
// instrumentation, and every service registered.
func NewServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	skipLog := map[string]bool{}
	for _, name := range healthMethods {
		skipLog[name] = true
	}
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(deps.Log),
			interceptors.LoggingUnary(deps.Log, skipLog),
			interceptors.AuthUnary(deps.Sessions, PublicMethods()),
		),
	}
	s := grpc.NewServer(append(base, opts...)...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers AuthService and grpc.health.v1 with the given server.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	identityhandler.RegisterAuthServiceServer(s, identityhandler.NewAuthServer(deps.Auth))
	hs := deps.Health
	if hs == nil {
		hs = health.NewServer()
	}
	healthpb.RegisterHealthServer(s, hs)
}
