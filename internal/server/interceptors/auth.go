package interceptors

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/sawyelin/ylstack-auth-sub000/internal/identity/service"
)

const bearerPrefix = "bearer "

// SessionValidator resolves an opaque session token to the session it names.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionToken string) (*service.SessionInfo, error)
}

// AuthUnary returns a unary server interceptor that validates the Bearer session token
// and sets the caller's Identity in context for protected RPCs.
// publicMethods is the set of full method names that do not require a session
// (Signup, Login, VerifyEmail and the grpc health check).
func AuthUnary(sessions SessionValidator, publicMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if publicMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		token := BearerToken(ctx)
		if token == "" || sessions == nil {
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		sess, err := sessions.ValidateSession(ctx, token)
		if err != nil {
			if service.KindOf(err) == service.KindTransient {
				return nil, status.Error(codes.Unavailable, "session store unavailable")
			}
			return nil, status.Error(codes.Unauthenticated, "missing or invalid authorization")
		}
		ctx = WithIdentity(ctx, Identity{
			AccountID: sess.AccountID,
			SessionID: sess.SessionID,
			Email:     sess.Email,
			Roles:     sess.Roles,
		})
		return handler(ctx, req)
	}
}

// BearerToken returns the Bearer token from ctx metadata, or "" if missing or malformed.
func BearerToken(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	vals := md.Get("authorization")
	if len(vals) == 0 {
		return ""
	}
	v := strings.TrimSpace(vals[0])
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
