package interceptors

import (
	"context"
	"runtime/debug"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
)

// RecoveryUnary returns a unary server interceptor that turns a handler panic into an
// Internal status and logs the stack.
func RecoveryUnary(log logging.Logger) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logging.Nop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				log.Error(ctx, "rpc panic", "method", info.FullMethod, "panic", p, "stack", string(debug.Stack()))
				resp, err = nil, status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
