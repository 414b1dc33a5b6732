package interceptors

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sawyelin/ylstack-auth-sub000/internal/logging"
)

// LoggingUnary returns a unary server interceptor that logs one line per RPC with its
// method, status code and duration. skipMethods is the set of full method names not to log.
// Server-side failures are logged at error level, client errors at info.
func LoggingUnary(log logging.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	if log == nil {
		log = logging.Nop()
	}
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		ctx, caller := withIdentitySlot(ctx)
		resp, err := handler(ctx, req)
		if skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		args := []any{
			"method", info.FullMethod,
			"code", code.String(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", ClientIP(ctx),
		}
		if caller.AccountID != "" {
			args = append(args, "account_id", caller.AccountID)
		}
		switch code {
		case codes.Internal, codes.Unavailable, codes.Unknown, codes.DataLoss:
			log.Error(ctx, "rpc failed", args...)
		default:
			log.Info(ctx, "rpc", args...)
		}
		return resp, err
	}
}
