package interceptors

import (
	"context"

	"google.golang.org/grpc"
)

// ScopeUnary returns a unary server interceptor that passes each request
// context through stamp before calling the handler. A nil stamp is a no-op.
func ScopeUnary(stamp func(ctx context.Context) context.Context) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if stamp != nil {
			ctx = stamp(ctx)
		}
		return handler(ctx, req)
	}
}
