// Package interceptors holds the unary server interceptors of the session agent.
package interceptors

import (
	"context"
	"net"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"site-scheduler/backend/internal/scope"
	"site-scheduler/backend/internal/telemetry"
	"site-scheduler/backend/internal/telemetry/domain"
)

const telemetrySource = "grpc_interceptor"

// TelemetryUnary returns a unary server interceptor that emits a grpc_request event after each RPC.
// Emission is async and best-effort. If emitter is nil, the interceptor no-ops.
// skipMethods is the set of full method names to not report.
func TelemetryUnary(emitter telemetry.EventEmitter, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if emitter == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		userID, _ := scope.GetUserID(ctx)
		orgID, _ := scope.GetOrgID(ctx)
		sessionID, _ := scope.GetSessionID(ctx)
		telemetry.EmitAsync(emitter, telemetry.NewEvent(domain.TypeGRPCRequest, telemetrySource,
			telemetry.Scope{UserID: userID, OrgID: orgID, SessionID: sessionID},
			map[string]any{
				"full_method": info.FullMethod,
				"status_code": status.Code(err).String(),
				"duration_ms": time.Since(start).Milliseconds(),
				"client_ip":   ClientIP(ctx),
			}))
		return resp, err
	}
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, then x-real-ip),
// then the peer address, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := firstValue(md, "x-forwarded-for"); v != "" {
			ip, _, _ := strings.Cut(v, ",")
			return strings.TrimSpace(ip)
		}
		if v := firstValue(md, "x-real-ip"); v != "" {
			return v
		}
	}
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
		return host
	}
	return p.Addr.String()
}

func firstValue(md metadata.MD, key string) string {
	vals := md.Get(key)
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0])
}
