// Package server builds the session agent's gRPC server.
package server

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"site-scheduler/backend/internal/server/interceptors"
	"site-scheduler/backend/internal/telemetry"
)

// Deps holds the services and hooks the server is built from.
type Deps struct {
	// Health serves grpc.health.v1. If nil, the health service is not registered.
	Health healthpb.HealthServer
	// Emitter receives a grpc_request event per unary RPC. If nil, no events are emitted.
	Emitter telemetry.EventEmitter
	// Scope stamps the agent's current user and organization onto each request context.
	// Usually tenancy.Manager.ScopedContext. May be nil.
	Scope func(ctx context.Context) context.Context
	// SkipTelemetry lists full method names that are not reported, e.g. health probes.
	SkipTelemetry map[string]bool
}

// New returns a gRPC server with OTel stats, the scope and telemetry
// interceptors and every service in deps registered.
func New(deps Deps) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.ScopeUnary(deps.Scope),
			interceptors.TelemetryUnary(deps.Emitter, deps.SkipTelemetry),
		),
	)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the services present in deps with s.
//
//   - grpc.health.v1.Health → internal/health Reporter
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	if deps.Health != nil {
		healthpb.RegisterHealthServer(s, deps.Health)
	}
}
