// Package health reports readiness over the standard gRPC health protocol.
package health

import (
	"context"
	"log"
	"sync"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceSession is reported SERVING once the session and tenant state is unblocked.
const ServiceSession = "site-scheduler.session"

// Pinger checks DB connectivity (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker checks that the permission policy engine is usable.
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Reporter derives serving statuses from its checks and publishes them on a grpc health.Server.
type Reporter struct {
	srv    *health.Server
	pinger Pinger
	policy PolicyChecker
	ready  func() bool

	mu   sync.Mutex
	last map[string]healthpb.HealthCheckResponse_ServingStatus
}

// NewReporter returns a Reporter. pinger and policy may be nil; ready reports
// whether the session state is no longer loading.
func NewReporter(pinger Pinger, policy PolicyChecker, ready func() bool) *Reporter {
	r := &Reporter{
		srv:    health.NewServer(),
		pinger: pinger,
		policy: policy,
		ready:  ready,
		last:   map[string]healthpb.HealthCheckResponse_ServingStatus{},
	}
	r.set("", healthpb.HealthCheckResponse_NOT_SERVING)
	r.set(ServiceSession, healthpb.HealthCheckResponse_NOT_SERVING)
	return r
}

// Server returns the health server to register with grpc.
func (r *Reporter) Server() *health.Server { return r.srv }

// Update re-runs the checks and publishes the resulting statuses.
func (r *Reporter) Update(ctx context.Context) {
	deps := healthpb.HealthCheckResponse_SERVING
	if r.pinger != nil {
		if err := r.pinger.PingContext(ctx); err != nil {
			log.Printf("health: database ping failed: %v", err)
			deps = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	if r.policy != nil {
		if err := r.policy.HealthCheck(ctx); err != nil {
			log.Printf("health: policy engine check failed: %v", err)
			deps = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	session := deps
	if r.ready != nil && !r.ready() {
		session = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.set("", deps)
	r.set(ServiceSession, session)
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (r *Reporter) Shutdown() {
	r.srv.Shutdown()
}

func (r *Reporter) set(service string, st healthpb.HealthCheckResponse_ServingStatus) {
	r.mu.Lock()
	prev, seen := r.last[service]
	r.last[service] = st
	r.mu.Unlock()
	if seen && prev != st {
		log.Printf("health: %q is now %s", service, st)
	}
	r.srv.SetServingStatus(service, st)
}
