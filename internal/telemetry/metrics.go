package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds metric instruments for the session and tenant layer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	AuthEvents            metric.Int64Counter
	CacheClears           metric.Int64Counter
	CacheInvalidations    metric.Int64Counter
	GuardFires            metric.Int64Counter
	OrgSwitches           metric.Int64Counter
	MembershipFetchErrors metric.Int64Counter
	MembershipFetchTime   metric.Float64Histogram
}

// NewMetrics creates instruments on the global MeterProvider. Call after SetGlobal.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("site-scheduler/session")

	authEvents, err := meter.Int64Counter(
		"session.auth_event.count",
		metric.WithDescription("Identity-provider events applied by the session store"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	clears, err := meter.Int64Counter(
		"cache.clear.count",
		metric.WithDescription("Full clears of the shared read cache"),
		metric.WithUnit("{clear}"),
	)
	if err != nil {
		return nil, err
	}
	invalidations, err := meter.Int64Counter(
		"cache.invalidate.count",
		metric.WithDescription("Invalidations of the shared read cache"),
		metric.WithUnit("{invalidation}"),
	)
	if err != nil {
		return nil, err
	}
	fires, err := meter.Int64Counter(
		"guard.fire.count",
		metric.WithDescription("Bounded-wait guards that hit their deadline"),
		metric.WithUnit("{fire}"),
	)
	if err != nil {
		return nil, err
	}
	switches, err := meter.Int64Counter(
		"tenant.switch.count",
		metric.WithDescription("Active organization switches"),
		metric.WithUnit("{switch}"),
	)
	if err != nil {
		return nil, err
	}
	fetchErrors, err := meter.Int64Counter(
		"membership.fetch.error.count",
		metric.WithDescription("Membership fetches that exhausted their retries"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}
	fetchTime, err := meter.Float64Histogram(
		"membership.fetch.duration",
		metric.WithDescription("Membership fetch duration including retries"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		AuthEvents:            authEvents,
		CacheClears:           clears,
		CacheInvalidations:    invalidations,
		GuardFires:            fires,
		OrgSwitches:           switches,
		MembershipFetchErrors: fetchErrors,
		MembershipFetchTime:   fetchTime,
	}, nil
}

// RecordAuthEvent counts one applied auth event.
func (m *Metrics) RecordAuthEvent(ctx context.Context, eventType string, hasIdentity bool) {
	if m == nil {
		return
	}
	m.AuthEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrEventType, eventType),
		attribute.Bool(AttrHasIdentity, hasIdentity),
	))
}

// RecordCacheClear counts one full cache clear.
func (m *Metrics) RecordCacheClear(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.CacheClears.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}

// RecordCacheInvalidate counts one cache invalidation.
func (m *Metrics) RecordCacheInvalidate(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.CacheInvalidations.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrReason, reason)))
}

// RecordGuardFire counts one guard firing.
func (m *Metrics) RecordGuardFire(ctx context.Context, guard string) {
	if m == nil {
		return
	}
	m.GuardFires.Add(ctx, 1, metric.WithAttributes(attribute.String(AttrGuard, guard)))
}

// RecordOrgSwitch counts one organization switch.
func (m *Metrics) RecordOrgSwitch(ctx context.Context) {
	if m == nil {
		return
	}
	m.OrgSwitches.Add(ctx, 1)
}

// RecordMembershipFetch records one completed membership fetch.
func (m *Metrics) RecordMembershipFetch(ctx context.Context, durationMs float64, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool(AttrSuccess, err == nil))
	m.MembershipFetchTime.Record(ctx, durationMs, attrs)
	if err != nil {
		m.MembershipFetchErrors.Add(ctx, 1, attrs)
	}
}

// Common attribute keys
const (
	AttrEventType   = "auth.event_type"
	AttrHasIdentity = "auth.has_identity"
	AttrReason      = "cache.reason"
	AttrGuard       = "guard.name"
	AttrSuccess     = "success"
	AttrUserID      = "user.id"
	AttrOrgID       = "org.id"
)
