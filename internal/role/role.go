// Package role derives the caller's permission tier in the active organization.
package role

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"site-scheduler/backend/internal/cache"
	membershipdomain "site-scheduler/backend/internal/membership/domain"
	"site-scheduler/backend/internal/policy/engine"
	"site-scheduler/backend/internal/telemetry"
)

// DefaultStaleTime is how long a fetched role is served without refetching.
const DefaultStaleTime = 5 * time.Minute

const tracerName = "site-scheduler/role"

// Source answers the authoritative role query.
type Source interface {
	GetRole(ctx context.Context, userID, orgID string) (membershipdomain.Role, error)
}

// Permissions is the resolved tier. The zero value means unresolved or no access.
type Permissions struct {
	Role      membershipdomain.Role
	OrgID     string
	IsOwner   bool
	IsManager bool
	IsViewer  bool
	CanManage bool
}

// HasRole reports whether a role was resolved.
func (p Permissions) HasRole() bool { return p.Role != "" }

// Key is the cache key for a user's role in an org.
func Key(userID, orgID string) cache.Key {
	return cache.Key{"role", userID, orgID}
}

// EffectiveOrg returns active, or candidate while the active org is still unresolved.
func EffectiveOrg(active, candidate string) string {
	if active != "" {
		return active
	}
	return candidate
}

// Resolver reads roles through the shared cache and turns them into permissions.
type Resolver struct {
	source    Source
	eval      engine.Evaluator
	cache     *cache.QueryCache
	staleTime time.Duration
}

// NewResolver returns a Resolver. eval may be nil to use engine.StaticDecision.
func NewResolver(source Source, eval engine.Evaluator, c *cache.QueryCache, staleTime time.Duration) *Resolver {
	if staleTime <= 0 {
		staleTime = DefaultStaleTime
	}
	return &Resolver{source: source, eval: eval, cache: c, staleTime: staleTime}
}

// Resolve returns the permissions of userID in the effective org. Any failure
// yields the zero Permissions.
func (r *Resolver) Resolve(ctx context.Context, userID, activeOrgID, candidateOrgID string) Permissions {
	orgID := EffectiveOrg(activeOrgID, candidateOrgID)
	if userID == "" || orgID == "" {
		return Permissions{}
	}
	role, err := cache.Fetch(ctx, r.cache, Key(userID, orgID), r.staleTime, func(ctx context.Context) (membershipdomain.Role, error) {
		ctx, span := telemetry.StartSpan(ctx, tracerName, "role.fetch",
			attribute.String(telemetry.AttrUserID, userID),
			attribute.String(telemetry.AttrOrgID, orgID))
		defer span.End()
		role, err := r.source.GetRole(ctx, userID, orgID)
		telemetry.RecordError(span, err)
		return role, err
	})
	if err != nil {
		log.Printf("role: lookup for user %s in org %s failed, denying: %v", userID, orgID, err)
		return Permissions{}
	}
	if role == "" {
		return Permissions{}
	}
	return r.permissions(ctx, orgID, role)
}

// Cached returns permissions from the cache only, without querying. It is used
// for snapshots that must not block.
func (r *Resolver) Cached(ctx context.Context, userID, activeOrgID, candidateOrgID string) Permissions {
	orgID := EffectiveOrg(activeOrgID, candidateOrgID)
	if userID == "" || orgID == "" {
		return Permissions{}
	}
	role, _, ok := cache.Peek[membershipdomain.Role](r.cache, Key(userID, orgID))
	if !ok || role == "" {
		return Permissions{}
	}
	return r.permissions(ctx, orgID, role)
}

func (r *Resolver) permissions(ctx context.Context, orgID string, role membershipdomain.Role) Permissions {
	d := engine.StaticDecision(role)
	if r.eval != nil {
		evaluated, err := r.eval.Evaluate(ctx, orgID, role)
		if err != nil {
			log.Printf("role: policy evaluation for org %s failed: %v", orgID, err)
		} else {
			d = evaluated
		}
	}
	return Permissions{
		Role:      role,
		OrgID:     orgID,
		IsOwner:   d.IsOwner,
		IsManager: d.IsManager,
		IsViewer:  d.IsViewer,
		CanManage: d.CanManage,
	}
}
