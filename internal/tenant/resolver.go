// Package tenant resolves the active organization for the live identity.
//
// The membership snapshot is read through the shared query cache under
// MembershipsKey(userID). Whenever the snapshot or the identity changes the
// resolver picks the active organization: the in-memory choice if it is still
// a membership, otherwise the persisted selection if it is a membership,
// otherwise the first membership by display order, which is then persisted.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"

	"site-scheduler/backend/internal/cache"
	"site-scheduler/backend/internal/guard"
	identitydomain "site-scheduler/backend/internal/identity/domain"
	"site-scheduler/backend/internal/membership/domain"
	"site-scheduler/backend/internal/selection"
	"site-scheduler/backend/internal/telemetry"
	telemetrydomain "site-scheduler/backend/internal/telemetry/domain"
)

const (
	DefaultFetchTimeout  = 10 * time.Second
	DefaultMaxRetries    = 2
	DefaultRetryMaxDelay = 4 * time.Second

	tracerName = "site-scheduler/tenant"
	source     = "tenant"
)

var (
	// ErrNoIdentity is returned by commands issued while nobody is signed in.
	ErrNoIdentity = errors.New("tenant: no signed-in identity")
	// ErrUnknownOrganization is returned when switching to an organization that is not a membership.
	ErrUnknownOrganization = errors.New("tenant: organization is not one of the user's memberships")
	// ErrUnknownMembership is returned when reordering names a membership the user does not have.
	ErrUnknownMembership = errors.New("tenant: unknown membership")
)

// MembershipStore is the tenant-scoped read/write store for memberships.
type MembershipStore interface {
	ListByUser(ctx context.Context, userID string) ([]*domain.Membership, error)
	UpdateDisplayOrder(ctx context.Context, membershipID string, order int) error
}

// MembershipsKey is the cache key of a user's membership snapshot.
func MembershipsKey(userID string) cache.Key {
	return cache.Key{"memberships", userID}
}

// Options configures a Resolver.
type Options struct {
	FetchTimeout      time.Duration
	MaxRetries        int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
	Emitter           telemetry.EventEmitter
	Metrics           *telemetry.Metrics
}

func (o *Options) defaults() {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryInitialDelay <= 0 {
		o.RetryInitialDelay = 500 * time.Millisecond
	}
	if o.RetryMaxDelay <= 0 {
		o.RetryMaxDelay = DefaultRetryMaxDelay
	}
}

// State is the read view of the resolver.
type State struct {
	UserID           string
	OrganizationID   string
	Organization     *domain.Membership
	AllOrganizations []*domain.Membership
	IsOwner          bool
	HasOrganization  bool
	IsLoading        bool
	Err              error
}

// Resolver tracks memberships and the active organization for one identity at a time.
type Resolver struct {
	store     MembershipStore
	cache     *cache.QueryCache
	selection selection.Store
	guard     *guard.Guard
	opts      Options

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu          sync.Mutex
	userID      string
	sessionID   string
	gen         uint64 // bumped on identity change
	seq         uint64 // bumped on every fetch start
	snapshot    []*domain.Membership
	active      string
	resolvedFor string
	loading     bool
	err         error
	listeners   []func()
}

// NewResolver returns a Resolver with no identity.
func NewResolver(store MembershipStore, c *cache.QueryCache, sel selection.Store, opts Options) *Resolver {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		store:     store,
		cache:     c,
		selection: sel,
		guard:     guard.New("membership-fetch"),
		opts:      opts,
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Subscribe registers fn to run after every state change.
func (r *Resolver) Subscribe(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Close cancels in-flight fetches and waits for them to finish.
func (r *Resolver) Close() {
	r.guard.Disarm()
	r.cancel()
	r.wg.Wait()
}

// State returns a copy of the current state.
func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := State{
		UserID:           r.userID,
		OrganizationID:   r.active,
		AllOrganizations: append([]*domain.Membership(nil), r.snapshot...),
		IsLoading:        r.loading,
		Err:              r.err,
	}
	if m := domain.Find(r.snapshot, r.active); m != nil {
		cp := *m
		st.Organization = &cp
		st.IsOwner = m.Role == domain.RoleOwner
		st.HasOrganization = true
	}
	return st
}

// OnIdentity re-derives state for id. A nil or absent identity resets the
// resolver and skips fetching. A new user, or a missing or stale snapshot in
// the cache, starts a fetch; a fresh cached snapshot is applied directly.
func (r *Resolver) OnIdentity(ctx context.Context, id *identitydomain.Identity) {
	userID := identitydomain.UserIDOf(id)

	r.mu.Lock()
	if userID == "" {
		r.gen++
		// A fetch for the outgoing user may have saved a selection after the
		// session store erased it. Erase again now that gen rules it out.
		if r.userID != "" {
			if err := r.selection.Erase(ctx); err != nil {
				log.Printf("tenant: erase selection for %s: %v", r.userID, err)
			}
		}
		r.userID, r.sessionID = "", ""
		r.snapshot, r.active, r.resolvedFor = nil, "", ""
		r.loading, r.err = false, nil
		r.mu.Unlock()
		r.guard.Reset()
		r.notify()
		return
	}
	if userID != r.userID {
		r.gen++
		r.userID = userID
		r.snapshot, r.active, r.resolvedFor = nil, "", ""
		r.err = nil
	}
	r.sessionID = id.SessionID

	if ms, fresh, ok := cache.Peek[[]*domain.Membership](r.cache, MembershipsKey(userID)); ok && fresh {
		r.applyLocked(ctx, ms)
		r.loading = false
		r.mu.Unlock()
		r.notify()
		return
	}
	r.startFetchLocked()
	r.mu.Unlock()
	r.notify()
}

// Refresh marks the snapshot stale and refetches it.
func (r *Resolver) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if r.userID == "" {
		r.mu.Unlock()
		return ErrNoIdentity
	}
	r.cache.InvalidateScoped(MembershipsKey(r.userID))
	r.startFetchLocked()
	r.mu.Unlock()
	r.notify()
	return nil
}

// SwitchOrganization makes orgID active, persists it and invalidates every
// cached query. Switching to the active org does nothing.
func (r *Resolver) SwitchOrganization(ctx context.Context, orgID string) error {
	r.mu.Lock()
	if r.userID == "" {
		r.mu.Unlock()
		return ErrNoIdentity
	}
	if orgID == r.active {
		r.mu.Unlock()
		return nil
	}
	if domain.Find(r.snapshot, orgID) == nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownOrganization, orgID)
	}
	prev := r.active
	r.active = orgID
	scope := r.scopeLocked()
	persistErr := r.selection.Save(ctx, orgID)
	r.mu.Unlock()

	r.cache.InvalidateAll()
	r.opts.Metrics.RecordOrgSwitch(ctx)
	r.opts.Metrics.RecordCacheInvalidate(ctx, "org_switch")
	telemetry.EmitAsync(r.opts.Emitter, telemetry.NewEvent(telemetrydomain.TypeOrgSwitched, source, scope,
		map[string]any{"from": prev, "to": orgID}))
	r.notify()
	if persistErr != nil {
		return fmt.Errorf("persist active organization: %w", persistErr)
	}
	return nil
}

// SaveOrganizationOrder sets display_order = index+1 for each membership id,
// writing rows in parallel, then marks the snapshot stale and refetches it.
// The snapshot is invalidated even when some writes fail.
func (r *Resolver) SaveOrganizationOrder(ctx context.Context, orderedMembershipIDs []string) error {
	r.mu.Lock()
	if r.userID == "" {
		r.mu.Unlock()
		return ErrNoIdentity
	}
	known := make(map[string]bool, len(r.snapshot))
	for _, m := range r.snapshot {
		known[m.ID] = true
	}
	for _, id := range orderedMembershipIDs {
		if !known[id] {
			r.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrUnknownMembership, id)
		}
	}
	userID := r.userID
	scope := r.scopeLocked()
	r.mu.Unlock()

	err := writeOrder(ctx, r.store, orderedMembershipIDs)

	key := MembershipsKey(userID)
	if err == nil {
		r.cache.Update(key, func(old any) any {
			ms, _ := old.([]*domain.Membership)
			return reorder(ms, orderedMembershipIDs)
		})
	}
	r.cache.InvalidateScoped(key)
	r.opts.Metrics.RecordCacheInvalidate(ctx, "org_order_saved")

	r.mu.Lock()
	if r.userID == userID {
		if err == nil {
			r.snapshot = domain.Sorted(reorder(r.snapshot, orderedMembershipIDs))
		}
		r.startFetchLocked()
	}
	r.mu.Unlock()
	r.notify()

	if err != nil {
		return fmt.Errorf("save organization order: %w", err)
	}
	telemetry.EmitAsync(r.opts.Emitter, telemetry.NewEvent(telemetrydomain.TypeOrgOrderSaved, source, scope,
		map[string]any{"membership_ids": orderedMembershipIDs}))
	return nil
}

// startFetchLocked begins a fetch for the current user and arms the fetch guard.
// A refetch over an already resolved snapshot runs in the background without
// reporting loading.
func (r *Resolver) startFetchLocked() {
	r.seq++
	gen, seq, userID := r.gen, r.seq, r.userID
	r.loading = r.resolvedFor == ""

	r.guard.Reset()
	r.guard.Arm(r.opts.FetchTimeout, func() { r.onFetchTimeout(gen, seq) })

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ms, err := r.fetch(r.baseCtx, userID)
		r.complete(gen, seq, userID, ms, err)
	}()
}

func (r *Resolver) fetch(ctx context.Context, userID string) ([]*domain.Membership, error) {
	return cache.Fetch(ctx, r.cache, MembershipsKey(userID), 0, func(ctx context.Context) ([]*domain.Membership, error) {
		ctx, span := telemetry.StartSpan(ctx, tracerName, "memberships.fetch",
			attribute.String(telemetry.AttrUserID, userID))
		defer span.End()

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = r.opts.RetryInitialDelay
		b.MaxInterval = r.opts.RetryMaxDelay

		start := time.Now()
		ms, err := backoff.Retry(ctx, func() ([]*domain.Membership, error) {
			return r.store.ListByUser(ctx, userID)
		},
			backoff.WithBackOff(b),
			backoff.WithMaxTries(uint(r.opts.MaxRetries+1)),
			backoff.WithNotify(func(err error, next time.Duration) {
				log.Printf("tenant: membership fetch for user %s failed, retrying in %s: %v", userID, next, err)
			}),
		)
		r.opts.Metrics.RecordMembershipFetch(ctx, float64(time.Since(start).Milliseconds()), err)
		telemetry.RecordError(span, err)
		if err != nil {
			return nil, err
		}
		return domain.Sorted(ms), nil
	})
}

// complete applies a fetch result unless a newer fetch or identity superseded it.
func (r *Resolver) complete(gen, seq uint64, userID string, ms []*domain.Membership, err error) {
	r.mu.Lock()
	if gen != r.gen || userID != r.userID {
		r.mu.Unlock()
		log.Printf("tenant: discarding membership result for previous identity %s", userID)
		return
	}
	if seq != r.seq {
		r.mu.Unlock()
		return
	}
	r.guard.Disarm()
	r.loading = false
	scope := r.scopeLocked()
	if err != nil {
		r.err = err
		r.mu.Unlock()
		log.Printf("tenant: membership fetch for user %s failed: %v", userID, err)
		telemetry.EmitAsync(r.opts.Emitter, telemetry.NewEvent(telemetrydomain.TypeMembershipFetchFail, source, scope,
			map[string]any{"error": err.Error()}))
		r.notify()
		return
	}
	r.err = nil
	r.applyLocked(r.baseCtx, ms)
	r.mu.Unlock()
	r.notify()
}

// applyLocked installs a snapshot and resolves the active organization at most
// once per (user, organization set).
func (r *Resolver) applyLocked(ctx context.Context, ms []*domain.Membership) {
	sorted := domain.Sorted(ms)
	r.snapshot = sorted
	fp := r.userID + "|" + domain.Fingerprint(sorted)
	if fp == r.resolvedFor {
		return
	}
	r.resolvedFor = fp
	if len(sorted) == 0 {
		r.active = ""
		return
	}
	if domain.Find(sorted, r.active) != nil {
		return
	}

	persisted, err := r.selection.Load(ctx)
	if err != nil {
		log.Printf("tenant: ignoring stored selection: %v", err)
		persisted = ""
	}
	if domain.Find(sorted, persisted) != nil {
		r.active = persisted
		return
	}
	r.active = sorted[0].OrgID
	if err := r.selection.Save(ctx, r.active); err != nil {
		log.Printf("tenant: persist default organization: %v", err)
	}
	telemetry.EmitAsync(r.opts.Emitter, telemetry.NewEvent(telemetrydomain.TypeOrgSelectionFixed, source, r.scopeLocked(),
		map[string]any{"stored": persisted, "selected": r.active}))
}

func (r *Resolver) onFetchTimeout(gen, seq uint64) {
	r.mu.Lock()
	if gen != r.gen || seq != r.seq || !r.loading {
		r.mu.Unlock()
		return
	}
	r.loading = false
	scope := r.scopeLocked()
	r.mu.Unlock()

	r.opts.Metrics.RecordGuardFire(context.Background(), r.guard.Name())
	telemetry.EmitAsync(r.opts.Emitter, telemetry.NewEvent(telemetrydomain.TypeGuardFired, source, scope,
		map[string]any{"guard": r.guard.Name(), "timeout": r.opts.FetchTimeout.String()}))
	r.notify()
}

func (r *Resolver) scopeLocked() telemetry.Scope {
	return telemetry.Scope{UserID: r.userID, OrgID: r.active, SessionID: r.sessionID}
}

func (r *Resolver) notify() {
	r.mu.Lock()
	ls := append([]func(){}, r.listeners...)
	r.mu.Unlock()
	for _, fn := range ls {
		fn()
	}
}
