// Package tenancy wires the session store, tenant resolver and role resolver
// into one explicitly constructed manager with an Init/Teardown lifecycle.
package tenancy

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"site-scheduler/backend/internal/audit"
	auditdomain "site-scheduler/backend/internal/audit/domain"
	"site-scheduler/backend/internal/cache"
	identitydomain "site-scheduler/backend/internal/identity/domain"
	"site-scheduler/backend/internal/identity/provider"
	membershipdomain "site-scheduler/backend/internal/membership/domain"
	"site-scheduler/backend/internal/platform/rbac"
	"site-scheduler/backend/internal/policy/engine"
	"site-scheduler/backend/internal/role"
	"site-scheduler/backend/internal/scope"
	"site-scheduler/backend/internal/selection"
	"site-scheduler/backend/internal/session"
	"site-scheduler/backend/internal/telemetry"
	"site-scheduler/backend/internal/tenant"
)

// DefaultCacheSize is the LRU capacity of the shared read cache.
const DefaultCacheSize = 1024

// ErrNotInitialized is returned by commands issued before Init or after Teardown.
var ErrNotInitialized = errors.New("tenancy: manager is not running")

// MembershipStore is the tenant-scoped store: membership list, display order and role lookup.
type MembershipStore interface {
	tenant.MembershipStore
	role.Source
}

// Options configures a Manager. Zero values take each component's default.
type Options struct {
	InitTimeout   time.Duration
	FetchTimeout  time.Duration
	MaxRetries    int
	RetryMaxDelay time.Duration
	RoleStaleTime time.Duration
	CacheSize     int

	Evaluator engine.Evaluator
	Audit     audit.AuditLogger
	Emitter   telemetry.EventEmitter
	Metrics   *telemetry.Metrics
}

// Snapshot is the combined read state exposed to consumers.
type Snapshot struct {
	Identity         *identitydomain.Identity
	IsAuthLoading    bool
	AuthPhase        session.Phase
	OrganizationID   string
	Organization     *membershipdomain.Membership
	AllOrganizations []*membershipdomain.Membership
	Role             membershipdomain.Role
	IsOwner          bool
	IsManager        bool
	CanManage        bool
	HasOrganization  bool
	// IsLoading is true while either the session or the tenant is loading.
	IsLoading bool
	Err       error
}

// Manager owns the session and tenant state for the process.
type Manager struct {
	provider  provider.Provider
	cache     *cache.QueryCache
	selection selection.Store
	session   *session.Store
	tenant    *tenant.Resolver
	roles     *role.Resolver
	audit     audit.AuditLogger

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu        sync.Mutex
	running   bool
	stopped   bool
	lastIdent *identitydomain.Identity
	subs      []func(Snapshot)
}

// New builds a Manager. Nothing runs until Init.
func New(p provider.Provider, store MembershipStore, sel selection.Store, opts Options) (*Manager, error) {
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	if opts.Audit == nil {
		opts.Audit = audit.NewLogger(nil)
	}
	qc, err := cache.NewQueryCache(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		provider:  p,
		cache:     qc,
		selection: sel,
		audit:     opts.Audit,
		baseCtx:   ctx,
		cancel:    cancel,
	}
	m.session = session.NewStore(p, qc, sel, session.Options{
		InitTimeout: opts.InitTimeout,
		Emitter:     opts.Emitter,
		Metrics:     opts.Metrics,
	})
	m.tenant = tenant.NewResolver(store, qc, sel, tenant.Options{
		FetchTimeout:  opts.FetchTimeout,
		MaxRetries:    opts.MaxRetries,
		RetryMaxDelay: opts.RetryMaxDelay,
		Emitter:       opts.Emitter,
		Metrics:       opts.Metrics,
	})
	m.roles = role.NewResolver(store, opts.Evaluator, qc, opts.RoleStaleTime)

	m.session.Subscribe(m.onSessionChange)
	m.tenant.Subscribe(m.onTenantChange)
	return m, nil
}

// Init starts the session store, which asks the provider to restore its session.
// Calling Init more than once has no effect.
func (m *Manager) Init(ctx context.Context) {
	m.mu.Lock()
	if m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.mu.Unlock()
	m.session.Start(ctx)
}

// Teardown stops event processing and in-flight fetches. The manager cannot be restarted.
func (m *Manager) Teardown() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.running = false
	m.mu.Unlock()

	m.session.Stop()
	m.tenant.Close()
	m.cancel()
	m.wg.Wait()
}

// Cache returns the shared read cache for tenant-scoped collaborators.
func (m *Manager) Cache() *cache.QueryCache { return m.cache }

// Subscribe registers fn to receive a snapshot after every state change.
func (m *Manager) Subscribe(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// Ready reports whether neither the session nor the tenant is loading.
func (m *Manager) Ready() bool {
	return !m.Snapshot().IsLoading
}

// Snapshot returns the combined state. The role is read from the cache only.
func (m *Manager) Snapshot() Snapshot {
	ss := m.session.State()
	ts := m.tenant.State()
	snap := Snapshot{
		Identity:         ss.Identity,
		IsAuthLoading:    ss.IsLoading,
		AuthPhase:        ss.Phase,
		OrganizationID:   ts.OrganizationID,
		Organization:     ts.Organization,
		AllOrganizations: ts.AllOrganizations,
		IsOwner:          ts.IsOwner,
		HasOrganization:  ts.HasOrganization,
		IsLoading:        ss.IsLoading || ts.IsLoading,
		Err:              ts.Err,
	}
	userID := identitydomain.UserIDOf(ss.Identity)
	if userID != "" && userID == ts.UserID {
		perms := m.roles.Cached(m.baseCtx, userID, ts.OrganizationID, m.candidateOrg(ts))
		snap.Role = perms.Role
		snap.IsManager = perms.IsManager
		snap.CanManage = perms.CanManage
		if perms.HasRole() {
			snap.IsOwner = perms.IsOwner
		}
	}
	return snap
}

// Permissions resolves the caller's role in the effective organization, querying if needed.
func (m *Manager) Permissions(ctx context.Context) role.Permissions {
	ss := m.session.State()
	ts := m.tenant.State()
	userID := identitydomain.UserIDOf(ss.Identity)
	if userID == "" || userID != ts.UserID {
		return role.Permissions{}
	}
	return m.roles.Resolve(ctx, userID, ts.OrganizationID, m.candidateOrg(ts))
}

// ScopedContext returns ctx carrying the current user, active organization and session ids.
func (m *Manager) ScopedContext(ctx context.Context) context.Context {
	ss := m.session.State()
	ts := m.tenant.State()
	id := ss.Identity
	if !id.IsPresent() {
		return scope.WithIdentity(ctx, "", "", "")
	}
	orgID := ""
	if ts.UserID == id.UserID {
		orgID = ts.OrganizationID
	}
	return scope.WithIdentity(ctx, id.UserID, orgID, id.SessionID)
}

// Authorize fails closed unless the caller holds at least level in the active organization.
func (m *Manager) Authorize(ctx context.Context, level rbac.Level) error {
	_, _, err := rbac.Require(m.ScopedContext(ctx), roleGetter{m}, level)
	return err
}

// SignOut asks the provider to end the session.
func (m *Manager) SignOut(ctx context.Context) error {
	if !m.isRunning() {
		return ErrNotInitialized
	}
	return m.session.SignOut(ctx)
}

// SwitchOrganization makes orgID the active organization.
func (m *Manager) SwitchOrganization(ctx context.Context, orgID string) error {
	if !m.isRunning() {
		return ErrNotInitialized
	}
	prev := m.tenant.State().OrganizationID
	if err := m.tenant.SwitchOrganization(ctx, orgID); err != nil {
		return err
	}
	if prev != orgID {
		m.audit.LogEvent(m.ScopedContext(ctx), auditdomain.ActionOrgSwitched, auditdomain.ResourceOrganization,
			map[string]any{"from": prev, "to": orgID})
	}
	return nil
}

// SaveOrganizationOrder persists the user's organization order.
func (m *Manager) SaveOrganizationOrder(ctx context.Context, orderedMembershipIDs []string) error {
	if !m.isRunning() {
		return ErrNotInitialized
	}
	if err := m.tenant.SaveOrganizationOrder(ctx, orderedMembershipIDs); err != nil {
		return err
	}
	m.audit.LogEvent(m.ScopedContext(ctx), auditdomain.ActionOrgOrderSaved, auditdomain.ResourceMembership,
		map[string]any{"membership_ids": orderedMembershipIDs})
	return nil
}

// RefreshOrganizations refetches the membership snapshot.
func (m *Manager) RefreshOrganizations(ctx context.Context) error {
	if !m.isRunning() {
		return ErrNotInitialized
	}
	return m.tenant.Refresh(ctx)
}

func (m *Manager) onSessionChange(ctx context.Context, c session.Change) {
	// Guard firings and sign-out requests carry no event and leave the identity as is.
	if c.Event != nil {
		id := c.State.Identity
		m.tenant.OnIdentity(ctx, id)

		m.mu.Lock()
		prev := m.lastIdent
		m.lastIdent = id
		m.mu.Unlock()
		if action, ok := audit.ActionForAuthEvent(c.Event.Type, id.IsPresent()); ok {
			who := id
			if !who.IsPresent() {
				who = prev
			}
			actx := scope.WithIdentity(ctx, identitydomain.UserIDOf(who), "", sessionIDOf(who))
			m.audit.LogEvent(actx, action, auditdomain.ResourceSession, nil)
		}
	}
	m.publish()
}

func (m *Manager) onTenantChange() {
	ts := m.tenant.State()
	if ts.UserID != "" && !ts.IsLoading {
		m.warmRole(ts)
	}
	m.publish()
}

// warmRole resolves the role in the background so Snapshot can serve it from the cache.
func (m *Manager) warmRole(ts tenant.State) {
	orgID := role.EffectiveOrg(ts.OrganizationID, m.candidateOrg(ts))
	if orgID == "" {
		return
	}
	if _, fresh, ok := m.cache.Get(role.Key(ts.UserID, orgID), 0); ok && fresh {
		return
	}
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.wg.Done()
		m.roles.Resolve(m.baseCtx, ts.UserID, ts.OrganizationID, orgID)
		m.publish()
	}()
}

// candidateOrg is the tentative organization used while the active one is unresolved.
func (m *Manager) candidateOrg(ts tenant.State) string {
	if ts.OrganizationID != "" {
		return ""
	}
	orgID, err := m.selection.Load(m.baseCtx)
	if err != nil {
		return ""
	}
	return orgID
}

func (m *Manager) publish() {
	m.mu.Lock()
	subs := append([]func(Snapshot){}, m.subs...)
	m.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	snap := m.Snapshot()
	for _, fn := range subs {
		fn(snap)
	}
}

func (m *Manager) isRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func sessionIDOf(id *identitydomain.Identity) string {
	if !id.IsPresent() {
		return ""
	}
	return id.SessionID
}

// roleGetter adapts the role resolver to rbac; lookup failures already resolve to no role.
type roleGetter struct{ m *Manager }

func (g roleGetter) GetRole(ctx context.Context, userID, orgID string) (membershipdomain.Role, error) {
	p := g.m.roles.Resolve(ctx, userID, orgID, "")
	if p.Role == "" {
		log.Printf("tenancy: no role for user %s in org %s", userID, orgID)
	}
	return p.Role, nil
}
