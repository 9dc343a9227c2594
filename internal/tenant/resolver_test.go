package tenant

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"site-scheduler/backend/internal/cache"
	identitydomain "site-scheduler/backend/internal/identity/domain"
	"site-scheduler/backend/internal/membership/domain"
	"site-scheduler/backend/internal/selection"
)

type fakeMemberships struct {
	mu      sync.Mutex
	byUser  map[string][]*domain.Membership
	calls   map[string]int
	failN   int // fail the first failN calls
	failErr error
	block   map[string]chan struct{}
	orders  map[string]int
}

func newFakeMemberships() *fakeMemberships {
	return &fakeMemberships{
		byUser: map[string][]*domain.Membership{},
		calls:  map[string]int{},
		block:  map[string]chan struct{}{},
		orders: map[string]int{},
	}
}

func (f *fakeMemberships) ListByUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	f.mu.Lock()
	f.calls[userID]++
	block := f.block[userID]
	fail := f.failN > 0
	if fail {
		f.failN--
	}
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail {
		return nil, f.failErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Membership, 0, len(f.byUser[userID]))
	for _, m := range f.byUser[userID] {
		cp := *m
		if o, ok := f.orders[m.ID]; ok {
			cp.DisplayOrder = o
		}
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeMemberships) UpdateDisplayOrder(ctx context.Context, membershipID string, order int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[membershipID] = order
	return nil
}

func (f *fakeMemberships) callCount(userID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[userID]
}

func (f *fakeMemberships) order(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[id]
}

func member(id, userID, orgID string, order int, role domain.Role) *domain.Membership {
	return &domain.Membership{
		ID: id, UserID: userID, OrgID: orgID, OrgName: orgID, Role: role, DisplayOrder: order,
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func ident(userID string) *identitydomain.Identity {
	return &identitydomain.Identity{UserID: userID, SessionID: "s-" + userID}
}

type fixture struct {
	store *fakeMemberships
	cache *cache.QueryCache
	sel   *selection.MemoryStore
	r     *Resolver
}

func newFixture(t *testing.T, stored string, opts Options) *fixture {
	t.Helper()
	c, err := cache.NewQueryCache(64)
	if err != nil {
		t.Fatalf("NewQueryCache: %v", err)
	}
	if opts.RetryInitialDelay == 0 {
		opts.RetryInitialDelay = time.Millisecond
	}
	if opts.RetryMaxDelay == 0 {
		opts.RetryMaxDelay = 2 * time.Millisecond
	}
	f := &fixture{store: newFakeMemberships(), cache: c, sel: selection.NewMemoryStore(stored)}
	f.r = NewResolver(f.store, c, f.sel, opts)
	t.Cleanup(f.r.Close)
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func (f *fixture) settle(t *testing.T) State {
	t.Helper()
	waitFor(t, "resolver to settle", func() bool { return !f.r.State().IsLoading })
	return f.r.State()
}

func TestResolver_PicksLowestDisplayOrderAndPersists(t *testing.T) {
	f := newFixture(t, "", Options{})
	f.store.byUser["u1"] = []*domain.Membership{
		member("m1", "u1", "org1", 2, domain.RoleViewer),
		member("m2", "u1", "org2", 1, domain.RoleOwner),
	}
	f.r.OnIdentity(context.Background(), ident("u1"))
	st := f.settle(t)

	if st.OrganizationID != "org2" {
		t.Fatalf("active = %q, want org2", st.OrganizationID)
	}
	if !st.HasOrganization || !st.IsOwner {
		t.Errorf("HasOrganization=%v IsOwner=%v, want both true", st.HasOrganization, st.IsOwner)
	}
	if got, _ := f.sel.Load(context.Background()); got != "org2" {
		t.Errorf("stored selection = %q, want org2", got)
	}
	if len(st.AllOrganizations) != 2 || st.AllOrganizations[0].OrgID != "org2" {
		t.Errorf("AllOrganizations not sorted by display order: %+v", st.AllOrganizations)
	}
}

func TestResolver_StoredSelectionHonoured(t *testing.T) {
	f := newFixture(t, "org1", Options{})
	f.store.byUser["u1"] = []*domain.Membership{
		member("m1", "u1", "org1", 2, domain.RoleManager),
		member("m2", "u1", "org2", 1, domain.RoleOwner),
	}
	f.r.OnIdentity(context.Background(), ident("u1"))
	st := f.settle(t)
	if st.OrganizationID != "org1" {
		t.Fatalf("active = %q, want org1", st.OrganizationID)
	}
	if f.sel.Saves() != 0 {
		t.Errorf("valid stored selection was rewritten %d times", f.sel.Saves())
	}
	if st.IsOwner {
		t.Error("IsOwner true for manager membership")
	}
}

func TestResolver_InvalidStoredSelectionCorrected(t *testing.T) {
	f := newFixture(t, "org9", Options{})
	f.store.byUser["u1"] = []*domain.Membership{
		member("m1", "u1", "org1", 1, domain.RoleViewer),
	}
	f.r.OnIdentity(context.Background(), ident("u1"))
	st := f.settle(t)
	if st.OrganizationID != "org1" {
		t.Fatalf("active = %q, want org1", st.OrganizationID)
	}
	if got, _ := f.sel.Load(context.Background()); got != "org1" {
		t.Errorf("stored selection = %q, want org1", got)
	}
}

func TestResolver_NoMembershipsNoWrite(t *testing.T) {
	f := newFixture(t, "", Options{})
	f.r.OnIdentity(context.Background(), ident("u1"))
	st := f.settle(t)
	if st.OrganizationID != "" || st.HasOrganization || st.Organization != nil {
		t.Fatalf("unexpected active organization: %+v", st)
	}
	if st.Err != nil {
		t.Errorf("Err = %v, want nil for empty membership list", st.Err)
	}
	if f.sel.Saves() != 0 {
		t.Errorf("selection written %d times with no memberships", f.sel.Saves())
	}
}

func TestResolver_FreshCacheSkipsFetch(t *testing.T) {
	f := newFixture(t, "", Options{})
	f.cache.Set(MembershipsKey("u1"), []*domain.Membership{member("m1", "u1", "org1", 1, domain.RoleViewer)})
	f.r.OnIdentity(context.Background(), ident("u1"))
	st := f.r.State()
	if st.IsLoading || st.OrganizationID != "org1" {
		t.Fatalf("state = %+v, want org1 resolved synchronously", st)
	}
	if n := f.store.callCount("u1"); n != 0 {
		t.Errorf("ListByUser called %d times with a fresh cache entry", n)
	}
}

func TestResolver_SignOutResets(t *testing.T) {
	f := newFixture(t, "", Options{})
	f.store.byUser["u1"] = []*domain.Membership{member("m1", "u1", "org1", 1, domain.RoleViewer)}
	f.r.OnIdentity(context.Background(), ident("u1"))
	f.settle(t)

	f.r.OnIdentity(context.Background(), nil)
	st := f.r.State()
	if st.UserID != "" || st.OrganizationID != "" || len(st.AllOrganizations) != 0 || st.IsLoading {
		t.Fatalf("state after sign-out = %+v", st)
	}
	if err := f.r.SwitchOrganization(context.Background(), "org1"); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("SwitchOrganization after sign-out: err = %v, want ErrNoIdentity", err)
	}
}

func TestResolver_SwitchOrganization(t *testing.T) {
	f := newFixture(t, "", Options{})
	f.store.byUser["u1"] = []*domain.Membership{
		member("m1", "u1", "org1", 1, domain.RoleOwner),
		member("m2", "u1", "org2", 2, domain.RoleViewer),
	}
	f.r.OnIdentity(context.Background(), ident("u1"))
	f.settle(t)
	other := cache.Key{"sites", "org1"}
	f.cache.Set(other, "data")
	saves := f.sel.Saves()

	t.Run("same org is a no-op", func(t *testing.T) {
		if err := f.r.SwitchOrganization(context.Background(), "org1"); err != nil {
			t.Fatalf("SwitchOrganization: %v", err)
		}
		if _, fresh, _ := f.cache.Get(other, 0); !fresh {
			t.Error("switching to the active org invalidated the cache")
		}
		if f.sel.Saves() != saves {
			t.Error("switching to the active org wrote the selection")
		}
	})

	t.Run("unknown org rejected", func(t *testing.T) {
		err := f.r.SwitchOrganization(context.Background(), "org9")
		if !errors.Is(err, ErrUnknownOrganization) {
			t.Fatalf("err = %v, want ErrUnknownOrganization", err)
		}
		if f.r.State().OrganizationID != "org1" {
			t.Error("rejected switch changed the active org")
		}
	})

	t.Run("member org switches and invalidates", func(t *testing.T) {
		if err := f.r.SwitchOrganization(context.Background(), "org2"); err != nil {
			t.Fatalf("SwitchOrganization: %v", err)
		}
		st := f.r.State()
		if st.OrganizationID != "org2" || st.IsOwner {
			t.Errorf("state = %+v, want org2 as viewer", st)
		}
		if got, _ := f.sel.Load(context.Background()); got != "org2" {
			t.Errorf("stored selection = %q, want org2", got)
		}
		if _, fresh, ok := f.cache.Get(other, 0); !ok || fresh {
			t.Errorf("cached query fresh=%v ok=%v, want stale and present", fresh, ok)
		}
	})
}

func TestResolver_SaveOrganizationOrder(t *testing.T) {
	f := newFixture(t, "", Options{})
	f.store.byUser["u1"] = []*domain.Membership{
		member("m1", "u1", "org1", 1, domain.RoleOwner),
		member("m2", "u1", "org2", 2, domain.RoleViewer),
	}
	f.r.OnIdentity(context.Background(), ident("u1"))
	f.settle(t)
	saves := f.sel.Saves()

	if err := f.r.SaveOrganizationOrder(context.Background(), []string{"m2", "m1"}); err != nil {
		t.Fatalf("SaveOrganizationOrder: %v", err)
	}
	if f.store.order("m2") != 1 || f.store.order("m1") != 2 {
		t.Errorf("orders = m1:%d m2:%d, want m1:2 m2:1", f.store.order("m1"), f.store.order("m2"))
	}
	waitFor(t, "refetch", func() bool { return f.store.callCount("u1") >= 2 })
	st := f.settle(t)
	if st.AllOrganizations[0].OrgID != "org2" {
		t.Errorf("first org after reorder = %s, want org2", st.AllOrganizations[0].OrgID)
	}
	if st.OrganizationID != "org1" {
		t.Errorf("active org moved to %s after reorder, want org1", st.OrganizationID)
	}
	if f.sel.Saves() != saves {
		t.Error("reordering rewrote the stored selection")
	}

	if err := f.r.SaveOrganizationOrder(context.Background(), []string{"m7"}); !errors.Is(err, ErrUnknownMembership) {
		t.Errorf("unknown membership: err = %v, want ErrUnknownMembership", err)
	}
}

func TestResolver_DiscardsResultForPreviousIdentity(t *testing.T) {
	f := newFixture(t, "", Options{})
	release := make(chan struct{})
	f.store.block["u1"] = release
	f.store.byUser["u1"] = []*domain.Membership{member("m1", "u1", "orgA", 1, domain.RoleOwner)}
	f.store.byUser["u2"] = []*domain.Membership{member("m2", "u2", "orgB", 1, domain.RoleViewer)}

	f.r.OnIdentity(context.Background(), ident("u1"))
	f.r.OnIdentity(context.Background(), ident("u2"))
	st := f.settle(t)
	if st.OrganizationID != "orgB" {
		t.Fatalf("active = %q, want orgB", st.OrganizationID)
	}

	close(release)
	waitFor(t, "u1 fetch to return", func() bool { return f.store.callCount("u1") == 1 })
	time.Sleep(20 * time.Millisecond)
	st = f.r.State()
	if st.UserID != "u2" || st.OrganizationID != "orgB" || len(st.AllOrganizations) != 1 {
		t.Fatalf("late result for u1 leaked into u2 state: %+v", st)
	}
}

func TestResolver_RetriesThenSurfacesError(t *testing.T) {
	f := newFixture(t, "", Options{MaxRetries: 2})
	f.store.failN = 10
	f.store.failErr = errors.New("connection refused")
	f.store.byUser["u1"] = []*domain.Membership{member("m1", "u1", "org1", 1, domain.RoleOwner)}

	f.r.OnIdentity(context.Background(), ident("u1"))
	st := f.settle(t)
	if st.Err == nil {
		t.Fatal("Err = nil, want fetch error")
	}
	if st.HasOrganization || len(st.AllOrganizations) != 0 {
		t.Errorf("failed fetch produced organizations: %+v", st)
	}
	if n := f.store.callCount("u1"); n != 3 {
		t.Errorf("ListByUser called %d times, want 3", n)
	}
}

func TestResolver_RetryRecovers(t *testing.T) {
	f := newFixture(t, "", Options{MaxRetries: 2})
	f.store.failN = 1
	f.store.failErr = errors.New("timeout")
	f.store.byUser["u1"] = []*domain.Membership{member("m1", "u1", "org1", 1, domain.RoleOwner)}

	f.r.OnIdentity(context.Background(), ident("u1"))
	st := f.settle(t)
	if st.Err != nil || st.OrganizationID != "org1" {
		t.Fatalf("state = %+v, want org1 without error", st)
	}
}

func TestResolver_FetchGuardUnblocks(t *testing.T) {
	f := newFixture(t, "", Options{FetchTimeout: 20 * time.Millisecond})
	release := make(chan struct{})
	f.store.block["u1"] = release
	f.store.byUser["u1"] = []*domain.Membership{member("m1", "u1", "org1", 1, domain.RoleOwner)}

	f.r.OnIdentity(context.Background(), ident("u1"))
	st := f.settle(t)
	if st.HasOrganization || st.Err != nil {
		t.Fatalf("guard fired but state = %+v, want no org and no error", st)
	}

	close(release)
	waitFor(t, "late result", func() bool { return f.r.State().OrganizationID == "org1" })
}

func TestResolver_Subscribe(t *testing.T) {
	f := newFixture(t, "", Options{})
	f.store.byUser["u1"] = []*domain.Membership{member("m1", "u1", "org1", 1, domain.RoleOwner)}
	var mu sync.Mutex
	calls := 0
	f.r.Subscribe(func() {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	f.r.OnIdentity(context.Background(), ident("u1"))
	f.settle(t)
	waitFor(t, "notifications", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls >= 2
	})
}
