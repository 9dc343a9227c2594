package engine

import (
	"context"
	"errors"
	"testing"

	membershipdomain "site-scheduler/backend/internal/membership/domain"
	"site-scheduler/backend/internal/policy/domain"
	"site-scheduler/backend/internal/policy/repository"
)

// mockPolicyRepo implements repository.Repository for tests.
type mockPolicyRepo struct {
	policies map[string][]*domain.Policy
	err      error
}

var _ repository.Repository = (*mockPolicyRepo)(nil)

func (m *mockPolicyRepo) GetEnabledPoliciesByOrg(ctx context.Context, orgID string) ([]*domain.Policy, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.policies[orgID], nil
}

func (m *mockPolicyRepo) Create(ctx context.Context, p *domain.Policy) error { return nil }

func newEvaluator(t *testing.T, repo repository.Repository) *OPAEvaluator {
	t.Helper()
	e, err := NewOPAEvaluator(context.Background(), repo)
	if err != nil {
		t.Fatalf("NewOPAEvaluator: %v", err)
	}
	return e
}

func TestOPAEvaluator_HealthCheck(t *testing.T) {
	if err := newEvaluator(t, nil).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestOPAEvaluator_DefaultMatchesStatic(t *testing.T) {
	e := newEvaluator(t, &mockPolicyRepo{})
	roles := []membershipdomain.Role{
		membershipdomain.RoleOwner,
		membershipdomain.RoleManager,
		membershipdomain.RoleViewer,
		"",
		"contractor",
	}
	for _, r := range roles {
		got, err := e.Evaluate(context.Background(), "org1", r)
		if err != nil {
			t.Fatalf("Evaluate(%q): %v", r, err)
		}
		if want := StaticDecision(r); got != want {
			t.Errorf("Evaluate(%q) = %+v, want %+v", r, got, want)
		}
	}
}

func TestOPAEvaluator_OrgPolicyOverrides(t *testing.T) {
	// This org lets viewers manage schedules.
	custom := `package ssched.permissions

decision := {
	"is_owner": input.role == "owner",
	"is_manager": input.role == "manager",
	"is_viewer": input.role == "viewer",
	"can_manage": true,
}
`
	repo := &mockPolicyRepo{policies: map[string][]*domain.Policy{
		"org-open": {{ID: "p1", OrgID: "org-open", Rules: custom, Enabled: true}},
	}}
	e := newEvaluator(t, repo)

	got, err := e.Evaluate(context.Background(), "org-open", membershipdomain.RoleViewer)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got.IsViewer || !got.CanManage {
		t.Errorf("custom policy decision = %+v, want viewer that can manage", got)
	}

	got, _ = e.Evaluate(context.Background(), "org-other", membershipdomain.RoleViewer)
	if got.CanManage {
		t.Error("other orgs should use the default policy")
	}
}

func TestOPAEvaluator_BrokenPolicyFallsBack(t *testing.T) {
	repo := &mockPolicyRepo{policies: map[string][]*domain.Policy{
		"org1": {{OrgID: "org1", Rules: "package ssched.permissions\n\nthis is not rego", Enabled: true}},
	}}
	e := newEvaluator(t, repo)
	got, err := e.Evaluate(context.Background(), "org1", membershipdomain.RoleViewer)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got != StaticDecision(membershipdomain.RoleViewer) {
		t.Errorf("fallback decision = %+v", got)
	}
}

func TestOPAEvaluator_RepoErrorUsesDefault(t *testing.T) {
	e := newEvaluator(t, &mockPolicyRepo{err: errors.New("db down")})
	got, err := e.Evaluate(context.Background(), "org1", membershipdomain.RoleManager)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !got.IsManager || !got.CanManage {
		t.Errorf("decision = %+v, want manager", got)
	}
}

func TestStaticDecision(t *testing.T) {
	if d := StaticDecision(""); d != (Decision{}) {
		t.Errorf("empty role = %+v, want no access", d)
	}
	if d := StaticDecision(membershipdomain.RoleViewer); d.CanManage {
		t.Error("viewer must not manage")
	}
}

func TestPolicyValidate(t *testing.T) {
	if err := (&domain.Policy{OrgID: "o", Rules: " "}).Validate(); err == nil {
		t.Error("blank rules should fail")
	}
}
