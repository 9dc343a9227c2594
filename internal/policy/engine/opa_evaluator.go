package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	membershipdomain "site-scheduler/backend/internal/membership/domain"
	"site-scheduler/backend/internal/policy/repository"
)

const decisionQuery = "data.ssched.permissions.decision"

// DefaultRegoPolicy mirrors StaticDecision. Org policies replace it and must
// define the same package and decision object.
const DefaultRegoPolicy = `package ssched.permissions

default is_owner := false
default is_manager := false
default is_viewer := false
default can_manage := false

is_owner if input.role == "owner"

is_manager if input.role == "manager"

is_viewer if input.role == "viewer"

can_manage if is_owner

can_manage if is_manager

decision := {
	"is_owner": is_owner,
	"is_manager": is_manager,
	"is_viewer": is_viewer,
	"can_manage": can_manage,
}
`

// OPAEvaluator evaluates permission predicates with OPA Rego.
type OPAEvaluator struct {
	policyRepo repository.Repository
	prepared   rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles the default policy. policyRepo may be nil to use only the default.
func NewOPAEvaluator(ctx context.Context, policyRepo repository.Repository) (*OPAEvaluator, error) {
	prepared, err := prepare(ctx, []string{DefaultRegoPolicy})
	if err != nil {
		return nil, fmt.Errorf("compile default policy: %w", err)
	}
	return &OPAEvaluator{policyRepo: policyRepo, prepared: prepared}, nil
}

// HealthCheck evaluates the default policy for a known role.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	d, err := evalDecision(ctx, e.prepared, "", membershipdomain.RoleOwner)
	if err != nil {
		return err
	}
	if !d.IsOwner || !d.CanManage {
		return fmt.Errorf("default policy returned unexpected decision %+v", d)
	}
	return nil
}

// Evaluate returns the decision for role in orgID. Enabled org policies take
// precedence over the default. A broken org policy falls back to StaticDecision
// and is logged; it never widens access beyond the role.
func (e *OPAEvaluator) Evaluate(ctx context.Context, orgID string, role membershipdomain.Role) (Decision, error) {
	if role == "" {
		return Decision{}, nil
	}
	var policies []string
	if e.policyRepo != nil && orgID != "" {
		enabled, err := e.policyRepo.GetEnabledPoliciesByOrg(ctx, orgID)
		if err != nil {
			log.Printf("policy: failed to load policies for org %s: %v", orgID, err)
		}
		for _, p := range enabled {
			if p.Enabled && p.Rules != "" {
				policies = append(policies, p.Rules)
			}
		}
	}
	if len(policies) == 0 {
		d, err := evalDecision(ctx, e.prepared, orgID, role)
		if err != nil {
			log.Printf("policy: default evaluation failed: %v, using static rules", err)
			return StaticDecision(role), nil
		}
		return d, nil
	}
	prepared, err := prepare(ctx, policies)
	if err != nil {
		log.Printf("policy: org %s policies do not compile: %v, using static rules", orgID, err)
		return StaticDecision(role), nil
	}
	d, err := evalDecision(ctx, prepared, orgID, role)
	if err != nil {
		log.Printf("policy: org %s evaluation failed: %v, using static rules", orgID, err)
		return StaticDecision(role), nil
	}
	return d, nil
}

func prepare(ctx context.Context, policies []string) (rego.PreparedEvalQuery, error) {
	modules := make(map[string]string, len(policies))
	for i, p := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = p
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return rego.PreparedEvalQuery{}, err
	}
	return rego.New(
		rego.Query(decisionQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
}

func evalDecision(ctx context.Context, q rego.PreparedEvalQuery, orgID string, role membershipdomain.Role) (Decision, error) {
	rs, err := q.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"org_id": orgID,
		"role":   string(role),
	}))
	if err != nil {
		return Decision{}, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, fmt.Errorf("policy query returned no result")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("policy decision has type %T", rs[0].Expressions[0].Value)
	}
	flag := func(k string) bool {
		v, _ := obj[k].(bool)
		return v
	}
	return Decision{
		IsOwner:   flag("is_owner"),
		IsManager: flag("is_manager"),
		IsViewer:  flag("is_viewer"),
		CanManage: flag("can_manage"),
	}, nil
}
