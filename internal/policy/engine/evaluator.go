package engine

import (
	"context"

	membershipdomain "site-scheduler/backend/internal/membership/domain"
)

// Decision is the set of permission predicates for one role in one org.
type Decision struct {
	IsOwner   bool
	IsManager bool
	IsViewer  bool
	CanManage bool
}

// Evaluator turns a membership role into permission predicates.
type Evaluator interface {
	Evaluate(ctx context.Context, orgID string, role membershipdomain.Role) (Decision, error)
}

// StaticDecision derives predicates directly from the role. An unknown or
// empty role grants nothing.
func StaticDecision(role membershipdomain.Role) Decision {
	d := Decision{
		IsOwner:   role == membershipdomain.RoleOwner,
		IsManager: role == membershipdomain.RoleManager,
		IsViewer:  role == membershipdomain.RoleViewer,
	}
	d.CanManage = d.IsOwner || d.IsManager
	return d
}
