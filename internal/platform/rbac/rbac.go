// Package rbac gates operations on the caller's role in the active organization.
// Every check fails closed: missing context, lookup errors and unknown roles deny.
package rbac

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"site-scheduler/backend/internal/membership/domain"
	"site-scheduler/backend/internal/scope"
)

// RoleGetter returns the caller's role in an org, or "" when not a member.
type RoleGetter interface {
	GetRole(ctx context.Context, userID, orgID string) (domain.Role, error)
}

// Level is the minimum role an operation requires.
type Level int

const (
	LevelViewer Level = iota + 1
	LevelManager
	LevelOwner
)

func (l Level) String() string {
	switch l {
	case LevelViewer:
		return "viewer"
	case LevelManager:
		return "manager"
	case LevelOwner:
		return "owner"
	}
	return "unknown"
}

// Allows reports whether r satisfies l.
func (l Level) Allows(r domain.Role) bool {
	switch r {
	case domain.RoleOwner:
		return l >= LevelViewer && l <= LevelOwner
	case domain.RoleManager:
		return l == LevelViewer || l == LevelManager
	case domain.RoleViewer:
		return l == LevelViewer
	}
	return false
}

// Require ensures the caller in ctx holds at least level in the context org.
// Returns (orgID, userID, nil) on success; returns a gRPC error (Unauthenticated,
// PermissionDenied or Internal) on failure.
func Require(ctx context.Context, getter RoleGetter, level Level) (orgID, userID string, err error) {
	orgID, okOrg := scope.GetOrgID(ctx)
	userID, okUser := scope.GetUserID(ctx)
	if !okOrg || !okUser {
		return "", "", status.Error(codes.Unauthenticated, "org and user context required")
	}
	r, err := getter.GetRole(ctx, userID, orgID)
	if err != nil {
		return "", "", status.Error(codes.Internal, "failed to resolve role")
	}
	if r == "" {
		return "", "", status.Error(codes.PermissionDenied, "not a member of this organization")
	}
	if !level.Allows(r) {
		return "", "", status.Errorf(codes.PermissionDenied, "organization %s role required", level)
	}
	return orgID, userID, nil
}

// RequireOrgMember allows any role in the context org.
func RequireOrgMember(ctx context.Context, getter RoleGetter) (orgID, userID string, err error) {
	return Require(ctx, getter, LevelViewer)
}

// RequireOrgManager allows owners and managers.
func RequireOrgManager(ctx context.Context, getter RoleGetter) (orgID, userID string, err error) {
	return Require(ctx, getter, LevelManager)
}
