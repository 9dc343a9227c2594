package rbac

import (
	"context"
	"errors"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"site-scheduler/backend/internal/membership/domain"
	"site-scheduler/backend/internal/scope"
)

// mockRoleGetter implements RoleGetter for tests.
type mockRoleGetter struct {
	roles map[string]domain.Role
	err   error
}

func (m *mockRoleGetter) GetRole(ctx context.Context, userID, orgID string) (domain.Role, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.roles[userID+":"+orgID], nil
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", want)
	}
	st, ok := status.FromError(err)
	if !ok {
		t.Fatalf("error is not a gRPC status: %v", err)
	}
	if st.Code() != want {
		t.Errorf("status code = %v, want %v", st.Code(), want)
	}
}

func TestRequire_RoleMatrix(t *testing.T) {
	testCases := []struct {
		role  domain.Role
		level Level
		ok    bool
	}{
		{domain.RoleOwner, LevelViewer, true},
		{domain.RoleOwner, LevelManager, true},
		{domain.RoleOwner, LevelOwner, true},
		{domain.RoleManager, LevelViewer, true},
		{domain.RoleManager, LevelManager, true},
		{domain.RoleManager, LevelOwner, false},
		{domain.RoleViewer, LevelViewer, true},
		{domain.RoleViewer, LevelManager, false},
		{domain.Role("superuser"), LevelViewer, false},
	}
	for _, tc := range testCases {
		t.Run(string(tc.role)+"/"+tc.level.String(), func(t *testing.T) {
			getter := &mockRoleGetter{roles: map[string]domain.Role{"user-1:org-1": tc.role}}
			ctx := scope.WithIdentity(context.Background(), "user-1", "org-1", "session-1")

			orgID, userID, err := Require(ctx, getter, tc.level)
			if !tc.ok {
				assertCode(t, err, codes.PermissionDenied)
				return
			}
			if err != nil {
				t.Fatalf("Require: %v", err)
			}
			if orgID != "org-1" || userID != "user-1" {
				t.Errorf("got (%q, %q), want (org-1, user-1)", orgID, userID)
			}
		})
	}
}

func TestRequireOrgMember_NotMember(t *testing.T) {
	getter := &mockRoleGetter{roles: map[string]domain.Role{}}
	ctx := scope.WithIdentity(context.Background(), "user-1", "org-1", "session-1")
	_, _, err := RequireOrgMember(ctx, getter)
	assertCode(t, err, codes.PermissionDenied)
}

func TestRequireOrgManager_Viewer(t *testing.T) {
	getter := &mockRoleGetter{roles: map[string]domain.Role{"user-1:org-1": domain.RoleViewer}}
	ctx := scope.WithIdentity(context.Background(), "user-1", "org-1", "session-1")
	_, _, err := RequireOrgManager(ctx, getter)
	assertCode(t, err, codes.PermissionDenied)
}

func TestRequire_MissingContext(t *testing.T) {
	getter := &mockRoleGetter{roles: map[string]domain.Role{"user-1:org-1": domain.RoleOwner}}
	for name, ctx := range map[string]context.Context{
		"bare":    context.Background(),
		"no org":  scope.WithIdentity(context.Background(), "user-1", "", "session-1"),
		"no user": scope.WithIdentity(context.Background(), "", "org-1", "session-1"),
	} {
		t.Run(name, func(t *testing.T) {
			_, _, err := RequireOrgMember(ctx, getter)
			assertCode(t, err, codes.Unauthenticated)
		})
	}
}

func TestRequire_LookupError(t *testing.T) {
	getter := &mockRoleGetter{err: errors.New("database error")}
	ctx := scope.WithIdentity(context.Background(), "user-1", "org-1", "session-1")
	_, _, err := RequireOrgMember(ctx, getter)
	assertCode(t, err, codes.Internal)
}
