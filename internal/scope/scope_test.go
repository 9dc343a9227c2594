package scope

import (
	"context"
	"testing"
)

func TestWithIdentity(t *testing.T) {
	ctx := WithIdentity(context.Background(), "u1", "org1", "s1")
	if v, ok := GetUserID(ctx); !ok || v != "u1" {
		t.Errorf("GetUserID = %q, %v", v, ok)
	}
	if v, ok := GetOrgID(ctx); !ok || v != "org1" {
		t.Errorf("GetOrgID = %q, %v", v, ok)
	}
	if v, ok := GetSessionID(ctx); !ok || v != "s1" {
		t.Errorf("GetSessionID = %q, %v", v, ok)
	}
}

func TestEmptyValuesAreAbsent(t *testing.T) {
	ctx := WithIdentity(context.Background(), "u1", "", "s1")
	if _, ok := GetOrgID(ctx); ok {
		t.Error("empty org_id reported as set")
	}
	if _, ok := GetUserID(context.Background()); ok {
		t.Error("bare context reported a user_id")
	}
}

func TestWithOrg(t *testing.T) {
	ctx := WithOrg(WithIdentity(context.Background(), "u1", "org1", "s1"), "org2")
	if v, _ := GetOrgID(ctx); v != "org2" {
		t.Errorf("GetOrgID = %q, want org2", v)
	}
	if v, _ := GetUserID(ctx); v != "u1" {
		t.Errorf("GetUserID = %q, want u1", v)
	}
}
