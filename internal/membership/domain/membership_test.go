package domain

import (
	"errors"
	"testing"
	"time"
)

func TestSort_DisplayOrderThenCreatedAt(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ms := []*Membership{
		{OrgID: "org1", DisplayOrder: 2, CreatedAt: t0},
		{OrgID: "org2", DisplayOrder: 1, CreatedAt: t0.Add(time.Hour)},
		{OrgID: "org3", DisplayOrder: 1, CreatedAt: t0},
	}
	Sort(ms)
	want := []string{"org3", "org2", "org1"}
	for i, m := range ms {
		if m.OrgID != want[i] {
			t.Fatalf("position %d = %s, want %s", i, m.OrgID, want[i])
		}
	}
}

func TestSorted_DoesNotMutate(t *testing.T) {
	ms := []*Membership{{OrgID: "b", DisplayOrder: 2}, {OrgID: "a", DisplayOrder: 1}}
	out := Sorted(ms)
	if ms[0].OrgID != "b" || out[0].OrgID != "a" {
		t.Error("Sorted should return a sorted copy and leave input untouched")
	}
}

func TestFind(t *testing.T) {
	ms := []*Membership{{OrgID: "org1"}, {OrgID: "org2"}}
	if m := Find(ms, "org2"); m == nil || m.OrgID != "org2" {
		t.Errorf("Find(org2) = %v", m)
	}
	if Find(ms, "org9") != nil {
		t.Error("Find(org9) should be nil")
	}
	if Find(ms, "") != nil {
		t.Error("Find(\"\") should be nil")
	}
}

func TestFingerprint_IgnoresOrder(t *testing.T) {
	a := []*Membership{{OrgID: "org1", DisplayOrder: 1}, {OrgID: "org2", DisplayOrder: 2}}
	b := []*Membership{{OrgID: "org2", DisplayOrder: 1}, {OrgID: "org1", DisplayOrder: 2}}
	if Fingerprint(a) != Fingerprint(b) {
		t.Error("reordering should not change the fingerprint")
	}
	c := []*Membership{{OrgID: "org1"}}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("different org sets should differ")
	}
}

func TestParseRole(t *testing.T) {
	for _, s := range []string{"owner", "manager", "viewer"} {
		if r, err := ParseRole(s); err != nil || string(r) != s {
			t.Errorf("ParseRole(%q) = (%q, %v)", s, r, err)
		}
	}
	if _, err := ParseRole("admin"); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("ParseRole(admin) err = %v, want ErrInvalidRole", err)
	}
}

func TestValidate(t *testing.T) {
	m := &Membership{UserID: "u1", OrgID: "o1", Role: RoleViewer}
	if err := m.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	m.Role = "superuser"
	if err := m.Validate(); err == nil {
		t.Error("Validate should reject unknown role")
	}
}
