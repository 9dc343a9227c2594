package domain

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Membership links a user to an organization with a role and the user's
// preferred position of that organization in their list.
type Membership struct {
	ID           string
	UserID       string
	OrgID        string
	OrgName      string
	Role         Role
	DisplayOrder int
	CreatedAt    time.Time
}

type Role string

const (
	RoleOwner   Role = "owner"
	RoleManager Role = "manager"
	RoleViewer  Role = "viewer"
)

// ErrInvalidRole is returned by ParseRole for unknown role names.
var ErrInvalidRole = errors.New("invalid role")

// ParseRole returns the Role for s.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleOwner, RoleManager, RoleViewer:
		return r, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
}

// Validate validates the membership for persistence.
func (m *Membership) Validate() error {
	if m.UserID == "" {
		return errors.New("user_id is required")
	}
	if m.OrgID == "" {
		return errors.New("org_id is required")
	}
	if _, err := ParseRole(string(m.Role)); err != nil {
		return err
	}
	return nil
}

// Less orders by DisplayOrder, then CreatedAt.
func Less(a, b *Membership) bool {
	if a.DisplayOrder != b.DisplayOrder {
		return a.DisplayOrder < b.DisplayOrder
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Sort orders ms in place by DisplayOrder ascending, ties by CreatedAt ascending.
func Sort(ms []*Membership) {
	slices.SortStableFunc(ms, func(a, b *Membership) int {
		switch {
		case Less(a, b):
			return -1
		case Less(b, a):
			return 1
		}
		return 0
	})
}

// Sorted returns a sorted copy of ms.
func Sorted(ms []*Membership) []*Membership {
	out := slices.Clone(ms)
	Sort(out)
	return out
}

// Find returns the membership for orgID, or nil.
func Find(ms []*Membership, orgID string) *Membership {
	if orgID == "" {
		return nil
	}
	for _, m := range ms {
		if m.OrgID == orgID {
			return m
		}
	}
	return nil
}

// Fingerprint identifies the set of organizations in a snapshot irrespective of
// order, so reordering alone does not look like a new snapshot.
func Fingerprint(ms []*Membership) string {
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.OrgID)
	}
	slices.Sort(ids)
	return fmt.Sprint(ids)
}
