package repository

import (
	"context"

	"site-scheduler/backend/internal/membership/domain"
)

// Repository defines persistence for memberships.
type Repository interface {
	// ListByUser returns the user's memberships with organization names, sorted
	// by display order then creation time.
	ListByUser(ctx context.Context, userID string) ([]*domain.Membership, error)
	// UpdateDisplayOrder sets display_order for one membership row.
	UpdateDisplayOrder(ctx context.Context, membershipID string, order int) error
	// GetRole returns the user's role in orgID, or "" if the user is not a member.
	GetRole(ctx context.Context, userID, orgID string) (domain.Role, error)
	CreateMembership(ctx context.Context, m *domain.Membership) error
}
