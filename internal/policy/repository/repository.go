package repository

import (
	"context"

	"site-scheduler/backend/internal/policy/domain"
)

// Repository defines persistence for org permission policies.
type Repository interface {
	GetEnabledPoliciesByOrg(ctx context.Context, orgID string) ([]*domain.Policy, error)
	Create(ctx context.Context, p *domain.Policy) error
}
