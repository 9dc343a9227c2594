package repository

import (
	"context"

	"site-scheduler/backend/internal/identity/domain"
)

// Repository defines persistence for sign-in methods (logins) attached to users.
type Repository interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider domain.LoginProvider) (*domain.Login, error)
	Create(ctx context.Context, l *domain.Login) error
	UpdatePasswordHash(ctx context.Context, id string, passwordHash string) error
}
