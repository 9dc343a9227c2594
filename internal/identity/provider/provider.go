// Package provider implements the identity provider the session layer
// subscribes to: it signs users in, keeps their credential fresh and reports
// every change as an AuthEvent on a single ordered channel.
package provider

import (
	"context"
	"errors"

	"site-scheduler/backend/internal/identity/domain"
)

var (
	// ErrInvalidCredentials is returned by SignIn for an unknown user, a disabled user or a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrNotSignedIn is returned by Refresh when there is no credential to refresh.
	ErrNotSignedIn = errors.New("not signed in")
	// ErrRefreshTokenReuse is returned by Refresh when the presented refresh token was already rotated away.
	ErrRefreshTokenReuse = errors.New("refresh token reuse detected")
)

// Provider is the identity provider consumed by the session store.
type Provider interface {
	// Events delivers auth events in emission order. The channel is never closed;
	// consumers stop on their own context.
	Events() <-chan domain.AuthEvent
	// Start restores any persisted credential and emits the resulting initial event.
	Start(ctx context.Context) error
	// SignOut ends the current session. Completion is signalled by EventSignedOut.
	SignOut(ctx context.Context) error
	// CurrentSession returns the live identity, or nil.
	CurrentSession(ctx context.Context) (*domain.Identity, error)
}
