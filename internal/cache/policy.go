package cache

import (
	"context"

	identitydomain "site-scheduler/backend/internal/identity/domain"
)

// Action is what the session lifecycle requires of the shared cache and the
// persisted organization selection.
type Action struct {
	Clear          bool
	Invalidate     bool
	EraseSelection bool
}

// None reports whether a requires nothing.
func (a Action) None() bool {
	return !a.Clear && !a.Invalidate && !a.EraseSelection
}

// Decide maps an identity-provider event and whether an identity is present after it
// to the cache action. Clearing drops data that could belong to another principal;
// invalidating keeps data for the same principal but forces a refetch.
//
//	SIGNED_OUT                  -> clear, erase selection
//	TOKEN_REFRESHED, no identity -> clear, erase selection
//	SIGNED_IN, identity          -> clear
//	TOKEN_REFRESHED, identity    -> invalidate
func Decide(event identitydomain.EventType, hasIdentity bool) Action {
	switch event {
	case identitydomain.EventSignedOut:
		return Action{Clear: true, EraseSelection: true}
	case identitydomain.EventTokenRefreshed:
		if !hasIdentity {
			return Action{Clear: true, EraseSelection: true}
		}
		return Action{Invalidate: true}
	case identitydomain.EventSignedIn:
		if !hasIdentity {
			// A sign-in that carries no principal leaves nobody signed in.
			return Action{Clear: true, EraseSelection: true}
		}
		return Action{Clear: true}
	}
	return Action{}
}

// SelectionEraser removes the persisted active organization.
type SelectionEraser interface {
	Erase(ctx context.Context) error
}

// Apply executes a against the cache and selection store. Clear wins over Invalidate.
// The cache action always runs; the erase error, if any, is returned.
func Apply(ctx context.Context, a Action, c Controller, sel SelectionEraser) error {
	switch {
	case a.Clear:
		c.ClearAll()
	case a.Invalidate:
		c.InvalidateAll()
	}
	if a.EraseSelection && sel != nil {
		return sel.Erase(ctx)
	}
	return nil
}
