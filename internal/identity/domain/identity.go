package domain

import "time"

// Identity is the authenticated principal. It is replaced wholesale on every
// auth event and never mutated in place.
type Identity struct {
	UserID     string
	Email      string
	SessionID  string
	Credential Credential
}

// Credential is the token pair backing an Identity.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// IsPresent reports whether i is a usable principal.
func (i *Identity) IsPresent() bool {
	return i != nil && i.UserID != ""
}

// Expired reports whether the access token has expired at now.
func (c Credential) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// SameSnapshot reports whether a and b describe the same principal with the same credential.
// Two absent identities are the same snapshot.
func SameSnapshot(a, b *Identity) bool {
	if !a.IsPresent() || !b.IsPresent() {
		return a.IsPresent() == b.IsPresent()
	}
	return a.UserID == b.UserID &&
		a.SessionID == b.SessionID &&
		a.Credential.AccessToken == b.Credential.AccessToken &&
		a.Credential.ExpiresAt.Equal(b.Credential.ExpiresAt)
}

// UserIDOf returns the user id of i, or "" when i is absent.
func UserIDOf(i *Identity) string {
	if !i.IsPresent() {
		return ""
	}
	return i.UserID
}

// Login links a user to a sign-in method. Only local password logins exist.
type Login struct {
	ID           string
	UserID       string
	Provider     LoginProvider
	ProviderID   string
	PasswordHash string // empty if not local
	CreatedAt    time.Time
}

type LoginProvider string

const LoginProviderLocal LoginProvider = "local"
