package domain

// EventType is an identity-provider lifecycle event.
type EventType string

const (
	EventSignedIn       EventType = "SIGNED_IN"
	EventSignedOut      EventType = "SIGNED_OUT"
	EventTokenRefreshed EventType = "TOKEN_REFRESHED"
)

// AuthEvent is one notification from the identity provider. Identity is nil
// when the event leaves no principal (sign-out, failed refresh).
type AuthEvent struct {
	Type     EventType
	Identity *Identity
}

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventSignedIn, EventSignedOut, EventTokenRefreshed:
		return true
	}
	return false
}
