// Package scope carries the caller's user, active organization and session on a context.
package scope

import "context"

type contextKey struct{ name string }

var (
	userIDKey    = contextKey{"user_id"}
	orgIDKey     = contextKey{"org_id"}
	sessionIDKey = contextKey{"session_id"}
)

// WithIdentity returns a context with user_id, org_id and session_id set.
// Empty values are stored as well; readers treat "" as absent.
func WithIdentity(ctx context.Context, userID, orgID, sessionID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, orgIDKey, orgID)
	ctx = context.WithValue(ctx, sessionIDKey, sessionID)
	return ctx
}

// WithOrg replaces only the org_id, e.g. after an organization switch.
func WithOrg(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDKey, orgID)
}

// GetUserID returns the user_id from context and true if set and non-empty.
func GetUserID(ctx context.Context) (string, bool) {
	return get(ctx, userIDKey)
}

// GetOrgID returns the org_id from context and true if set and non-empty.
func GetOrgID(ctx context.Context) (string, bool) {
	return get(ctx, orgIDKey)
}

// GetSessionID returns the session_id from context and true if set and non-empty.
func GetSessionID(ctx context.Context) (string, bool) {
	return get(ctx, sessionIDKey)
}

func get(ctx context.Context, k contextKey) (string, bool) {
	v, ok := ctx.Value(k).(string)
	return v, ok && v != ""
}
