package audit

import (
	"site-scheduler/backend/internal/audit/domain"
	identitydomain "site-scheduler/backend/internal/identity/domain"
)

// ActionForAuthEvent maps an applied auth event to its audit action.
// A refresh that produced no identity is recorded as a failed refresh.
func ActionForAuthEvent(t identitydomain.EventType, hasIdentity bool) (action string, ok bool) {
	switch t {
	case identitydomain.EventSignedIn:
		return domain.ActionSignedIn, true
	case identitydomain.EventSignedOut:
		return domain.ActionSignedOut, true
	case identitydomain.EventTokenRefreshed:
		if !hasIdentity {
			return domain.ActionRefreshFailed, true
		}
		return domain.ActionTokenRefreshed, true
	}
	return "", false
}
