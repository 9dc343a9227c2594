package domain

import "time"

// AuditLog is one recorded session or tenant action.
type AuditLog struct {
	ID        string
	OrgID     string
	UserID    string
	SessionID string
	Action    string
	Resource  string
	Host      string
	Metadata  string
	CreatedAt time.Time
}

// Actions recorded by the session and tenant layers.
const (
	ActionSignedIn       = "signed_in"
	ActionSignedOut      = "signed_out"
	ActionTokenRefreshed = "token_refreshed"
	ActionRefreshFailed  = "refresh_failed"
	ActionOrgSwitched    = "org_switched"
	ActionOrgOrderSaved  = "org_order_saved"
)

// Resources the actions apply to.
const (
	ResourceSession      = "session"
	ResourceOrganization = "organization"
	ResourceMembership   = "membership"
)
