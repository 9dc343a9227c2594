package domain

import "time"

// Event types emitted by the session and tenant layer.
const (
	TypeAuthEventApplied    = "auth_event_applied"
	TypeCacheCleared        = "cache_cleared"
	TypeCacheInvalidated    = "cache_invalidated"
	TypeGuardFired          = "guard_fired"
	TypeOrgSwitched         = "org_switched"
	TypeOrgOrderSaved       = "org_order_saved"
	TypeOrgSelectionFixed   = "org_selection_corrected"
	TypeMembershipFetchFail = "membership_fetch_failed"
	TypeSignOutRequested    = "sign_out_requested"
	TypeGRPCRequest         = "grpc_request"
)

// Event is a structured session-layer event (optional org/user/session scope).
type Event struct {
	OrgID     string
	UserID    string
	SessionID string
	EventType string
	Source    string
	Metadata  []byte // JSON
	CreatedAt time.Time
}
