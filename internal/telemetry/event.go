package telemetry

import (
	"encoding/json"
	"log"

	"site-scheduler/backend/internal/telemetry/domain"
)

// Scope identifies who an event is about.
type Scope struct {
	UserID    string
	OrgID     string
	SessionID string
}

// NewEvent builds an event with meta encoded as JSON. Unencodable meta is logged and dropped.
func NewEvent(eventType, source string, scope Scope, meta map[string]any) *domain.Event {
	ev := &domain.Event{
		OrgID:     scope.OrgID,
		UserID:    scope.UserID,
		SessionID: scope.SessionID,
		EventType: eventType,
		Source:    source,
	}
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			log.Printf("telemetry: dropping metadata for %s: %v", eventType, err)
		} else {
			ev.Metadata = b
		}
	}
	return ev
}
