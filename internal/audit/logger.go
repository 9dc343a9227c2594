package audit

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"site-scheduler/backend/internal/audit/domain"
	"site-scheduler/backend/internal/scope"
)

// SentinelOrgID is the org_id used for events that have no active org (e.g. sign-in before resolution).
const SentinelOrgID = "_system"

// AuditLogger writes a single audit event. The user, org and session are read from ctx via scope.
// LogEvent is best-effort: failures are logged and do not affect the caller.
type AuditLogger interface {
	LogEvent(ctx context.Context, action, resource string, metadata map[string]any)
}

// Store persists audit entries. audit/repository.PostgresRepository implements it.
type Store interface {
	Create(ctx context.Context, a *domain.AuditLog) error
}

// Logger implements AuditLogger on top of a Store.
type Logger struct {
	repo Store
	host string
	nowF func() time.Time
}

// NewLogger returns an AuditLogger that persists to repo. A nil repo disables auditing.
func NewLogger(repo Store) *Logger {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return &Logger{repo: repo, host: host, nowF: time.Now}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, action, resource string, metadata map[string]any) {
	if l == nil || l.repo == nil {
		return
	}
	orgID, ok := scope.GetOrgID(ctx)
	if !ok {
		orgID = SentinelOrgID
	}
	userID, _ := scope.GetUserID(ctx)
	sessionID, _ := scope.GetSessionID(ctx)

	var meta string
	if len(metadata) > 0 {
		if b, err := json.Marshal(metadata); err == nil {
			meta = string(b)
		}
	}
	entry := &domain.AuditLog{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		UserID:    userID,
		SessionID: sessionID,
		Action:    action,
		Resource:  resource,
		Host:      l.host,
		Metadata:  meta,
		CreatedAt: l.nowF().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}
