package backup

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	AuditActionExport = "backup.export"
	AuditActionImport = "backup.import"
)

// AuditEntry is one completed backup call as stored in the audit trail.
type AuditEntry struct {
	ID          uuid.UUID
	TenantID    int64
	RunID       string
	Action      string
	Description string
	Payload     map[string]any
	IP          string
	UserAgent   string
	RequestID   string
	CreatedAt   time.Time
}

type AuditRepository interface {
	Create(ctx context.Context, entry *AuditEntry) error
}
