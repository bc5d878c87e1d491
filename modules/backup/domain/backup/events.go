package backup

import (
	"fmt"
	"time"
)

// Actor identifies the caller of a backup operation for the audit trail.
type Actor struct {
	IP        string
	UserAgent string
	RequestID string
}

type ExportedEvent struct {
	TenantID   int64
	TenantName string
	RunID      string
	Counts     map[string]int
	Duration   time.Duration
	Actor      Actor
	At         time.Time
}

func (e *ExportedEvent) Description() string {
	total := 0
	for _, n := range e.Counts {
		total += n
	}
	return fmt.Sprintf("export of tenant %d (%s): %d rows (%s)", e.TenantID, e.TenantName, total, formatCounts(e.Counts))
}

type ImportedEvent struct {
	Summary        *Summary
	SourceTenantID int64
	Actor          Actor
	At             time.Time
}

func (e *ImportedEvent) Description() string {
	return fmt.Sprintf("%s from tenant %d snapshot", e.Summary.Describe(), e.SourceTenantID)
}
